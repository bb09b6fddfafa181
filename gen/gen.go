// Package gen emits Go source for the entities of a schema graph: one
// struct per entity with typed scalar fields and id-valued relation fields,
// suitable for embedding generated bindings in an application.
package gen

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dave/jennifer/jen"
	"github.com/go-openapi/inflect"
	"golang.org/x/sync/errgroup"

	"github.com/weftlabs/weft/graph"
	"github.com/weftlabs/weft/schema/field"
)

// Config controls code generation.
type Config struct {
	// Package is the generated package name. Defaults to "model".
	Package string
	// Concurrency bounds parallel file rendering in Write. Defaults to 4.
	Concurrency int
}

func (c Config) pkg() string {
	if c.Package != "" {
		return c.Package
	}
	return "model"
}

func (c Config) concurrency() int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	return 4
}

// Generate renders one Go source file per entity, keyed by file name.
func Generate(g *graph.Graph, cfg Config) (map[string][]byte, error) {
	out := make(map[string][]byte, len(g.Entities()))
	for _, ent := range g.Entities() {
		src, err := renderEntity(ent, cfg.pkg())
		if err != nil {
			return nil, err
		}
		out[fileName(ent.Name)] = src
	}
	return out, nil
}

// Write renders every entity and writes the files under dir, creating it if
// needed. Files render and write in parallel.
func Write(ctx context.Context, g *graph.Graph, cfg Config, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("gen: creating %s: %w", dir, err)
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(cfg.concurrency())
	for _, ent := range g.Entities() {
		ent := ent
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			src, err := renderEntity(ent, cfg.pkg())
			if err != nil {
				return err
			}
			path := filepath.Join(dir, fileName(ent.Name))
			if err := os.WriteFile(path, src, 0o644); err != nil {
				return fmt.Errorf("gen: writing %s: %w", path, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

func fileName(entity string) string {
	return inflect.Underscore(entity) + ".go"
}

func renderEntity(ent *graph.Entity, pkg string) ([]byte, error) {
	f := jen.NewFile(pkg)
	f.HeaderComment("Code generated by weft. DO NOT EDIT.")

	typeName := inflect.Camelize(ent.Name)
	fields := []jen.Code{
		jen.Id("ID").String().Tag(map[string]string{"json": "$id"}),
	}
	for _, name := range ent.FieldOrder {
		fld := ent.Fields[name]
		if fld.Synthesized {
			continue
		}
		stmt := jen.Id(inflect.Camelize(name)).Add(goType(fld))
		tag := name
		if fld.Optional {
			tag += ",omitempty"
		}
		stmt.Tag(map[string]string{"json": tag})
		if fld.IsRelation() {
			stmt.Comment(relationComment(fld))
		}
		fields = append(fields, stmt)
	}

	f.Commentf("%s is the generated binding for the %q entity (type URI %q).",
		typeName, ent.Name, ent.TypeURI)
	f.Type().Id(typeName).Struct(fields...)

	f.Commentf("%sTypeURI is the collection label of %s records.", typeName, typeName)
	f.Const().Id(typeName + "TypeURI").Op("=").Lit(ent.TypeURI)

	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return nil, fmt.Errorf("gen: rendering %s: %w", ent.Name, err)
	}
	return buf.Bytes(), nil
}

// goType maps a parsed field to its generated Go type. Relation fields hold
// ids; backward relations hold nothing locally and still get an id slice so
// resolved values have a place to land.
func goType(f *field.Field) jen.Code {
	var elem jen.Code
	switch f.Type {
	case field.TypeString, field.TypeText, field.TypeVarchar, field.TypeChar,
		field.TypeFixed, field.TypeEnum, field.TypeUUID:
		elem = jen.String()
	case field.TypeInt:
		elem = jen.Int64()
	case field.TypeFloat, field.TypeDecimal:
		elem = jen.Float64()
	case field.TypeBool:
		elem = jen.Bool()
	case field.TypeDatetime:
		elem = jen.Qual("time", "Time")
	case field.TypeMap:
		elem = jen.Map(jen.String()).Any()
	case field.TypeJSON, field.TypeStruct, field.TypeRef:
		elem = jen.Any()
	case field.TypeList:
		return jen.Index().Any()
	case field.TypeRelation:
		if f.IsArray || f.Direction() == field.Backward {
			return jen.Index().String()
		}
		return jen.String()
	default:
		elem = jen.Any()
	}
	if f.IsArray {
		return jen.Index().Add(elem)
	}
	if f.Optional {
		return jen.Op("*").Add(elem)
	}
	return elem
}

func relationComment(f *field.Field) string {
	dir := "forward"
	if f.Direction() == field.Backward {
		dir = "backward"
	}
	mode := "exact"
	if f.MatchMode() == field.Fuzzy {
		mode = "fuzzy"
	}
	return fmt.Sprintf("%s %s relation to %s", dir, mode, f.RelatedType)
}
