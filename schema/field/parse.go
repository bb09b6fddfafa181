package field

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseError describes a malformed field definition. It is fatal at
// graph-build time: a schema containing one never reaches runtime resolution.
type ParseError struct {
	Def string // the offending definition, verbatim
	Pos int    // byte offset of the problem, -1 if unknown
	msg string
}

// Error returns the error string.
func (e *ParseError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("weft: parsing %q at %d: %s", e.Def, e.Pos, e.msg)
	}
	return fmt.Sprintf("weft: parsing %q: %s", e.Def, e.msg)
}

// IsParseError returns true if the error is a *ParseError.
func IsParseError(err error) bool {
	if err == nil {
		return false
	}
	var e *ParseError
	return errors.As(err, &e)
}

func newParseError(def string, pos int, format string, args ...any) *ParseError {
	return &ParseError{Def: def, Pos: pos, msg: fmt.Sprintf(format, args...)}
}

var operators = []Operator{OpForwardExact, OpForwardFuzzy, OpBackwardExact, OpBackwardFuzzy}

// ParseValue parses a definition that is either a string or a 1-element list
// of strings; the list form marks the field as an array. This is the shape
// schema objects use for list-valued fields: {"tags": ["string"]}.
func ParseValue(v any) (*Field, error) {
	switch def := v.(type) {
	case string:
		return Parse(def)
	case []string:
		if len(def) != 1 {
			return nil, newParseError(fmt.Sprint(def), -1, "list definition must contain exactly one element, got %d", len(def))
		}
		f, err := Parse(def[0])
		if err != nil {
			return nil, err
		}
		f.IsArray = true
		return f, nil
	case []any:
		if len(def) != 1 {
			return nil, newParseError(fmt.Sprint(def), -1, "list definition must contain exactly one element, got %d", len(def))
		}
		s, ok := def[0].(string)
		if !ok {
			return nil, newParseError(fmt.Sprint(def), -1, "list definition element must be a string, got %T", def[0])
		}
		f, err := Parse(s)
		if err != nil {
			return nil, err
		}
		f.IsArray = true
		return f, nil
	default:
		return nil, newParseError(fmt.Sprint(v), -1, "definition must be a string or 1-element list, got %T", v)
	}
}

// Parse parses a single field-definition string. It is a pure function:
// identical input yields a structurally identical Field, and malformed input
// yields a *ParseError.
func Parse(def string) (*Field, error) {
	s := strings.TrimSpace(def)
	if s == "" {
		return nil, newParseError(def, -1, "empty definition")
	}
	if op, idx := findOperator(s); op != "" {
		return parseRelation(def, s, op, idx)
	}
	// A definition starting with '<' or containing "=>" was meant as a
	// relation but uses an operator this grammar does not know.
	if s[0] == '<' || s[0] == '>' {
		return nil, newParseError(def, 0, "unknown operator character %q", s[0])
	}
	if i := strings.Index(s, "=>"); i >= 0 {
		return nil, newParseError(def, i, "unknown operator %q", "=>")
	}
	return parseScalar(def, s)
}

// findOperator returns the first relationship operator in s and its offset,
// or ("", -1). Generic type arguments ("map<string,int>") never collide with
// the two-character operator tokens.
func findOperator(s string) (Operator, int) {
	for i := 0; i+1 < len(s); i++ {
		tok := Operator(s[i : i+2])
		for _, op := range operators {
			if tok == op {
				return op, i
			}
		}
	}
	return "", -1
}

func parseRelation(def, s string, op Operator, idx int) (*Field, error) {
	f := &Field{Type: TypeRelation, Op: op}
	f.Prompt = strings.TrimSpace(s[:idx])
	rest := strings.TrimSpace(s[idx+2:])
	if rest == "" {
		return nil, newParseError(def, idx, "missing related type after %q", string(op))
	}

	// Trailing constraint modifier applies to the relation as a whole.
	rest, err := trimRelationModifier(def, rest, f)
	if err != nil {
		return nil, err
	}

	// Trailing "(threshold)" is only meaningful on fuzzy operators.
	if i := strings.IndexByte(rest, '('); i >= 0 {
		if !strings.HasSuffix(rest, ")") {
			return nil, newParseError(def, idx+i, "unmatched parenthesis")
		}
		if op.MatchMode() != Fuzzy {
			return nil, newParseError(def, idx+i, "threshold is only valid after a fuzzy operator")
		}
		raw := rest[i+1 : len(rest)-1]
		t, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, newParseError(def, idx+i, "non-numeric threshold %q", raw)
		}
		if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 || t > 1 {
			return nil, newParseError(def, idx+i, "threshold %v out of range [0,1]", t)
		}
		f.Threshold = &t
		rest = strings.TrimSpace(rest[:i])
	} else if strings.ContainsRune(rest, ')') {
		return nil, newParseError(def, idx, "unmatched parenthesis")
	}

	// RelatedType[.Backref], with "|" unions on the type part.
	typePart, backref, hasBackref := strings.Cut(rest, ".")
	if hasBackref {
		if !isIdentifier(backref) {
			return nil, newParseError(def, idx, "invalid backref name %q", backref)
		}
		f.Backref = backref
	}
	members := strings.Split(typePart, "|")
	for _, m := range members {
		if !isIdentifier(m) {
			return nil, newParseError(def, idx, "invalid related type %q", m)
		}
	}
	f.RelatedType = members[0]
	if len(members) > 1 {
		f.UnionTypes = members
	}
	return f, nil
}

// trimRelationModifier strips a trailing "!" or "?" from a relation
// remainder. Both at once is contradictory and rejected.
func trimRelationModifier(def, rest string, f *Field) (string, error) {
	for len(rest) > 0 {
		switch rest[len(rest)-1] {
		case '!':
			if f.Optional {
				return "", newParseError(def, len(def)-1, "contradictory modifiers: both %q and %q", "!", "?")
			}
			f.Required, f.Unique = true, true
		case '?':
			if f.Required {
				return "", newParseError(def, len(def)-1, "contradictory modifiers: both %q and %q", "!", "?")
			}
			f.Optional = true
		default:
			return rest, nil
		}
		rest = rest[:len(rest)-1]
	}
	return "", newParseError(def, -1, "missing related type")
}

func parseScalar(def, s string) (*Field, error) {
	f := &Field{}

	// Modifiers are outermost and mutually exclusive: "decimal(10,2)!",
	// "string[]?".
	var seen byte
	for len(s) > 0 {
		c := s[len(s)-1]
		if c != '?' && c != '!' && c != '#' {
			break
		}
		if seen == c {
			return nil, newParseError(def, len(s)-1, "duplicate modifier %q", string(c))
		}
		if seen != 0 {
			return nil, newParseError(def, len(s)-1, "contradictory modifiers: both %q and %q", string(c), string(seen))
		}
		seen = c
		switch c {
		case '?':
			f.Optional = true
		case '!':
			f.Required, f.Unique = true, true
		case '#':
			f.Indexed = true
		}
		s = s[:len(s)-1]
	}

	if strings.HasSuffix(s, "[]") {
		f.IsArray = true
		s = s[:len(s)-2]
	}
	if s == "" {
		return nil, newParseError(def, -1, "missing type name")
	}

	switch {
	case strings.ContainsRune(s, '('):
		return parseParametric(def, s, f)
	case strings.ContainsRune(s, ')'):
		return nil, newParseError(def, strings.IndexByte(def, ')'), "unmatched parenthesis")
	case strings.ContainsRune(s, '<'):
		return parseGeneric(def, s, f)
	case strings.ContainsRune(s, '>'):
		return nil, newParseError(def, strings.IndexByte(def, '>'), "unmatched angle bracket")
	}

	if !isIdentifier(s) {
		return nil, newParseError(def, -1, "invalid type name %q", s)
	}
	f.Type = Type(s)
	return f, nil
}

func parseParametric(def, s string, f *Field) (*Field, error) {
	open := strings.IndexByte(s, '(')
	if !strings.HasSuffix(s, ")") {
		return nil, newParseError(def, open, "unmatched parenthesis")
	}
	name, raw := s[:open], s[open+1:len(s)-1]
	params := strings.Split(raw, ",")
	nums := make([]int, 0, len(params))
	for _, p := range params {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, newParseError(def, open, "non-numeric parameter %q for %s", p, name)
		}
		if n < 0 {
			return nil, newParseError(def, open, "negative parameter %d for %s", n, name)
		}
		nums = append(nums, n)
	}
	switch Type(name) {
	case TypeDecimal:
		if len(nums) < 1 || len(nums) > 2 {
			return nil, newParseError(def, open, "decimal takes (precision[,scale]), got %d parameters", len(nums))
		}
		f.Type = TypeDecimal
		f.Precision = nums[0]
		if len(nums) == 2 {
			f.Scale = nums[1]
		}
	case TypeVarchar, TypeChar, TypeFixed:
		if len(nums) != 1 {
			return nil, newParseError(def, open, "%s takes a single length parameter, got %d", name, len(nums))
		}
		f.Type = Type(name)
		f.Length = nums[0]
	default:
		return nil, newParseError(def, open, "type %q does not take parameters", name)
	}
	return f, nil
}

func parseGeneric(def, s string, f *Field) (*Field, error) {
	open := strings.IndexByte(s, '<')
	if !strings.HasSuffix(s, ">") {
		return nil, newParseError(def, open, "unmatched angle bracket")
	}
	name, raw := s[:open], s[open+1:len(s)-1]
	args := splitTopLevel(raw)
	for i, a := range args {
		args[i] = strings.TrimSpace(a)
		if args[i] == "" {
			return nil, newParseError(def, open, "empty type argument for %s", name)
		}
	}
	switch Type(name) {
	case TypeMap:
		if len(args) != 2 {
			return nil, newParseError(def, open, "map takes <key,value>, got %d arguments", len(args))
		}
		f.Type = TypeMap
		f.KeyType, f.ValueType = args[0], args[1]
	case TypeStruct:
		if len(args) != 1 {
			return nil, newParseError(def, open, "struct takes a single name argument, got %d", len(args))
		}
		f.Type = TypeStruct
		f.StructName = args[0]
	case TypeEnum:
		if len(args) != 1 {
			return nil, newParseError(def, open, "enum takes a single name argument, got %d", len(args))
		}
		f.Type = TypeEnum
		f.EnumName = args[0]
	case TypeRef:
		if len(args) != 1 {
			return nil, newParseError(def, open, "ref takes a single target argument, got %d", len(args))
		}
		f.Type = TypeRef
		f.RefTarget = args[0]
	case TypeList:
		if len(args) != 1 {
			return nil, newParseError(def, open, "list takes a single element argument, got %d", len(args))
		}
		f.Type = TypeList
		f.ElementType = args[0]
	default:
		return nil, newParseError(def, open, "unknown generic type %q", name)
	}
	return f, nil
}

// splitTopLevel splits on commas outside nested angle brackets, so
// "string,list<int>" yields two arguments.
func splitTopLevel(s string) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
