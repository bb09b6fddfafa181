package field

// A Type names the declared type of a field. Well-known types have constants
// below; any other identifier is carried through as-is for collaborators that
// understand it.
type Type string

// Built-in field types.
const (
	TypeString   Type = "string"
	TypeText     Type = "text"
	TypeInt      Type = "int"
	TypeFloat    Type = "float"
	TypeBool     Type = "bool"
	TypeDatetime Type = "datetime"
	TypeUUID     Type = "uuid"
	TypeJSON     Type = "json"
	TypeDecimal  Type = "decimal"
	TypeVarchar  Type = "varchar"
	TypeChar     Type = "char"
	TypeFixed    Type = "fixed"
	TypeMap      Type = "map"
	TypeStruct   Type = "struct"
	TypeEnum     Type = "enum"
	TypeRef      Type = "ref"
	TypeList     Type = "list"

	// TypeRelation is the type of every field declared with a
	// relationship operator.
	TypeRelation Type = "relation"
)

// An Operator encodes the direction and match mode of a relationship.
type Operator string

// The four relationship operators.
const (
	OpForwardExact  Operator = "->"
	OpForwardFuzzy  Operator = "~>"
	OpBackwardExact Operator = "<-"
	OpBackwardFuzzy Operator = "<~"
)

// Direction reports whether the operator is a forward operator (the declaring
// entity stores the link) or a backward one (the link is queried from the
// inverse side).
func (op Operator) Direction() Direction {
	switch op {
	case OpForwardExact, OpForwardFuzzy:
		return Forward
	case OpBackwardExact, OpBackwardFuzzy:
		return Backward
	}
	return DirectionInvalid
}

// MatchMode reports whether the operator resolves by exact lookup or by
// fuzzy matching.
func (op Operator) MatchMode() MatchMode {
	switch op {
	case OpForwardExact, OpBackwardExact:
		return Exact
	case OpForwardFuzzy, OpBackwardFuzzy:
		return Fuzzy
	}
	return MatchModeInvalid
}

// Inverse returns the operator of the synthesized inverse field: direction
// flips, match mode is preserved.
func (op Operator) Inverse() Operator {
	switch op {
	case OpForwardExact:
		return OpBackwardExact
	case OpForwardFuzzy:
		return OpBackwardFuzzy
	case OpBackwardExact:
		return OpForwardExact
	case OpBackwardFuzzy:
		return OpForwardFuzzy
	}
	return op
}

// Direction of a relationship relative to the declaring entity.
type Direction int

const (
	DirectionInvalid Direction = iota
	Forward
	Backward
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	}
	return "invalid"
}

// MatchMode of a relationship.
type MatchMode int

const (
	MatchModeInvalid MatchMode = iota
	Exact
	Fuzzy
)

// String returns the match-mode name.
func (m MatchMode) String() string {
	switch m {
	case Exact:
		return "exact"
	case Fuzzy:
		return "fuzzy"
	}
	return "invalid"
}

// DefaultThreshold is the similarity floor applied to fuzzy relations that
// do not declare an explicit threshold.
const DefaultThreshold = 0.5

// A Field is the parsed form of one field definition. Fields are produced by
// Parse and treated as immutable afterwards; the graph builder is the only
// writer (it assigns Name and marks synthesized inverse fields).
type Field struct {
	// Name of the field within its entity. Assigned by the graph builder;
	// empty on a Field returned directly from Parse.
	Name string

	// Type of the field. TypeRelation for relationship fields.
	Type Type

	// IsArray reports a list-valued field ("tags: string[]" or a
	// 1-element list definition).
	IsArray bool

	// Optional, Required, Unique and Indexed mirror the "?", "!" and "#"
	// modifiers. "!" implies both Required and Unique.
	Optional bool
	Required bool
	Unique   bool
	Indexed  bool

	// Relationship attributes. Op is empty on non-relation fields.
	Op          Operator
	RelatedType string
	// UnionTypes holds every admissible target when the related type is a
	// union ("A|B"); RelatedType then holds the first member.
	UnionTypes []string
	// Backref is the field name on the target entity that mirrors this
	// relationship back to its source.
	Backref string
	// Prompt is the free-text segment preceding the operator, verbatim.
	Prompt string
	// Threshold is the declared fuzzy-match floor, nil when absent.
	Threshold *float64

	// Parametric attributes.
	Precision int // decimal(p,s)
	Scale     int
	Length    int // varchar(n), char(n), fixed(n)

	// Generic attributes.
	KeyType     string // map<K,V>
	ValueType   string
	StructName  string // struct<Name>
	EnumName    string // enum<Name>
	RefTarget   string // ref<Target>
	ElementType string // list<T>

	// Synthesized marks inverse fields added during graph normalization,
	// as opposed to fields authored in the schema.
	Synthesized bool
}

// IsRelation reports whether the field was declared with a relationship
// operator.
func (f *Field) IsRelation() bool { return f.Op != "" }

// Direction of the relationship. DirectionInvalid for non-relation fields.
func (f *Field) Direction() Direction { return f.Op.Direction() }

// MatchMode of the relationship. MatchModeInvalid for non-relation fields.
func (f *Field) MatchMode() MatchMode { return f.Op.MatchMode() }

// EffectiveThreshold returns the declared fuzzy threshold, or
// DefaultThreshold when none was declared.
func (f *Field) EffectiveThreshold() float64 {
	if f.Threshold != nil {
		return *f.Threshold
	}
	return DefaultThreshold
}

// Targets returns every admissible related type: the union members when the
// target is a union, otherwise the single related type.
func (f *Field) Targets() []string {
	if len(f.UnionTypes) > 0 {
		return f.UnionTypes
	}
	if f.RelatedType != "" {
		return []string{f.RelatedType}
	}
	return nil
}

// Clone returns a deep copy of the field.
func (f *Field) Clone() *Field {
	c := *f
	if f.Threshold != nil {
		t := *f.Threshold
		c.Threshold = &t
	}
	if f.UnionTypes != nil {
		c.UnionTypes = append([]string(nil), f.UnionTypes...)
	}
	return &c
}
