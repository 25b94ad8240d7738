package expr

import (
	"strconv"
	"strings"
)

// Path is a document path to an attribute: one or more name segments,
// optionally interleaved with list indexes.
type Path struct {
	segments []segment
}

type segment struct {
	name  string
	index int
	isInt bool
}

// Name builds a Path from attribute name segments.
func Name(parts ...string) Path {
	p := Path{segments: make([]segment, 0, len(parts))}
	for _, part := range parts {
		p.segments = append(p.segments, segment{name: part})
	}
	return p
}

// Child extends the path with a nested attribute name.
func (p Path) Child(name string) Path {
	return Path{segments: append(append([]segment{}, p.segments...), segment{name: name})}
}

// Index extends the path with a list-index access.
func (p Path) Index(i int) Path {
	return Path{segments: append(append([]segment{}, p.segments...), segment{index: i, isInt: true})}
}

// IsZero reports whether the path has no segments.
func (p Path) IsZero() bool { return len(p.segments) == 0 }

// First returns the leading attribute name of the path.
func (p Path) First() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[0].name
}

// key is the canonical string used for name-reference de-duplication.
func (p Path) key() string {
	var b strings.Builder
	for i, s := range p.segments {
		if s.isInt {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(s.index))
			b.WriteByte(']')
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.name)
	}
	return b.String()
}

// Equal reports whether two paths address the same attribute.
func (p Path) Equal(o Path) bool {
	if len(p.segments) != len(o.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != o.segments[i] {
			return false
		}
	}
	return true
}

// --- condition constructors ---

// Equals builds an equality comparison. A nil value renders as
// attribute_not_exists.
func (p Path) Equals(v any) *Condition {
	return &Condition{kind: KindComparison, op: "=", path: p, values: []any{v}}
}

// NotEquals builds an inequality comparison. A nil value renders as
// attribute_exists.
func (p Path) NotEquals(v any) *Condition {
	return &Condition{kind: KindComparison, op: "<>", path: p, values: []any{v}}
}

// LessThan builds a < comparison.
func (p Path) LessThan(v any) *Condition {
	return &Condition{kind: KindComparison, op: "<", path: p, values: []any{v}}
}

// LessOrEqual builds a <= comparison.
func (p Path) LessOrEqual(v any) *Condition {
	return &Condition{kind: KindComparison, op: "<=", path: p, values: []any{v}}
}

// GreaterThan builds a > comparison.
func (p Path) GreaterThan(v any) *Condition {
	return &Condition{kind: KindComparison, op: ">", path: p, values: []any{v}}
}

// GreaterOrEqual builds a >= comparison.
func (p Path) GreaterOrEqual(v any) *Condition {
	return &Condition{kind: KindComparison, op: ">=", path: p, values: []any{v}}
}

// Exists builds an attribute_exists check.
func (p Path) Exists() *Condition {
	return &Condition{kind: KindExists, path: p}
}

// NotExists builds an attribute_not_exists check.
func (p Path) NotExists() *Condition {
	return &Condition{kind: KindExists, path: p, negate: true}
}

// BeginsWith builds a begins_with check.
func (p Path) BeginsWith(v any) *Condition {
	return &Condition{kind: KindBeginsWith, path: p, values: []any{v}}
}

// Between builds a BETWEEN range check, inclusive on both ends.
func (p Path) Between(lo, hi any) *Condition {
	return &Condition{kind: KindBetween, path: p, values: []any{lo, hi}}
}

// Contains builds a contains check.
func (p Path) Contains(v any) *Condition {
	return &Condition{kind: KindContains, path: p, values: []any{v}}
}

// In builds an IN membership check over the candidate values.
func (p Path) In(vs ...any) *Condition {
	return &Condition{kind: KindIn, path: p, values: vs}
}
