package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// RefKind distinguishes attribute-name placeholders from value placeholders.
type RefKind int

const (
	// RefName is a placeholder standing for an attribute path.
	RefName RefKind = iota
	// RefValue is a placeholder standing for a literal value.
	RefValue
)

// Ref is a placeholder allocated by a Tracker. Expr is the text to
// interpolate into an expression clause; for names addressing a nested path
// it may span several placeholders (e.g. "#n0.#n1[2]").
type Ref struct {
	Expr  string
	Kind  RefKind
	parts []string
}

// Encoder converts a native value into its wire attribute value. The table
// package's codec implements it; a nil Encoder falls back to plain
// attributevalue marshaling.
type Encoder interface {
	Encode(v any) (types.AttributeValue, error)
}

type defaultEncoder struct{}

func (defaultEncoder) Encode(v any) (types.AttributeValue, error) {
	return attributevalue.Marshal(v)
}

// Tracker allocates and de-duplicates the expression placeholders for one
// render pass. Name references are de-duplicated per path; value references
// never are. Indices increase monotonically and are never reused, even
// after PopRefs.
type Tracker struct {
	enc      Encoder
	nameIdx  int
	valueIdx int

	byPath   map[string]Ref    // canonical path -> issued name ref
	byAttr   map[string]string // raw attribute name -> placeholder
	names    map[string]string // placeholder -> raw attribute name
	values   map[string]types.AttributeValue
	useCount map[string]int
}

// NewTracker returns an empty tracker. enc may be nil.
func NewTracker(enc Encoder) *Tracker {
	if enc == nil {
		enc = defaultEncoder{}
	}
	return &Tracker{
		enc:      enc,
		byPath:   make(map[string]Ref),
		byAttr:   make(map[string]string),
		names:    make(map[string]string),
		values:   make(map[string]types.AttributeValue),
		useCount: make(map[string]int),
	}
}

// NameRef returns the name reference for path, reusing the one already
// issued for the same canonical path in this pass. Integer segments render
// as list-index accesses appended to the preceding segment's placeholder.
func (t *Tracker) NameRef(path Path) Ref {
	key := path.key()
	if ref, ok := t.byPath[key]; ok {
		for _, part := range ref.parts {
			t.useCount[part]++
		}
		return ref
	}

	var b strings.Builder
	var parts []string
	for i, seg := range path.segments {
		if seg.isInt {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(seg.index))
			b.WriteByte(']')
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		ph, ok := t.byAttr[seg.name]
		if !ok {
			ph = fmt.Sprintf("#n%d", t.nameIdx)
			t.nameIdx++
			t.byAttr[seg.name] = ph
			t.names[ph] = seg.name
		}
		t.useCount[ph]++
		parts = append(parts, ph)
		b.WriteString(ph)
	}

	ref := Ref{Expr: b.String(), Kind: RefName, parts: parts}
	t.byPath[key] = ref
	return ref
}

// ValueRef allocates a fresh value placeholder for v. When encoded is
// false, v is passed through the type engine first; otherwise v must
// already be a types.AttributeValue.
func (t *Tracker) ValueRef(path Path, v any, encoded bool) (Ref, error) {
	var av types.AttributeValue
	if encoded {
		var ok bool
		av, ok = v.(types.AttributeValue)
		if !ok {
			return Ref{}, fmt.Errorf("%w: pre-encoded value for %q is not an attribute value", ErrInvalidCondition, path.key())
		}
	} else {
		var err error
		av, err = t.enc.Encode(v)
		if err != nil {
			return Ref{}, fmt.Errorf("encode value for %q: %w", path.key(), err)
		}
	}

	ph := fmt.Sprintf(":v%d", t.valueIdx)
	t.valueIdx++
	t.values[ph] = av
	t.useCount[ph]++
	return Ref{Expr: ph, Kind: RefValue, parts: []string{ph}}, nil
}

// PopRefs releases the given references. A placeholder is deleted from the
// emitted maps once every issuance of it has been popped; previously issued
// indices are never reassigned.
func (t *Tracker) PopRefs(refs ...Ref) {
	for _, ref := range refs {
		for _, ph := range ref.parts {
			n, ok := t.useCount[ph]
			if !ok {
				continue
			}
			n--
			if n > 0 {
				t.useCount[ph] = n
				continue
			}
			delete(t.useCount, ph)
			if ref.Kind == RefValue {
				delete(t.values, ph)
				continue
			}
			if attr, ok := t.names[ph]; ok {
				delete(t.names, ph)
				delete(t.byAttr, attr)
			}
		}
		if ref.Kind == RefName {
			// Drop the path cache entries that resolve to this ref so a
			// later request reallocates instead of resurrecting it.
			for key, cached := range t.byPath {
				if cached.Expr == ref.Expr {
					alive := false
					for _, ph := range cached.parts {
						if _, ok := t.useCount[ph]; ok {
							alive = true
							break
						}
					}
					if !alive {
						delete(t.byPath, key)
					}
				}
			}
		}
	}
}

// Names returns the accumulated placeholder-to-attribute-name map, or nil
// when no name placeholders are live.
func (t *Tracker) Names() map[string]string {
	if len(t.names) == 0 {
		return nil
	}
	out := make(map[string]string, len(t.names))
	for k, v := range t.names {
		out[k] = v
	}
	return out
}

// Values returns the accumulated placeholder-to-value map, or nil when no
// value placeholders are live.
func (t *Tracker) Values() map[string]types.AttributeValue {
	if len(t.values) == 0 {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(t.values))
	for k, v := range t.values {
		out[k] = v
	}
	return out
}
