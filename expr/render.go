package expr

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Request names the clauses a caller wants rendered. Zero-value fields are
// omitted from the output. Atomic is the snapshot condition contributed by
// change tracking; when both Condition and Atomic are present they are
// ANDed into one ConditionExpression.
type Request struct {
	Condition  *Condition
	Atomic     *Condition
	Filter     *Condition
	Key        *Condition
	Projection []Path
	Update     *Update
}

// Expression is the rendered wire-format output. Clause fields are empty
// when not requested; Names and Values are nil when empty.
type Expression struct {
	Condition    string
	Filter       string
	KeyCondition string
	Projection   string
	Update       string
	Names        map[string]string
	Values       map[string]types.AttributeValue
}

// Renderer turns condition trees and updates into wire-format expression
// clauses, delegating value encoding to the type engine.
type Renderer struct {
	enc Encoder
}

// NewRenderer returns a renderer using enc for value encoding. enc may be
// nil, in which case plain attributevalue marshaling is used.
func NewRenderer(enc Encoder) *Renderer {
	return &Renderer{enc: enc}
}

// Render produces the requested clauses plus the consolidated name/value
// maps. Each call uses a fresh tracker, and a failing render rolls every
// allocation of the pass back so the error leaves no dangling placeholders.
func (r *Renderer) Render(req Request) (Expression, error) {
	p := &renderPass{tracker: NewTracker(r.enc)}

	var out Expression
	var err error

	if req.Condition != nil || req.Atomic != nil {
		cond := Empty()
		if req.Condition != nil {
			cond = cond.And(req.Condition)
		}
		if req.Atomic != nil {
			cond = cond.And(req.Atomic)
		}
		if !cond.IsEmpty() {
			out.Condition, err = p.condition(cond)
			if err != nil {
				p.rollback()
				return Expression{}, err
			}
		}
	}
	if req.Filter != nil && !req.Filter.IsEmpty() {
		out.Filter, err = p.condition(req.Filter)
		if err != nil {
			p.rollback()
			return Expression{}, err
		}
	}
	if req.Key != nil && !req.Key.IsEmpty() {
		out.KeyCondition, err = p.condition(req.Key)
		if err != nil {
			p.rollback()
			return Expression{}, err
		}
	}
	if len(req.Projection) > 0 {
		out.Projection = p.projection(req.Projection)
	}
	if !req.Update.IsZero() {
		out.Update, err = p.update(req.Update)
		if err != nil {
			p.rollback()
			return Expression{}, err
		}
	}

	out.Names = p.tracker.Names()
	out.Values = p.tracker.Values()
	return out, nil
}

// renderPass carries the per-render tracker plus the allocation log used to
// roll the whole pass back on failure.
type renderPass struct {
	tracker   *Tracker
	allocated []Ref
}

func (p *renderPass) nameRef(path Path) Ref {
	ref := p.tracker.NameRef(path)
	p.allocated = append(p.allocated, ref)
	return ref
}

func (p *renderPass) valueRef(path Path, v any, encoded bool) (Ref, error) {
	ref, err := p.tracker.ValueRef(path, v, encoded)
	if err != nil {
		return Ref{}, err
	}
	p.allocated = append(p.allocated, ref)
	return ref, nil
}

func (p *renderPass) rollback() {
	for i := len(p.allocated) - 1; i >= 0; i-- {
		p.tracker.PopRefs(p.allocated[i])
	}
	p.allocated = nil
}

// pop releases refs allocated by a subtree that backed out of them
// mid-render, removing them from the allocation log as well.
func (p *renderPass) pop(refs ...Ref) {
	p.tracker.PopRefs(refs...)
	for _, ref := range refs {
		for i := len(p.allocated) - 1; i >= 0; i-- {
			if p.allocated[i].Expr == ref.Expr && p.allocated[i].Kind == ref.Kind {
				p.allocated = append(p.allocated[:i], p.allocated[i+1:]...)
				break
			}
		}
	}
}

func (p *renderPass) condition(c *Condition) (string, error) {
	return p.conditionGuarded(c, map[*Condition]struct{}{})
}

func (p *renderPass) conditionGuarded(c *Condition, seen map[*Condition]struct{}) (string, error) {
	if _, ok := seen[c]; ok {
		return "", fmt.Errorf("%w: condition tree contains a cycle", ErrInvalidCondition)
	}
	seen[c] = struct{}{}
	defer delete(seen, c)

	switch c.kind {
	case KindEmpty:
		return "", fmt.Errorf("%w: cannot render the empty condition", ErrInvalidCondition)
	case KindComparison:
		return p.comparison(c)
	case KindExists:
		name := p.nameRef(c.path)
		if c.negate {
			return "attribute_not_exists (" + name.Expr + ")", nil
		}
		return "attribute_exists (" + name.Expr + ")", nil
	case KindBeginsWith:
		return p.function("begins_with", c)
	case KindContains:
		return p.function("contains", c)
	case KindBetween:
		return p.between(c)
	case KindIn:
		return p.in(c)
	case KindAnd, KindOr:
		return p.meta(c, seen)
	case KindNot:
		inner, err := p.conditionGuarded(c.children[0], seen)
		if err != nil {
			return "", err
		}
		return "(NOT " + inner + ")", nil
	default:
		return "", fmt.Errorf("%w: unknown condition kind %d", ErrInvalidCondition, c.kind)
	}
}

func (p *renderPass) comparison(c *Condition) (string, error) {
	v := c.values[0]
	name := p.nameRef(c.path)

	if v == nil {
		// Equality against a missing value degrades into an existence
		// check; any other comparator has no sensible wire form.
		switch c.op {
		case "=":
			return "attribute_not_exists (" + name.Expr + ")", nil
		case "<>":
			return "attribute_exists (" + name.Expr + ")", nil
		default:
			p.pop(name)
			return "", fmt.Errorf("%w: comparison %q against a missing value", ErrInvalidCondition, c.op)
		}
	}

	operand, err := p.operand(c.path, v, false)
	if err != nil {
		p.pop(name)
		return "", err
	}
	return name.Expr + " " + c.op + " " + operand.Expr, nil
}

func (p *renderPass) function(fname string, c *Condition) (string, error) {
	name := p.nameRef(c.path)
	operand, err := p.operand(c.path, c.values[0], true)
	if err != nil {
		p.pop(name)
		return "", err
	}
	return fname + " (" + name.Expr + ", " + operand.Expr + ")", nil
}

func (p *renderPass) between(c *Condition) (string, error) {
	name := p.nameRef(c.path)
	lo, err := p.operand(c.path, c.values[0], true)
	if err != nil {
		p.pop(name)
		return "", err
	}
	hi, err := p.operand(c.path, c.values[1], true)
	if err != nil {
		p.pop(lo, name)
		return "", err
	}
	return name.Expr + " BETWEEN " + lo.Expr + " AND " + hi.Expr, nil
}

func (p *renderPass) in(c *Condition) (string, error) {
	if len(c.values) == 0 {
		return "", fmt.Errorf("%w: IN with no candidate values", ErrInvalidCondition)
	}
	name := p.nameRef(c.path)
	operands := make([]string, 0, len(c.values))
	var issued []Ref
	for _, v := range c.values {
		ref, err := p.operand(c.path, v, true)
		if err != nil {
			p.pop(append(issued, name)...)
			return "", err
		}
		issued = append(issued, ref)
		operands = append(operands, ref.Expr)
	}
	return name.Expr + " IN (" + strings.Join(operands, ", ") + ")", nil
}

func (p *renderPass) meta(c *Condition, seen map[*Condition]struct{}) (string, error) {
	if len(c.children) == 0 {
		return "", fmt.Errorf("%w: empty %s", ErrInvalidCondition, metaName(c.kind))
	}
	parts := make([]string, 0, len(c.children))
	for _, child := range c.children {
		s, err := p.conditionGuarded(child, seen)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return "(" + strings.Join(parts, " "+metaName(c.kind)+" ") + ")", nil
}

func metaName(k Kind) string {
	if k == KindOr {
		return "OR"
	}
	return "AND"
}

// operand renders a comparison/function operand. Paths become name
// references; anything else becomes a value reference. When requireValue is
// set, an operand that encodes to nothing (the wire's notion of "empty")
// fails the render.
func (p *renderPass) operand(owner Path, v any, requireValue bool) (Ref, error) {
	if sub, ok := v.(Path); ok {
		return p.nameRef(sub), nil
	}
	if _, ok := v.(*Condition); ok {
		return Ref{}, fmt.Errorf("%w: condition used as an operand value", ErrInvalidCondition)
	}

	encoded := false
	if _, ok := v.(types.AttributeValue); ok {
		encoded = true
	}
	ref, err := p.valueRef(owner, v, encoded)
	if err != nil {
		return Ref{}, err
	}
	if requireValue && isEmptyAttr(p.tracker.values[ref.Expr]) {
		p.pop(ref)
		return Ref{}, fmt.Errorf("%w: operand for %q renders to an empty value", ErrInvalidCondition, owner.key())
	}
	return ref, nil
}

func isEmptyAttr(av types.AttributeValue) bool {
	switch v := av.(type) {
	case nil:
		return true
	case *types.AttributeValueMemberNULL:
		return true
	case *types.AttributeValueMemberS:
		return v.Value == ""
	case *types.AttributeValueMemberB:
		return len(v.Value) == 0
	default:
		return false
	}
}

func (p *renderPass) projection(paths []Path) string {
	seenPaths := make(map[string]struct{}, len(paths))
	parts := make([]string, 0, len(paths))
	for _, path := range paths {
		key := path.key()
		if _, dup := seenPaths[key]; dup {
			continue
		}
		seenPaths[key] = struct{}{}
		parts = append(parts, p.nameRef(path).Expr)
	}
	return strings.Join(parts, ", ")
}

func (p *renderPass) update(u *Update) (string, error) {
	clauses := make(map[Action][]string)

	for _, a := range u.sets {
		name := p.nameRef(a.path)
		ref, err := p.valueRef(a.path, a.value, a.encoded)
		if err != nil {
			p.pop(name)
			return "", err
		}
		clauses[ActionSet] = append(clauses[ActionSet], name.Expr+" = "+ref.Expr)
	}
	for _, path := range u.removes {
		clauses[ActionRemove] = append(clauses[ActionRemove], p.nameRef(path).Expr)
	}
	for _, a := range u.adds {
		name := p.nameRef(a.path)
		ref, err := p.valueRef(a.path, a.value, a.encoded)
		if err != nil {
			p.pop(name)
			return "", err
		}
		clauses[ActionAdd] = append(clauses[ActionAdd], name.Expr+" "+ref.Expr)
	}
	for _, a := range u.deletes {
		name := p.nameRef(a.path)
		ref, err := p.valueRef(a.path, a.value, a.encoded)
		if err != nil {
			p.pop(name)
			return "", err
		}
		clauses[ActionDelete] = append(clauses[ActionDelete], name.Expr+" "+ref.Expr)
	}

	var b strings.Builder
	for _, action := range actionOrder {
		entries := clauses[action]
		if len(entries) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(actionNames[action])
		b.WriteByte(' ')
		b.WriteString(strings.Join(entries, ", "))
	}
	return b.String(), nil
}
