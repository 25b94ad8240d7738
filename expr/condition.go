package expr

import "reflect"

// Kind tags the closed set of condition node variants.
type Kind int

const (
	KindEmpty Kind = iota
	KindComparison
	KindExists
	KindBeginsWith
	KindBetween
	KindContains
	KindIn
	KindAnd
	KindOr
	KindNot
)

// Condition is one node of a boolean predicate tree. Nodes are built by the
// Path constructors and composed with And, Or and Not. Meta nodes (And/Or)
// additionally support in-place extension through Append, which is the one
// escape hatch from immutability and the way self-referential trees can
// arise; all traversal is therefore cycle-safe.
type Condition struct {
	kind     Kind
	op       string
	path     Path
	negate   bool
	values   []any
	children []*Condition
}

var emptyCondition = &Condition{kind: KindEmpty}

// Empty returns the identity condition. And/Or with Empty return the other
// operand unchanged; Not of Empty is Empty itself.
func Empty() *Condition { return emptyCondition }

// Kind returns the node's variant tag.
func (c *Condition) Kind() Kind { return c.kind }

// IsEmpty reports whether the condition is the identity condition.
func (c *Condition) IsEmpty() bool { return c.kind == KindEmpty }

// Path returns the attribute path the node addresses (zero for meta nodes).
func (c *Condition) Path() Path { return c.path }

// Children returns the composed sub-conditions of an And/Or/Not node.
func (c *Condition) Children() []*Condition { return c.children }

// And combines two conditions conjunctively. Empty is the identity, and
// combining And nodes flattens rather than nests.
func (c *Condition) And(other *Condition) *Condition {
	return combine(KindAnd, c, other)
}

// Or combines two conditions disjunctively, with the same identity and
// flattening behavior as And.
func (c *Condition) Or(other *Condition) *Condition {
	return combine(KindOr, c, other)
}

func combine(kind Kind, a, b *Condition) *Condition {
	if a.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return a
	}
	var children []*Condition
	if a.kind == kind {
		children = append(children, a.children...)
	} else {
		children = append(children, a)
	}
	if b.kind == kind {
		children = append(children, b.children...)
	} else {
		children = append(children, b)
	}
	return &Condition{kind: kind, children: children}
}

// Not negates the condition. Not of Empty returns the same Empty node and
// double negation returns the original node, not a copy.
func (c *Condition) Not() *Condition {
	if c.kind == KindEmpty {
		return c
	}
	if c.kind == KindNot {
		return c.children[0]
	}
	return &Condition{kind: KindNot, children: []*Condition{c}}
}

// Append extends an And/Or node in place, flattening same-kind arguments.
// Appending to any other node kind is a no-op.
func (c *Condition) Append(more ...*Condition) {
	if c.kind != KindAnd && c.kind != KindOr {
		return
	}
	for _, m := range more {
		if m.IsEmpty() {
			continue
		}
		if m.kind == c.kind {
			c.children = append(c.children, m.children...)
			continue
		}
		c.children = append(c.children, m)
	}
}

// Walk visits the tree depth-first. A root that is itself And/Or/Not is not
// yielded; its children are walked instead. A node reached again through a
// cycle or shared subtree is yielded once per encounter but recursed into
// only on the first, so traversal terminates on self-referential trees.
func (c *Condition) Walk(fn func(*Condition)) {
	seen := map[*Condition]struct{}{c: {}}
	walkNode(c, seen, fn, true)
}

func walkNode(n *Condition, seen map[*Condition]struct{}, fn func(*Condition), root bool) {
	switch n.kind {
	case KindEmpty:
		return
	case KindAnd, KindOr, KindNot:
		if !root {
			fn(n)
		}
		for _, child := range n.children {
			if _, ok := seen[child]; ok {
				fn(child)
				continue
			}
			seen[child] = struct{}{}
			walkNode(child, seen, fn, false)
		}
	default:
		fn(n)
		for _, v := range n.values {
			if sub, ok := v.(*Condition); ok {
				if _, dup := seen[sub]; dup {
					fn(sub)
					continue
				}
				seen[sub] = struct{}{}
				walkNode(sub, seen, fn, false)
			}
		}
	}
}

// Len counts the conditions reachable in Walk order: 0 for Empty, 1 for a
// leaf, and for meta nodes the number of yielded descendants. Finite even
// for cyclic trees.
func (c *Condition) Len() int {
	if c.kind == KindEmpty {
		return 0
	}
	n := 0
	c.Walk(func(*Condition) { n++ })
	if n == 0 && (c.kind == KindAnd || c.kind == KindOr || c.kind == KindNot) {
		return 0
	}
	return n
}

// Equal reports structural equality: same variant tag, same operand path,
// and pairwise-equal operands and children. Shared or cyclic structure is
// handled with a visited set, never unguarded recursion.
func (c *Condition) Equal(o *Condition) bool {
	return equalCond(c, o, map[[2]*Condition]struct{}{})
}

func equalCond(a, b *Condition, seen map[[2]*Condition]struct{}) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	pair := [2]*Condition{a, b}
	if _, ok := seen[pair]; ok {
		// Already comparing this pair further up the stack: assume equal
		// here and let the outer frames decide.
		return true
	}
	seen[pair] = struct{}{}

	if a.kind != b.kind || a.op != b.op || a.negate != b.negate {
		return false
	}
	if !a.path.Equal(b.path) {
		return false
	}
	if len(a.values) != len(b.values) || len(a.children) != len(b.children) {
		return false
	}
	for i := range a.values {
		av, bv := a.values[i], b.values[i]
		ac, aok := av.(*Condition)
		bc, bok := bv.(*Condition)
		if aok != bok {
			return false
		}
		if aok {
			if !equalCond(ac, bc, seen) {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(av, bv) {
			return false
		}
	}
	for i := range a.children {
		if !equalCond(a.children[i], b.children[i], seen) {
			return false
		}
	}
	return true
}
