package expr

// Action is an update-expression action kind.
type Action int

const (
	ActionSet Action = iota
	ActionRemove
	ActionAdd
	ActionDelete
)

// actionOrder is the stable clause order in a rendered update expression.
var actionOrder = []Action{ActionSet, ActionRemove, ActionAdd, ActionDelete}

var actionNames = map[Action]string{
	ActionSet:    "SET",
	ActionRemove: "REMOVE",
	ActionAdd:    "ADD",
	ActionDelete: "DELETE",
}

type assignment struct {
	path    Path
	value   any
	encoded bool
}

// Update collects pending mutations for one update expression, grouped by
// action kind.
type Update struct {
	sets    []assignment
	removes []Path
	adds    []assignment
	deletes []assignment
}

// NewUpdate returns an empty update.
func NewUpdate() *Update { return &Update{} }

// Set records a SET of path to value.
func (u *Update) Set(p Path, v any) *Update {
	u.sets = append(u.sets, assignment{path: p, value: v})
	return u
}

// SetEncoded records a SET whose value is already a wire attribute value.
func (u *Update) SetEncoded(p Path, v any) *Update {
	u.sets = append(u.sets, assignment{path: p, value: v, encoded: true})
	return u
}

// Remove records a REMOVE of path.
func (u *Update) Remove(p Path) *Update {
	u.removes = append(u.removes, p)
	return u
}

// Add records an ADD of value to path (numeric increment or set union).
func (u *Update) Add(p Path, v any) *Update {
	u.adds = append(u.adds, assignment{path: p, value: v})
	return u
}

// Delete records a DELETE of value from the set at path.
func (u *Update) Delete(p Path, v any) *Update {
	u.deletes = append(u.deletes, assignment{path: p, value: v})
	return u
}

// IsZero reports whether the update holds no mutations.
func (u *Update) IsZero() bool {
	return u == nil || (len(u.sets) == 0 && len(u.removes) == 0 && len(u.adds) == 0 && len(u.deletes) == 0)
}
