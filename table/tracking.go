package table

import (
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/strata/expr"
)

// Tracker records, per in-memory object, which fields were explicitly
// mutated since the last synchronization and the condition its persisted
// state is expected to still satisfy. Entries are keyed by object identity
// and live until Forget is called; callers own object lifetime and must
// Forget objects they discard.
//
// obj must always be a pointer to the model value. Identity keying only
// works for pointers: two structs passed by value never match, and a value
// containing a slice or map is not even a usable key.
//
// A Tracker belongs to one engine and is not safe for concurrent use.
type Tracker struct {
	entries map[any]*trackEntry
}

type trackEntry struct {
	marked      map[string]struct{}
	snapshot    *expr.Condition
	hasSnapshot bool
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[any]*trackEntry)}
}

func (t *Tracker) entry(obj any) *trackEntry {
	e, ok := t.entries[obj]
	if !ok {
		e = &trackEntry{marked: make(map[string]struct{})}
		t.entries[obj] = e
	}
	return e
}

// Mark records that field was set or deleted on obj. Deleted fields are
// marked too: their absence is itself a fact to persist.
func (t *Tracker) Mark(obj any, fields ...string) {
	e := t.entry(obj)
	for _, f := range fields {
		e.marked[f] = struct{}{}
	}
}

// Marked returns obj's marked fields in lexicographic order.
func (t *Tracker) Marked(obj any) []string {
	e, ok := t.entries[obj]
	if !ok {
		return nil
	}
	fields := make([]string, 0, len(e.marked))
	for f := range e.marked {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Snapshot returns the condition obj's persisted state is expected to
// satisfy. For an object that has never been synchronized it synthesizes,
// caches and returns the all-absent condition: every model field expected
// to not exist, which is the correct optimistic precondition for a
// brand-new object.
func (t *Tracker) Snapshot(obj any) (*expr.Condition, error) {
	e := t.entry(obj)
	if e.hasSnapshot {
		if e.snapshot == nil {
			return expr.Empty(), nil
		}
		return e.snapshot, nil
	}

	fields, err := rawFields(obj)
	if err != nil {
		return nil, fmt.Errorf("snapshot fields: %w", err)
	}
	sort.Strings(fields)

	cond := expr.Empty()
	for _, f := range fields {
		cond = cond.And(expr.Name(f).NotExists())
	}
	e.snapshot = cond
	e.hasSnapshot = true
	return cond, nil
}

// Sync rebuilds obj's snapshot after a successful save or update. The new
// snapshot is built strictly from the marked non-key fields: each marked
// field's current value is encoded immediately (so later mutation of a
// mutable value cannot invalidate the snapshot) and the equalities are
// ANDed in lexicographic field order. The marked set is then cleared.
func (t *Tracker) Sync(obj any, schema *Schema) error {
	e := t.entry(obj)

	item, err := EncodeMap(obj)
	if err != nil {
		return fmt.Errorf("sync encode: %w", err)
	}

	cond := expr.Empty()
	for _, f := range t.Marked(obj) {
		if schema.IsKey(f) {
			continue
		}
		if av, ok := item[f]; ok {
			cond = cond.And(expr.Name(f).Equals(av))
		} else {
			cond = cond.And(expr.Name(f).NotExists())
		}
	}

	e.snapshot = cond
	e.hasSnapshot = true
	e.marked = make(map[string]struct{})
	return nil
}

// SyncLoaded rebuilds obj's snapshot after a successful load. The stored
// item is the ground truth here, so the snapshot asserts every non-key
// attribute it carries still holds its loaded value, ANDed in lexicographic
// attribute order. The marked set is cleared.
func (t *Tracker) SyncLoaded(obj any, schema *Schema, item map[string]types.AttributeValue) {
	e := t.entry(obj)

	attrs := make([]string, 0, len(item))
	for attr := range item {
		if schema.IsKey(attr) {
			continue
		}
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)

	cond := expr.Empty()
	for _, attr := range attrs {
		cond = cond.And(expr.Name(attr).Equals(item[attr]))
	}
	e.snapshot = cond
	e.hasSnapshot = true
	e.marked = make(map[string]struct{})
}

// Forget drops obj's tracking state. Called after a delete and when the
// caller disposes of the object.
func (t *Tracker) Forget(obj any) {
	delete(t.entries, obj)
}
