package table

import "fmt"

// Index describes a secondary index on a table.
type Index struct {
	Name     string
	HashKey  string
	RangeKey string
}

// StreamView selects which attribute maps a model's change stream should
// unpack into typed objects.
type StreamView struct {
	Keys     bool
	NewImage bool
	OldImage bool
}

// Schema is the declared shape of one model's table.
type Schema struct {
	// TableName is the backing table.
	TableName string

	// HashKey is the partition key attribute name.
	HashKey string

	// RangeKey is the optional sort key attribute name.
	RangeKey string

	// Indexes lists the queryable secondary indexes.
	Indexes []Index

	// Stream configures typed unpacking of change-stream records.
	Stream StreamView
}

func (s *Schema) validate() error {
	if s.TableName == "" {
		return fmt.Errorf("%w: missing table name", ErrInvalidSchema)
	}
	if s.HashKey == "" {
		return fmt.Errorf("%w: %s has no hash key", ErrInvalidSchema, s.TableName)
	}
	return nil
}

// IsKey reports whether attr is the hash or range key.
func (s *Schema) IsKey(attr string) bool {
	return attr == s.HashKey || (s.RangeKey != "" && attr == s.RangeKey)
}

// Index returns the named index definition, if declared.
func (s *Schema) Index(name string) (Index, bool) {
	for _, idx := range s.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return Index{}, false
}

// Registry holds all known model schemas, keyed by table name. Operations
// against an unregistered table fail fast with ErrUnknownModel.
type Registry struct {
	byTable map[string]*Schema
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byTable: make(map[string]*Schema)}
}

// Register adds a schema, replacing any previous one for the same table.
func (r *Registry) Register(s *Schema) error {
	if err := s.validate(); err != nil {
		return err
	}
	r.byTable[s.TableName] = s
	return nil
}

// Lookup resolves a table name to its schema.
func (r *Registry) Lookup(tableName string) (*Schema, error) {
	s, ok := r.byTable[tableName]
	if !ok {
		return nil, fmt.Errorf("%w: no schema registered for table %q", ErrUnknownModel, tableName)
	}
	return s, nil
}

// All returns every registered schema.
func (r *Registry) All() []*Schema {
	out := make([]*Schema, 0, len(r.byTable))
	for _, s := range r.byTable {
		out = append(out, s)
	}
	return out
}
