package table_test

import (
	"errors"
	"testing"

	"github.com/jacentio/strata/table"
)

func TestSchema_IsKey(t *testing.T) {
	s := &table.Schema{TableName: "users", HashKey: "id", RangeKey: "sk"}

	if !s.IsKey("id") || !s.IsKey("sk") {
		t.Error("expected hash and range keys to be keys")
	}
	if s.IsKey("name") {
		t.Error("expected non-key attribute to not be a key")
	}
	if s.IsKey("") {
		t.Error("expected empty attribute to not be a key")
	}
}

func TestSchema_IsKey_NoRangeKey(t *testing.T) {
	s := &table.Schema{TableName: "users", HashKey: "id"}
	if s.IsKey("") {
		t.Error("expected empty attribute to not match a missing range key")
	}
}

func TestSchema_Index(t *testing.T) {
	s := &table.Schema{
		TableName: "users",
		HashKey:   "id",
		Indexes: []table.Index{
			{Name: "by-email", HashKey: "email"},
		},
	}

	idx, ok := s.Index("by-email")
	if !ok || idx.HashKey != "email" {
		t.Errorf("expected by-email index, got %+v ok=%v", idx, ok)
	}
	if _, ok := s.Index("missing"); ok {
		t.Error("expected missing index to not resolve")
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := table.NewRegistry()

	if err := r.Register(&table.Schema{TableName: "users", HashKey: "id"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s, err := r.Lookup("users")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.HashKey != "id" {
		t.Errorf("expected hash key id, got %q", s.HashKey)
	}
}

func TestRegistry_LookupUnknown(t *testing.T) {
	r := table.NewRegistry()

	_, err := r.Lookup("nope")
	if !errors.Is(err, table.ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	r := table.NewRegistry()

	if err := r.Register(&table.Schema{HashKey: "id"}); !errors.Is(err, table.ErrInvalidSchema) {
		t.Errorf("expected ErrInvalidSchema for missing table name, got %v", err)
	}
	if err := r.Register(&table.Schema{TableName: "users"}); !errors.Is(err, table.ErrInvalidSchema) {
		t.Errorf("expected ErrInvalidSchema for missing hash key, got %v", err)
	}
}

func TestRegistry_All(t *testing.T) {
	r := table.NewRegistry()
	if err := r.Register(&table.Schema{TableName: "a", HashKey: "id"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&table.Schema{TableName: "b", HashKey: "id"}); err != nil {
		t.Fatal(err)
	}

	if got := len(r.All()); got != 2 {
		t.Errorf("expected 2 schemas, got %d", got)
	}
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := table.NewRegistry()
	if err := r.Register(&table.Schema{TableName: "users", HashKey: "id"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&table.Schema{TableName: "users", HashKey: "pk"}); err != nil {
		t.Fatal(err)
	}

	s, err := r.Lookup("users")
	if err != nil {
		t.Fatal(err)
	}
	if s.HashKey != "pk" {
		t.Errorf("expected re-registration to replace the schema, got hash key %q", s.HashKey)
	}
}
