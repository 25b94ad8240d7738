package expr

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func TestTracker_NameRefDeduplicates(t *testing.T) {
	tr := NewTracker(nil)

	first := tr.NameRef(Name("status"))
	second := tr.NameRef(Name("status"))

	if first.Expr != "#n0" {
		t.Errorf("expected first placeholder #n0, got %q", first.Expr)
	}
	if second.Expr != first.Expr {
		t.Errorf("expected same placeholder on reissue, got %q and %q", first.Expr, second.Expr)
	}
	if names := tr.Names(); len(names) != 1 || names["#n0"] != "status" {
		t.Errorf("expected one name entry #n0->status, got %v", names)
	}
}

func TestTracker_NameRefNestedPath(t *testing.T) {
	tr := NewTracker(nil)

	ref := tr.NameRef(Name("meta", "tags").Index(2))
	if ref.Expr != "#n0.#n1[2]" {
		t.Errorf("expected compound expression #n0.#n1[2], got %q", ref.Expr)
	}

	names := tr.Names()
	if names["#n0"] != "meta" || names["#n1"] != "tags" {
		t.Errorf("expected placeholders for meta and tags, got %v", names)
	}
}

func TestTracker_NameRefSharesSegmentPlaceholders(t *testing.T) {
	tr := NewTracker(nil)

	tr.NameRef(Name("meta", "created"))
	ref := tr.NameRef(Name("meta", "updated"))

	// "meta" resolves to the same placeholder in both paths.
	if ref.Expr != "#n0.#n2" {
		t.Errorf("expected second path to reuse #n0 for meta, got %q", ref.Expr)
	}
}

func TestTracker_ValueRefNeverDeduplicates(t *testing.T) {
	tr := NewTracker(nil)

	a, err := tr.ValueRef(Name("status"), "active", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := tr.ValueRef(Name("status"), "active", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.Expr == b.Expr {
		t.Errorf("expected distinct placeholders for identical values, got %q twice", a.Expr)
	}
	if vals := tr.Values(); len(vals) != 2 {
		t.Errorf("expected 2 value entries, got %d", len(vals))
	}
}

func TestTracker_ValueRefEncodesThroughEngine(t *testing.T) {
	tr := NewTracker(nil)

	ref, err := tr.ValueRef(Name("age"), 30, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	av, ok := tr.Values()[ref.Expr].(*types.AttributeValueMemberN)
	if !ok || av.Value != "30" {
		t.Errorf("expected N=30 for encoded int, got %#v", tr.Values()[ref.Expr])
	}
}

func TestTracker_ValueRefPreEncoded(t *testing.T) {
	tr := NewTracker(nil)

	want := &types.AttributeValueMemberS{Value: "active"}
	ref, err := tr.ValueRef(Name("status"), want, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Values()[ref.Expr] != types.AttributeValue(want) {
		t.Error("expected pre-encoded value to pass through untouched")
	}

	if _, err := tr.ValueRef(Name("status"), "not encoded", true); err == nil {
		t.Error("expected error for pre-encoded flag on a plain value")
	}
}

func TestTracker_PopRefsReleasesAtZero(t *testing.T) {
	tr := NewTracker(nil)

	ref := tr.NameRef(Name("status"))
	tr.PopRefs(ref)

	if names := tr.Names(); names != nil {
		t.Errorf("expected no live names after pop, got %v", names)
	}
}

func TestTracker_PopRefsRespectsUseCount(t *testing.T) {
	tr := NewTracker(nil)

	first := tr.NameRef(Name("status"))
	tr.NameRef(Name("status")) // second issuance of the same placeholder

	tr.PopRefs(first)
	if names := tr.Names(); len(names) != 1 {
		t.Errorf("expected placeholder to stay live while an issuance remains, got %v", names)
	}

	tr.PopRefs(first)
	if names := tr.Names(); names != nil {
		t.Errorf("expected placeholder released after final pop, got %v", names)
	}
}

func TestTracker_IndicesNeverReused(t *testing.T) {
	tr := NewTracker(nil)

	first := tr.NameRef(Name("a"))
	tr.PopRefs(first)

	next := tr.NameRef(Name("a"))
	if next.Expr != "#n1" {
		t.Errorf("expected a fresh index after pop, got %q", next.Expr)
	}

	v1, _ := tr.ValueRef(Name("a"), 1, false)
	tr.PopRefs(v1)
	v2, _ := tr.ValueRef(Name("a"), 1, false)
	if v2.Expr != ":v1" {
		t.Errorf("expected a fresh value index after pop, got %q", v2.Expr)
	}
}

func TestTracker_PopValueRef(t *testing.T) {
	tr := NewTracker(nil)

	ref, err := tr.ValueRef(Name("age"), 30, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr.PopRefs(ref)

	if vals := tr.Values(); vals != nil {
		t.Errorf("expected no live values after pop, got %v", vals)
	}
}

func TestTracker_MapsAreCopies(t *testing.T) {
	tr := NewTracker(nil)
	tr.NameRef(Name("status"))

	names := tr.Names()
	names["#n0"] = "tampered"

	if fresh := tr.Names(); fresh["#n0"] != "status" {
		t.Error("expected Names to return a copy")
	}
}
