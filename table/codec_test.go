package table_test

import (
	"reflect"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/strata/table"
)

type codecModel struct {
	ID     string            `dynamodbav:"id"`
	Name   string            `dynamodbav:"name"`
	Age    int               `dynamodbav:"age"`
	Tags   []string          `dynamodbav:"tags"`
	Labels map[string]string `dynamodbav:"labels"`
}

func TestCodec_EncodeScalar(t *testing.T) {
	av, err := table.Codec{}.Encode("hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, ok := av.(*types.AttributeValueMemberS)
	if !ok || s.Value != "hello" {
		t.Errorf("expected S(hello), got %#v", av)
	}
}

func TestCodec_EncodeEmptyStringOmits(t *testing.T) {
	av, err := table.Codec{}.Encode("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if av != nil {
		t.Errorf("expected empty string to encode to omission, got %#v", av)
	}
}

func TestCodec_EncodeNilOmits(t *testing.T) {
	av, err := table.Codec{}.Encode(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if av != nil {
		t.Errorf("expected nil to encode to omission, got %#v", av)
	}
}

func TestCodec_RoundTripScalars(t *testing.T) {
	cases := []struct {
		name string
		in   any
		out  any
	}{
		{"string", "text", new(string)},
		{"int", 42, new(int)},
		{"bool", true, new(bool)},
		{"float", 2.5, new(float64)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			av, err := table.Codec{}.Encode(tc.in)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if err := (table.Codec{}).Decode(av, tc.out); err != nil {
				t.Fatalf("decode: %v", err)
			}
			got := reflect.ValueOf(tc.out).Elem().Interface()
			if !reflect.DeepEqual(got, tc.in) {
				t.Errorf("round trip changed value: %v -> %v", tc.in, got)
			}
		})
	}
}

func TestCodec_RoundTripCollections(t *testing.T) {
	in := []string{"a", "b"}
	av, err := table.Codec{}.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out []string
	if err := (table.Codec{}).Decode(av, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip changed slice: %v -> %v", in, out)
	}
}

func TestCodec_DecodeAbsentCollection(t *testing.T) {
	var s []string
	if err := (table.Codec{}).Decode(nil, &s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s == nil || len(s) != 0 {
		t.Errorf("expected empty slice for absent collection, got %#v", s)
	}

	var m map[string]int
	if err := (table.Codec{}).Decode(nil, &m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m == nil || len(m) != 0 {
		t.Errorf("expected empty map for absent collection, got %#v", m)
	}
}

func TestCodec_DecodeAbsentScalar(t *testing.T) {
	v := "stale"
	if err := (table.Codec{}).Decode(nil, &v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "" {
		t.Errorf("expected zero value for absent scalar, got %q", v)
	}
}

func TestCodec_DecodeAbsentNonPointerFails(t *testing.T) {
	if err := (table.Codec{}).Decode(nil, "not a pointer"); err == nil {
		t.Error("expected error decoding into a non-pointer")
	}
}

func TestEncodeMap_DropsOmittedFields(t *testing.T) {
	item, err := table.EncodeMap(&codecModel{ID: "u1", Age: 30})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := item["id"]; !ok {
		t.Error("expected id to be present")
	}
	if _, ok := item["name"]; ok {
		t.Error("expected empty name to be omitted")
	}
	if _, ok := item["age"]; !ok {
		t.Error("expected age to be present")
	}
}

func TestEncodeMap_FiltersInnerNulls(t *testing.T) {
	item, err := table.EncodeMap(map[string]any{
		"outer": map[string]any{"keep": "x", "drop": nil},
		"list":  []any{"a", nil, "b"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outer := item["outer"].(*types.AttributeValueMemberM)
	if _, ok := outer.Value["drop"]; ok {
		t.Error("expected nil map member to be filtered")
	}
	if _, ok := outer.Value["keep"]; !ok {
		t.Error("expected non-nil map member to survive")
	}

	list := item["list"].(*types.AttributeValueMemberL)
	if len(list.Value) != 2 {
		t.Errorf("expected nil list member filtered, got %d members", len(list.Value))
	}
}

func TestEncodeDecodeMap_RoundTrip(t *testing.T) {
	in := codecModel{
		ID:     "u1",
		Name:   "Sam",
		Age:    30,
		Tags:   []string{"a"},
		Labels: map[string]string{"k": "v"},
	}

	item, err := table.EncodeMap(&in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out codecModel
	if err := table.DecodeMap(item, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip changed model: %+v -> %+v", in, out)
	}
}
