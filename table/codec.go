package table

import (
	"reflect"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Codec is the type engine: it converts native values to and from the
// wire's tagged attribute values. An empty or absent scalar encodes to
// omission (nil); absent collections decode to the empty container; inner
// nulls are filtered out of encoded maps and lists.
//
// Codec satisfies expr.Encoder, so renderers share the same encoding rules
// as stored items.
type Codec struct{}

// Encode converts one value. A nil result with nil error means the value
// encodes to omission.
func (Codec) Encode(v any) (types.AttributeValue, error) {
	if v == nil {
		return nil, nil
	}
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return nil, err
	}
	return normalizeAttr(av), nil
}

// Decode converts one wire value into out. A nil wire value decodes
// collections to their empty container and scalars to their zero value.
func (Codec) Decode(av types.AttributeValue, out any) error {
	if av == nil {
		return decodeAbsent(out)
	}
	return attributevalue.Unmarshal(av, out)
}

// EncodeMap converts a struct (or map) into an item attribute map,
// dropping attributes that encode to omission.
func EncodeMap(v any) (map[string]types.AttributeValue, error) {
	raw, err := attributevalue.MarshalMap(v)
	if err != nil {
		return nil, err
	}
	item := make(map[string]types.AttributeValue, len(raw))
	for k, av := range raw {
		if norm := normalizeAttr(av); norm != nil {
			item[k] = norm
		}
	}
	return item, nil
}

// DecodeMap converts an item attribute map back into out.
func DecodeMap(item map[string]types.AttributeValue, out any) error {
	return attributevalue.UnmarshalMap(item, out)
}

// rawFields returns every attribute name the value marshals to, including
// ones that would be omitted from a stored item. Used to synthesize the
// all-absent snapshot for never-persisted objects.
func rawFields(v any) ([]string, error) {
	raw, err := attributevalue.MarshalMap(v)
	if err != nil {
		return nil, err
	}
	fields := make([]string, 0, len(raw))
	for k := range raw {
		fields = append(fields, k)
	}
	return fields, nil
}

// normalizeAttr applies the empty/omission rules: NULL and empty scalars
// become nil (omitted), and NULL members are filtered out of maps and
// lists.
func normalizeAttr(av types.AttributeValue) types.AttributeValue {
	switch v := av.(type) {
	case nil:
		return nil
	case *types.AttributeValueMemberNULL:
		return nil
	case *types.AttributeValueMemberS:
		if v.Value == "" {
			return nil
		}
		return v
	case *types.AttributeValueMemberB:
		if len(v.Value) == 0 {
			return nil
		}
		return v
	case *types.AttributeValueMemberM:
		m := make(map[string]types.AttributeValue, len(v.Value))
		for k, member := range v.Value {
			if norm := normalizeAttr(member); norm != nil {
				m[k] = norm
			}
		}
		return &types.AttributeValueMemberM{Value: m}
	case *types.AttributeValueMemberL:
		list := make([]types.AttributeValue, 0, len(v.Value))
		for _, member := range v.Value {
			if norm := normalizeAttr(member); norm != nil {
				list = append(list, norm)
			}
		}
		return &types.AttributeValueMemberL{Value: list}
	default:
		return av
	}
}

// decodeAbsent decodes a missing wire value: pointers to slices and maps
// get an empty container, everything else its zero value.
func decodeAbsent(out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return &attributevalue.InvalidUnmarshalError{Type: reflect.TypeOf(out)}
	}
	elem := rv.Elem()
	switch elem.Kind() {
	case reflect.Slice:
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	case reflect.Map:
		elem.Set(reflect.MakeMap(elem.Type()))
	default:
		elem.Set(reflect.Zero(elem.Type()))
	}
	return nil
}
