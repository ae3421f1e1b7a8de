// Package serializer implements the EJSON-like codec spec.md §5
// describes: plain JSON extended with typed tags for values JSON can't
// natively round-trip (Date, BigInt, raw bytes), plus defensive
// handling of circular references and values that fail to encode.
// Grounded on the root package's error-taxonomy style (errors.go) for
// reporting malformed input, generalised here into a tree walker since
// the teacher repo has no serializer of its own to imitate directly.
package serializer

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"time"
)

// taggedValue is the wire shape for Date/BigInt/Bytes (spec.md §6
// "Serializer extensions").
type taggedValue struct {
	Type  string `json:"__type"`
	Value string `json:"value"`
}

const (
	tagDate  = "Date"
	tagBig   = "BigInt"
	tagBytes = "Bytes"

	circularLiteral      = "[Circular]"
	unserializableLiteral = "[Unserializable]"
)

// Stringify encodes v into its EJSON text form.
func Stringify(v any) (string, error) {
	encoded := encodeTop(v, map[uintptr]bool{})
	b, err := json.Marshal(encoded)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Parse decodes EJSON text back into Go values: tagged Date/BigInt/Bytes
// objects become time.Time/*big.Int/[]byte, everything else maps onto
// the usual json.Unmarshal(any) shapes.
func Parse(data string) (any, error) {
	var raw any
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, err
	}
	return decode(raw), nil
}

// encodeTop recovers from any panic raised while encoding v (a failing
// MarshalJSON, an unsupported reflect kind) and substitutes the
// "[Unserializable]" sentinel, matching spec.md §6's round-trip
// property for degenerate values.
func encodeTop(v any, seen map[uintptr]bool) (result any) {
	defer func() {
		if r := recover(); r != nil {
			result = unserializableLiteral
		}
	}()
	return encodeValue(v, seen)
}

func encodeValue(v any, seen map[uintptr]bool) any {
	if v == nil {
		return nil
	}

	switch tv := v.(type) {
	case time.Time:
		return taggedValue{Type: tagDate, Value: tv.UTC().Format(time.RFC3339Nano)}
	case *big.Int:
		if tv == nil {
			return nil
		}
		return taggedValue{Type: tagBig, Value: tv.String()}
	case []byte:
		return taggedValue{Type: tagBytes, Value: base64.StdEncoding.EncodeToString(tv)}
	case json.Marshaler:
		b, err := tv.MarshalJSON()
		if err != nil {
			panic(err)
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			panic(err)
		}
		return generic
	case error:
		return tv.Error()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		addr := rv.Pointer()
		if seen[addr] {
			return circularLiteral
		}
		return encodeValue(rv.Elem().Interface(), withSeen(seen, addr))

	case reflect.Map:
		addr := rv.Pointer()
		if addr != 0 && seen[addr] {
			return circularLiteral
		}
		next := withSeen(seen, addr)
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprintf("%v", iter.Key().Interface())
			out[key] = encodeTop(iter.Value().Interface(), next)
		}
		return out

	case reflect.Slice:
		addr := rv.Pointer()
		if addr != 0 && seen[addr] {
			return circularLiteral
		}
		next := withSeen(seen, addr)
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = encodeTop(rv.Index(i).Interface(), next)
		}
		return out

	case reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = encodeTop(rv.Index(i).Interface(), seen)
		}
		return out

	case reflect.Struct:
		return encodeStruct(rv, seen)

	case reflect.Interface:
		return encodeValue(rv.Elem().Interface(), seen)

	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		panic(fmt.Sprintf("serializer: unsupported kind %s", rv.Kind()))

	default:
		return v
	}
}

func encodeStruct(rv reflect.Value, seen map[uintptr]bool) any {
	rt := rv.Type()
	out := make(map[string]any, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if field.PkgPath != "" { // unexported
			continue
		}
		name, omitEmpty, skip := jsonFieldName(field)
		if skip {
			continue
		}
		fv := rv.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		out[name] = encodeTop(fv.Interface(), seen)
	}
	return out
}

func jsonFieldName(field reflect.StructField) (name string, omitEmpty bool, skip bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	if tag == "" {
		return field.Name, false, false
	}
	parts := splitTag(tag)
	name = parts[0]
	if name == "" {
		name = field.Name
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

func splitTag(tag string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			parts = append(parts, tag[start:i])
			start = i + 1
		}
	}
	parts = append(parts, tag[start:])
	return parts
}

func withSeen(seen map[uintptr]bool, addr uintptr) map[uintptr]bool {
	next := make(map[uintptr]bool, len(seen)+1)
	for k := range seen {
		next[k] = true
	}
	if addr != 0 {
		next[addr] = true
	}
	return next
}

// decode walks a plain json.Unmarshal(any) tree, converting recognized
// { "__type": ..., "value": ... } tags back into Go values.
func decode(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		if typeName, ok := tv["__type"].(string); ok {
			if value, ok := tv["value"].(string); ok {
				if decoded, ok := decodeTag(typeName, value); ok {
					return decoded
				}
			}
		}
		out := make(map[string]any, len(tv))
		for k, v := range tv {
			out[k] = decode(v)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, v := range tv {
			out[i] = decode(v)
		}
		return out
	default:
		return v
	}
}

func decodeTag(typeName, value string) (any, bool) {
	switch typeName {
	case tagDate:
		t, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return nil, false
		}
		return t, true
	case tagBig:
		n, ok := new(big.Int).SetString(value, 10)
		if !ok {
			return nil, false
		}
		return n, true
	case tagBytes:
		b, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, false
		}
		return b, true
	default:
		return nil, false
	}
}
