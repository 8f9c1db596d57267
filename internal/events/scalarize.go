package events

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// Identifiable is the entity contract for payload scalarization: an entity in
// an integration payload is replaced by its identity.
type Identifiable interface {
	Identity() string
}

// Scalarize normalizes a value for an integration payload. Nil and scalars
// pass through, entities collapse to their identity, times become UTC ISO-8601,
// json.Marshaler values become their JSON form, and slices and maps are
// recursed. Anything else is stringified.
func Scalarize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case *time.Time:
		if val == nil {
			return nil
		}

		return val.UTC().Format(time.RFC3339)
	case Identifiable:
		return val.Identity()
	case json.Marshaler:
		data, err := val.MarshalJSON()
		if err != nil {
			return fmt.Sprintf("%v", v)
		}

		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return string(data)
		}

		return out
	case map[string]any:
		return ScalarizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Scalarize(item)
		}

		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Scalarize(rv.Index(i).Interface())
		}

		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		for _, key := range rv.MapKeys() {
			out[fmt.Sprintf("%v", key.Interface())] = Scalarize(rv.MapIndex(key).Interface())
		}

		return out
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// Named integer types (enums) collapse to their underlying value.
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}

	return fmt.Sprintf("%v", v)
}

// ScalarizeMap applies Scalarize to every value of the map.
func ScalarizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Scalarize(v)
	}

	return out
}
