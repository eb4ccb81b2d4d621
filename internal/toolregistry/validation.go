package toolregistry

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	agenterrors "github.com/vsingh18567/illuminate/internal/errors"
)

// validateArguments returns every violation of args against schema. JSON
// numbers arrive as float64, so whole floats satisfy "integer".
func validateArguments(schema ports.ParameterSchema, args map[string]any) []agenterrors.Violation {
	var violations []agenterrors.Violation
	checkObject("", schema.Properties, schema.Required, schema.AdditionalProperties, args, &violations)
	return violations
}

func checkObject(prefix string, props map[string]ports.Property, required []string, additional bool, obj map[string]any, out *[]agenterrors.Violation) {
	for _, req := range required {
		if val, ok := obj[req]; !ok || val == nil {
			*out = append(*out, agenterrors.Violation{Field: join(prefix, req), Message: "is required"})
		}
	}

	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		val := obj[key]
		prop, ok := props[key]
		if !ok {
			if !additional {
				*out = append(*out, agenterrors.Violation{Field: join(prefix, key), Message: "is not a known argument"})
			}
			continue
		}
		if val == nil {
			continue
		}
		checkValue(join(prefix, key), prop, val, out)
	}
}

func checkValue(field string, prop ports.Property, val any, out *[]agenterrors.Violation) {
	if msg := checkType(prop.Type, val); msg != "" {
		*out = append(*out, agenterrors.Violation{Field: field, Message: msg})
		return
	}

	if len(prop.Enum) > 0 && !inEnum(prop.Enum, val) {
		*out = append(*out, agenterrors.Violation{Field: field, Message: fmt.Sprintf("must be one of %v, got %v", prop.Enum, val)})
	}

	switch strings.ToLower(prop.Type) {
	case "array":
		if prop.Items == nil {
			return
		}
		rv := reflect.ValueOf(val)
		for i := 0; i < rv.Len(); i++ {
			item := rv.Index(i).Interface()
			itemField := fmt.Sprintf("%s[%d]", field, i)
			if item == nil {
				*out = append(*out, agenterrors.Violation{Field: itemField, Message: "must not be null"})
				continue
			}
			checkValue(itemField, *prop.Items, item, out)
		}
	case "object":
		if len(prop.Properties) == 0 && len(prop.Required) == 0 {
			return
		}
		checkObject(field, prop.Properties, prop.Required, false, val.(map[string]any), out)
	}
}

func checkType(expectedType string, val any) string {
	switch strings.ToLower(expectedType) {
	case "":
		return ""
	case "string":
		if _, ok := val.(string); !ok {
			return fmt.Sprintf("expected string, got %s", describe(val))
		}
	case "number":
		if _, ok := toFloat(val); !ok {
			return fmt.Sprintf("expected number, got %s", describe(val))
		}
	case "integer":
		f, ok := toFloat(val)
		if !ok || math.Trunc(f) != f {
			return fmt.Sprintf("expected integer, got %s", describe(val))
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return fmt.Sprintf("expected boolean, got %s", describe(val))
		}
	case "array":
		if kind := reflect.TypeOf(val).Kind(); kind != reflect.Slice && kind != reflect.Array {
			return fmt.Sprintf("expected array, got %s", describe(val))
		}
	case "object":
		if _, ok := val.(map[string]any); !ok {
			return fmt.Sprintf("expected object, got %s", describe(val))
		}
	default:
		return fmt.Sprintf("schema declares unsupported type %q", expectedType)
	}
	return ""
}

func toFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	}
	return 0, false
}

func inEnum(enum []any, val any) bool {
	comparable := reflect.TypeOf(val).Comparable()
	for _, candidate := range enum {
		if comparable && candidate == val {
			return true
		}
		if cf, ok := toFloat(candidate); ok {
			if vf, ok := toFloat(val); ok && cf == vf {
				return true
			}
		}
	}
	return false
}

func describe(val any) string {
	switch val.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32:
		return "number"
	case map[string]any:
		return "object"
	}
	if kind := reflect.TypeOf(val).Kind(); kind == reflect.Slice || kind == reflect.Array {
		return "array"
	}
	return fmt.Sprintf("%T", val)
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
