package config

import (
	"reflect"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// flatten maps every leaf field of cfg to its dotted mapstructure key.
// Map-valued fields are skipped; they have no fixed set of keys.
func flatten(cfg Config) map[string]any {
	out := make(map[string]any)
	walk("", reflect.ValueOf(cfg), out)
	return out
}

func walk(prefix string, val reflect.Value, out map[string]any) {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		fv := val.Field(i)
		switch {
		case field.Type == durationType:
			out[key] = fv.Interface()
		case fv.Kind() == reflect.Struct:
			walk(key, fv, out)
		case fv.Kind() == reflect.Map:
		default:
			out[key] = fv.Interface()
		}
	}
}
