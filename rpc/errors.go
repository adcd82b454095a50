package rpc

import (
	"errors"
	"reflect"
)

// ErrInvalidParams is returned synchronously by Call/Notify when params is
// present but not a structured (array/object) value (§3, §7 category 1).
var ErrInvalidParams = errors.New("rpc: params must be an array, slice, map or struct")

// validateParams enforces that params, if non-nil, is array/slice/map/struct
// shaped — the caller-misuse guard from §3 ("scalars and null are
// rejected at the call site").
func validateParams(params interface{}) error {
	if params == nil {
		return nil
	}
	switch reflect.ValueOf(params).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
		return nil
	case reflect.Ptr:
		if reflect.ValueOf(params).Elem().Kind() == reflect.Struct {
			return nil
		}
		return ErrInvalidParams
	default:
		return ErrInvalidParams
	}
}
