// Package validator checks Task parameter payloads against a Task's
// declared parameter schema: every required parameter must be present and
// type-correct, else the task transitions to Failed with kind
// InvalidParameter.
//
// Task parameter schemas are defined at runtime (an ordered list of
// {name, type, required, default}), not as compile-time Go structs, so
// struct-tag validation (validator.Struct) does not apply directly. Instead
// each field is checked individually with validator's ad hoc Var API,
// mirroring streamspace's validator.New()-backed approach but pointed at a
// dynamic schema instead of a fixed HTTP request struct.
package validator

import (
	"fmt"

	val "github.com/go-playground/validator/v10"

	"github.com/lithium-sequencer/sequencer/internal/errors"
	"github.com/lithium-sequencer/sequencer/internal/task"
)

var validate = val.New()

// ValidateParams checks params against schema. Missing required fields or
// type mismatches are reported as a single *errors.Error of kind
// InvalidParameter naming every offending field; defaults are not applied
// here (callers merge defaults before or after, per the Target/Task param
// resolution order).
func ValidateParams(schema []task.ParamSpec, params map[string]any) *errors.Error {
	var bad []string

	for _, spec := range schema {
		v, present := params[spec.Name]
		if !present {
			if spec.Required {
				bad = append(bad, fmt.Sprintf("%s: required", spec.Name))
			}
			continue
		}
		if err := validate.Var(v, "required"); err != nil {
			bad = append(bad, fmt.Sprintf("%s: empty value", spec.Name))
			continue
		}
		if !typeMatches(spec.Type, v) {
			bad = append(bad, fmt.Sprintf("%s: expected %s", spec.Name, spec.Type))
		}
	}

	if len(bad) == 0 {
		return nil
	}
	return errors.New(errors.InvalidParameter, "parameter validation failed").WithDetails(bad)
}

func typeMatches(t task.ParamType, v any) bool {
	switch t {
	case task.ParamInt:
		switch v.(type) {
		case int, int32, int64, float64: // JSON numbers decode as float64
			return true
		}
		return false
	case task.ParamFloat:
		switch v.(type) {
		case float32, float64, int, int64:
			return true
		}
		return false
	case task.ParamBool:
		_, ok := v.(bool)
		return ok
	case task.ParamString:
		_, ok := v.(string)
		return ok
	case task.ParamJSON:
		return true // any decoded JSON value is acceptable
	default:
		return false
	}
}
