package validator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lithium-sequencer/sequencer/internal/errors"
	"github.com/lithium-sequencer/sequencer/internal/task"
	"github.com/lithium-sequencer/sequencer/internal/validator"
)

func schema() []task.ParamSpec {
	return []task.ParamSpec{
		{Name: "exposure", Type: task.ParamFloat, Required: true},
		{Name: "filter", Type: task.ParamString, Required: true},
		{Name: "count", Type: task.ParamInt, Required: false, Default: 1},
		{Name: "dither", Type: task.ParamBool, Required: false, Default: false},
	}
}

func TestValidateParams_Success(t *testing.T) {
	params := map[string]any{
		"exposure": 30.0,
		"filter":   "Ha",
		"count":    float64(3),
	}
	err := validator.ValidateParams(schema(), params)
	assert.Nil(t, err)
}

func TestValidateParams_MissingRequired(t *testing.T) {
	params := map[string]any{
		"filter": "Ha",
	}
	err := validator.ValidateParams(schema(), params)
	assert.NotNil(t, err)
	assert.Equal(t, errors.InvalidParameter, err.Kind)
}

func TestValidateParams_WrongType(t *testing.T) {
	params := map[string]any{
		"exposure": "not-a-number",
		"filter":   "Ha",
	}
	err := validator.ValidateParams(schema(), params)
	assert.NotNil(t, err)
	assert.Equal(t, errors.InvalidParameter, err.Kind)
}

func TestValidateParams_OptionalMissingOK(t *testing.T) {
	params := map[string]any{
		"exposure": 10.0,
		"filter":   "L",
	}
	err := validator.ValidateParams(schema(), params)
	assert.Nil(t, err)
}
