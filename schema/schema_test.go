package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type payload struct {
	N int `validate:"gte=0"`
}

func TestStructValidatorRejectsInvalid(t *testing.T) {
	v := NewStructValidator()
	err := v.Validate(payload{N: -1})
	assert.Error(t, err)
}

func TestStructValidatorAcceptsValid(t *testing.T) {
	v := NewStructValidator()
	err := v.Validate(payload{N: 1})
	assert.NoError(t, err)
}

func TestStructValidatorIgnoresNonStruct(t *testing.T) {
	v := NewStructValidator()
	assert.NoError(t, v.Validate(map[string]interface{}{"n": "x"}))
	assert.NoError(t, v.Validate(nil))
}

func TestMapValidatorRejectsInvalidField(t *testing.T) {
	v := NewMapValidator(map[string]interface{}{"n": "required,numeric"})
	err := v.Validate(map[string]interface{}{"n": "x"})
	assert.Error(t, err)
}

func TestMapValidatorAcceptsValidField(t *testing.T) {
	v := NewMapValidator(map[string]interface{}{"n": "required,numeric"})
	err := v.Validate(map[string]interface{}{"n": "42"})
	assert.NoError(t, err)
}

func TestMapValidatorRejectsNonMapValue(t *testing.T) {
	v := NewMapValidator(map[string]interface{}{"n": "required"})
	assert.Error(t, v.Validate("not-a-map"))
}

func TestGuardAppliesSanitizerThenValidator(t *testing.T) {
	order := ""
	g := Guard{
		Sanitizer: SanitizerFunc(func(v interface{}) (interface{}, error) {
			order += "s"
			return v, nil
		}),
		Validator: ValidatorFunc(func(v interface{}) error {
			order += "v"
			return nil
		}),
	}
	_, err := g.Apply("x")
	assert.NoError(t, err)
	assert.Equal(t, "sv", order)
}

func TestGuardStopsOnSanitizeError(t *testing.T) {
	g := Guard{
		Sanitizer: SanitizerFunc(func(v interface{}) (interface{}, error) {
			return v, assert.AnError
		}),
		Validator: ValidatorFunc(func(v interface{}) error {
			t.Fatal("validator should not run")
			return nil
		}),
	}
	_, err := g.Apply("x")
	assert.ErrorIs(t, err, assert.AnError)
}
