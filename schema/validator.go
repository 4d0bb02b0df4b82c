package schema

import (
	"fmt"
	"sort"
	"strings"

	playground "github.com/go-playground/validator/v10"
)

// StructValidator adapts github.com/go-playground/validator to the
// Validator interface, driven by the `validate` struct tags on a
// request/response type a handler decodes for itself. It is a pass-through
// for anything that isn't a struct (or pointer to one) — in particular the
// map[string]interface{} the engine decodes every request body into by
// default (§4.1), which StructValidator can never inspect. Register a
// MapValidator instead for schemas over that generic decoded shape.
type StructValidator struct {
	engine *playground.Validate
}

// NewStructValidator returns a Validator backed by a fresh validator.v10
// engine instance.
func NewStructValidator() *StructValidator {
	return &StructValidator{engine: playground.New()}
}

// Validate runs struct-tag validation over value. Non-struct values
// (maps, slices, scalars) are passed through unchecked, since validator.v10
// only inspects struct fields.
func (v *StructValidator) Validate(value interface{}) error {
	if value == nil {
		return nil
	}
	err := v.engine.Struct(value)
	if err == nil {
		return nil
	}
	if _, ok := err.(*playground.InvalidValidationError); ok {
		// value wasn't a struct (or a pointer to one); nothing to check.
		return nil
	}
	return err
}

// MapValidator adapts go-playground/validator's field-level map
// validation to the Validator interface, for the common case where the
// decoded request body is a map[string]interface{} rather than a
// declared struct — exactly what codec.DecodeValue hands a handler by
// default (§4.1, §4.4 step 4). Rules are keyed by field name, with
// validator.v10 tag strings as values (e.g. {"n": "required,numeric"}).
type MapValidator struct {
	engine *playground.Validate
	rules  map[string]interface{}
}

// NewMapValidator returns a Validator that checks a map[string]interface{}
// against rules.
func NewMapValidator(rules map[string]interface{}) *MapValidator {
	return &MapValidator{engine: playground.New(), rules: rules}
}

// Validate runs the configured field rules over value. A value that isn't
// a map[string]interface{} fails outright, since there is nothing else a
// MapValidator knows how to check.
func (v *MapValidator) Validate(value interface{}) error {
	data, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("schema: MapValidator requires map[string]interface{}, got %T", value)
	}
	if errs := v.engine.ValidateMap(data, v.rules); len(errs) > 0 {
		return mapValidationError(errs)
	}
	return nil
}

// mapValidationError flattens the field->error map ValidateMap returns
// into a single, deterministically-ordered error message.
type mapValidationError map[string]interface{}

func (e mapValidationError) Error() string {
	parts := make([]string, 0, len(e))
	for field, err := range e {
		parts = append(parts, fmt.Sprintf("%s: %v", field, err))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}
