// Package schema declares the input/output guard contracts a registered
// handler may attach to its request and response types, and provides a
// concrete adapter backed by go-playground/validator. Sanitization and
// validation are kept as interfaces so a handler can plug in a bespoke
// implementation without the engine depending on any particular library.
package schema

// Sanitizer normalizes a value before it is validated, e.g. trimming
// strings or defaulting optional fields. Implementations mutate and
// return the same value, or return a replacement.
type Sanitizer interface {
	Sanitize(value interface{}) (interface{}, error)
}

// Validator checks a value against a schema, returning a LOGIC-kind error
// (via rpcerr.WrongParameterSchema at the call site) when it fails.
type Validator interface {
	Validate(value interface{}) error
}

// SanitizerFunc adapts a plain function to the Sanitizer interface.
type SanitizerFunc func(value interface{}) (interface{}, error)

// Sanitize implements Sanitizer.
func (f SanitizerFunc) Sanitize(value interface{}) (interface{}, error) { return f(value) }

// ValidatorFunc adapts a plain function to the Validator interface.
type ValidatorFunc func(value interface{}) error

// Validate implements Validator.
func (f ValidatorFunc) Validate(value interface{}) error { return f(value) }

// Guard bundles the optional sanitizer/validator pair a handler may
// register for its request (input guard) and result (output guard).
type Guard struct {
	Sanitizer Sanitizer
	Validator Validator
}

// Apply sanitizes then validates value, in that order, matching §4.4 step
// 4/step 7's "apply result sanitization and validation symmetrically".
func (g Guard) Apply(value interface{}) (interface{}, error) {
	if g.Sanitizer != nil {
		sanitized, err := g.Sanitizer.Sanitize(value)
		if err != nil {
			return value, err
		}
		value = sanitized
	}
	if g.Validator != nil {
		if err := g.Validator.Validate(value); err != nil {
			return value, err
		}
	}
	return value, nil
}
