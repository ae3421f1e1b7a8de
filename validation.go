package runner

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// StructValidator adapts go-playground/validator/v10's struct-tag
// validation to Validator[T] (spec.md §1 "Out-of-scope: schema
// validation is pluggable via an opaque parse(x)"; SPEC_FULL.md domain
// stack). Provided as the runtime's default concrete Validator since
// the interface itself stays intentionally opaque.
type StructValidator[T any] struct {
	validate *validator.Validate
}

// NewStructValidator builds a StructValidator[T] using validator/v10's
// default tag set ("required", "min", "max", "email", ...).
func NewStructValidator[T any]() *StructValidator[T] {
	return &StructValidator[T]{validate: validator.New()}
}

// Parse asserts input is a T (or *T) and runs struct-tag validation
// over it, returning a ValidationError wrapping every failed field.
func (v *StructValidator[T]) Parse(input any) (T, error) {
	var zero T
	typed, ok := input.(T)
	if !ok {
		if ptr, ok := input.(*T); ok {
			typed = *ptr
		} else {
			return zero, fmt.Errorf("validation: input is not of the expected type")
		}
	}
	if err := v.validate.Struct(typed); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			return zero, &ValidationError{Fields: verrs}
		}
		return zero, err
	}
	return typed, nil
}

// ValidationError wraps validator/v10's per-field failures in a single
// error value.
type ValidationError struct {
	Fields validator.ValidationErrors
}

func (e *ValidationError) Error() string {
	msg := "validation failed:"
	for _, f := range e.Fields {
		msg += fmt.Sprintf(" %s=%s(%s)", f.Namespace(), f.Tag(), f.Param())
	}
	return msg
}
