package core

// validation.go checks canonical records before they leave the mapper.
//
// Record invariants live in struct tags on the record types:
//   - required identifiers, names and timestamps
//   - numeric fields finite and non-negative ("finite,gte=0")
//   - status and category fields restricted to the kind's enum ("oneof=...")
//
// A record that fails validation is a row mapping failure: it is dropped
// and counted, and the batch continues.

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
			f := fl.Field().Float()
			return !math.IsNaN(f) && !math.IsInf(f, 0)
		})
		validate = v
	})
	return validate
}

// ValidationError represents a single validation error for a field.
type ValidationError struct {
	Field   string // Record field name
	Value   string // The invalid value
	Message string // Human-readable error message
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidationErrors lists every invariant a record violates.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i, ve := range e {
		parts[i] = ve.Error()
	}
	return strings.Join(parts, "; ")
}

// ValidateRecord checks rec against its invariants.
// Returns nil or ValidationErrors.
func ValidateRecord(rec Record) error {
	err := recordValidator().Struct(rec)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Value:   fmt.Sprint(fe.Value()),
			Message: validationMessage(fe),
		})
	}
	return out
}

// ValidEmail reports whether s is a syntactically valid email address.
func ValidEmail(s string) bool {
	return recordValidator().Var(s, "required,email") == nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required field is empty"
	case "oneof":
		return "value must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "finite":
		return "must be a finite number"
	case "gte":
		return "must be at least " + fe.Param()
	case "email":
		return "invalid email address"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
