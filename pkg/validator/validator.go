// Package validator wraps go-playground struct validation and reports
// failures by JSON field name so handler errors line up with request bodies.
package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	initOnce sync.Once
	instance *validator.Validate
)

// ValidationError is one failed rule on one field.
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

// ValidationErrors aggregates every failed rule from a single struct check.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}

	parts := make([]string, 0, len(v))
	for _, failure := range v {
		msg := failure.Field + " failed on " + failure.Tag
		if failure.Param != "" {
			msg += "=" + failure.Param
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}

// ValidateStruct checks s against its validate tags. Rule failures come back
// as ValidationErrors; anything else is returned unchanged.
func ValidateStruct(s any) error {
	err := sharedValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		failures := make(ValidationErrors, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			failures = append(failures, ValidationError{
				Field: fe.Field(),
				Tag:   fe.Tag(),
				Param: fe.Param(),
			})
		}
		return failures
	}

	return err
}

// sharedValidator lazily builds the process-wide validator with field names
// resolved from json tags.
func sharedValidator() *validator.Validate {
	initOnce.Do(func() {
		instance = validator.New()
		instance.RegisterTagNameFunc(jsonFieldName)
	})
	return instance
}

func jsonFieldName(field reflect.StructField) string {
	name := field.Tag.Get("json")
	if comma := strings.Index(name, ","); comma != -1 {
		name = name[:comma]
	}
	if name == "" || name == "-" {
		return field.Name
	}
	return name
}
