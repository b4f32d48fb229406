package config

import (
	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers custom validation functions
func RegisterCustomValidators(v *validator.Validate) error {
	return v.RegisterValidation("doublestar", validatePattern)
}

// validatePattern accepts an empty pattern, which the reader replaces with its default.
func validatePattern(fl validator.FieldLevel) bool {
	pattern := fl.Field().String()
	return pattern == "" || doublestar.ValidatePattern(pattern)
}
