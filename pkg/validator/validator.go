// Package validator wraps go-playground/validator with domain-specific rules.
package validator

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var accountNumberPattern = regexp.MustCompile(`^\d{10}$`)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := &Validator{
		validate: validator.New(),
	}
	v.registerCustomValidations()
	return v
}

// ValidateStructured returns a map of field -> error message for API responses
func (v *Validator) ValidateStructured(i interface{}) map[string]string {
	errs := make(map[string]string)
	if err := v.validate.Struct(i); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, e := range validationErrors {
				msg := fmt.Sprintf("failed validation on '%s'", e.Tag())
				switch e.Tag() {
				case "required":
					msg = "This field is required"
				case "gt":
					msg = fmt.Sprintf("Must be greater than %s", e.Param())
				case "gte":
					msg = fmt.Sprintf("Must be at least %s", e.Param())
				case "account_number":
					msg = "Invalid account number format (10 digits required)"
				case "oneof":
					msg = fmt.Sprintf("Must be one of: %s", e.Param())
				}
				errs[e.Field()] = msg
			}
		} else {
			errs["_global"] = err.Error()
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (v *Validator) registerCustomValidations() {
	// Register decimal.Decimal to be validated as float64 for gt/lt checks
	v.validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if val, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := val.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	_ = v.validate.RegisterValidation("account_number", func(fl validator.FieldLevel) bool {
		return accountNumberPattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})
}

// ValidAccountNumber reports whether s looks like an issued account number.
func ValidAccountNumber(s string) bool {
	return accountNumberPattern.MatchString(strings.TrimSpace(s))
}

// ValidAccountNumber on the instance mirrors the package-level helper so
// handlers holding a *Validator need no second import.
func (v *Validator) ValidAccountNumber(s string) bool {
	return ValidAccountNumber(s)
}
