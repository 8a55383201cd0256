// Package validation checks request payloads and settings against the rules
// declared in their `validate` struct tags.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/iwvelando/margin-analysis/pkg/constants"
)

// ErrInvalid is matched by every error returned from Struct.
var ErrInvalid = errors.New("validation failed")

// FieldError describes one failed rule. Field uses the json name of the field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// Errors is the set of failed rules of one payload.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		if fe.Param != "" {
			parts[i] = fmt.Sprintf("%s must satisfy %s=%s", fe.Field, fe.Rule, fe.Param)
		} else {
			parts[i] = fmt.Sprintf("%s must satisfy %s", fe.Field, fe.Rule)
		}
	}
	return fmt.Sprintf("%s: %s", ErrInvalid, strings.Join(parts, "; "))
}

func (e Errors) Is(target error) bool {
	return target == ErrInvalid
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		return contains(constants.SupportedCurrencies, fl.Field().String())
	})
	v.RegisterValidation("output_format", func(fl validator.FieldLevel) bool {
		f := fl.Field().String()
		return f == constants.OutputFormatPretty || f == constants.OutputFormatCSV
	})
	return v
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

// Struct validates s and returns Errors when any rule fails.
func Struct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate %T: %w", s, err)
	}

	out := make(Errors, len(verrs))
	for i, fe := range verrs {
		field := fe.Namespace()
		if idx := strings.IndexByte(field, '.'); idx >= 0 {
			field = field[idx+1:]
		}
		out[i] = FieldError{Field: field, Rule: fe.Tag(), Param: fe.Param()}
	}
	return out
}

// ValidateOutputFormat checks if the output format is one of the supported formats.
func ValidateOutputFormat(format string) error {
	if err := validate.Var(format, "output_format"); err != nil {
		return fmt.Errorf("expected output format of %s or %s, got %s",
			constants.OutputFormatPretty, constants.OutputFormatCSV, format)
	}
	return nil
}

// ValidateCurrency checks that code is a supported currency.
func ValidateCurrency(code string) error {
	if err := validate.Var(code, "currency"); err != nil {
		return fmt.Errorf("%w: unsupported currency %q", ErrInvalid, code)
	}
	return nil
}
