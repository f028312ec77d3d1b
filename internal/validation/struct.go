package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/victorgomez09/garagedesk/internal/apierr"
)

var (
	usernameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{2,50}$`)
	phoneRe    = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
	clockRe    = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
)

// Validator wraps go-playground/validator with the back office's custom tags:
//
//	username  2-50 chars of letters, digits, '_', '.', '-'
//	phone     10-15 digits, optional leading '+', spaces and dashes ignored
//	date      YYYY-MM-DD
//	clock     HH:MM, 24h
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	mustRegister(v, "username", func(fl validator.FieldLevel) bool {
		return usernameRe.MatchString(fl.Field().String())
	})
	mustRegister(v, "phone", func(fl validator.FieldLevel) bool {
		return ValidPhone(fl.Field().String())
	})
	mustRegister(v, "date", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(time.DateOnly, fl.Field().String())
		return err == nil
	})
	mustRegister(v, "clock", func(fl validator.FieldLevel) bool {
		return clockRe.MatchString(fl.Field().String())
	})
	return &Validator{v: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
}

// Struct validates s and converts failures into *apierr.ValidationError.
func (v *Validator) Struct(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &apierr.ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, apierr.FieldError{Field: fe.Field(), Message: describe(fe)})
	}
	return out
}

// Var validates a single value against tag, reporting failures under field.
func (v *Validator) Var(field string, value any, tag string) error {
	err := v.v.Var(value, tag)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return apierr.Invalid(field, describe(verrs[0]))
	}
	return err
}

// ValidUsername reports whether s is an acceptable login name.
func ValidUsername(s string) bool { return usernameRe.MatchString(s) }

// ValidPhone reports whether s is 10-15 digits once spaces and dashes are removed.
func ValidPhone(s string) bool {
	return phoneRe.MatchString(strings.NewReplacer(" ", "", "-", "").Replace(s))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without", "required_if":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		if fe.Kind() == reflect.String {
			return "must be at least " + fe.Param() + " characters"
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be " + fe.Param() + " or more"
	case "lte":
		return "must be " + fe.Param() + " or less"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "username":
		return "must be 2-50 letters, digits, '_', '.' or '-'"
	case "phone":
		return "must be 10-15 digits"
	case "date":
		return "must be a date in YYYY-MM-DD format"
	case "clock":
		return "must be a time in HH:MM format"
	default:
		return "is invalid"
	}
}
