package factory

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/girvi-engine/pledge"
)

// Validator wraps validator/v10 with the engine's custom tags:
//
//	money     decimal string, at most two fraction digits
//	decimal   any decimal string
//	isodate   YYYY-MM-DD
//	custody   a known custody state
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	_ = v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && d.Equal(d.Round(2))
	})
	_ = v.RegisterValidation("decimal", func(fl validator.FieldLevel) bool {
		_, err := decimal.NewFromString(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		_, err := pledge.ParseDate(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("custody", func(fl validator.FieldLevel) bool {
		return pledge.CustodyState(fl.Field().String()).IsValid()
	})
	return &Validator{v: v}
}

// Struct validates s. Failures unwrap to pledge.ErrInvalidInput.
func (v *Validator) Struct(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", pledge.ErrInvalidInput, err)
	}
	return &ValidationError{Fields: details(ve)}
}

// ValidationError lists every rejected field with a readable message.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+" "+msg)
	}
	sort.Strings(parts)
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return pledge.ErrInvalidInput }

func details(ve validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(ve))
	for _, fe := range ve {
		out[fe.Field()] = message(fe)
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "money":
		return "must be an amount with at most 2 decimal places"
	case "decimal":
		return "must be a decimal number"
	case "isodate":
		return "must be a date in YYYY-MM-DD format"
	case "custody":
		return "must be one of in_hand, with_dealer, released"
	case "oneof":
		return "must be one of " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "min":
		return "must have at least " + fe.Param() + " entries"
	}
	return "is invalid"
}
