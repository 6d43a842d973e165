package catalog

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

// newValidator builds a validator that understands decimal.Decimal fields.
// Decimals are handed to the rules as their string form, so the d* rules
// parse both the field and the tag parameter as exact decimals.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	mustRegister(v, "dgte", compareDecimal(func(d, p decimal.Decimal) bool { return d.GreaterThanOrEqual(p) }))
	mustRegister(v, "dlte", compareDecimal(func(d, p decimal.Decimal) bool { return d.LessThanOrEqual(p) }))
	mustRegister(v, "dlt", compareDecimal(func(d, p decimal.Decimal) bool { return d.LessThan(p) }))
	mustRegister(v, "dscale", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		if err != nil {
			return false
		}
		places, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return d.Exponent() >= -int32(places)
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %q validation: %v", tag, err))
	}
}

func compareDecimal(cmp func(d, p decimal.Decimal) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		if err != nil {
			return false
		}
		p, err := decimal.NewFromString(fl.Param())
		if err != nil {
			return false
		}
		return cmp(d, p)
	}
}

// Validate checks an Item, Discount or Tax against its field rules and
// returns a *ValidationError for the first failing field.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errors.Wrap(err, "validate")
	}

	fe := fieldErrs[0]
	return &ValidationError{
		Field: fe.Field(),
		Err:   errors.New(describe(fe)),
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "dgte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "dlte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "dlt":
		return fmt.Sprintf("must be less than %s", fe.Param())
	case "dscale":
		return fmt.Sprintf("must have at most %s decimal places", fe.Param())
	default:
		return fmt.Sprintf("failed %q rule", fe.Tag())
	}
}
