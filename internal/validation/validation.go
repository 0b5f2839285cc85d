package validation

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"foodbridge/internal/store"
)

var (
	once     sync.Once
	validate *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Struct runs the struct's validate tags and reports failures as a
// *store.ValidationError keyed by JSON field name.
func Struct(value any) error {
	verr := &store.ValidationError{}
	Collect(value, verr)
	return verr.Err()
}

// Collect adds tag violations to an existing error so callers can append
// their own cross-field checks.
func Collect(value any, verr *store.ValidationError) {
	err := instance().Struct(value)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Add("_", "invalid")
		return
	}
	for _, fe := range fieldErrs {
		verr.Add(fe.Field(), code(fe.Tag(), fe.Kind()))
	}
}

func code(tag string, kind reflect.Kind) string {
	switch tag {
	case "required":
		return "required"
	case "gt", "gte":
		return "must_be_positive"
	case "oneof":
		return "invalid_choice"
	case "max":
		if kind == reflect.String || kind == reflect.Slice {
			return "too_long"
		}
		return "too_large"
	case "latitude", "longitude":
		return "out_of_range"
	case "url":
		return "invalid_url"
	default:
		return "invalid"
	}
}
