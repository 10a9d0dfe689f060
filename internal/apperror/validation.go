package apperror

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Init makes gin's validator report JSON field names instead of Go field names.
func Init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	}
}

// MapValidationError turns a binding failure into an INVALID_INPUT error
// naming the first offending field.
func MapValidationError(err error) error {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		e := errs[0]
		var msg string
		switch e.Tag() {
		case "required":
			msg = fmt.Sprintf("%s is required", e.Field())
		case "min", "gte":
			msg = fmt.Sprintf("%s must be at least %s", e.Field(), e.Param())
		case "max", "lte":
			msg = fmt.Sprintf("%s must be at most %s", e.Field(), e.Param())
		default:
			msg = fmt.Sprintf("%s is invalid", e.Field())
		}
		return ErrInvalidInput.WithDetail(errors.New(msg))
	}
	return ErrInvalidInput.WithDetail(err)
}
