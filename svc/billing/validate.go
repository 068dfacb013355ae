package billing

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dmitrymomot/tiersync/handler"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError turns validator output into per-field messages.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errors.Join(ErrValidation, err)
	}
	verr := handler.NewValidationError()
	for _, fe := range fieldErrs {
		msg := "must satisfy " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		verr.Add(fe.Field(), msg)
	}
	return verr
}
