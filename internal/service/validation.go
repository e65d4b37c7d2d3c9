package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags of an inbound payload the same way the
// services check their inputs.
func Validate(v any) error { return validateStruct(v) }

// validateStruct runs the struct tags of v and folds every field error into
// one Validation error.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return model.NewError(model.KindValidation, "invalid input", err)
	}

	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		switch e.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is required", e.Field()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("field %s must be a valid email address", e.Field()))
		case "uuid":
			msgs = append(msgs, fmt.Sprintf("field %s must be a valid id", e.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is invalid", e.Field()))
		}
	}
	return model.Validation(strings.Join(msgs, ", "))
}
