package services

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/orgware/owconnect/internal/common"
	"github.com/orgware/owconnect/internal/server/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("isodate", isoDate); err != nil {
		panic(err)
	}
	return v
}

// isoDate accepts calendar dates (2006-01-02) and RFC 3339 timestamps.
func isoDate(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	for _, layout := range []string{time.DateOnly, time.RFC3339Nano} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// validateDocument decodes d into a fresh input value and validates it.
// Violations are reported per JSON field as a *common.ValidationError.
func validateDocument(newInput func() any, d models.Document) error {
	if newInput == nil {
		return nil
	}
	in := newInput()
	if err := d.Decode(in); err != nil {
		return &common.ValidationError{Fields: map[string]string{"_": fmt.Sprintf("malformed input: %v", err)}}
	}
	return validateStruct(in)
}

func validateStruct(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate: %w", err)
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = message(fe)
	}
	return &common.ValidationError{Fields: fields}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "numeric":
		return "must contain digits only"
	case "email":
		return "must be a valid email address"
	case "datetime":
		return fmt.Sprintf("must be a date in %s format", fe.Param())
	case "isodate":
		return "must be a date (YYYY-MM-DD or RFC 3339)"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed the %q rule", fe.Tag())
	}
}
