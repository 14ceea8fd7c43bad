package validator

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	playground "github.com/go-playground/validator/v10"

	"github.com/jwalitptl/dicom-ingest/internal/model"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is returned by Validate when one or more fields fail.
type Errors []ValidationError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, v := range e {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validator provides validation functionality
type Validator interface {
	Validate(interface{}) error
}

type validator struct {
	engine   *playground.Validate
	messages map[string]string
}

var defaultMessages = map[string]string{
	"required": "field is required",
	"oneof":    "value is not one of the allowed choices",
	"operator": "unknown matching operator",
	"gte":      "value is too small",
	"gt":       "value is too small",
	"min":      "value is too short",
}

func New() Validator {
	engine := playground.New()
	engine.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, key := range []string{"json", "mapstructure"} {
			name := strings.SplitN(fld.Tag.Get(key), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})
	if err := engine.RegisterValidation("operator", validOperator); err != nil {
		panic(err)
	}
	return &validator{engine: engine, messages: defaultMessages}
}

func validOperator(fl playground.FieldLevel) bool {
	_, err := model.ParseOperator(fl.Field().String())
	return err == nil
}

func (v *validator) Validate(obj interface{}) error {
	err := v.engine.Struct(obj)
	if err == nil {
		return nil
	}

	var verrs playground.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return err
	}

	out := make(Errors, 0, len(verrs))
	for _, e := range verrs {
		msg := v.messages[e.Tag()]
		if msg == "" {
			msg = e.Error()
		}
		out = append(out, ValidationError{Field: e.Namespace(), Message: msg})
	}
	return out
}
