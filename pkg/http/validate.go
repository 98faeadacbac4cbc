package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = newValidator()

// newValidator reports fields by their query or json tag so errors name the
// parameter the client actually sent.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"query", "json"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// ValidateRequest applies defaults and validation tags to a request the caller
// has already populated. It returns nil or a []ValidationError.
func ValidateRequest(c echo.Context, req interface{}) interface{} {
	if err := defaults.Set(req); err != nil {
		return []ValidationError{{Code: "ERR_DEFAULTS", Message: err.Error()}}
	}
	err := validate.StructCtx(c.Request().Context(), req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{Code: "ERR_UNKNOWN", Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, toValidationError(fe))
	}
	return out
}

var ruleMessages = map[string]string{
	"required": "%s is required",
	"gt":       "%s must be greater than %s",
	"gte":      "%s must be greater than or equal to %s",
	"lt":       "%s must be less than %s",
	"lte":      "%s must be less than or equal to %s",
	"min":      "%s must be at least %s",
	"max":      "%s must be at most %s",
	"oneof":    "%s must be one of: %s",
}

func toValidationError(fe validator.FieldError) ValidationError {
	tag, param, field := fe.Tag(), fe.Param(), fe.Field()
	if tag == "oneof" {
		param = strings.ReplaceAll(param, " ", ", ")
	}
	if (tag == "min" || tag == "max") && fe.Kind() == reflect.String {
		param += " characters"
	}

	msg := fmt.Sprintf("%s failed validation: %s", field, tag)
	if tmpl, ok := ruleMessages[tag]; ok {
		if strings.Count(tmpl, "%s") == 1 {
			msg = fmt.Sprintf(tmpl, field)
		} else {
			msg = fmt.Sprintf(tmpl, field, param)
		}
	}

	return ValidationError{
		Code:    "ERR_" + strings.ToUpper(tag),
		Field:   field,
		Message: msg,
		Params:  ruleParams(fe),
	}
}

func ruleParams(fe validator.FieldError) map[string]interface{} {
	switch fe.Tag() {
	case "min", "gte":
		return map[string]interface{}{"min": fe.Param()}
	case "max", "lte":
		return map[string]interface{}{"max": fe.Param()}
	case "gt", "lt":
		return map[string]interface{}{"value": fe.Param()}
	case "oneof":
		return map[string]interface{}{"options": strings.Fields(fe.Param())}
	}
	return nil
}
