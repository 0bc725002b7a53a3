package render

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/authcore/internal/models"
)

func configureValidator(validate *validator.Validate) {
	_ = validate.RegisterValidation("principal_kind", validatePrincipalKind)
	validate.RegisterTagNameFunc(useJSONTagNames)
}

func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

func validatePrincipalKind(fl validator.FieldLevel) bool {
	_, err := models.ParseKind(fl.Field().String())
	return err == nil
}
