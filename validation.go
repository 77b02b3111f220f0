package taskscope

import (
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared struct validator with the task name rules
// registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		_ = v.RegisterValidation("taskname", func(fl validator.FieldLevel) bool {
			_, err := Decode(fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("taskversion", func(fl validator.FieldLevel) bool {
			return !strings.ContainsAny(fl.Field().String(), reservedChars)
		})
		validate = v
	})
	return validate
}

func validateStruct(s any) error {
	return Validator().Struct(s)
}
