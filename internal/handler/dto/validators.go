package dto

import (
	"fmt"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/yourusername/mocktest-api/internal/service/examengine"
)

// RegisterValidators регистрирует собственные теги валидации в движке gin.
// Вызывается один раз при старте приложения.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}
	return v.RegisterValidation("question_filter", validateQuestionFilter)
}

// question_filter: "ALL" или один из типов вопросов, регистр не важен
func validateQuestionFilter(fl validator.FieldLevel) bool {
	_, err := examengine.ParseFilter(fl.Field().String())
	return err == nil
}
