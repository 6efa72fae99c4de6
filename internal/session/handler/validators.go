package handler

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"club-manager/backend/internal/session/monitor"
)

var registerOnce sync.Once

// RegisterValidators adds the custom binding tags used by activity requests to gin's validator.
func RegisterValidators() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("username", validateUserName)
			_ = v.RegisterValidation("activitykind", validateKind)
		}
	})
}

// validateUserName accepts 1–64 printable characters that are not all whitespace.
func validateUserName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if strings.TrimSpace(name) == "" || utf8.RuneCountInString(name) > 64 {
		return false
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func validateKind(fl validator.FieldLevel) bool {
	return monitor.Kind(fl.Field().String()).Valid()
}
