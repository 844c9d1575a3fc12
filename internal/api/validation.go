package api

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/vitalspan/metrics-cache/internal/models"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("userid", func(fl validator.FieldLevel) bool {
			return userIDPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// ValidateUserID rejects empty or malformed user IDs
func ValidateUserID(userID string) error {
	if err := getValidator().Var(userID, "required,userid"); err != nil {
		return fmt.Errorf("%w: %q", models.ErrInvalidUserID, userID)
	}
	return nil
}

// ValidateStruct runs the validate tags on s and flattens failures into one message
func ValidateStruct(s interface{}) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
