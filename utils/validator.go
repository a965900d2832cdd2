package utils

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/Thenameisdebojit/farmora-sub001/models"
	"github.com/go-playground/validator/v10"
)

type ValidationService struct {
	validator *validator.Validate
}

type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

var phoneRegex = regexp.MustCompile(`^\+?[1-9]\d{9,14}$`)

func NewValidationService() *ValidationService {
	v := validator.New()

	// Register custom validators
	v.RegisterValidation("phone", validatePhone)
	v.RegisterValidation("notification_type", validateNotificationType)
	v.RegisterValidation("notification_category", validateNotificationCategory)
	v.RegisterValidation("notification_priority", validateNotificationPriority)

	return &ValidationService{
		validator: v,
	}
}

func (vs *ValidationService) ValidateStruct(s interface{}) []ValidationError {
	var validationErrors []ValidationError

	err := vs.validator.Struct(s)
	if err != nil {
		var fieldErrors validator.ValidationErrors
		if !errors.As(err, &fieldErrors) {
			return []ValidationError{{Message: err.Error()}}
		}
		for _, fe := range fieldErrors {
			validationErrors = append(validationErrors, ValidationError{
				Field:   fe.Field(),
				Tag:     fe.Tag(),
				Value:   fmt.Sprintf("%v", fe.Value()),
				Message: vs.getErrorMessage(fe),
			})
		}
	}

	return validationErrors
}

func (vs *ValidationService) getErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return "Invalid email format"
	case "phone":
		return "Invalid phone number format"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters long", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", fe.Field(), fe.Param())
	case "notification_type":
		return "Invalid notification type"
	case "notification_category":
		return "Invalid notification category"
	case "notification_priority":
		return "Invalid notification priority"
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// Custom validation functions
func validatePhone(fl validator.FieldLevel) bool {
	return ValidatePhone(fl.Field().String())
}

func validateNotificationType(fl validator.FieldLevel) bool {
	return models.NotificationType(fl.Field().String()).IsValid()
}

func validateNotificationCategory(fl validator.FieldLevel) bool {
	return models.NotificationCategory(fl.Field().String()).IsValid()
}

func validateNotificationPriority(fl validator.FieldLevel) bool {
	return models.NotificationPriority(fl.Field().String()).IsValid()
}

// ValidatePhone checks for an E.164 style number.
func ValidatePhone(phone string) bool {
	return phoneRegex.MatchString(phone)
}
