package api

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aibox-vision/aibox/internal/config"
)

// ValidationError represents a validation error with field information
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

var cameraIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateCameraID validates a camera ID format.
func ValidateCameraID(id string) ValidationErrors {
	var errs ValidationErrors
	if id == "" {
		return append(errs, ValidationError{
			Field:   "id",
			Message: "camera ID is required",
		})
	}
	if !cameraIDPattern.MatchString(id) {
		errs = append(errs, ValidationError{
			Field:   "id",
			Message: "camera ID must contain only letters, numbers, underscores, and hyphens",
		})
	}
	if len(id) > 50 {
		errs = append(errs, ValidationError{
			Field:   "id",
			Message: "camera ID must be less than 50 characters",
		})
	}
	return errs
}

// ValidateCamera validates a camera configuration.
func ValidateCamera(cfg config.CameraConfig) ValidationErrors {
	errs := ValidateCameraID(cfg.ID)

	if cfg.Name == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "camera name is required",
		})
	} else if len(cfg.Name) > 100 {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "camera name must be less than 100 characters",
		})
	}

	if cfg.FPS < 0 || cfg.FPS > 60 {
		errs = append(errs, ValidationError{
			Field:   "fps",
			Message: "fps must be between 0 and 60",
		})
	}

	return errs
}
