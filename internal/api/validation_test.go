package api

import (
	"strings"
	"testing"

	"github.com/aibox-vision/aibox/internal/config"
)

func TestValidateCameraID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"cam1", true},
		{"front_door-2", true},
		{"", false},
		{"cam 1", false},
		{"cam/1", false},
		{strings.Repeat("a", 51), false},
	}

	for _, tt := range tests {
		errs := ValidateCameraID(tt.id)
		if tt.valid && errs.HasErrors() {
			t.Errorf("Expected %q valid, got %v", tt.id, errs)
		}
		if !tt.valid && !errs.HasErrors() {
			t.Errorf("Expected %q rejected", tt.id)
		}
	}
}

func TestValidateCamera(t *testing.T) {
	cam := config.CameraConfig{ID: "cam1", Name: "Entrance", FPS: 10}
	if errs := ValidateCamera(cam); errs.HasErrors() {
		t.Errorf("Expected valid camera, got %v", errs)
	}

	cam.Name = ""
	if errs := ValidateCamera(cam); !errs.HasErrors() {
		t.Error("Expected missing name rejected")
	}

	cam.Name = "Entrance"
	cam.FPS = 120
	if errs := ValidateCamera(cam); !errs.HasErrors() {
		t.Error("Expected out-of-range fps rejected")
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "id", Message: "required"},
		{Field: "name", Message: "too long"},
	}
	msg := errs.Error()
	if !strings.Contains(msg, "id: required") || !strings.Contains(msg, "name: too long") {
		t.Errorf("Unexpected error string %q", msg)
	}
}
