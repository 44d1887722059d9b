package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.NewDecoder(w.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestJSON_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]string{"message": "hello"})

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Result().StatusCode)
	}
	if ct := w.Result().Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", ct)
	}
	if resp := decodeEnvelope(t, w); !resp.Success {
		t.Error("Expected success for a 2xx status")
	}
}

func TestError_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid input")

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Result().StatusCode)
	}
	resp := decodeEnvelope(t, w)
	if resp.Success {
		t.Error("Expected failure envelope")
	}
	if resp.Error == nil {
		t.Fatal("Expected error info")
	}
	if resp.Error.Code != "BAD_REQUEST" || resp.Error.Message != "Invalid input" {
		t.Errorf("Unexpected error info %+v", resp.Error)
	}
}

func TestValidationErrorResponse_Details(t *testing.T) {
	w := httptest.NewRecorder()
	ValidationErrorResponse(w, ValidationErrors{
		{Field: "name", Message: "is required"},
		{Field: "email", Message: "is invalid"},
	})

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Result().StatusCode)
	}
	resp := decodeEnvelope(t, w)
	if resp.Error == nil || resp.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("Expected VALIDATION_ERROR, got %+v", resp.Error)
	}
	if len(resp.Error.Details) != 2 {
		t.Errorf("Expected 2 error details, got %d", len(resp.Error.Details))
	}
}

func TestStatusShorthands(t *testing.T) {
	cases := []struct {
		name   string
		send   func(w http.ResponseWriter)
		status int
	}{
		{"ok", func(w http.ResponseWriter) { OK(w, "done") }, http.StatusOK},
		{"created", func(w http.ResponseWriter) { Created(w, map[string]string{"id": "123"}) }, http.StatusCreated},
		{"no content", func(w http.ResponseWriter) { NoContent(w) }, http.StatusNoContent},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "nope") }, http.StatusBadRequest},
		{"unauthorized", func(w http.ResponseWriter) { Unauthorized(w, "who") }, http.StatusUnauthorized},
		{"forbidden", func(w http.ResponseWriter) { Forbidden(w, "denied") }, http.StatusForbidden},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "missing") }, http.StatusNotFound},
		{"conflict", func(w http.ResponseWriter) { Conflict(w, "taken") }, http.StatusConflict},
		{"internal", func(w http.ResponseWriter) { InternalError(w, "boom") }, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		tc.send(w)
		if w.Result().StatusCode != tc.status {
			t.Errorf("%s: expected status %d, got %d", tc.name, tc.status, w.Result().StatusCode)
		}
	}
}

func TestList_Meta(t *testing.T) {
	w := httptest.NewRecorder()
	List(w, []string{"a", "b", "c"}, 100, 2, 10)

	resp := decodeEnvelope(t, w)
	if resp.Meta == nil {
		t.Fatal("Expected pagination meta")
	}
	if resp.Meta.Total != 100 || resp.Meta.Page != 2 || resp.Meta.PerPage != 10 {
		t.Errorf("Unexpected meta %+v", resp.Meta)
	}
	if resp.Meta.TotalPages != 10 {
		t.Errorf("Expected 10 pages, got %d", resp.Meta.TotalPages)
	}
}

func TestList_TotalPagesRoundsUp(t *testing.T) {
	cases := []struct {
		total, perPage, pages int
	}{
		{100, 10, 10},
		{101, 10, 11},
		{99, 10, 10},
		{0, 10, 0},
		{5, 10, 1},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		List(w, []string{}, tc.total, 1, tc.perPage)

		resp := decodeEnvelope(t, w)
		if resp.Meta.TotalPages != tc.pages {
			t.Errorf("total=%d perPage=%d: expected %d pages, got %d",
				tc.total, tc.perPage, tc.pages, resp.Meta.TotalPages)
		}
	}
}

func TestList_ZeroPagingDefaults(t *testing.T) {
	w := httptest.NewRecorder()
	List(w, []string{"a", "b"}, 50, 0, 0)

	resp := decodeEnvelope(t, w)
	if resp.Meta == nil {
		t.Fatal("Expected pagination meta")
	}
	if resp.Meta.Page != 1 || resp.Meta.PerPage != 10 {
		t.Errorf("Expected page 1 of 10 per page, got %+v", resp.Meta)
	}
	if resp.Meta.TotalPages != 5 {
		t.Errorf("Expected 5 pages, got %d", resp.Meta.TotalPages)
	}
}
