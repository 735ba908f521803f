package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAppErrorError(t *testing.T) {
	err := NewNotFoundError("Website not found", nil)
	if err.Error() != "NOT_FOUND: Website not found" {
		t.Errorf("Unexpected error string: %s", err.Error())
	}

	wrapped := NewDatabaseError("Query failed", errors.New("connection reset"))
	if wrapped.Error() != "DATABASE_ERROR: Query failed (connection reset)" {
		t.Errorf("Unexpected error string: %s", wrapped.Error())
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := NewInternalError("Something broke", inner)
	if !errors.Is(err, inner) {
		t.Error("Expected errors.Is to reach the wrapped error")
	}
}

func TestGetHTTPStatusCode(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrCodeForbidden, http.StatusForbidden},
		{ErrCodeConflict, http.StatusConflict},
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeDatabase, http.StatusInternalServerError},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		got := GetHTTPStatusCode(&AppError{Code: tt.code})
		if got != tt.want {
			t.Errorf("Expected status %d for %s, got %d", tt.want, tt.code, got)
		}
	}
}

func TestHandleError(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleError(rec, NewForbiddenError("Permission denied", nil))

	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", rec.Code)
	}

	var response ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("Expected JSON body, got error %v", err)
	}
	if response.Success {
		t.Error("Expected success false")
	}
	if response.Error.Code != ErrCodeForbidden {
		t.Errorf("Expected code FORBIDDEN, got %s", response.Error.Code)
	}
}

func TestHandleErrorGeneric(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleError(rec, errors.New("plain error"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rec.Code)
	}
}
