package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"vigil/internal/auth"
	"vigil/internal/core"
	"vigil/internal/monitor/models"
	"vigil/internal/storage"
)

// envelope wraps JSON response payloads
type envelope map[string]interface{}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) badRequestResponse(w http.ResponseWriter, err error) {
	core.WriteErrorResponse(w, http.StatusBadRequest,
		core.NewValidationError("Invalid request body", err))
}

func (s *Server) failedValidationResponse(w http.ResponseWriter, err error) {
	core.WriteErrorResponse(w, http.StatusBadRequest,
		core.NewValidationError(validationMessage(err), err))
}

func (s *Server) serverErrorResponse(w http.ResponseWriter, message string, err error) {
	s.logger.Error(message, "error", err)
	core.WriteErrorResponse(w, http.StatusInternalServerError,
		core.NewDatabaseError(message, err))
}

// validationMessage condenses the first validator failure into something a
// client can act on
func validationMessage(err error) string {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		failure := validationErrs[0]
		return fmt.Sprintf("Invalid value for field %q (failed %q)",
			strings.ToLower(failure.Field()), failure.Tag())
	}
	return "Invalid request"
}

// resolveWebsite loads the website named in the URL and checks that the
// requesting user holds the given permission on it. A missing grant is a
// 403; a failed permission lookup is a 500, never an allow. On any failure
// the response has been written and the caller should return.
func (s *Server) resolveWebsite(w http.ResponseWriter, r *http.Request, permission auth.Permission) (*models.Website, bool) {
	alias := chi.URLParam(r, "alias")

	website, err := s.store.GetWebsiteByAlias(r.Context(), alias)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			core.WriteErrorResponse(w, http.StatusNotFound,
				core.NewNotFoundError("Website not found", err))
		default:
			s.serverErrorResponse(w, "Failed to load website", err)
		}
		return nil, false
	}

	user := auth.GetUserFromContext(r)
	allowed, err := s.auth.Allows(r.Context(), user.ID, website.ID, permission)
	if err != nil {
		s.serverErrorResponse(w, "Failed to check permission", err)
		return nil, false
	}
	if !allowed {
		core.WriteErrorResponse(w, http.StatusForbidden,
			core.NewForbiddenError("You do not have permission to access this website", nil))
		return nil, false
	}

	return website, true
}
