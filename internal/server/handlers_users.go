package server

import (
	"errors"
	"net/http"

	"vigil/internal/auth"
	"vigil/internal/core"
	"vigil/internal/storage"
)

func (s *Server) healthcheckHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, envelope{
		"status": "available",
		"database": envelope{
			"driver": s.config.Database.Driver,
		},
	})
}

func (s *Server) registerUserHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Username string `json:"username" validate:"required,min=3,max=50"`
		Password string `json:"password" validate:"required,min=8,max=72"`
	}
	if err := s.readJSON(w, r, &input); err != nil {
		s.badRequestResponse(w, err)
		return
	}
	if err := s.validate.Struct(input); err != nil {
		s.failedValidationResponse(w, err)
		return
	}

	user, err := s.auth.Register(r.Context(), input.Username, input.Password)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicateUsername):
			core.WriteErrorResponse(w, http.StatusConflict,
				core.NewConflictError("A user with this username already exists", err))
		default:
			s.serverErrorResponse(w, "Failed to create user", err)
		}
		return
	}

	s.writeJSON(w, http.StatusCreated, envelope{"user": user})
}

func (s *Server) createAuthTokenHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	if err := s.readJSON(w, r, &input); err != nil {
		s.badRequestResponse(w, err)
		return
	}
	if err := s.validate.Struct(input); err != nil {
		s.failedValidationResponse(w, err)
		return
	}

	user, err := s.auth.Authenticate(r.Context(), input.Username, input.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			core.WriteErrorResponse(w, http.StatusUnauthorized,
				core.NewUnauthorizedError("Invalid username or password", nil))
		default:
			s.serverErrorResponse(w, "Failed to authenticate user", err)
		}
		return
	}

	token, err := s.auth.CreateAuthenticationToken(r.Context(), user)
	if err != nil {
		s.serverErrorResponse(w, "Failed to create authentication token", err)
		return
	}

	s.writeJSON(w, http.StatusCreated, envelope{"authentication_token": token})
}
