package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"vigil/internal/auth"
	"vigil/internal/core"
	"vigil/internal/monitor/models"
	"vigil/internal/monitor/services"
	"vigil/internal/storage"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
	incidentLimit   = 50
)

// checkNowHandler runs one poll cycle immediately. The per-minute bucket
// dedup still applies, so repeated calls within a minute are no-ops.
func (s *Server) checkNowHandler(w http.ResponseWriter, r *http.Request) {
	s.scheduler.CheckNow(r.Context())
	s.writeJSON(w, http.StatusOK, envelope{"message": "check cycle completed"})
}

func (s *Server) createWebsiteHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		URL   string `json:"url" validate:"required,url"`
		Alias string `json:"alias" validate:"required,min=1,max=100"`
	}
	if err := s.readJSON(w, r, &input); err != nil {
		s.badRequestResponse(w, err)
		return
	}
	if err := s.validate.Struct(input); err != nil {
		s.failedValidationResponse(w, err)
		return
	}

	user := auth.GetUserFromContext(r)
	website := &models.Website{
		URL:       input.URL,
		Alias:     input.Alias,
		CreatedBy: user.ID,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.CreateWebsite(r.Context(), website); err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicateAlias):
			core.WriteErrorResponse(w, http.StatusConflict,
				core.NewConflictError("A website with this alias already exists", err))
		default:
			s.serverErrorResponse(w, "Failed to create website", err)
		}
		return
	}

	s.logger.Info("Created website", "alias", website.Alias, "user_id", user.ID)
	s.writeJSON(w, http.StatusCreated, envelope{"website": website})
}

func (s *Server) listWebsitesHandler(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)

	websites, err := s.store.ListWebsitesForUser(r.Context(), user.ID)
	if err != nil {
		s.serverErrorResponse(w, "Failed to list websites", err)
		return
	}
	if websites == nil {
		websites = []models.Website{}
	}

	s.writeJSON(w, http.StatusOK, envelope{"websites": websites})
}

func (s *Server) showWebsiteHandler(w http.ResponseWriter, r *http.Request) {
	website, ok := s.resolveWebsite(w, r, auth.PermissionRead)
	if !ok {
		return
	}

	hourly, err := s.store.HourlyUptime(r.Context(), website.ID)
	if err != nil {
		s.serverErrorResponse(w, "Failed to load hourly uptime", err)
		return
	}
	daily, err := s.store.DailyUptime(r.Context(), website.ID)
	if err != nil {
		s.serverErrorResponse(w, "Failed to load daily uptime", err)
		return
	}
	incidents, err := s.store.ListIncidents(r.Context(), website.ID, incidentLimit)
	if err != nil {
		s.serverErrorResponse(w, "Failed to load incidents", err)
		return
	}
	if incidents == nil {
		incidents = []models.Incident{}
	}

	now := time.Now().UTC()
	detail := models.WebsiteDetail{
		Website:   *website,
		Daily:     services.FillUptimeGaps(hourly, 24, time.Hour, now),
		Monthly:   services.FillUptimeGaps(daily, 30, 24*time.Hour, now),
		Incidents: incidents,
	}

	s.writeJSON(w, http.StatusOK, envelope{
		"website":   detail.Website,
		"daily":     detail.Daily,
		"monthly":   detail.Monthly,
		"incidents": detail.Incidents,
	})
}

func (s *Server) updateWebsiteHandler(w http.ResponseWriter, r *http.Request) {
	website, ok := s.resolveWebsite(w, r, auth.PermissionCreateModify)
	if !ok {
		return
	}

	var input struct {
		URL   *string `json:"url" validate:"omitempty,url"`
		Alias *string `json:"alias" validate:"omitempty,min=1,max=100"`
	}
	if err := s.readJSON(w, r, &input); err != nil {
		s.badRequestResponse(w, err)
		return
	}
	if err := s.validate.Struct(input); err != nil {
		s.failedValidationResponse(w, err)
		return
	}

	if input.URL != nil {
		website.URL = *input.URL
	}
	if input.Alias != nil {
		website.Alias = *input.Alias
	}

	if err := s.store.UpdateWebsite(r.Context(), website); err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicateAlias):
			core.WriteErrorResponse(w, http.StatusConflict,
				core.NewConflictError("A website with this alias already exists", err))
		case errors.Is(err, storage.ErrNotFound):
			core.WriteErrorResponse(w, http.StatusNotFound,
				core.NewNotFoundError("Website not found", err))
		default:
			s.serverErrorResponse(w, "Failed to update website", err)
		}
		return
	}

	s.writeJSON(w, http.StatusOK, envelope{"website": website})
}

func (s *Server) deleteWebsiteHandler(w http.ResponseWriter, r *http.Request) {
	website, ok := s.resolveWebsite(w, r, auth.PermissionCreateModify)
	if !ok {
		return
	}

	if err := s.store.DeleteWebsite(r.Context(), website.ID); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			core.WriteErrorResponse(w, http.StatusNotFound,
				core.NewNotFoundError("Website not found", err))
		default:
			s.serverErrorResponse(w, "Failed to delete website", err)
		}
		return
	}

	s.logger.Info("Deleted website", "alias", website.Alias, "website_id", website.ID)
	s.writeJSON(w, http.StatusOK, envelope{"message": "website deleted"})
}

func (s *Server) listWebsiteLogsHandler(w http.ResponseWriter, r *http.Request) {
	website, ok := s.resolveWebsite(w, r, auth.PermissionRead)
	if !ok {
		return
	}

	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxLogLimit {
			core.WriteErrorResponse(w, http.StatusBadRequest,
				core.NewValidationError("Invalid limit parameter", err))
			return
		}
		limit = parsed
	}

	entries, err := s.store.ListLogEntries(r.Context(), website.ID, limit)
	if err != nil {
		s.serverErrorResponse(w, "Failed to list logs", err)
		return
	}
	if entries == nil {
		entries = []models.LogEntry{}
	}

	s.writeJSON(w, http.StatusOK, envelope{"logs": entries})
}

func (s *Server) grantPermissionHandler(w http.ResponseWriter, r *http.Request) {
	website, ok := s.resolveWebsite(w, r, auth.PermissionCreateModify)
	if !ok {
		return
	}

	input, ok := s.readPermissionInput(w, r)
	if !ok {
		return
	}

	target, err := s.auth.GetUserByUsername(r.Context(), input.Username)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			core.WriteErrorResponse(w, http.StatusNotFound,
				core.NewNotFoundError("User not found", err))
		default:
			s.serverErrorResponse(w, "Failed to load user", err)
		}
		return
	}

	err = s.auth.Grant(r.Context(), target.ID, website.ID, auth.Permission(input.Permission))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicateGrant):
			core.WriteErrorResponse(w, http.StatusConflict,
				core.NewConflictError("The user already holds this permission", err))
		default:
			s.serverErrorResponse(w, "Failed to grant permission", err)
		}
		return
	}

	s.writeJSON(w, http.StatusOK, envelope{"message": "permission granted"})
}

func (s *Server) revokePermissionHandler(w http.ResponseWriter, r *http.Request) {
	website, ok := s.resolveWebsite(w, r, auth.PermissionCreateModify)
	if !ok {
		return
	}

	input, ok := s.readPermissionInput(w, r)
	if !ok {
		return
	}

	target, err := s.auth.GetUserByUsername(r.Context(), input.Username)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			core.WriteErrorResponse(w, http.StatusNotFound,
				core.NewNotFoundError("User not found", err))
		default:
			s.serverErrorResponse(w, "Failed to load user", err)
		}
		return
	}

	err = s.auth.Revoke(r.Context(), target.ID, website.ID, auth.Permission(input.Permission))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			core.WriteErrorResponse(w, http.StatusNotFound,
				core.NewNotFoundError("The user does not hold this permission", err))
		default:
			s.serverErrorResponse(w, "Failed to revoke permission", err)
		}
		return
	}

	s.writeJSON(w, http.StatusOK, envelope{"message": "permission revoked"})
}

type permissionInput struct {
	Username   string `json:"username" validate:"required"`
	Permission string `json:"permission" validate:"required,oneof=read create_modify"`
}

func (s *Server) readPermissionInput(w http.ResponseWriter, r *http.Request) (permissionInput, bool) {
	var input permissionInput
	if err := s.readJSON(w, r, &input); err != nil {
		s.badRequestResponse(w, err)
		return input, false
	}
	if err := s.validate.Struct(input); err != nil {
		s.failedValidationResponse(w, err)
		return input, false
	}
	return input, true
}
