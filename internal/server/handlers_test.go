package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vigil/internal/auth"
	"vigil/internal/core"
	"vigil/internal/monitor/models"
	"vigil/internal/monitor/services"
	"vigil/internal/storage/sqlite"
)

// newTestServer builds a server over a throwaway SQLite database. The
// scheduler is wired but never started, so tests only see the writes they
// make themselves.
func newTestServer(t *testing.T) (*Server, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "vigil.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := core.NewLogger("text", "error")
	authService := auth.NewService(store, logger)
	prober := services.NewProber(time.Second, logger)
	writer := services.NewLogWriter(store, logger)
	scheduler := services.NewScheduler(store, prober, writer, logger, services.SchedulerConfig{
		PollInterval:  time.Minute,
		MaxConcurrent: 2,
	})

	cfg := &core.Config{
		Server: core.ServerConfig{
			Addr:      ":0",
			RateLimit: 1000,
		},
		Database: core.DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: "test",
		},
	}

	return New(cfg, logger, store, authService, scheduler), store
}

func doRequest(t *testing.T, handler http.Handler, method, target, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

// signupUser registers a user and returns a fresh authentication token.
func signupUser(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	creds := map[string]string{"username": username, "password": password}

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/users", "", creds)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/tokens", "", creds)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		AuthenticationToken struct {
			Token string `json:"token"`
		} `json:"authentication_token"`
	}
	decodeJSON(t, rec, &body)
	require.NotEmpty(t, body.AuthenticationToken.Token)
	return body.AuthenticationToken.Token
}

func TestHealthcheck(t *testing.T) {
	s, _ := newTestServer(t)
	handler := s.routes()

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/healthcheck", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status   string `json:"status"`
		Database struct {
			Driver string `json:"driver"`
		} `json:"database"`
	}
	decodeJSON(t, rec, &body)
	require.Equal(t, "available", body.Status)
	require.Equal(t, "sqlite", body.Database.Driver)
}

func TestRegisterUserValidation(t *testing.T) {
	s, _ := newTestServer(t)
	handler := s.routes()

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/users", "", map[string]string{
		"username": "al",
		"password": "long enough password",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/users", "", map[string]string{
		"username": "alice",
		"password": "short",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	handler.ServeHTTP(raw, req)
	require.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	s, _ := newTestServer(t)
	handler := s.routes()

	creds := map[string]string{"username": "alice", "password": "alicepassword"}

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/users", "", creds)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/users", "", creds)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateTokenRejectsBadCredentials(t *testing.T) {
	s, _ := newTestServer(t)
	handler := s.routes()

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/users", "", map[string]string{
		"username": "alice",
		"password": "alicepassword",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/tokens", "", map[string]string{
		"username": "alice",
		"password": "wrongpassword",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Success bool `json:"success"`
	}
	decodeJSON(t, rec, &body)
	require.Equal(t, core.ErrCodeUnauthorized, body.Error.Code)
	require.False(t, body.Success)
}

func TestAuthenticationRequired(t *testing.T) {
	s, _ := newTestServer(t)
	handler := s.routes()

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/websites", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/websites", "2222222222222222222222222222", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
}

func TestWebsiteLifecycle(t *testing.T) {
	s, _ := newTestServer(t)
	handler := s.routes()
	token := signupUser(t, handler, "alice", "alicepassword")

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/websites", token, map[string]string{
		"url":   "https://example.com",
		"alias": "example",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Website models.Website `json:"website"`
	}
	decodeJSON(t, rec, &created)
	require.NotZero(t, created.Website.ID)
	require.Equal(t, "https://example.com", created.Website.URL)

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/websites", token, map[string]string{
		"url":   "https://other.example.com",
		"alias": "example",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/websites", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed struct {
		Websites []models.Website `json:"websites"`
	}
	decodeJSON(t, rec, &listed)
	require.Len(t, listed.Websites, 1)

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/websites/example", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var detail struct {
		Website   models.Website        `json:"website"`
		Daily     []models.UptimeBucket `json:"daily"`
		Monthly   []models.UptimeBucket `json:"monthly"`
		Incidents []models.Incident     `json:"incidents"`
	}
	decodeJSON(t, rec, &detail)
	require.Equal(t, created.Website.ID, detail.Website.ID)
	require.Len(t, detail.Daily, 24)
	require.Len(t, detail.Monthly, 30)
	require.Nil(t, detail.Daily[0].UptimePct)
	require.Empty(t, detail.Incidents)

	rec = doRequest(t, handler, http.MethodPut, "/api/v1/websites/example", token, map[string]string{
		"alias": "renamed",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/websites/example", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/websites/renamed", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, http.MethodDelete, "/api/v1/websites/renamed", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/websites", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	listed.Websites = nil
	decodeJSON(t, rec, &listed)
	require.Empty(t, listed.Websites)
}

func TestPermissionSharing(t *testing.T) {
	s, _ := newTestServer(t)
	handler := s.routes()

	ownerToken := signupUser(t, handler, "owner", "ownerpassword")
	viewerToken := signupUser(t, handler, "viewer", "viewerpassword")

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/websites", ownerToken, map[string]string{
		"url":   "https://example.com",
		"alias": "example",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/websites/example", viewerToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/websites", viewerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed struct {
		Websites []models.Website `json:"websites"`
	}
	decodeJSON(t, rec, &listed)
	require.Empty(t, listed.Websites)

	rec = doRequest(t, handler, http.MethodPut, "/api/v1/websites/example/permissions", ownerToken, map[string]string{
		"username":   "viewer",
		"permission": "read",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/websites/example", viewerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Read does not include modification.
	rec = doRequest(t, handler, http.MethodPut, "/api/v1/websites/example", viewerToken, map[string]string{
		"alias": "stolen",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, handler, http.MethodPut, "/api/v1/websites/example/permissions", viewerToken, map[string]string{
		"username":   "viewer",
		"permission": "create_modify",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, handler, http.MethodPut, "/api/v1/websites/example/permissions", ownerToken, map[string]string{
		"username":   "viewer",
		"permission": "read",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, handler, http.MethodPut, "/api/v1/websites/example/permissions", ownerToken, map[string]string{
		"username":   "nobody",
		"permission": "read",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, handler, http.MethodPut, "/api/v1/websites/example/permissions", ownerToken, map[string]string{
		"username":   "viewer",
		"permission": "admin",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, handler, http.MethodDelete, "/api/v1/websites/example/permissions", ownerToken, map[string]string{
		"username":   "viewer",
		"permission": "read",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/websites/example", viewerToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, handler, http.MethodDelete, "/api/v1/websites/example/permissions", ownerToken, map[string]string{
		"username":   "viewer",
		"permission": "read",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckNowRecordsLogEntry(t *testing.T) {
	s, _ := newTestServer(t)
	handler := s.routes()
	token := signupUser(t, handler, "alice", "alicepassword")

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/websites", token, map[string]string{
		"url":   target.URL,
		"alias": "local",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/checks", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/websites/local/logs", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Logs []models.LogEntry `json:"logs"`
	}
	decodeJSON(t, rec, &body)
	require.Len(t, body.Logs, 1)
	require.NotNil(t, body.Logs[0].Status)
	require.Equal(t, http.StatusOK, *body.Logs[0].Status)

	// A second cycle within the same minute bucket records nothing new.
	rec = doRequest(t, handler, http.MethodPost, "/api/v1/checks", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/websites/local/logs", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body.Logs = nil
	decodeJSON(t, rec, &body)
	require.Len(t, body.Logs, 1)
}

func TestWebsiteLogs(t *testing.T) {
	s, store := newTestServer(t)
	handler := s.routes()
	token := signupUser(t, handler, "alice", "alicepassword")

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/websites", token, map[string]string{
		"url":   "https://example.com",
		"alias": "example",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Website models.Website `json:"website"`
	}
	decodeJSON(t, rec, &created)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		status := 200
		entry := &models.LogEntry{
			WebsiteID: created.Website.ID,
			Status:    &status,
			LatencyMS: int64(40 + i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.InsertLogEntry(context.Background(), entry))
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/websites/example/logs", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Logs []models.LogEntry `json:"logs"`
	}
	decodeJSON(t, rec, &body)
	require.Len(t, body.Logs, 5)
	require.True(t, body.Logs[0].CreatedAt.After(body.Logs[4].CreatedAt))

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/websites/example/logs?limit=2", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body.Logs = nil
	decodeJSON(t, rec, &body)
	require.Len(t, body.Logs, 2)

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/websites/example/logs?limit=0", token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
