package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

func (s *Server) routes() http.Handler {
	mux := chi.NewRouter()

	mux.Use(middleware.Recoverer)
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Logger)
	mux.Use(httprate.Limit(s.config.Server.RateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
	mux.Use(s.authMW.Authenticate)

	mux.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthcheck", s.healthcheckHandler)
		r.Post("/users", s.registerUserHandler)
		r.Post("/tokens", s.createAuthTokenHandler)

		r.Group(func(r chi.Router) {
			r.Use(s.authMW.RequireAuthenticated)

			r.Post("/checks", s.checkNowHandler)

			r.Route("/websites", func(r chi.Router) {
				r.Post("/", s.createWebsiteHandler)
				r.Get("/", s.listWebsitesHandler)

				r.Route("/{alias}", func(r chi.Router) {
					r.Get("/", s.showWebsiteHandler)
					r.Put("/", s.updateWebsiteHandler)
					r.Delete("/", s.deleteWebsiteHandler)
					r.Get("/logs", s.listWebsiteLogsHandler)
					r.Put("/permissions", s.grantPermissionHandler)
					r.Delete("/permissions", s.revokePermissionHandler)
				})
			})
		})
	})

	return mux
}
