package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Lllllllleong/documentintake/internal/app"
	"github.com/Lllllllleong/documentintake/internal/broadcast"
)

// NewRouter wires the HTTP API and both socket surfaces onto one router.
func NewRouter(a *app.App, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"documentintake"}`))
	})

	// Socket routes stay outside the timeout middleware.
	r.Handle("/ws", broadcast.NewRawHandler(a.Fabric, logger))
	r.Handle("/channels", broadcast.NewChannelHandler(a.Fabric, logger))

	docs := NewDocumentHandler(a.Pipeline, a.Repo, a.Config.Server.MaxUploadBytes, logger)
	r.Route("/api/v1/documents", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))
		r.Post("/", docs.Upload)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", docs.Get)
			r.Get("/history", docs.History)
			r.Get("/extraction", docs.Extraction)
			r.Post("/retry", docs.Retry)
		})
	})

	return r
}
