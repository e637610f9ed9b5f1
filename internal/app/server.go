package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/agentica-ai/knowledgebase/internal/api/handlers"
	appMiddleware "github.com/agentica-ai/knowledgebase/internal/api/middlewares"
	"github.com/agentica-ai/knowledgebase/internal/config"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, a *App) *Server {
	healthHandler := handlers.NewHealthHandler()
	docHandler := handlers.NewDocumentHandler(a.Documents, a.Ingestor, cfg.Ingest.MaxFileSize)
	chatHandler := handlers.NewChatHandler(a.Knowledge)

	return &Server{httpServer: &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           newRouter(cfg, healthHandler, docHandler, chatHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

func newRouter(cfg *config.Config, health *handlers.HealthHandler, docs *handlers.DocumentHandler, chat *handlers.ChatHandler) http.Handler {
	timeout := time.Duration(cfg.Server.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", health.Health)

		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware(cfg.Auth.JWTSecret))

			protected.Route("/agents/{agentID}", func(agent chi.Router) {
				agent.Post("/documents", docs.UploadDocuments)
				agent.Post("/documents/url", docs.IngestURL)
				agent.Get("/documents", docs.ListDocuments)
				agent.Post("/ask", chat.Ask)
				agent.Post("/search", chat.Search)
			})

			protected.Get("/ingest/batches/{batchID}", docs.GetBatch)

			protected.Route("/documents/{documentID}", func(doc chi.Router) {
				doc.Get("/", docs.GetDocument)
				doc.Delete("/", docs.DeleteDocument)
				doc.Get("/chunks", docs.GetChunks)
				doc.Get("/similar", docs.SimilarDocuments)
				doc.Get("/file", docs.DownloadOriginal)
			})

			protected.Get("/knowledge/stats", docs.Stats)
			protected.Post("/knowledge/search", chat.SearchAdvanced)
		})
	})
	return r
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	logrus.Infof("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logrus.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
