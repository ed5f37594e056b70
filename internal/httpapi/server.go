package httpapi

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MimeLyc/subtitle-batch-translator/internal/service"
)

const (
	defaultMaxUploadBytes = 10 << 20
	defaultHeartbeat      = 15 * time.Second
)

type Server struct {
	manager *service.Manager

	corsOrigins    []string
	maxUploadBytes int64
	heartbeat      time.Duration

	uiEnabled   bool
	uiStaticDir string

	router *chi.Mux
	server *http.Server
}

type Option func(*Server)

func WithUI(staticDir string, enabled bool) Option {
	return func(s *Server) {
		s.uiStaticDir = staticDir
		s.uiEnabled = enabled
	}
}

func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithHeartbeat sets how often an idle session stream resends its snapshot.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

func NewServer(manager *service.Manager, opts ...Option) *Server {
	s := &Server{
		manager:        manager,
		maxUploadBytes: defaultMaxUploadBytes,
		heartbeat:      defaultHeartbeat,
		router:         chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	r := s.router
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(requestLogger)
	r.Use(cors.Handler(corsOptions(s.corsOrigins)))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/", s.handleCreateSession)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleDeleteSession)
				r.Post("/translate", s.handleTranslate)
				r.Post("/pause", s.handlePause)
				r.Post("/resume", s.handleResume)
				r.Post("/abort", s.handleAbort)
				r.Put("/items/{itemID}", s.handleUpdateItem)
				r.Post("/items/{itemID}/retry", s.handleRetryItem)
				r.Get("/failed-batches", s.handleFailedBatches)
				r.Post("/batches/{index}/retry", s.handleRetryBatch)
				r.Get("/export", s.handleExport)
				r.Get("/estimate", s.handleEstimate)
				r.Get("/stream", s.handleSessionStream)
			})
		})

		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleJobDetail)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleUpdateSettings)
		r.Get("/models", s.handleModels)

		r.Get("/maintenance/prune", s.handlePruneSchedule)
		r.Post("/maintenance/prune", s.handlePrune)
	})

	r.NotFound(s.handleStatic)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !s.uiEnabled || s.uiStaticDir == "" || strings.HasPrefix(r.URL.Path, "/api/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	rel := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	indexPath := filepath.Join(s.uiStaticDir, "index.html")

	if rel == "" || !strings.Contains(filepath.Base(rel), ".") {
		http.ServeFile(w, r, indexPath)
		return
	}

	filePath := filepath.Join(s.uiStaticDir, rel)
	if _, err := os.Stat(filePath); err != nil {
		// SPA fallback: non-existing static file path returns index
		http.ServeFile(w, r, indexPath)
		return
	}
	http.ServeFile(w, r, filePath)
}
