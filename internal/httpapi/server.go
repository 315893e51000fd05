package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MimeLyc/srt-translator/internal/config"
	"github.com/MimeLyc/srt-translator/internal/jobs"
)

// JobQueue is the part of the queue the API drives.
type JobQueue interface {
	Enqueue(req jobs.EnqueueRequest) (*jobs.TranslationJob, bool)
	Dequeue(id string) error
	Cancel(id string) error
	Retry(id string) (*jobs.TranslationJob, error)
	ClearFinished() int
	Get(id string) (*jobs.TranslationJob, bool)
	List() []*jobs.TranslationJob
	Snapshot() []jobs.Summary
	OnRemoved(fn func(*jobs.TranslationJob))
}

// Backend reports whether translations can run at all.
type Backend interface {
	Available() bool
	BackendName() string
}

type runtimeSettingsStore interface {
	GetRuntimeSettings() config.RuntimeSettings
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

type Server struct {
	queue     JobQueue
	bus       *jobs.EventBus
	backend   Backend
	settings  runtimeSettingsStore
	uploadDir string
	target    string
	roots     []string

	maxUpload    int64
	allowOrigins []string
	heartbeat    time.Duration

	router *chi.Mux
	server *http.Server
}

type Option func(*Server)

func WithEventBus(bus *jobs.EventBus) Option {
	return func(s *Server) { s.bus = bus }
}

func WithBackend(backend Backend) Option {
	return func(s *Server) { s.backend = backend }
}

func WithRuntimeSettingsStore(store runtimeSettingsStore) Option {
	return func(s *Server) { s.settings = store }
}

// WithDefaultTarget sets the target used when a request names none and no
// settings store is configured.
func WithDefaultTarget(code string) Option {
	return func(s *Server) { s.target = code }
}

func WithMaxUploadSize(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithAllowedRoots sets the directories a JSON job request may name files
// in. Without roots, only uploads are accepted.
func WithAllowedRoots(roots ...string) Option {
	return func(s *Server) { s.roots = roots }
}

func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.allowOrigins = origins }
}

// NewServer builds the API. Uploaded files are stored in uploadDir.
func NewServer(queue JobQueue, uploadDir string, opts ...Option) *Server {
	s := &Server{
		queue:     queue,
		uploadDir: uploadDir,
		maxUpload: 10 << 20,
		heartbeat: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	queue.OnRemoved(s.removeUpload)
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

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(cors.Handler(corsOptions(s.allowOrigins)))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/languages", s.handleLanguages)

		r.Get("/jobs", s.handleListJobs)
		r.Post("/jobs", s.handleCreateJob)
		r.Post("/jobs/clear", s.handleClearFinished)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Delete("/jobs/{id}", s.handleDequeue)
		r.Post("/jobs/{id}/cancel", s.handleCancel)
		r.Post("/jobs/{id}/retry", s.handleRetry)
		r.Get("/jobs/{id}/result", s.handleResult)

		r.Get("/events", s.handleEvents)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
	})
	return r
}

func corsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	allowCreds := true
	for _, o := range origins {
		if o == "*" {
			allowCreds = false
			break
		}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Last-Event-ID"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: allowCreds,
		MaxAge:           300,
	}
}
