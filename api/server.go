package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/stylora/retrieval/core"
	"github.com/stylora/retrieval/engine"
)

// Engine is the slice of the engine facade the HTTP layer consumes.
type Engine interface {
	Recommend(ctx context.Context, req engine.RecommendRequest) (*engine.Page, error)
	Search(ctx context.Context, req engine.SearchRequest) (*engine.Page, error)
	Similar(ctx context.Context, req engine.SimilarRequest) (*engine.Page, error)
	RecordInteraction(ctx context.Context, event core.InteractionEvent) (core.UserEmbedding, error)
	CompleteOnboarding(ctx context.Context, userID string, itemIDs []string) (core.UserEmbedding, error)
	RebuildUserProfile(ctx context.Context, userID string) (core.UserEmbedding, error)
	RebuildIndex(ctx context.Context) error
	ClearCache(ctx context.Context, scope string) (int, error)
	InvalidateUser(ctx context.Context, userID string) error
	WarmCache(ctx context.Context, topN int) (int, error)
	Stats() engine.Stats
}

// ServerConfig holds the HTTP server tunables.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultServerConfig returns the production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the REST surface over the retrieval engine.
type Server struct {
	engine     Engine
	router     *mux.Router
	httpServer *http.Server
	config     ServerConfig
	log        zerolog.Logger
}

// NewServer creates the API server and wires its routes.
func NewServer(eng Engine, config ServerConfig, log zerolog.Logger) *Server {
	s := &Server{
		engine: eng,
		config: config,
		log:    log.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(jsonContentTypeMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/stats", s.handleStats).Methods("GET")

	// Retrieval endpoints
	s.router.HandleFunc("/recommendations", s.handleRecommend).Methods("POST")
	s.router.HandleFunc("/search", s.handleSearch).Methods("POST")
	s.router.HandleFunc("/items/{id}/similar", s.handleSimilar).Methods("POST")

	// User modeling endpoints
	s.router.HandleFunc("/interactions", s.handleRecordInteraction).Methods("POST")
	s.router.HandleFunc("/users/{id}/onboarding", s.handleCompleteOnboarding).Methods("POST")
	s.router.HandleFunc("/users/{id}/profile/rebuild", s.handleRebuildProfile).Methods("POST")
	s.router.HandleFunc("/users/{id}/cache", s.handleInvalidateUser).Methods("DELETE")

	// Admin endpoints
	s.router.HandleFunc("/admin/index/rebuild", s.handleRebuildIndex).Methods("POST")
	s.router.HandleFunc("/admin/cache/warm", s.handleWarmCache).Methods("POST")
	s.router.HandleFunc("/admin/cache/{scope}", s.handleClearCache).Methods("DELETE")
}

// Start runs the HTTP server until it fails or is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("api server listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Error marshaling JSON"}`))
		return
	}

	w.WriteHeader(code)
	w.Write(response)
}
