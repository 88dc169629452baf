// Package api exposes the engine over HTTP: prediction, execution, pattern
// management, model profiles, and a websocket stream of execution events.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jordanhubbard/tapestry/internal/engine"
	"github.com/jordanhubbard/tapestry/internal/executor"
	"github.com/jordanhubbard/tapestry/internal/metrics"
	"github.com/jordanhubbard/tapestry/pkg/config"
)

// ExecutionHistory reads persisted executions. Nil when the database is
// disabled; history endpoints then return 404.
type ExecutionHistory interface {
	GetExecution(id string) (*executor.Execution, error)
	ListExecutions(patternName string, limit int) ([]*executor.Execution, error)
}

// Server represents the HTTP API server
type Server struct {
	engine  *engine.Engine
	history ExecutionHistory
	config  *config.Config
	metrics *metrics.Metrics
	hub     *eventHub
}

// NewServer creates a new API server
func NewServer(eng *engine.Engine, history ExecutionHistory, cfg *config.Config, m *metrics.Metrics) *Server {
	return &Server{
		engine:  eng,
		history: history,
		config:  cfg,
		metrics: m,
		hub:     newEventHub(),
	}
}

// PublishExecutionEvent pushes an execution transition to websocket
// subscribers. Wired as the executor's event hook.
func (s *Server) PublishExecutionEvent(ev executor.Event) {
	s.hub.broadcast(ev)
}

// SetupRoutes configures HTTP routes
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Health and metrics
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	// Prediction and execution
	mux.HandleFunc("/api/v1/suggest", s.handleSuggest)
	mux.HandleFunc("/api/v1/execute", s.handleExecute)
	mux.HandleFunc("/api/v1/tasks", s.handleTask)

	// Patterns
	mux.HandleFunc("/api/v1/patterns", s.handlePatterns)
	mux.HandleFunc("/api/v1/patterns/", s.handlePattern)
	mux.HandleFunc("/api/v1/patterns/mine", s.handleMine)

	// Execution history
	mux.HandleFunc("/api/v1/executions", s.handleExecutions)
	mux.HandleFunc("/api/v1/executions/", s.handleExecution)

	// Model profiles
	mux.HandleFunc("/api/v1/models/", s.handleModelProfile)

	// Live execution events
	mux.HandleFunc("/api/v1/events/stream", s.handleEventStream)

	handler := s.loggingMiddleware(mux)
	handler = s.corsMiddleware(handler)
	handler = s.authMiddleware(handler)

	return handler
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Middleware

// loggingMiddleware logs HTTP requests and records request metrics
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, r.URL.Path,
				fmt.Sprintf("%d", rec.status), time.Since(started).Seconds())
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.config.Security.AllowedOrigins) > 0 {
			origin := r.Header.Get("Origin")
			for _, allowed := range s.config.Security.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", allowed)
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware validates the JWT bearer token when auth is enabled
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health, metrics, and the event stream stay open
		if r.URL.Path == "/api/v1/health" ||
			r.URL.Path == "/metrics" ||
			r.URL.Path == "/api/v1/events/stream" {
			next.ServeHTTP(w, r)
			return
		}

		if !s.config.Security.EnableAuth || s.config.Security.JWTSecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			s.respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(s.config.Security.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			log.Printf("[API] Rejected token: %v", err)
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper functions

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// parseJSON parses JSON request body
func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// extractID extracts the trailing path element after prefix
func (s *Server) extractID(path, prefix string) string {
	id := strings.TrimPrefix(path, prefix)
	id = strings.TrimPrefix(id, "/")
	id = strings.TrimSuffix(id, "/")

	parts := strings.Split(id, "/")
	if len(parts) > 0 {
		return parts[0]
	}
	return id
}
