package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/jordanhubbard/tapestry/internal/executor"
	"github.com/jordanhubbard/tapestry/internal/extractor"
	"github.com/jordanhubbard/tapestry/internal/pattern"
)

// suggestRequest asks for a pattern prediction
type suggestRequest struct {
	Task    string `json:"task"`
	ModelID string `json:"model_id,omitempty"`
}

// handleSuggest handles POST /api/v1/suggest
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req suggestRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pred, err := s.engine.Suggest(r.Context(), req.Task, req.ModelID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, pred)
}

// executeRequest runs a registered pattern by name, or an inline definition
type executeRequest struct {
	Pattern    string                 `json:"pattern,omitempty"`
	Definition *pattern.Pattern       `json:"definition,omitempty"`
	Input      map[string]interface{} `json:"input,omitempty"`
	ModelID    string                 `json:"model_id,omitempty"`
}

// handleExecute handles POST /api/v1/execute
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req executeRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Pattern == "" && req.Definition == nil {
		s.respondError(w, http.StatusBadRequest, "a pattern name or definition is required")
		return
	}

	var exec *executor.Execution
	var err error
	if req.Definition != nil {
		exec, err = s.engine.ExecutePattern(r.Context(), req.Definition, req.Input, req.ModelID)
	} else {
		exec, err = s.engine.Execute(r.Context(), req.Pattern, req.Input, req.ModelID)
	}
	if err != nil {
		if errors.Is(err, pattern.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		// A failed execution still carries useful state; return it with the error
		if exec != nil {
			s.respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"execution": exec,
				"error":     err.Error(),
			})
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, exec)
}

// taskRequest predicts and, on a confident match, executes in one call
type taskRequest struct {
	Task    string                 `json:"task"`
	Input   map[string]interface{} `json:"input,omitempty"`
	ModelID string                 `json:"model_id,omitempty"`
}

// handleTask handles POST /api/v1/tasks
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req taskRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pred, exec, err := s.engine.ExecuteTask(r.Context(), req.Task, req.Input, req.ModelID)
	body := map[string]interface{}{"prediction": pred}
	if exec != nil {
		body["execution"] = exec
	}
	if err != nil {
		body["error"] = err.Error()
		s.respondJSON(w, http.StatusUnprocessableEntity, body)
		return
	}
	s.respondJSON(w, http.StatusOK, body)
}

// handlePatterns handles GET (list) and POST (register) /api/v1/patterns
func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		patterns, err := s.engine.Registry().List()
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, patterns)

	case http.MethodPost:
		var p pattern.Pattern
		if err := s.parseJSON(r, &p); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		stored, err := s.engine.SavePattern(r.Context(), &p)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.respondJSON(w, http.StatusCreated, stored)

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handlePattern handles GET /api/v1/patterns/{name}
func (s *Server) handlePattern(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	name := s.extractID(r.URL.Path, "/api/v1/patterns")
	p, err := s.engine.Registry().Get(name)
	if err != nil {
		if errors.Is(err, pattern.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "pattern not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, p)
}

// mineRequest submits a tool-call log for pattern mining
type mineRequest struct {
	Calls []extractor.ToolCall `json:"calls"`
}

// handleMine handles POST /api/v1/patterns/mine
func (s *Server) handleMine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req mineRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := s.engine.Mine(r.Context(), req.Calls)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"created": created,
		"count":   len(created),
	})
}

// handleExecutions handles GET /api/v1/executions?pattern=&limit=
func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		s.respondError(w, http.StatusNotFound, "execution history is not enabled")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	executions, err := s.history.ListExecutions(r.URL.Query().Get("pattern"), limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, executions)
}

// handleExecution handles GET /api/v1/executions/{id}
func (s *Server) handleExecution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		s.respondError(w, http.StatusNotFound, "execution history is not enabled")
		return
	}

	id := s.extractID(r.URL.Path, "/api/v1/executions")
	exec, err := s.history.GetExecution(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, exec)
}

// handleModelProfile handles GET /api/v1/models/{id}/profile
func (s *Server) handleModelProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	modelID := s.extractID(r.URL.Path, "/api/v1/models")
	if modelID == "" {
		s.respondError(w, http.StatusBadRequest, "model id is required")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"profile":         s.engine.ModelProfile(modelID),
		"recommendations": s.engine.ModelRecommendations(modelID),
	})
}
