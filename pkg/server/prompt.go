package server

import (
	"net/http"
	"strings"
	"sync"

	"github.com/kadirpekel/conduit/internal/config"
	"github.com/kadirpekel/conduit/pkg/prompt"
)

// promptStore holds the mutable prompt template catalog backing `GET|
// POST|PUT|DELETE /v1/prompt[/{id}]`.
// A template's id is `category/name`.
type promptStore struct {
	mu        sync.RWMutex
	templates map[string]*config.PromptConfig
}

func newPromptStore(initial []*config.PromptConfig) *promptStore {
	s := &promptStore{templates: map[string]*config.PromptConfig{}}
	for _, p := range initial {
		s.templates[promptID(p.Category, p.Name)] = p
	}
	return s
}

func promptID(category, name string) string {
	return category + "/" + name
}

func (s *promptStore) list() []*config.PromptConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*config.PromptConfig, 0, len(s.templates))
	for _, p := range s.templates {
		out = append(out, p)
	}
	return out
}

func (s *promptStore) get(id string) (*config.PromptConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.templates[id]
	return p, ok
}

func (s *promptStore) put(p *config.PromptConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Arguments = prompt.ListPlaceholders(p.Text)
	s.templates[promptID(p.Category, p.Name)] = p
}

func (s *promptStore) delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[id]; !ok {
		return false
	}
	delete(s.templates, id)
	return true
}

// handlePromptCollection serves `GET /v1/prompt` (list) and `POST
// /v1/prompt` (create).
func (s *Server) handlePromptCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"prompts": s.prompts.list()})
	case http.MethodPost:
		var p config.PromptConfig
		if err := readJSON(r, &p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if p.Category == "" {
			p.Category = "Default"
		}
		if p.Name == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		s.prompts.put(&p)
		writeJSON(w, http.StatusCreated, p)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handlePromptItem serves `GET|PUT|DELETE /v1/prompt/{id}`.
func (s *Server) handlePromptItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/prompt/")
	if id == "" {
		s.handlePromptCollection(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		p, ok := s.prompts.get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "prompt not found: "+id)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPut:
		existing, ok := s.prompts.get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "prompt not found: "+id)
			return
		}
		var p config.PromptConfig
		if err := readJSON(r, &p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		p.Category, p.Name = existing.Category, existing.Name
		s.prompts.put(&p)
		writeJSON(w, http.StatusOK, p)
	case http.MethodDelete:
		if !s.prompts.delete(id) {
			writeError(w, http.StatusNotFound, "prompt not found: "+id)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
