package server

import (
	"net/http"
	"strings"

	"github.com/kadirpekel/conduit/internal/config"
)

type providerInfo struct {
	Name     string            `json:"name"`
	Services []config.Service  `json:"services"`
	Settings map[string]string `json:"settings_schema,omitempty"`
}

func (s *Server) providerInfo(name string) (providerInfo, bool) {
	cfg, err := s.provs.Config(name)
	if err != nil {
		return providerInfo{}, false
	}
	return providerInfo{Name: cfg.Name, Services: cfg.Services, Settings: cfg.SettingsSchema}, true
}

// handleProvidersList serves `GET /api/providers` and `GET
// /api/provider`.
func (s *Server) handleProvidersList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.provs == nil {
		writeJSON(w, http.StatusOK, map[string]any{"providers": []any{}})
		return
	}
	names := s.provs.List()
	out := make([]providerInfo, 0, len(names))
	for _, name := range names {
		if info, ok := s.providerInfo(name); ok {
			out = append(out, info)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

// handleProviderByName serves `GET /api/provider/{name}`.
func (s *Server) handleProviderByName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/provider/")
	if name == "" {
		s.handleProvidersList(w, r)
		return
	}
	info, ok := s.providerInfo(name)
	if !ok {
		writeError(w, http.StatusNotFound, "provider not found: "+name)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleProvidersByService serves `GET /api/providers/service/{s}`.
func (s *Server) handleProvidersByService(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	svc := strings.TrimPrefix(r.URL.Path, "/api/providers/service/")
	if svc == "" || s.provs == nil {
		writeJSON(w, http.StatusOK, map[string]any{"providers": []any{}})
		return
	}
	names := s.provs.ForService(config.Service(svc))
	out := make([]providerInfo, 0, len(names))
	for _, name := range names {
		if info, ok := s.providerInfo(name); ok {
			out = append(out, info)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}
