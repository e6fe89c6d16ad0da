package server

import (
	"net/http"
	"strings"

	"github.com/kadirpekel/conduit/pkg/extensions"
)

// handleExtensions serves `GET /api/extensions`: every registered extension and the commands it
// exposes.
func (s *Server) handleExtensions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.exts == nil {
		writeJSON(w, http.StatusOK, map[string]any{"extensions": []any{}})
		return
	}

	names := s.exts.ListExtensions()
	out := make([]map[string]any, 0, len(names))
	for _, name := range names {
		commands, err := s.exts.Commands(name)
		if err != nil {
			continue
		}
		out = append(out, map[string]any{"name": name, "commands": commands})
	}
	writeJSON(w, http.StatusOK, map[string]any{"extensions": out})
}

// handleExtensionSubroutes serves `GET /api/extensions/{cmd}/args` and
// `GET /api/extensions/{ext}/settings`.
func (s *Server) handleExtensionSubroutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.exts == nil {
		writeError(w, http.StatusNotFound, "no extensions registered")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/extensions/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	name, sub := parts[0], parts[1]

	switch sub {
	case "args":
		_, cmd, ok := s.exts.Resolve(name)
		if !ok {
			writeError(w, http.StatusNotFound, "command not found: "+name)
			return
		}
		descriptor := cmd.Descriptor()
		writeJSON(w, http.StatusOK, map[string]any{
			"arguments": descriptor.Arguments,
			"schema":    extensions.ArgsSchema(descriptor),
		})
	case "settings":
		schema, err := s.exts.SettingsSchema(name)
		if err != nil {
			writeError(w, http.StatusNotFound, "extension not found: "+name)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"settings": schema})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}
