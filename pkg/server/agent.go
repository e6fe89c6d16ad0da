package server

import (
	"net/http"
	"strings"
)

// agentCommandRequest is the body for `POST /api/agent/{name}/command`.
type agentCommandRequest struct {
	Command      string         `json:"command"`
	Args         map[string]any `json:"args,omitempty"`
	Conversation string         `json:"conversation,omitempty"`
}

// handleAgentRoutes serves `POST /api/agent/{name}/command`.
func (s *Server) handleAgentRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/agent/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[1] != "command" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	agentName := parts[0]

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	agent, ok := s.rt.Agent(agentName)
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found: "+agentName)
		return
	}

	var req agentCommandRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	text, err := s.rt.RunCommand(r.Context(), agent.Name, req.Command, req.Args)
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": text})
}
