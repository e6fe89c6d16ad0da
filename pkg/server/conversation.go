package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// conversation routes are scoped under /api/conversation/{agent}/{name}
// and its sub-resources:
//
//	GET    /api/conversation/{agent}/{name}              list (?limit=&page=&order=newest|oldest)
//	GET    /api/conversation/{agent}/{name}/export        full export, oldest first
//	POST   /api/conversation/{agent}/{name}               append {role, message}
//	POST   /api/conversation/{agent}/{name}/rename         rename {new_name}
//	PUT    /api/conversation/{agent}/{name}/message/{id}   update_message {message}
//	DELETE /api/conversation/{agent}/{name}/message/{id}   delete_message
//	DELETE /api/conversation/{agent}/{name}                delete_conversation
func (s *Server) handleConversationRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/conversation/")
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	agentName, convName := parts[0], parts[1]
	var sub string
	if len(parts) == 3 {
		sub = parts[2]
	}

	agent, ok := s.rt.Agent(agentName)
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found: "+agentName)
		return
	}
	tenant := agent.TenantID

	switch {
	case sub == "" && r.Method == http.MethodGet:
		s.conversationList(w, r, tenant, agentName, convName)
	case sub == "" && r.Method == http.MethodPost:
		s.conversationAppend(w, r, tenant, agentName, convName)
	case sub == "" && r.Method == http.MethodDelete:
		s.conversationDelete(w, r, tenant, agentName, convName)
	case sub == "export" && r.Method == http.MethodGet:
		s.conversationExport(w, r, tenant, agentName, convName)
	case sub == "rename" && r.Method == http.MethodPost:
		s.conversationRename(w, r, tenant, agentName, convName)
	case strings.HasPrefix(sub, "message/") && r.Method == http.MethodPut:
		s.conversationUpdateMessage(w, r, tenant, agentName, convName, strings.TrimPrefix(sub, "message/"))
	case strings.HasPrefix(sub, "message/") && r.Method == http.MethodDelete:
		s.conversationDeleteMessage(w, r, tenant, agentName, convName, strings.TrimPrefix(sub, "message/"))
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) conversationList(w http.ResponseWriter, r *http.Request, tenant, agentName, convName string) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	page, _ := strconv.Atoi(q.Get("page"))
	newestFirst := q.Get("order") != "oldest"

	interactions, total, err := s.conv.List(r.Context(), tenant, agentName, convName, limit, page, newestFirst)
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"interactions": interactions, "total": total})
}

func (s *Server) conversationExport(w http.ResponseWriter, r *http.Request, tenant, agentName, convName string) {
	interactions, err := s.conv.Export(r.Context(), tenant, agentName, convName)
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"interactions": interactions})
}

type appendRequest struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

func (s *Server) conversationAppend(w http.ResponseWriter, r *http.Request, tenant, agentName, convName string) {
	var req appendRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Role == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "role and message are required")
		return
	}
	id, err := s.conv.Append(r.Context(), tenant, agentName, convName, req.Role, req.Message, false, time.Time{})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) conversationDelete(w http.ResponseWriter, r *http.Request, tenant, agentName, convName string) {
	if err := s.conv.DeleteConversation(r.Context(), tenant, agentName, convName); err != nil {
		writeHandlerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type renameRequest struct {
	NewName string `json:"new_name"`
}

func (s *Server) conversationRename(w http.ResponseWriter, r *http.Request, tenant, agentName, convName string) {
	var req renameRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.NewName == "" {
		writeError(w, http.StatusBadRequest, "new_name is required")
		return
	}
	if err := s.conv.Rename(r.Context(), tenant, agentName, convName, req.NewName); err != nil {
		writeHandlerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateMessageRequest struct {
	Message string `json:"message"`
}

func (s *Server) conversationUpdateMessage(w http.ResponseWriter, r *http.Request, tenant, agentName, convName, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id: "+idStr)
		return
	}
	var req updateMessageRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.conv.UpdateMessage(r.Context(), tenant, agentName, convName, id, req.Message); err != nil {
		writeHandlerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) conversationDeleteMessage(w http.ResponseWriter, r *http.Request, tenant, agentName, convName, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id: "+idStr)
		return
	}
	if err := s.conv.DeleteMessage(r.Context(), tenant, agentName, convName, id); err != nil {
		writeHandlerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
