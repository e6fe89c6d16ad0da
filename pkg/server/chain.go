package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/kadirpekel/conduit/internal/config"
)

// chainRunRequest is the body for `POST /api/chain/{name}/run`. AgentName selects the effective agent for steps that don't name
// their own.
type chainRunRequest struct {
	UserInput string `json:"user_input"`
	AgentName string `json:"agent_name,omitempty"`
}

type chainRunResponse struct {
	RunID      string `json:"run_id"`
	State      string `json:"state"`
	Output     string `json:"output"`
	FailedStep int    `json:"failed_step,omitempty"`
	Cause      string `json:"cause,omitempty"`
}

// handleChainCollection serves the chain catalog root:
//
//	GET  /api/chain   list declared chain names
//	POST /api/chain   declare a new chain {name, steps}
func (s *Server) handleChainCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"chains": s.rt.Chains().List()})
	case http.MethodPost:
		var cfg config.ChainConfig
		if err := readJSON(r, &cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if err := s.rt.Chains().Declare(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"name": cfg.Name})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleChainRoutes serves per-chain operations:
//
//	POST   /api/chain/{name}/run        execute
//	GET    /api/chain/{name}            definition (name + ordered steps)
//	PUT    /api/chain/{name}            rename {new_name}
//	DELETE /api/chain/{name}            delete
//	POST   /api/chain/{name}/step       add a step
//	PUT    /api/chain/{name}/step/{n}   update step n
//	DELETE /api/chain/{name}/step/{n}   delete step n
func (s *Server) handleChainRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/chain/")
	parts := strings.SplitN(path, "/", 3)
	if parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	chainName := parts[0]
	var sub, rest string
	if len(parts) > 1 {
		sub = parts[1]
	}
	if len(parts) > 2 {
		rest = parts[2]
	}

	switch {
	case sub == "":
		s.handleChainItem(w, r, chainName)
	case sub == "run" && rest == "":
		s.handleChainRun(w, r, chainName)
	case sub == "step":
		s.handleChainStep(w, r, chainName, rest)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleChainItem(w http.ResponseWriter, r *http.Request, chainName string) {
	switch r.Method {
	case http.MethodGet:
		steps, ok := s.rt.Chains().Steps(chainName)
		if !ok {
			writeError(w, http.StatusNotFound, "chain not found: "+chainName)
			return
		}
		writeJSON(w, http.StatusOK, config.ChainConfig{Name: chainName, Steps: steps})
	case http.MethodPut:
		var req renameRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if req.NewName == "" {
			writeError(w, http.StatusBadRequest, "new_name is required")
			return
		}
		if err := s.rt.Chains().Rename(chainName, req.NewName); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if err := s.rt.Chains().Remove(chainName); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleChainStep(w http.ResponseWriter, r *http.Request, chainName, rest string) {
	switch {
	case rest == "" && r.Method == http.MethodPost:
		var step config.StepConfig
		if err := readJSON(r, &step); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if err := s.rt.Chains().AddStep(chainName, step); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]int{"step_number": step.StepNumber})
	case rest != "":
		n, err := strconv.Atoi(rest)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid step number: "+rest)
			return
		}
		switch r.Method {
		case http.MethodPut:
			var step config.StepConfig
			if err := readJSON(r, &step); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
				return
			}
			step.StepNumber = n
			if err := s.rt.Chains().UpdateStep(chainName, step); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			if err := s.rt.Chains().DeleteStep(chainName, n); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleChainRun(w http.ResponseWriter, r *http.Request, chainName string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if _, ok := s.rt.Chains().Get(chainName); !ok {
		writeError(w, http.StatusNotFound, "chain not found: "+chainName)
		return
	}

	var req chainRunRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	run, output, err := s.rt.Chains().Run(r.Context(), chainName, req.AgentName, req.UserInput)
	if err != nil && run == nil {
		// Unresolvable chain or recursion guard rejected before any run was
		// created.
		writeHandlerError(w, err)
		return
	}

	snap := run.Snapshot()
	resp := chainRunResponse{RunID: snap.ID, State: string(snap.State), Output: output, FailedStep: snap.FailedStep, Cause: snap.Cause}

	// A chain step failure is still a 200 with the partial output and a
	// failure marker.
	writeJSON(w, http.StatusOK, resp)
}
