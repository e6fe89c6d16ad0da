// Package server implements conduit's HTTP surface: an
// OpenAI-compatible chat-completions endpoint, direct command/chain
// invocation, extension/provider introspection, prompt template CRUD,
// and conversation CRUD, all routed over a hand-rolled
// http.ServeMux behind a small middleware chain.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/conduit/internal/config"
	"github.com/kadirpekel/conduit/pkg/conversation"
	"github.com/kadirpekel/conduit/pkg/extensions"
	"github.com/kadirpekel/conduit/pkg/observability"
	"github.com/kadirpekel/conduit/pkg/providers"
	"github.com/kadirpekel/conduit/pkg/runtime"
)

// Deps wires every collaborator the HTTP surface needs to serve a
// request. Unlike runtime.Deps (the request-execution pipeline), Deps
// here also carries the raw registries so introspection endpoints
// (`GET /api/providers`, `GET /api/extensions`) can list declared
// capabilities without going through the router/dispatcher.
type Deps struct {
	Config      *config.Config
	Runtime     *runtime.Runtime
	Providers   *providers.Registry
	Extensions  *extensions.Registry
	Conversations conversation.Store
	Metrics     *observability.Metrics
}

// Server is conduit's HTTP server.
type Server struct {
	cfg     *config.ServerConfig
	appCfg  *config.Config
	rt      *runtime.Runtime
	provs   *providers.Registry
	exts    *extensions.Registry
	conv    conversation.Store
	metrics *observability.Metrics

	prompts *promptStore

	server *http.Server
}

// New builds a Server from deps. deps.Config.Server must already have
// SetDefaults applied (internal/config.Loader.Load does this).
func New(deps Deps) *Server {
	return &Server{
		cfg:     &deps.Config.Server,
		appCfg:  deps.Config,
		rt:      deps.Runtime,
		provs:   deps.Providers,
		exts:    deps.Extensions,
		conv:    deps.Conversations,
		metrics: deps.Metrics,
		prompts: newPromptStore(deps.Config.Prompts),
	}
}

// Address returns the HTTP listen address.
func (s *Server) Address() string {
	return s.cfg.Address()
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	var handler http.Handler = s.routes()
	handler = s.authMiddleware(handler)
	handler = s.corsMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.observabilityMiddleware(handler)

	s.server = &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses may run far longer than the request deadline default
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("HTTP server starting", "address", s.cfg.Address())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	slog.Info("HTTP server shutting down")
	return s.server.Shutdown(shutdownCtx)
}

// routes builds the route table.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)

	mux.HandleFunc("/api/agent/", s.handleAgentRoutes)
	mux.HandleFunc("/api/chain", s.handleChainCollection)
	mux.HandleFunc("/api/chain/", s.handleChainRoutes)

	mux.HandleFunc("/api/extensions", s.handleExtensions)
	mux.HandleFunc("/api/extensions/", s.handleExtensionSubroutes)

	mux.HandleFunc("/api/providers", s.handleProvidersList)
	mux.HandleFunc("/api/providers/service/", s.handleProvidersByService)
	mux.HandleFunc("/api/provider", s.handleProvidersList)
	mux.HandleFunc("/api/provider/", s.handleProviderByName)

	mux.HandleFunc("/v1/prompt", s.handlePromptCollection)
	mux.HandleFunc("/v1/prompt/", s.handlePromptItem)

	mux.HandleFunc("/api/conversation/", s.handleConversationRoutes)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// observabilityMiddleware times every request and records it through
// Metrics.RecordHTTPRequest plus an observability span for the whole
// HTTP turn, outermost in the middleware chain.
func (s *Server) observabilityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := observability.StartSpan(r.Context(), observability.StageDispatch)
		defer span.End()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		s.metrics.RecordHTTPRequest(r.Method, routeLabel(r.URL.Path), rec.status, time.Since(start))
	})
}

// loggingMiddleware logs requests without wrapping the ResponseWriter
// in anything that would break http.Flusher for SSE.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// corsMiddleware adds permissive CORS headers, suitable for
// development; deployments front this with their own policy.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authExcludedPaths never require a bearer token.
var authExcludedPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// authMiddleware enforces ServerConfig.AgentAPIKey as a bearer token
// when set. An empty key disables auth entirely (local/dev only).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if s.cfg.AgentAPIKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authExcludedPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token != s.cfg.AgentAPIKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying http.Flusher so SSE handlers can
// still flush through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// routeLabel collapses path parameters (agent/chain/conversation names)
// to keep the Prometheus "path" label's cardinality bounded.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/agent/"):
		return "/api/agent/{name}/command"
	case strings.HasPrefix(path, "/api/chain/"):
		return "/api/chain/{name}/run"
	case strings.HasPrefix(path, "/api/extensions/"):
		return "/api/extensions/{cmd}"
	case strings.HasPrefix(path, "/api/provider/"):
		return "/api/provider/{name}"
	case strings.HasPrefix(path, "/api/providers/service/"):
		return "/api/providers/service/{s}"
	case strings.HasPrefix(path, "/v1/prompt/"):
		return "/v1/prompt/{id}"
	case strings.HasPrefix(path, "/api/conversation/"):
		return "/api/conversation/*"
	default:
		return path
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonEncode(w, v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
