package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kadirpekel/conduit/internal/clock"
	"github.com/kadirpekel/conduit/internal/config"
	"github.com/kadirpekel/conduit/internal/logging"
	"github.com/kadirpekel/conduit/llms"
	"github.com/kadirpekel/conduit/pkg/conversation"
	"github.com/kadirpekel/conduit/pkg/extensions"
	"github.com/kadirpekel/conduit/pkg/memory"
	"github.com/kadirpekel/conduit/pkg/observability"
	"github.com/kadirpekel/conduit/pkg/providers"
	"github.com/kadirpekel/conduit/pkg/runtime"
)

// app bundles every collaborator the serve/chain/chat commands build
// from a loaded Config: store -> registries -> runtime -> server, in
// dependency order.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *sql.DB
	tracer  trace.TracerProvider
	metrics *observability.Metrics

	providers  *providers.Registry
	router     *providers.Router
	extensions *extensions.Registry
	conv       conversation.Store
	mem        memory.Store
	rt         *runtime.Runtime
}

// buildApp loads cli.Config, validates it, and wires every collaborator
// named in a serve/chain-run/chat command's deps. An empty --config path
// is rejected as a configuration error.
func buildApp(ctx context.Context, cli *CLI) (*app, error) {
	if cli.Config == "" {
		return nil, &configErr{fmt.Errorf("--config is required")}
	}

	cfg, err := config.NewLoader(cli.Config).Load()
	if err != nil {
		return nil, &configErr{fmt.Errorf("load config: %w", err)}
	}

	logLevel := cli.LogLevel
	if logLevel == "" {
		logLevel = cfg.Server.LogLevel
	}
	logFormat := cli.LogFormat
	if logFormat == "" {
		logFormat = cfg.Server.LogFormat
	}
	logger := logging.New(logging.Options{Level: logLevel, Format: logFormat})
	slog.SetDefault(logger)

	if err := cfg.Server.Validate(); err != nil {
		return nil, &configErr{fmt.Errorf("invalid configuration: %w", err)}
	}

	db, err := openDB(cfg.Server.Database)
	if err != nil {
		return nil, &configErr{fmt.Errorf("open database: %w", err)}
	}

	dialect := string(cfg.Server.Database.Backend)
	conv, err := conversation.NewSQLStore(db, dialect)
	if err != nil {
		db.Close()
		return nil, &configErr{fmt.Errorf("init conversation store: %w", err)}
	}

	provReg := providers.NewRegistry(cfg.DisabledProviders)
	for _, p := range cfg.Providers {
		if err := provReg.Declare(p, llms.NewOpenAICompat()); err != nil {
			db.Close()
			return nil, &configErr{fmt.Errorf("declare provider %q: %w", p.Name, err)}
		}
	}
	router := providers.NewRouter(provReg, clock.New())

	extReg := extensions.NewRegistry()
	for _, e := range cfg.Extensions {
		if err := extReg.RegisterExtension(extensions.NewDeclaredExtension(e)); err != nil {
			db.Close()
			return nil, &configErr{fmt.Errorf("register extension %q: %w", e.Name, err)}
		}
	}
	for _, m := range cfg.MCPServers {
		ext := extensions.NewMCPExtension(extensions.MCPConfig{
			Name:    m.Name,
			Command: m.Command,
			Args:    m.Args,
			Env:     m.Env,
			Filter:  m.Filter,
		})
		if err := extReg.RegisterExtension(ext); err != nil {
			db.Close()
			return nil, &configErr{fmt.Errorf("mount mcp server %q: %w", m.Name, err)}
		}
	}

	// Metrics is always constructed: pkg/server's HTTP middleware and the
	// router/chain engine record through it unconditionally, and pkg/server
	// mounts the /metrics scrape route whenever Metrics is non-nil, so the
	// route is always served. Observability.MetricsEnabled is not consulted.
	metrics := observability.NewMetrics()
	router.SetMetrics(metrics)

	tracer, err := observability.InitTracer(ctx, cfg.Server.Observability)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		tracer = noop.NewTracerProvider()
	}

	mem := memory.NewFake()

	rt := runtime.New(runtime.Deps{
		Providers:     router,
		Prompts:       cfg.Prompts,
		Extensions:    extReg,
		Conversations: conv,
		Memory:        mem,
		Resources:     cfg.Server.Resources,
		Clock:         clock.New(),
	})
	rt.Chains().SetMetrics(metrics)
	if d := rt.Dispatcher(); d != nil {
		d.SetMetrics(metrics)
	}
	for _, a := range cfg.Agents {
		if err := rt.RegisterAgent(a); err != nil {
			db.Close()
			return nil, &configErr{fmt.Errorf("register agent %q: %w", a.Name, err)}
		}
	}
	for _, c := range cfg.Chains {
		if err := rt.Chains().Declare(c); err != nil {
			db.Close()
			return nil, &configErr{fmt.Errorf("declare chain %q: %w", c.Name, err)}
		}
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		tracer:     tracer,
		metrics:    metrics,
		providers:  provReg,
		router:     router,
		extensions: extReg,
		conv:       conv,
		mem:        mem,
		rt:         rt,
	}, nil
}

func (a *app) Close() error {
	a.rt.Close()
	return a.db.Close()
}

func openDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	driver := "sqlite"
	if cfg.Backend == config.StorageBackendPostgres {
		driver = "postgres"
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
