package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/swisswing/microservice-users/internal/api"
	"github.com/swisswing/microservice-users/internal/config"
	"github.com/swisswing/microservice-users/internal/database"
	"github.com/swisswing/microservice-users/internal/discovery"
	"github.com/swisswing/microservice-users/internal/guard"
	"github.com/swisswing/microservice-users/internal/orchestrator"
	"github.com/swisswing/microservice-users/internal/runner"
	"github.com/swisswing/microservice-users/internal/telemetry"
)

// AppContext holds all constructed application dependencies shared across
// subcommands. It is built once in PersistentPreRunE and referenced by
// server.go and bootstrap.go.
type AppContext struct {
	cfg          *config.Config
	otelProvider *telemetry.Provider
	db           *database.Client
	orchestrator *orchestrator.Orchestrator
	router       *api.Router
}

// buildAppContext constructs all application dependencies from cfg:
//  1. Initialises the OTEL provider (best-effort, non-fatal)
//  2. Creates the database client behind a circuit breaker
//  3. Creates guard, scanner, and runner
//  4. Creates the orchestrator and HTTP router
func buildAppContext(cfg *config.Config) (*AppContext, error) {
	app := &AppContext{cfg: cfg}

	// OTEL is best-effort: a missing collector must never block bootstrap.
	// When OTLPEndpoint is empty, telemetry is disabled entirely — the usual
	// case for a one-shot init container.
	if cfg.Telemetry.OTLPEndpoint == "" {
		slog.Info("OTEL telemetry disabled (no endpoint configured)")
	} else {
		tp, err := telemetry.InitProvider(
			context.Background(),
			cfg.Telemetry.OTLPEndpoint,
			cfg.Telemetry.ServiceName,
			cfg.Telemetry.OTLPInsecure,
		)
		if err != nil {
			slog.Warn("OTEL provider init failed — telemetry disabled", "err", err)
		} else {
			app.otelProvider = tp
		}
	}

	app.db = database.NewClient(cfg.Bootstrap.Postgres, database.NewCircuitBreaker("postgres"))

	fsys := afero.NewOsFs()

	var check guard.Check
	switch cfg.Bootstrap.Guard {
	case config.GuardCatalog:
		check = guard.NewCatalogGuard(app.db, cfg.Bootstrap.Schema)
	default:
		check = guard.NewDataDirGuard(fsys, cfg.Bootstrap.DataDir)
	}

	scanner := discovery.NewScanner(fsys, cfg.Bootstrap.ScriptsDir)
	run := runner.New(fsys, app.db, shellEnv(cfg.Bootstrap.Postgres))

	app.orchestrator = orchestrator.New(check, scanner, run, app.db)
	app.router = api.NewRouter(app.orchestrator, database.NewUserStore(app.db))

	return app, nil
}

// shellEnv exports the connection parameters to .sh init scripts under the
// same names the stock image entrypoint uses.
func shellEnv(p config.PostgresConfig) []string {
	return []string{
		fmt.Sprintf("POSTGRES_HOST=%s", p.Host),
		fmt.Sprintf("POSTGRES_PORT=%d", p.Port),
		fmt.Sprintf("POSTGRES_USER=%s", p.User),
		fmt.Sprintf("POSTGRES_PASSWORD=%s", p.Password),
		fmt.Sprintf("POSTGRES_DB=%s", p.DB),
	}
}
