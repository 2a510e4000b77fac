package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/swisswing/microservice-users/internal/orchestrator"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Run the one-shot database bootstrap and exit",
	Long: `Bootstrap initializes the users database exactly once per data
directory: if the guard reports the directory as already initialized the run
is a no-op, otherwise every recognized script in the configured directory is
executed in lexicographic filename order.

The command runs once, prints a JSON result to stdout, and exits 0 on
success (including the no-op case) or non-zero on failure. A failed run is
not retried — the container supervisor decides whether to restart, and the
operator is expected to reset the volume after a partial initialization.

bootstrap.timeout bounds the whole run. Hitting it is handled like a crash:
the in-flight script's transaction rolls back, earlier commits stand, the
run reports Failed, and on restart the guard re-derives the initialization
state from the engine. Size the timeout for the slowest expected script set
rather than relying on it as a control mechanism.`,
	RunE: runBootstrap,
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	// An expired deadline cancels the in-flight script; the runner rolls its
	// transaction back and the run ends Failed, same as any other crash. The
	// guard re-derives the initialization state on the next start.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Bootstrap.Timeout)
	defer cancel()

	defer app.db.Close()

	if app.otelProvider != nil {
		defer func() {
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutCancel()
			if err := app.otelProvider.Shutdown(shutCtx); err != nil {
				slog.Warn("OTEL shutdown error", "err", err)
			}
		}()
	}

	result, err := app.orchestrator.Run(ctx)
	if result != nil {
		printResult(result)
	}
	if err != nil {
		// The orchestrator already logged the failure with its run id; the
		// returned error maps to a non-zero exit through cobra.
		return err
	}

	return nil
}

func printResult(result *orchestrator.Result) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		slog.Warn("encoding bootstrap result", "err", err)
	}
}
