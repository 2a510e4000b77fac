// Package runner executes discovered init scripts against the database.
//
// Policy, fixed by design:
//   - scripts run strictly in the order given, one at a time, on one session;
//   - each .sql script runs in its own transaction, so a mid-script failure
//     rolls back that script only — earlier commits stand;
//   - the first failing script halts the run. Partial initialization is a
//     fatal state for this container lifecycle; it is surfaced, never masked
//     and never retried.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/swisswing/microservice-users/internal/discovery"
)

// ScriptError reports the script that failed and the underlying engine error.
type ScriptError struct {
	Script string
	Err    error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("script %s: %v", e.Script, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// Tx is a single script's transaction boundary.
type Tx interface {
	Exec(ctx context.Context, sql string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Session is the live database session scripts run on. Satisfied by
// *database.Client.
type Session interface {
	Begin(ctx context.Context) (Tx, error)
}

// Outcome records one attempted script.
type Outcome struct {
	Script string
	Err    error
}

// Runner executes scripts on a session, reading their contents from fs.
type Runner struct {
	fs      afero.Fs
	session Session

	// shell runs a .sh script; replaced in tests.
	shell func(ctx context.Context, path string, env []string) error

	// env is appended to a .sh script's environment, carrying the database
	// connection parameters the way the stock entrypoint does.
	env []string
}

// New returns a Runner over fs and session. env entries (KEY=value) are
// exported to .sh scripts.
func New(fsys afero.Fs, session Session, env []string) *Runner {
	return &Runner{
		fs:      fsys,
		session: session,
		shell:   runShell,
		env:     env,
	}
}

// Run executes scripts in the given order and returns one Outcome per
// attempted script. On failure the returned error is a *ScriptError for the
// last outcome; scripts after it are never attempted.
func (r *Runner) Run(ctx context.Context, scripts []discovery.Script) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(scripts))

	for _, s := range scripts {
		slog.InfoContext(ctx, "running init script", "script", s.Name)

		err := r.runOne(ctx, s)
		outcomes = append(outcomes, Outcome{Script: s.Name, Err: err})
		if err != nil {
			return outcomes, &ScriptError{Script: s.Name, Err: err}
		}
	}

	return outcomes, nil
}

func (r *Runner) runOne(ctx context.Context, s discovery.Script) error {
	if strings.EqualFold(filepath.Ext(s.Name), ".sh") {
		return r.shell(ctx, s.Path, r.env)
	}
	return r.runSQL(ctx, s)
}

func (r *Runner) runSQL(ctx context.Context, s discovery.Script) error {
	content, err := afero.ReadFile(r.fs, s.Path)
	if err != nil {
		return fmt.Errorf("reading script: %w", err)
	}

	tx, err := r.session.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := tx.Exec(ctx, string(content)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			slog.WarnContext(ctx, "rollback failed", "script", s.Name, "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// runShell executes a .sh script through /bin/sh with the connection
// parameters exported, mirroring the stock image entrypoint.
func runShell(ctx context.Context, path string, env []string) error {
	cmd := exec.CommandContext(ctx, "/bin/sh", path)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
