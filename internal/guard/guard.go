// Package guard decides whether the database has already been initialized.
//
// Both implementations derive the answer from the engine's own authoritative
// state — never from a marker file this program writes — so the check cannot
// desynchronize from the actual schema after a crash. The check is
// side-effect-free and must run before any script executes: re-running DDL
// against a live schema is unsafe, so idempotency is enforced by never
// re-entering the runner.
package guard

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// Error reports that the initialization state could not be determined.
// The caller must treat this as fatal and must not run scripts speculatively.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("determining initialization state: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Check reports whether the data directory has already been initialized.
type Check interface {
	AlreadyInitialized(ctx context.Context) (bool, error)
}

// versionFile is written by the engine as the final step of its own first
// boot; its presence is the engine's definition of "initialized before".
const versionFile = "PG_VERSION"

// DataDirGuard inspects the engine's data directory for its bootstrap
// artifacts. This is the stock-image convention: a populated data directory
// means the engine (and the init scripts that ran alongside its first boot)
// must not be initialized again.
type DataDirGuard struct {
	fs      afero.Fs
	dataDir string
}

// NewDataDirGuard returns a guard over dataDir on the given filesystem.
func NewDataDirGuard(fsys afero.Fs, dataDir string) *DataDirGuard {
	return &DataDirGuard{fs: fsys, dataDir: dataDir}
}

// AlreadyInitialized returns true when the engine's version file exists in
// the data directory. A missing data directory reads as not-initialized; an
// unreadable one is an *Error.
func (g *DataDirGuard) AlreadyInitialized(_ context.Context) (bool, error) {
	ok, err := afero.Exists(g.fs, filepath.Join(g.dataDir, versionFile))
	if err != nil {
		return false, &Error{Err: fmt.Errorf("inspecting data directory %s: %w", g.dataDir, err)}
	}
	return ok, nil
}

// Querier is the subset of the database client the catalog guard uses.
type Querier interface {
	SelectExists(ctx context.Context, query string, args ...any) (bool, error)
}

// CatalogGuard asks the live engine whether user tables already exist in the
// target schema. It narrows the data-dir check: even on a volume where the
// engine has booted, an empty target schema still reads as not-initialized.
type CatalogGuard struct {
	db     Querier
	schema string
}

// NewCatalogGuard returns a guard that queries the engine catalog over db.
func NewCatalogGuard(db Querier, schema string) *CatalogGuard {
	return &CatalogGuard{db: db, schema: schema}
}

// AlreadyInitialized reports whether the target schema holds any user tables.
func (g *CatalogGuard) AlreadyInitialized(ctx context.Context) (bool, error) {
	exists, err := g.db.SelectExists(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_tables WHERE schemaname = $1)",
		g.schema,
	)
	if err != nil {
		return false, &Error{Err: fmt.Errorf("querying catalog for schema %s: %w", g.schema, err)}
	}
	return exists, nil
}
