package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swisswing/microservice-users/internal/discovery"
)

// mockTx records the lifecycle of one script's transaction.
type mockTx struct {
	execSQL    string
	execErr    error
	commitErr  error
	committed  bool
	rolledBack bool
}

func (t *mockTx) Exec(_ context.Context, sql string) error {
	t.execSQL = sql
	return t.execErr
}

func (t *mockTx) Commit(_ context.Context) error {
	t.committed = true
	return t.commitErr
}

func (t *mockTx) Rollback(_ context.Context) error {
	t.rolledBack = true
	return nil
}

// mockSession hands out one recorded mockTx per Begin call.
type mockSession struct {
	beginErr error
	txs      []*mockTx
}

func (s *mockSession) Begin(_ context.Context) (Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	tx := &mockTx{}
	s.txs = append(s.txs, tx)
	return tx, nil
}

func writeScripts(t *testing.T, names ...string) (afero.Fs, []discovery.Script) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	scripts := make([]discovery.Script, 0, len(names))
	for _, name := range names {
		path := "/init.d/" + name
		require.NoError(t, afero.WriteFile(fsys, path, []byte("SELECT 1; -- "+name), 0o644))
		scripts = append(scripts, discovery.Script{Name: name, Path: path})
	}
	return fsys, scripts
}

func TestRun_AllSucceedInOrder(t *testing.T) {
	t.Parallel()

	fsys, scripts := writeScripts(t, "01_tables.sql", "02_seed.sql", "03_indexes.sql")
	session := &mockSession{}
	r := New(fsys, session, nil)

	outcomes, err := r.Run(context.Background(), scripts)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	// One committed transaction per script, executed in discovery order.
	require.Len(t, session.txs, 3)
	assert.Contains(t, session.txs[0].execSQL, "01_tables.sql")
	assert.Contains(t, session.txs[1].execSQL, "02_seed.sql")
	assert.Contains(t, session.txs[2].execSQL, "03_indexes.sql")
	for _, tx := range session.txs {
		assert.True(t, tx.committed)
		assert.False(t, tx.rolledBack)
	}
}

func TestRun_HaltsOnFirstFailure(t *testing.T) {
	t.Parallel()

	fsys, scripts := writeScripts(t, "01_ok.sql", "02_bad.sql", "03_never.sql")
	session := &mockSession{}
	r := New(fsys, session, nil)

	// Fail the second transaction.
	r.session = beginSequence(session, 1)

	outcomes, err := r.Run(context.Background(), scripts)
	require.Error(t, err)

	var sErr *ScriptError
	require.True(t, errors.As(err, &sErr))
	assert.Equal(t, "02_bad.sql", sErr.Script)

	// Scripts 1..k-1 committed, script k rolled back, k+1..N never attempted.
	require.Len(t, outcomes, 2)
	assert.NoError(t, outcomes[0].Err)
	assert.Error(t, outcomes[1].Err)

	require.Len(t, session.txs, 2)
	assert.True(t, session.txs[0].committed)
	assert.True(t, session.txs[1].rolledBack)
	assert.False(t, session.txs[1].committed)
}

// beginSequence wraps a mockSession so the transaction at failIndex fails.
type failingSession struct {
	inner     *mockSession
	failIndex int
	calls     int
}

func beginSequence(inner *mockSession, failIndex int) *failingSession {
	return &failingSession{inner: inner, failIndex: failIndex}
}

func (s *failingSession) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.inner.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if s.calls == s.failIndex {
		tx.(*mockTx).execErr = errors.New("relation \"users\" already exists")
	}
	s.calls++
	return tx, nil
}

func TestRun_BeginFailure(t *testing.T) {
	t.Parallel()

	fsys, scripts := writeScripts(t, "01_tables.sql")
	session := &mockSession{beginErr: errors.New("connection closed")}
	r := New(fsys, session, nil)

	_, err := r.Run(context.Background(), scripts)
	require.Error(t, err)

	var sErr *ScriptError
	require.True(t, errors.As(err, &sErr))
	assert.Equal(t, "01_tables.sql", sErr.Script)
	assert.Contains(t, err.Error(), "beginning transaction")
}

func TestRun_MissingScriptFile(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	session := &mockSession{}
	r := New(fsys, session, nil)

	_, err := r.Run(context.Background(), []discovery.Script{
		{Name: "01_gone.sql", Path: "/init.d/01_gone.sql"},
	})
	require.Error(t, err)

	var sErr *ScriptError
	require.True(t, errors.As(err, &sErr))
	assert.Equal(t, "01_gone.sql", sErr.Script)
	assert.Empty(t, session.txs, "no transaction should begin for an unreadable script")
}

func TestRun_NoScriptsIsNoop(t *testing.T) {
	t.Parallel()

	session := &mockSession{}
	r := New(afero.NewMemMapFs(), session, nil)

	outcomes, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.Empty(t, session.txs)
}

func TestRun_ShellScript(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	session := &mockSession{}
	r := New(fsys, session, []string{"POSTGRES_DB=users_dev"})

	var gotPath string
	var gotEnv []string
	r.shell = func(_ context.Context, path string, env []string) error {
		gotPath = path
		gotEnv = env
		return nil
	}

	outcomes, err := r.Run(context.Background(), []discovery.Script{
		{Name: "02_seed.sh", Path: "/init.d/02_seed.sh"},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "/init.d/02_seed.sh", gotPath)
	assert.Equal(t, []string{"POSTGRES_DB=users_dev"}, gotEnv)
	assert.Empty(t, session.txs, "shell scripts must not open a database transaction")
}

func TestRun_ShellScriptFailure(t *testing.T) {
	t.Parallel()

	r := New(afero.NewMemMapFs(), &mockSession{}, nil)
	r.shell = func(context.Context, string, []string) error {
		return errors.New("exit status 1")
	}

	_, err := r.Run(context.Background(), []discovery.Script{
		{Name: "01_setup.sh", Path: "/init.d/01_setup.sh"},
	})
	require.Error(t, err)

	var sErr *ScriptError
	require.True(t, errors.As(err, &sErr))
	assert.Equal(t, "01_setup.sh", sErr.Script)
}

// cancelSession cancels the run's context after a set number of commits. Its
// transactions surface the cancellation from Exec, the way a driver aborts an
// in-flight statement when its context expires.
type cancelSession struct {
	cancel      context.CancelFunc
	cancelAfter int
	commits     int
	txs         []*cancelTx
}

type cancelTx struct {
	session    *cancelSession
	committed  bool
	rolledBack bool
}

func (s *cancelSession) Begin(_ context.Context) (Tx, error) {
	tx := &cancelTx{session: s}
	s.txs = append(s.txs, tx)
	return tx, nil
}

func (t *cancelTx) Exec(ctx context.Context, _ string) error { return ctx.Err() }

func (t *cancelTx) Commit(_ context.Context) error {
	t.committed = true
	t.session.commits++
	if t.session.commits == t.session.cancelAfter {
		t.session.cancel()
	}
	return nil
}

func (t *cancelTx) Rollback(_ context.Context) error {
	t.rolledBack = true
	return nil
}

func TestRun_CancellationRollsBackInFlightScript(t *testing.T) {
	t.Parallel()

	fsys, scripts := writeScripts(t, "01_tables.sql", "02_seed.sql", "03_indexes.sql")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session := &cancelSession{cancel: cancel, cancelAfter: 1}
	r := New(fsys, session, nil)

	outcomes, err := r.Run(ctx, scripts)
	require.Error(t, err)

	var scriptErr *ScriptError
	require.ErrorAs(t, err, &scriptErr)
	assert.Equal(t, "02_seed.sql", scriptErr.Script)
	assert.ErrorIs(t, err, context.Canceled)

	// The interrupted run behaves like a crash: the first script's commit
	// stands, the in-flight script rolls back, the rest never start.
	require.Len(t, outcomes, 2)
	require.Len(t, session.txs, 2)
	assert.True(t, session.txs[0].committed)
	assert.False(t, session.txs[1].committed)
	assert.True(t, session.txs[1].rolledBack)
}
