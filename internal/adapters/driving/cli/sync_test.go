package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
)

// mockSyncEngine implements driving.SyncEngine for testing.
type mockSyncEngine struct {
	lastID    string
	lastOpts  domain.SyncOptions
	allCalled bool
	resets    []string
	report    *domain.SyncReport
	err       error
}

func (m *mockSyncEngine) Sync(_ context.Context, id string, opts domain.SyncOptions) (*domain.SyncReport, error) {
	m.lastID = id
	m.lastOpts = opts
	if m.report != nil {
		return m.report, m.err
	}
	return &domain.SyncReport{AccountID: id, Mode: domain.SyncModeIncremental}, m.err
}

func (m *mockSyncEngine) SyncAll(_ context.Context, opts domain.SyncOptions) error {
	m.allCalled = true
	m.lastOpts = opts
	return m.err
}

func (m *mockSyncEngine) ResetCursor(_ context.Context, id string) error {
	m.resets = append(m.resets, id)
	return nil
}

func (m *mockSyncEngine) Status(_ context.Context, id string) (*driving.SyncStatus, error) {
	return &driving.SyncStatus{AccountID: id}, nil
}

func setupSyncTest() (*mockSyncEngine, func()) {
	oldSync := syncEngine
	mock := &mockSyncEngine{}
	syncEngine = mock
	return mock, func() {
		syncEngine = oldSync
		resetFlags(syncCmd, "limit", "concurrency", "full", "reset-cursor")
	}
}

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.Execute()
	return buf.String(), err
}

func TestSyncCmd_Use(t *testing.T) {
	assert.Equal(t, "sync [account-id]", syncCmd.Use)
}

func TestSyncCmd_Long(t *testing.T) {
	assert.Contains(t, syncCmd.Long, "account ID")
	assert.Contains(t, syncCmd.Long, "change log")
}

func TestSyncCmd_ExecutesWithoutArgs(t *testing.T) {
	mock, cleanup := setupSyncTest()
	defer cleanup()

	out, err := executeCommand("sync")

	require.NoError(t, err)
	assert.True(t, mock.allCalled)
	assert.Contains(t, out, "Synchronising all accounts...")
	assert.Contains(t, out, "All accounts synchronised successfully.")
}

func TestSyncCmd_ExecutesWithAccountID(t *testing.T) {
	mock, cleanup := setupSyncTest()
	defer cleanup()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.report = &domain.SyncReport{
		AccountID:      "acc-1",
		Mode:           domain.SyncModeFull,
		FellBack:       true,
		Pages:          3,
		Fetched:        120,
		Skipped:        4,
		Tombstoned:     2,
		RateLimited:    1,
		Recommendation: "lower sync.concurrency",
		Cursor:         "c2",
		PreviousCursor: "c1",
		StartedAt:      start,
		FinishedAt:     start.Add(1500 * time.Millisecond),
	}

	out, err := executeCommand("sync", "acc-1", "--limit", "50", "--concurrency", "4", "--full")

	require.NoError(t, err)
	assert.Equal(t, "acc-1", mock.lastID)
	assert.Equal(t, domain.SyncOptions{Limit: 50, Concurrency: 4, ForceFull: true}, mock.lastOpts)
	assert.Contains(t, out, "Synchronising account: acc-1")
	assert.Contains(t, out, "full (cursor expired, fell back) sync, 3 pages")
	assert.Contains(t, out, "fetched 120, skipped 4, relabelled 0, tombstoned 2")
	assert.Contains(t, out, "rate limited 1 times")
	assert.Contains(t, out, "cursor advanced to c2")
	assert.Contains(t, out, "lower sync.concurrency")
	assert.Contains(t, out, "took 1.5s")
}

func TestSyncCmd_ResetCursor(t *testing.T) {
	mock, cleanup := setupSyncTest()
	defer cleanup()

	out, err := executeCommand("sync", "acc-2", "--reset-cursor")

	require.NoError(t, err)
	assert.Equal(t, []string{"acc-2"}, mock.resets)
	assert.Contains(t, out, "Cursor cleared for acc-2.")
}

func TestSyncCmd_NegativeLimit(t *testing.T) {
	_, cleanup := setupSyncTest()
	defer cleanup()

	_, err := executeCommand("sync", "--limit", "-1")

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSyncCmd_PropagatesError(t *testing.T) {
	mock, cleanup := setupSyncTest()
	defer cleanup()
	mock.err = domain.ErrSyncInProgress

	_, err := executeCommand("sync", "acc-1")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)
	assert.Contains(t, err.Error(), "sync failed")
}

func TestSyncCmd_NotConfigured(t *testing.T) {
	oldSync := syncEngine
	syncEngine = nil
	defer func() { syncEngine = oldSync }()

	_, err := executeCommand("sync")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync service not configured")
}

func TestPrintSyncReport_Nil(t *testing.T) {
	buf := new(bytes.Buffer)
	printSyncReport(buf, nil)
	assert.Empty(t, buf.String())
}

// resetFlags restores flag defaults between executions of the shared
// root command.
func resetFlags(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		f := cmd.Flags().Lookup(name)
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
}
