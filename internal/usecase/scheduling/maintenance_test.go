package scheduling

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskmate/internal/adapter/patternstore"
	"deskmate/internal/domain"
)

type countingPruner struct{ calls int }

func (p *countingPruner) Prune() int {
	p.calls++
	return 2
}

func seededStore(t *testing.T) *patternstore.FileStore {
	t.Helper()
	store, err := patternstore.NewFileStore("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put(context.Background(), domain.Pattern{
		ID:           "01JPATTERN0000000000000001",
		AgentID:      "issues",
		Intent:       "close_issue",
		Template:     "close [ISSUE_KEY]",
		Confidence:   0.8,
		UsageCount:   1,
		SuccessCount: 1,
		CreatedAt:    now,
		LastUsedAt:   now,
	}))
	return store
}

func TestMaintenanceBackupRotates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "backups")
	m := &Maintenance{
		Store:     seededStore(t),
		BackupDir: dir,
		Keep:      2,
		Write:     patternstore.WriteSnapshotFile,
	}
	clock := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	var paths []string
	for i := 0; i < 3; i++ {
		path, err := m.Backup(context.Background())
		require.NoError(t, err)
		paths = append(paths, path)
		clock = clock.Add(time.Hour)
	}

	got, err := m.Backups()
	require.NoError(t, err)
	assert.Equal(t, paths[1:], got)

	snap, err := patternstore.ReadSnapshotFile(got[1])
	require.NoError(t, err)
	assert.Len(t, snap.Patterns, 1)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestMaintenanceBackupsMissingDir(t *testing.T) {
	m := &Maintenance{BackupDir: filepath.Join(t.TempDir(), "none")}
	got, err := m.Backups()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMaintenanceRegister(t *testing.T) {
	pruner := &countingPruner{}
	m := &Maintenance{
		Store:     seededStore(t),
		Sessions:  pruner,
		BackupDir: t.TempDir(),
		Write:     patternstore.WriteSnapshotFile,
	}
	s := NewScheduler(nil)
	m.Register(s)

	ctx := context.Background()
	for _, a := range []ScheduledAction{ActionPatternFlush, ActionPatternBackup, ActionSessionPrune} {
		assert.NoError(t, s.RunNow(ctx, a), a)
	}
	assert.Equal(t, 1, pruner.calls)

	backups, err := m.Backups()
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestMaintenanceRegisterSkipsMissingDeps(t *testing.T) {
	m := &Maintenance{Store: seededStore(t)}
	s := NewScheduler(nil)
	m.Register(s)

	assert.NoError(t, s.RunNow(context.Background(), ActionPatternFlush))
	assert.Error(t, s.RunNow(context.Background(), ActionPatternBackup))
	assert.Error(t, s.RunNow(context.Background(), ActionSessionPrune))
}
