package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"deskmate/internal/domain"
	"deskmate/internal/infra/logger"
)

const backupPrefix = "patterns-"

// SnapshotWriter persists a snapshot to path.
type SnapshotWriter func(path string, snap *domain.PatternSnapshot) error

// Pruner drops expired conversation state and reports how much it removed.
type Pruner interface {
	Prune() int
}

// Maintenance holds the periodic store jobs.
type Maintenance struct {
	Store     domain.PatternStore
	Sessions  Pruner
	BackupDir string
	// Keep is the number of backups retained; 0 keeps them all.
	Keep   int
	Write  SnapshotWriter
	Logger *slog.Logger

	now func() time.Time
}

// Register wires the maintenance actions into s. Actions whose dependencies
// are missing are not registered.
func (m *Maintenance) Register(s *Scheduler) {
	if m.Logger == nil {
		m.Logger = logger.Discard()
	}
	if m.Store != nil {
		s.RegisterAction(ActionPatternFlush, m.Flush)
		if m.BackupDir != "" && m.Write != nil {
			s.RegisterAction(ActionPatternBackup, func(ctx context.Context) error {
				_, err := m.Backup(ctx)
				return err
			})
		}
	}
	if m.Sessions != nil {
		s.RegisterAction(ActionSessionPrune, m.PruneSessions)
	}
}

// Flush forces buffered store writes to disk.
func (m *Maintenance) Flush(ctx context.Context) error {
	return m.Store.Flush(ctx)
}

// PruneSessions drops expired session context.
func (m *Maintenance) PruneSessions(_ context.Context) error {
	if n := m.Sessions.Prune(); n > 0 {
		m.Logger.Debug("sessions pruned", "count", n)
	}
	return nil
}

// Backup exports the store into a timestamped file under BackupDir and
// removes the oldest backups beyond Keep. It returns the new file's path.
func (m *Maintenance) Backup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(m.BackupDir, 0700); err != nil {
		return "", fmt.Errorf("backup: create dir: %w", err)
	}
	snap, err := m.Store.Export(ctx)
	if err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}

	now := time.Now
	if m.now != nil {
		now = m.now
	}
	name := backupPrefix + now().UTC().Format("20060102T150405.000Z") + ".json"
	path := filepath.Join(m.BackupDir, name)
	if err := m.Write(path, snap); err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}
	m.Logger.Info("pattern backup written", "path", path, "patterns", len(snap.Patterns))

	if m.Keep > 0 {
		if err := m.rotate(); err != nil {
			m.Logger.Warn("backup rotation failed", "error", err)
		}
	}
	return path, nil
}

// Backups lists backup files, oldest first.
func (m *Maintenance) Backups() ([]string, error) {
	entries, err := os.ReadDir(m.BackupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasPrefix(e.Name(), backupPrefix) && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, filepath.Join(m.BackupDir, e.Name()))
		}
	}
	// Timestamps in the name sort lexically.
	sort.Strings(names)
	return names, nil
}

func (m *Maintenance) rotate() error {
	names, err := m.Backups()
	if err != nil {
		return err
	}
	for len(names) > m.Keep {
		if err := os.Remove(names[0]); err != nil {
			return err
		}
		names = names[1:]
	}
	return nil
}
