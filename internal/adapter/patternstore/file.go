// Package patternstore persists learned patterns and the interaction log.
//
// FileStore keeps everything in memory and flushes whole snapshots to a JSON
// file with an atomic rename. SQLiteStore keeps the same data in SQLite.
package patternstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"deskmate/internal/domain"
)

// FileStore implements domain.PatternStore over a JSON snapshot file.
// Readers share an RWMutex read lock; Update transactions run under the
// write lock and are applied only when they succeed.
type FileStore struct {
	path            string
	flushEvery      int
	maxInteractions int
	logger          *slog.Logger
	bus             domain.EventBus
	now             func() time.Time

	mu     sync.RWMutex
	st     *state
	dirty  int
	closed bool
}

// NewFileStore opens the store at path. An empty path keeps the store in
// memory only. A file that fails to parse or validate is moved aside to
// "<path>.corrupt-<timestamp>" and the store starts empty.
func NewFileStore(path string, opts ...Option) (*FileStore, error) {
	o := buildOptions(opts)
	s := &FileStore{
		path:            path,
		flushEvery:      o.flushEvery,
		maxInteractions: o.maxInteractions,
		logger:          o.logger,
		bus:             o.bus,
		now:             o.now,
	}
	s.st = newState(s.now())
	if path == "" {
		return s, nil
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	snap, err := ReadSnapshotFile(s.path)
	switch {
	case err == nil:
		s.st = stateFromSnapshot(snap)
		if s.maxInteractions > 0 {
			s.st.appendInteractions(s.maxInteractions)
		}
		s.logger.Info("pattern store loaded", "path", s.path,
			"patterns", len(s.st.patterns), "interactions", len(s.st.interactions))
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case errors.Is(err, domain.ErrSnapshotInvalid):
		backup := fmt.Sprintf("%s.corrupt-%s", s.path, s.now().Format("20060102T150405Z"))
		if rerr := os.Rename(s.path, backup); rerr != nil {
			return fmt.Errorf("%w: %v (backup failed: %v)", domain.ErrStoreCorrupt, err, rerr)
		}
		s.logger.Warn("pattern store corrupt, starting empty", "path", s.path, "backup", backup, "error", err)
		s.publish(context.Background(), domain.EventStoreRecovered, map[string]string{
			"path":   s.path,
			"backup": backup,
			"error":  err.Error(),
		})
		return nil
	default:
		return fmt.Errorf("open pattern store: %w", err)
	}
}

// Path returns the snapshot file path, empty for memory-only stores.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(_ context.Context, id string) (*domain.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrStoreClosed
	}
	p, ok := s.st.patterns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPatternNotFound, id)
	}
	return &p, nil
}

func (s *FileStore) Put(ctx context.Context, p domain.Pattern) error {
	return s.Update(ctx, func(tx domain.PatternTx) error { return tx.Put(p) })
}

func (s *FileStore) ListByIntent(_ context.Context, intent string) ([]domain.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrStoreClosed
	}
	return s.st.listByIntent(intent), nil
}

func (s *FileStore) Lookup(_ context.Context, agentID, template string) ([]domain.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrStoreClosed
	}
	return s.st.lookup(agentID, template), nil
}

func (s *FileStore) Interactions(_ context.Context, limit int) ([]domain.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrStoreClosed
	}
	return s.st.recent(limit), nil
}

func (s *FileStore) Stats(_ context.Context) (*domain.PatternStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrStoreClosed
	}
	return s.st.stats(), nil
}

func (s *FileStore) Export(_ context.Context) (*domain.PatternSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrStoreClosed
	}
	return s.st.snapshot(), nil
}

// Update runs fn against a private overlay. When fn returns nil the overlay
// is committed and, every flushEvery commits, written to disk. A failed
// write is reported but the commit stays in memory and is retried by the
// next flush.
func (s *FileStore) Update(ctx context.Context, fn func(tx domain.PatternTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrStoreClosed
	}

	tx := &fileTx{base: s.st, puts: make(map[string]domain.Pattern)}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.order) == 0 && len(tx.appended) == 0 {
		return nil
	}
	for _, id := range tx.order {
		s.st.put(tx.puts[id])
	}
	s.st.appendInteractions(s.maxInteractions, tx.appended...)
	s.st.meta.LastUpdated = s.now()
	s.dirty++

	if s.path != "" && s.dirty >= s.flushEvery {
		return s.flushLocked(ctx)
	}
	return nil
}

// Import replaces or merges state from snap and flushes immediately.
func (s *FileStore) Import(ctx context.Context, snap *domain.PatternSnapshot, mode domain.ImportMode) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrStoreClosed
	}

	added := len(snap.Patterns)
	switch mode {
	case domain.ImportReplace, "":
		s.st = stateFromSnapshot(snap)
	case domain.ImportMerge:
		added = s.st.merge(snap, s.maxInteractions)
		s.st.meta.LastUpdated = s.now()
	default:
		return fmt.Errorf("%w: unknown import mode %q", domain.ErrInvalidInput, mode)
	}
	s.dirty++
	s.logger.Info("patterns imported", "mode", string(mode), "patterns", added)
	s.publish(ctx, domain.EventStoreImported, map[string]any{"mode": mode, "patterns": added})

	if s.path != "" {
		return s.flushLocked(ctx)
	}
	return nil
}

// Flush writes pending changes to disk.
func (s *FileStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrStoreClosed
	}
	if s.path == "" || s.dirty == 0 {
		return nil
	}
	return s.flushLocked(ctx)
}

// Close flushes and rejects further use.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	var err error
	if s.path != "" && s.dirty > 0 {
		err = s.flushLocked(context.Background())
	}
	s.closed = true
	return err
}

func (s *FileStore) flushLocked(ctx context.Context) error {
	if err := WriteSnapshotFile(s.path, s.st.snapshot()); err != nil {
		s.logger.Error("pattern store flush failed", "path", s.path, "error", err)
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	flushed := s.dirty
	s.dirty = 0
	s.logger.Debug("pattern store flushed", "path", s.path, "commits", flushed)
	s.publish(ctx, domain.EventStoreFlushed, map[string]any{"path": s.path, "commits": flushed})
	return nil
}

func (s *FileStore) publish(ctx context.Context, t domain.EventType, payload any) {
	if s.bus != nil {
		s.bus.Publish(ctx, domain.NewEvent(t, "", payload))
	}
}

// fileTx overlays pending writes on the committed state.
type fileTx struct {
	base     *state
	puts     map[string]domain.Pattern
	order    []string
	appended []domain.Interaction
}

func (tx *fileTx) Get(id string) (domain.Pattern, bool) {
	if p, ok := tx.puts[id]; ok {
		return p, true
	}
	p, ok := tx.base.patterns[id]
	return p, ok
}

func (tx *fileTx) FindTemplate(agentID, intent, template string) (domain.Pattern, bool) {
	for _, id := range tx.order {
		p := tx.puts[id]
		if p.AgentID == agentID && p.Intent == intent && p.Template == template {
			return p, true
		}
	}
	p, ok := tx.base.find(agentID, intent, template)
	if !ok {
		return domain.Pattern{}, false
	}
	if _, shadowed := tx.puts[p.ID]; shadowed {
		return domain.Pattern{}, false
	}
	return p, true
}

func (tx *fileTx) Put(p domain.Pattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if other, ok := tx.FindTemplate(p.AgentID, p.Intent, p.Template); ok && other.ID != p.ID {
		return fmt.Errorf("%w: pattern for agent %q intent %q template %q exists as %s",
			domain.ErrDuplicate, p.AgentID, p.Intent, p.Template, other.ID)
	}
	if _, seen := tx.puts[p.ID]; !seen {
		tx.order = append(tx.order, p.ID)
	}
	tx.puts[p.ID] = p
	return nil
}

func (tx *fileTx) AppendInteraction(in domain.Interaction) error {
	if in.Timestamp.IsZero() {
		return fmt.Errorf("%w: interaction %s has no timestamp", domain.ErrInvalidInput, in.ID)
	}
	tx.appended = append(tx.appended, in)
	return nil
}
