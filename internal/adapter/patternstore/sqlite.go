package patternstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"deskmate/internal/domain"
)

const patternColumns = "id, agent_id, intent, template, confidence, usage_count, success_count, created_at, last_used_at"

const interactionColumns = "id, session_id, agent_id, message, template, detected_intent, resolved_intent, entities, success, pattern_id, timestamp"

// SQLiteStore implements domain.PatternStore on a SQLite database.
// Every Update is one SQL transaction; writers are serialized in-process.
type SQLiteStore struct {
	db              *sql.DB
	path            string
	maxInteractions int
	logger          *slog.Logger
	bus             domain.EventBus
	now             func() time.Time

	wmu    sync.Mutex
	closed atomic.Bool
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs the
// schema migration.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("%w: sqlite store needs a path", domain.ErrInvalidInput)
	}
	o := buildOptions(opts)
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open pattern db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &SQLiteStore{
		db:              db,
		path:            dbPath,
		maxInteractions: o.maxInteractions,
		logger:          o.logger,
		bus:             o.bus,
		now:             o.now,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate pattern db: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS patterns (
			id            TEXT PRIMARY KEY,
			agent_id      TEXT NOT NULL,
			intent        TEXT NOT NULL,
			template      TEXT NOT NULL,
			confidence    REAL NOT NULL,
			usage_count   INTEGER NOT NULL DEFAULT 0,
			success_count INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL,
			last_used_at  TEXT NOT NULL,
			UNIQUE (agent_id, intent, template)
		);
		CREATE INDEX IF NOT EXISTS idx_patterns_intent ON patterns (intent);
		CREATE INDEX IF NOT EXISTS idx_patterns_template ON patterns (agent_id, template);
		CREATE TABLE IF NOT EXISTS interactions (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL,
			session_id      TEXT NOT NULL DEFAULT '',
			agent_id        TEXT NOT NULL,
			message         TEXT NOT NULL,
			template        TEXT NOT NULL DEFAULT '',
			detected_intent TEXT NOT NULL DEFAULT '',
			resolved_intent TEXT NOT NULL DEFAULT '',
			entities        TEXT NOT NULL DEFAULT 'null',
			success         INTEGER NOT NULL,
			pattern_id      TEXT NOT NULL DEFAULT '',
			timestamp       TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return err
	}
	now := formatTime(s.now())
	_, err = s.db.Exec(
		"INSERT OR IGNORE INTO metadata (key, value) VALUES ('created', ?), ('last_updated', ?), ('version', ?)",
		now, now, domain.SnapshotVersion,
	)
	return err
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Pattern, error) {
	if s.closed.Load() {
		return nil, domain.ErrStoreClosed
	}
	p, err := scanPattern(s.db.QueryRowContext(ctx, "SELECT "+patternColumns+" FROM patterns WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrPatternNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) Put(ctx context.Context, p domain.Pattern) error {
	return s.Update(ctx, func(tx domain.PatternTx) error { return tx.Put(p) })
}

func (s *SQLiteStore) ListByIntent(ctx context.Context, intent string) ([]domain.Pattern, error) {
	return s.queryPatterns(ctx, "SELECT "+patternColumns+" FROM patterns WHERE intent = ? ORDER BY rowid", intent)
}

func (s *SQLiteStore) Lookup(ctx context.Context, agentID, template string) ([]domain.Pattern, error) {
	return s.queryPatterns(ctx,
		"SELECT "+patternColumns+" FROM patterns WHERE agent_id = ? AND template = ? ORDER BY rowid",
		agentID, template)
}

func (s *SQLiteStore) queryPatterns(ctx context.Context, query string, args ...any) ([]domain.Pattern, error) {
	if s.closed.Load() {
		return nil, domain.ErrStoreClosed
	}
	ps, err := collectPatterns(s.db.QueryContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}
	domain.RankPatterns(ps)
	return ps, nil
}

func (s *SQLiteStore) Interactions(ctx context.Context, limit int) ([]domain.Interaction, error) {
	if s.closed.Load() {
		return nil, domain.ErrStoreClosed
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+interactionColumns+" FROM interactions ORDER BY seq DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	return collectInteractions(rows)
}

func (s *SQLiteStore) Stats(ctx context.Context) (*domain.PatternStats, error) {
	if s.closed.Load() {
		return nil, domain.ErrStoreClosed
	}
	var st domain.PatternStats
	var succeeded sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM patterns),
			(SELECT COUNT(DISTINCT intent) FROM patterns),
			(SELECT COUNT(*) FROM interactions),
			(SELECT SUM(success) FROM interactions)
	`).Scan(&st.TotalPatterns, &st.TotalIntents, &st.TotalInteractions, &succeeded)
	if err != nil {
		return nil, fmt.Errorf("pattern stats: %w", err)
	}
	if st.TotalInteractions > 0 {
		st.SuccessRate = float64(succeeded.Int64) / float64(st.TotalInteractions)
	}
	meta, err := s.metadata(ctx, s.db)
	if err != nil {
		return nil, err
	}
	st.LastUpdated = meta.LastUpdated
	return &st, nil
}

// Update runs fn inside one SQL transaction. Nothing is committed when fn
// or any statement fails.
func (s *SQLiteStore) Update(ctx context.Context, fn func(tx domain.PatternTx) error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed.Load() {
		return domain.ErrStoreClosed
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrStoreWrite, err)
	}
	defer sqlTx.Rollback()

	tx := &sqliteTx{ctx: ctx, tx: sqlTx}
	if err := fn(tx); err != nil {
		return err
	}
	if tx.err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, tx.err)
	}
	if tx.writes == 0 {
		return nil
	}
	if err := s.finishTx(ctx, sqlTx); err != nil {
		return err
	}
	return nil
}

// finishTx trims the interaction log, stamps last_updated and commits.
func (s *SQLiteStore) finishTx(ctx context.Context, tx *sql.Tx) error {
	if s.maxInteractions > 0 {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM interactions WHERE seq <= (SELECT MAX(seq) FROM interactions) - ?",
			s.maxInteractions); err != nil {
			return fmt.Errorf("%w: trim interactions: %v", domain.ErrStoreWrite, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE metadata SET value = ? WHERE key = 'last_updated'", formatTime(s.now())); err != nil {
		return fmt.Errorf("%w: stamp metadata: %v", domain.ErrStoreWrite, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrStoreWrite, err)
	}
	return nil
}

// Export reads the whole store in one read transaction.
func (s *SQLiteStore) Export(ctx context.Context) (*domain.PatternSnapshot, error) {
	if s.closed.Load() {
		return nil, domain.ErrStoreClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("export patterns: %w", err)
	}
	defer tx.Rollback()

	ps, err := collectPatterns(tx.QueryContext(ctx, "SELECT "+patternColumns+" FROM patterns ORDER BY rowid"))
	if err != nil {
		return nil, fmt.Errorf("export patterns: %w", err)
	}
	rows, err := tx.QueryContext(ctx, "SELECT "+interactionColumns+" FROM interactions ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("export interactions: %w", err)
	}
	ins, err := collectInteractions(rows)
	if err != nil {
		return nil, fmt.Errorf("export interactions: %w", err)
	}
	meta, err := s.metadata(ctx, tx)
	if err != nil {
		return nil, err
	}

	snap := &domain.PatternSnapshot{
		Patterns:     make(map[string]domain.Pattern, len(ps)),
		Intents:      make(map[string][]string),
		Interactions: ins,
		Metadata:     meta,
	}
	for _, p := range ps {
		snap.Patterns[p.ID] = p
		snap.Intents[p.Intent] = append(snap.Intents[p.Intent], p.ID)
	}
	return snap, nil
}

// Import replaces or merges state from snap in one transaction.
func (s *SQLiteStore) Import(ctx context.Context, snap *domain.PatternSnapshot, mode domain.ImportMode) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	if mode != domain.ImportReplace && mode != domain.ImportMerge && mode != "" {
		return fmt.Errorf("%w: unknown import mode %q", domain.ErrInvalidInput, mode)
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed.Load() {
		return domain.ErrStoreClosed
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrStoreWrite, err)
	}
	defer sqlTx.Rollback()
	tx := &sqliteTx{ctx: ctx, tx: sqlTx}

	added := 0
	if mode == domain.ImportMerge {
		for _, id := range sortedKeys(snap.Patterns) {
			p := snap.Patterns[id]
			if _, ok := tx.Get(id); ok {
				continue
			}
			if _, ok := tx.FindTemplate(p.AgentID, p.Intent, p.Template); ok {
				continue
			}
			tx.insertPattern(p)
			added++
		}
		for _, in := range snap.Interactions {
			tx.insertInteraction(in)
		}
		if tx.err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStoreWrite, tx.err)
		}
		if err := s.finishTx(ctx, sqlTx); err != nil {
			return err
		}
	} else {
		for _, table := range []string{"patterns", "interactions", "metadata"} {
			tx.exec("DELETE FROM " + table)
		}
		for _, id := range importOrder(snap) {
			tx.insertPattern(snap.Patterns[id])
			added++
		}
		for _, in := range snap.Interactions {
			tx.insertInteraction(in)
		}
		meta := snap.Metadata
		if meta.Version == "" {
			meta.Version = domain.SnapshotVersion
		}
		tx.exec("INSERT INTO metadata (key, value) VALUES ('created', ?), ('last_updated', ?), ('version', ?)",
			formatTime(meta.Created), formatTime(meta.LastUpdated), meta.Version)
		if tx.err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStoreWrite, tx.err)
		}
		if err := sqlTx.Commit(); err != nil {
			return fmt.Errorf("%w: commit: %v", domain.ErrStoreWrite, err)
		}
		mode = domain.ImportReplace
	}

	s.logger.Info("patterns imported", "mode", string(mode), "patterns", added)
	if s.bus != nil {
		s.bus.Publish(ctx, domain.NewEvent(domain.EventStoreImported, "", map[string]any{"mode": mode, "patterns": added}))
	}
	return nil
}

// importOrder lists pattern IDs so that rowid order reproduces the
// snapshot's per-intent index order.
func importOrder(snap *domain.PatternSnapshot) []string {
	intents := make([]string, 0, len(snap.Intents))
	for intent := range snap.Intents {
		intents = append(intents, intent)
	}
	sort.Strings(intents)

	seen := make(map[string]bool, len(snap.Patterns))
	order := make([]string, 0, len(snap.Patterns))
	for _, intent := range intents {
		for _, id := range snap.Intents[intent] {
			if !seen[id] {
				seen[id] = true
				order = append(order, id)
			}
		}
	}
	for _, id := range sortedKeys(snap.Patterns) {
		if !seen[id] {
			order = append(order, id)
		}
	}
	return order
}

// Flush checkpoints the write-ahead log into the main database file.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	if s.closed.Load() {
		return domain.ErrStoreClosed
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
		return fmt.Errorf("%w: checkpoint: %v", domain.ErrStoreWrite, err)
	}
	s.logger.Debug("pattern db checkpointed", "path", s.path)
	if s.bus != nil {
		s.bus.Publish(ctx, domain.NewEvent(domain.EventStoreFlushed, "", map[string]any{"path": s.path}))
	}
	return nil
}

// Close closes the database. Later calls are no-ops.
func (s *SQLiteStore) Close() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) metadata(ctx context.Context, q queryer) (domain.SnapshotMetadata, error) {
	var created, updated, version string
	err := q.QueryRowContext(ctx, `
		SELECT
			COALESCE((SELECT value FROM metadata WHERE key = 'created'), ''),
			COALESCE((SELECT value FROM metadata WHERE key = 'last_updated'), ''),
			COALESCE((SELECT value FROM metadata WHERE key = 'version'), '')
	`).Scan(&created, &updated, &version)
	if err != nil {
		return domain.SnapshotMetadata{}, fmt.Errorf("read metadata: %w", err)
	}
	meta := domain.SnapshotMetadata{Version: version}
	if meta.Created, err = parseTime(created); err != nil {
		return domain.SnapshotMetadata{}, fmt.Errorf("metadata created: %w", err)
	}
	if meta.LastUpdated, err = parseTime(updated); err != nil {
		return domain.SnapshotMetadata{}, fmt.Errorf("metadata last_updated: %w", err)
	}
	return meta, nil
}

// sqliteTx adapts *sql.Tx to domain.PatternTx. The first failing statement
// is kept in err and turns every later call into a no-op.
type sqliteTx struct {
	ctx    context.Context
	tx     *sql.Tx
	err    error
	writes int
}

func (t *sqliteTx) exec(query string, args ...any) {
	if t.err != nil {
		return
	}
	if _, err := t.tx.ExecContext(t.ctx, query, args...); err != nil {
		t.err = err
		return
	}
	t.writes++
}

func (t *sqliteTx) queryPattern(query string, args ...any) (domain.Pattern, bool) {
	if t.err != nil {
		return domain.Pattern{}, false
	}
	p, err := scanPattern(t.tx.QueryRowContext(t.ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Pattern{}, false
	}
	if err != nil {
		t.err = err
		return domain.Pattern{}, false
	}
	return p, true
}

func (t *sqliteTx) Get(id string) (domain.Pattern, bool) {
	return t.queryPattern("SELECT "+patternColumns+" FROM patterns WHERE id = ?", id)
}

func (t *sqliteTx) FindTemplate(agentID, intent, template string) (domain.Pattern, bool) {
	return t.queryPattern(
		"SELECT "+patternColumns+" FROM patterns WHERE agent_id = ? AND intent = ? AND template = ?",
		agentID, intent, template)
}

func (t *sqliteTx) Put(p domain.Pattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if other, ok := t.FindTemplate(p.AgentID, p.Intent, p.Template); ok && other.ID != p.ID {
		return fmt.Errorf("%w: pattern for agent %q intent %q template %q exists as %s",
			domain.ErrDuplicate, p.AgentID, p.Intent, p.Template, other.ID)
	}
	t.exec(`INSERT INTO patterns (`+patternColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_id = excluded.agent_id,
			intent = excluded.intent,
			template = excluded.template,
			confidence = excluded.confidence,
			usage_count = excluded.usage_count,
			success_count = excluded.success_count,
			created_at = excluded.created_at,
			last_used_at = excluded.last_used_at`,
		patternArgs(p)...)
	return t.err
}

func (t *sqliteTx) insertPattern(p domain.Pattern) {
	t.exec("INSERT INTO patterns ("+patternColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", patternArgs(p)...)
}

func (t *sqliteTx) AppendInteraction(in domain.Interaction) error {
	if in.Timestamp.IsZero() {
		return fmt.Errorf("%w: interaction %s has no timestamp", domain.ErrInvalidInput, in.ID)
	}
	t.insertInteraction(in)
	return t.err
}

func (t *sqliteTx) insertInteraction(in domain.Interaction) {
	entities, err := json.Marshal(in.Entities)
	if err != nil {
		if t.err == nil {
			t.err = fmt.Errorf("marshal entities: %w", err)
		}
		return
	}
	t.exec("INSERT INTO interactions ("+interactionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		in.ID, in.SessionID, in.AgentID, in.Message, in.Template, in.DetectedIntent, in.ResolvedIntent,
		string(entities), in.Success, in.PatternID, formatTime(in.Timestamp))
}

func patternArgs(p domain.Pattern) []any {
	return []any{
		p.ID, p.AgentID, p.Intent, p.Template, p.Confidence, p.UsageCount, p.SuccessCount,
		formatTime(p.CreatedAt), formatTime(p.LastUsedAt),
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPattern(row scanner) (domain.Pattern, error) {
	var p domain.Pattern
	var created, lastUsed string
	if err := row.Scan(&p.ID, &p.AgentID, &p.Intent, &p.Template, &p.Confidence,
		&p.UsageCount, &p.SuccessCount, &created, &lastUsed); err != nil {
		return domain.Pattern{}, err
	}
	var err error
	if p.CreatedAt, err = parseTime(created); err != nil {
		return domain.Pattern{}, fmt.Errorf("pattern %s created_at: %w", p.ID, err)
	}
	if p.LastUsedAt, err = parseTime(lastUsed); err != nil {
		return domain.Pattern{}, fmt.Errorf("pattern %s last_used_at: %w", p.ID, err)
	}
	return p, nil
}

func collectPatterns(rows *sql.Rows, err error) ([]domain.Pattern, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Pattern{}
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func collectInteractions(rows *sql.Rows) ([]domain.Interaction, error) {
	defer rows.Close()
	out := []domain.Interaction{}
	for rows.Next() {
		var in domain.Interaction
		var entities, ts string
		if err := rows.Scan(&in.ID, &in.SessionID, &in.AgentID, &in.Message, &in.Template,
			&in.DetectedIntent, &in.ResolvedIntent, &entities, &in.Success, &in.PatternID, &ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(entities), &in.Entities); err != nil {
			return nil, fmt.Errorf("unmarshal entities of interaction %s: %w", in.ID, err)
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("interaction %s timestamp: %w", in.ID, err)
		}
		in.Timestamp = t
		out = append(out, in)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime reads a stored timestamp. An empty column is the zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", domain.ErrStoreCorrupt, s)
	}
	return t, nil
}
