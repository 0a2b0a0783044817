// Package learning turns interaction outcomes into reusable patterns.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"deskmate/internal/domain"
	"deskmate/internal/infra/logger"
)

// CorrectionConfidence seeds patterns created from a corrected intent.
const CorrectionConfidence = 0.7

// Result describes what one Learn call changed.
type Result struct {
	Pattern *domain.Pattern // nil when no pattern was touched
	Created bool
	// Penalized is the ID of a pattern that led to a corrected intent.
	Penalized string
}

// Learner applies interactions to a PatternStore.
type Learner struct {
	store  domain.PatternStore
	seed   float64
	bus    domain.EventBus
	logger *slog.Logger
	now    func() time.Time

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Option configures a Learner.
type Option func(*Learner)

// WithSeedConfidence sets the confidence of newly created patterns.
func WithSeedConfidence(c float64) Option {
	return func(l *Learner) {
		if c > 0 && c <= 1 {
			l.seed = c
		}
	}
}

// WithEventBus publishes pattern.learned and pattern.updated events.
func WithEventBus(bus domain.EventBus) Option {
	return func(l *Learner) { l.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Learner) {
		if log != nil {
			l.logger = log
		}
	}
}

// New creates a Learner on store.
func New(store domain.PatternStore, opts ...Option) *Learner {
	l := &Learner{
		store:   store,
		seed:    domain.DefaultSeedConfidence,
		logger:  logger.Discard(),
		now:     func() time.Time { return time.Now().UTC() },
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Learn records in and updates the pattern for its template and intent, all
// in one store transaction:
//
//   - a known (agent, intent, template) pattern gains one use, and one
//     success when in.Success is set;
//   - an unknown one is created only for a successful interaction;
//   - empty templates only append the interaction.
//
// When the resolved intent corrects a detected intent that came from a
// stored pattern, that pattern is charged one failed use.
func (l *Learner) Learn(ctx context.Context, in domain.Interaction) (*Result, error) {
	if in.Timestamp.IsZero() {
		in.Timestamp = l.now()
	}
	intent := in.Intent()
	template := strings.TrimSpace(in.Template)
	corrected := in.ResolvedIntent != "" && in.DetectedIntent != "" && in.ResolvedIntent != in.DetectedIntent

	var res Result
	err := l.store.Update(ctx, func(tx domain.PatternTx) error {
		res = Result{}

		if corrected && in.PatternID != "" {
			if p, ok := tx.Get(in.PatternID); ok && p.Intent == in.DetectedIntent {
				p.UsageCount++
				p.LastUsedAt = in.Timestamp
				if err := tx.Put(p); err != nil {
					return err
				}
				res.Penalized = p.ID
			}
		}

		record := in
		record.PatternID = ""
		if template != "" && intent != "" {
			if p, ok := tx.FindTemplate(in.AgentID, intent, template); ok {
				p.UsageCount++
				if in.Success {
					p.SuccessCount++
				}
				p.LastUsedAt = in.Timestamp
				if err := tx.Put(p); err != nil {
					return err
				}
				res.Pattern = &p
			} else if in.Success {
				conf := l.seed
				if corrected {
					conf = min(conf, CorrectionConfidence)
				}
				p := domain.Pattern{
					ID:           l.newID(in.Timestamp),
					AgentID:      in.AgentID,
					Intent:       intent,
					Template:     template,
					Confidence:   conf,
					UsageCount:   1,
					SuccessCount: 1,
					CreatedAt:    in.Timestamp,
					LastUsedAt:   in.Timestamp,
				}
				if err := tx.Put(p); err != nil {
					return err
				}
				res.Pattern = &p
				res.Created = true
			}
		}
		if res.Pattern != nil {
			record.PatternID = res.Pattern.ID
		}
		return tx.AppendInteraction(record)
	})
	if err != nil {
		return nil, fmt.Errorf("learn from interaction %s: %w", in.ID, err)
	}

	l.report(ctx, in, &res)
	return &res, nil
}

// Record appends in to the interaction log without touching any pattern.
func (l *Learner) Record(ctx context.Context, in domain.Interaction) (*Result, error) {
	if in.Timestamp.IsZero() {
		in.Timestamp = l.now()
	}
	in.PatternID = ""
	err := l.store.Update(ctx, func(tx domain.PatternTx) error {
		return tx.AppendInteraction(in)
	})
	if err != nil {
		return nil, fmt.Errorf("record interaction %s: %w", in.ID, err)
	}
	return &Result{}, nil
}

func (l *Learner) report(ctx context.Context, in domain.Interaction, res *Result) {
	if res.Penalized != "" {
		l.logger.Info("pattern charged for corrected intent",
			"pattern_id", res.Penalized, "detected", in.DetectedIntent, "resolved", in.ResolvedIntent)
	}
	if res.Pattern == nil {
		return
	}
	p := res.Pattern
	evType := domain.EventPatternUpdated
	if res.Created {
		evType = domain.EventPatternLearned
		l.logger.Info("pattern learned", "pattern_id", p.ID, "agent_id", p.AgentID, "intent", p.Intent, "template", p.Template)
	} else {
		l.logger.Debug("pattern updated", "pattern_id", p.ID, "usage", p.UsageCount, "success", p.SuccessCount)
	}
	if l.bus != nil {
		l.bus.Publish(ctx, domain.NewEvent(evType, in.SessionID, p))
	}
}

// AddPattern stores a hand-written pattern. It counts as one successful use
// so it is trusted by the classifier straight away. A zero Confidence takes
// the seed confidence. An existing (agent, intent, template) pattern is
// reported as a duplicate.
func (l *Learner) AddPattern(ctx context.Context, p domain.Pattern) (*domain.Pattern, error) {
	p.Template = strings.TrimSpace(p.Template)
	if p.AgentID == "" || p.Intent == "" || p.Template == "" {
		return nil, fmt.Errorf("%w: a pattern needs an agent, an intent and a template", domain.ErrInvalidInput)
	}
	if p.Confidence == 0 {
		p.Confidence = l.seed
	}
	now := l.now()
	p.ID = l.newID(now)
	p.UsageCount, p.SuccessCount = 1, 1
	p.CreatedAt, p.LastUsedAt = now, now
	if err := p.Validate(); err != nil {
		return nil, err
	}

	err := l.store.Update(ctx, func(tx domain.PatternTx) error {
		if old, ok := tx.FindTemplate(p.AgentID, p.Intent, p.Template); ok {
			return fmt.Errorf("%w: pattern %s already maps this template", domain.ErrDuplicate, old.ID)
		}
		return tx.Put(p)
	})
	if err != nil {
		return nil, fmt.Errorf("add pattern: %w", err)
	}
	l.logger.Info("pattern added", "pattern_id", p.ID, "agent_id", p.AgentID, "intent", p.Intent, "template", p.Template)
	if l.bus != nil {
		l.bus.Publish(ctx, domain.NewEvent(domain.EventPatternLearned, "", p))
	}
	return &p, nil
}

// BestPatterns returns up to limit patterns of intent, best first. An empty
// intent ranks the patterns of every intent together. A limit <= 0 returns
// all of them.
func (l *Learner) BestPatterns(ctx context.Context, intent string, limit int) ([]domain.Pattern, error) {
	var (
		ps  []domain.Pattern
		err error
	)
	if intent == "" {
		ps, err = l.allPatterns(ctx)
	} else {
		ps, err = l.store.ListByIntent(ctx, intent)
	}
	if err != nil {
		return nil, fmt.Errorf("list patterns for %q: %w", intent, err)
	}
	if limit > 0 && len(ps) > limit {
		ps = ps[:limit]
	}
	return ps, nil
}

func (l *Learner) allPatterns(ctx context.Context) ([]domain.Pattern, error) {
	snap, err := l.store.Export(ctx)
	if err != nil {
		return nil, err
	}
	ps := make([]domain.Pattern, 0, len(snap.Patterns))
	for _, p := range snap.Patterns {
		ps = append(ps, p)
	}
	domain.RankPatterns(ps)
	return ps, nil
}

// Intents returns the sorted names of every intent that has a pattern.
func (l *Learner) Intents(ctx context.Context) ([]string, error) {
	snap, err := l.store.Export(ctx)
	if err != nil {
		return nil, fmt.Errorf("list intents: %w", err)
	}
	out := make([]string, 0, len(snap.Intents))
	for intent, ids := range snap.Intents {
		if len(ids) > 0 {
			out = append(out, intent)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Interactions returns up to limit logged interactions, most recent first.
func (l *Learner) Interactions(ctx context.Context, limit int) ([]domain.Interaction, error) {
	ins, err := l.store.Interactions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	return ins, nil
}

// Stats summarizes the store.
func (l *Learner) Stats(ctx context.Context) (*domain.PatternStats, error) {
	return l.store.Stats(ctx)
}

func (l *Learner) newID(t time.Time) string {
	l.idMu.Lock()
	defer l.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), l.entropy).String()
}
