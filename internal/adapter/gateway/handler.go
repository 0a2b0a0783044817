package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"deskmate/internal/adapter/patternstore"
	"deskmate/internal/domain"
	"deskmate/internal/usecase/learning"
	"deskmate/internal/usecase/multiagent"
)

const (
	defaultPatternLimit = 10
	maxPatternLimit     = 100
	defaultEventLimit   = 50

	defaultInteractionLimit = 50
	maxInteractionLimit     = 1000
)

// RouteRequest is the body of POST /api/v1/route and /api/v1/handle.
type RouteRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content"`
}

// AddPatternRequest is the body of POST /api/v1/patterns. Message is
// templated the same way routed messages are.
type AddPatternRequest struct {
	AgentID    string  `json:"agent_id,omitempty"`
	Intent     string  `json:"intent"`
	Message    string  `json:"message"`
	Confidence float64 `json:"confidence,omitempty"`
}

// OutcomeResponse describes what an outcome changed.
type OutcomeResponse struct {
	Pattern   *domain.Pattern `json:"pattern,omitempty"`
	Created   bool            `json:"created"`
	Penalized string          `json:"penalized,omitempty"`
}

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	Patterns      *domain.PatternStats        `json:"patterns"`
	Pending       int                         `json:"pending"`
	Agents        int                         `json:"agents"`
	UptimeSeconds int64                       `json:"uptime_seconds"`
	Events        map[domain.EventType]uint64 `json:"events,omitempty"`
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"` // "disabled", "up" or "down"
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrSnapshotInvalid):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInteractionNotFound),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		return v, fmt.Errorf("%w: decode body: %v", domain.ErrInvalidInput, err)
	}
	return v, nil
}

func decodePayload[T any](payload json.RawMessage) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("%w: decode payload: %v", domain.ErrInvalidInput, err)
	}
	return v, nil
}

func (s *Server) route(ctx context.Context, req RouteRequest) (*domain.RoutingDecision, error) {
	return s.deps.Orchestrator.Route(ctx, domain.InboundMessage{SessionID: req.SessionID, Content: req.Content})
}

func (s *Server) outcome(ctx context.Context, out domain.Outcome) (*OutcomeResponse, error) {
	if out.InteractionID == "" {
		return nil, fmt.Errorf("%w: interaction_id is required", domain.ErrInvalidInput)
	}
	res, err := s.deps.Orchestrator.RecordOutcome(ctx, out)
	if err != nil {
		return nil, err
	}
	return outcomeResponse(res), nil
}

func outcomeResponse(res *learning.Result) *OutcomeResponse {
	if res == nil {
		return &OutcomeResponse{}
	}
	return &OutcomeResponse{Pattern: res.Pattern, Created: res.Created, Penalized: res.Penalized}
}

func (s *Server) handle(ctx context.Context, req RouteRequest) (*multiagent.HandleResult, error) {
	return s.deps.Orchestrator.Handle(ctx, domain.InboundMessage{SessionID: req.SessionID, Content: req.Content})
}

func (s *Server) stats(ctx context.Context) (*StatsResponse, error) {
	ps, err := s.deps.Learner.Stats(ctx)
	if err != nil {
		return nil, err
	}
	resp := &StatsResponse{
		Patterns:      ps,
		Pending:       s.deps.Orchestrator.Pending(),
		Agents:        len(s.deps.Orchestrator.Agents()),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if s.deps.Bus != nil {
		resp.Events = s.deps.Bus.Counts()
	}
	return resp, nil
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[RouteRequest](w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	decision, err := s.route(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	out, err := decodeBody[domain.Outcome](w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp, err := s.outcome(r.Context(), out)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHandle(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[RouteRequest](w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.handle(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Orchestrator.Agents())
}

// handlePatterns lists the best patterns of ?intent, or of every intent
// when it is absent.
func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryLimit(q.Get("limit"), defaultPatternLimit, maxPatternLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	patterns, err := s.deps.Learner.BestPatterns(r.Context(), q.Get("intent"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if patterns == nil {
		patterns = []domain.Pattern{}
	}
	writeJSON(w, http.StatusOK, patterns)
}

func (s *Server) addPattern(ctx context.Context, req AddPatternRequest) (*domain.Pattern, error) {
	p, err := s.deps.Orchestrator.DraftPattern(req.AgentID, req.Intent, req.Message)
	if err != nil {
		return nil, err
	}
	p.Confidence = req.Confidence
	return s.deps.Learner.AddPattern(ctx, p)
}

func (s *Server) handleAddPattern(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[AddPatternRequest](w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.addPattern(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleIntents(w http.ResponseWriter, r *http.Request) {
	intents, err := s.deps.Learner.Intents(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intents)
}

func (s *Server) handleInteractions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r.URL.Query().Get("limit"), defaultInteractionLimit, maxInteractionLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ins, err := s.deps.Learner.Interactions(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ins == nil {
		ins = []domain.Interaction{}
	}
	writeJSON(w, http.StatusOK, ins)
}

func queryLimit(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", domain.ErrInvalidInput)
	}
	return min(n, max), nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp, err := s.stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Store.Export(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="patterns.json"`)
	writeJSON(w, http.StatusOK, snap)
}

// handleImport loads a snapshot body. ?mode=merge keeps existing patterns;
// the default replaces the store contents.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	mode := domain.ImportReplace
	switch m := r.URL.Query().Get("mode"); m {
	case "", string(domain.ImportReplace):
	case string(domain.ImportMerge):
		mode = domain.ImportMerge
	default:
		s.writeError(w, fmt.Errorf("%w: unknown import mode %q", domain.ErrInvalidInput, m))
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: read body: %v", domain.ErrInvalidInput, err))
		return
	}
	snap, err := patternstore.DecodeSnapshot(data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.deps.Store.Import(r.Context(), snap, mode); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("snapshot imported", "mode", string(mode), "patterns", len(snap.Patterns))

	ps, err := s.deps.Store.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r.URL.Query().Get("limit"), defaultEventLimit, 1000)
	if err != nil {
		s.writeError(w, err)
		return
	}
	events := []domain.Event{}
	if s.deps.Bus != nil {
		events = append(events, s.deps.Bus.Recent(limit)...)
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Model: "disabled"}
	if s.deps.Model != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp.Model = "down"
		if s.deps.Model.IsHealthy(ctx) {
			resp.Model = "up"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- socket RPC ---

func (s *Server) rpcRoute(ctx context.Context, payload json.RawMessage) (any, error) {
	req, err := decodePayload[RouteRequest](payload)
	if err != nil {
		return nil, err
	}
	return s.route(ctx, req)
}

func (s *Server) rpcOutcome(ctx context.Context, payload json.RawMessage) (any, error) {
	out, err := decodePayload[domain.Outcome](payload)
	if err != nil {
		return nil, err
	}
	return s.outcome(ctx, out)
}

func (s *Server) rpcHandle(ctx context.Context, payload json.RawMessage) (any, error) {
	req, err := decodePayload[RouteRequest](payload)
	if err != nil {
		return nil, err
	}
	return s.handle(ctx, req)
}

func (s *Server) rpcAgents(context.Context, json.RawMessage) (any, error) {
	return s.deps.Orchestrator.Agents(), nil
}

func (s *Server) rpcStats(ctx context.Context, _ json.RawMessage) (any, error) {
	return s.stats(ctx)
}

func (s *Server) rpcAddPattern(ctx context.Context, payload json.RawMessage) (any, error) {
	req, err := decodePayload[AddPatternRequest](payload)
	if err != nil {
		return nil, err
	}
	return s.addPattern(ctx, req)
}
