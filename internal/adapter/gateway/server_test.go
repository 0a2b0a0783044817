package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"deskmate/internal/adapter/patternstore"
	"deskmate/internal/domain"
	"deskmate/internal/infra/config"
	"deskmate/internal/usecase/agents"
	"deskmate/internal/usecase/classifier"
	"deskmate/internal/usecase/eventbus"
	"deskmate/internal/usecase/learning"
	"deskmate/internal/usecase/multiagent"
)

const issueMsg = "update status of issue OCPQE-30241 to done"

type stubHealth bool

func (h stubHealth) IsHealthy(context.Context) bool { return bool(h) }

func newDeps(t *testing.T) Deps {
	t.Helper()
	built, err := agents.Build(agents.Builtin(), nil, agents.GeneralID)
	require.NoError(t, err)
	reg := multiagent.NewRegistry(agents.GeneralID, nil)
	for _, a := range built {
		require.NoError(t, reg.Register(a))
	}

	store, err := patternstore.NewFileStore("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := eventbus.New(nil, eventbus.WithHistory(100))
	t.Cleanup(bus.Close)

	broker := multiagent.NewBroker(nil)
	broker.Register(agents.GeneralID, agents.NewGeneralResponder(reg.List))

	learner := learning.New(store, learning.WithEventBus(bus))
	orch, err := multiagent.New(reg, classifier.New(store, classifier.DefaultConfig()), learner,
		multiagent.DefaultConfig(), multiagent.WithEventBus(bus), multiagent.WithBroker(broker))
	require.NoError(t, err)

	return Deps{Orchestrator: orch, Learner: learner, Store: store, Bus: bus}
}

func newTestServer(t *testing.T, deps Deps, cfg config.GatewayConfig) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := NewServer(deps, cfg)
	ts := httptest.NewServer(srv.Handler(ctx))
	t.Cleanup(ts.Close)
	t.Cleanup(func() { srv.Stop(context.Background()) })
	return ts
}

func do(t *testing.T, method, url string, body any, header ...string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	case []byte:
		rd = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func routeVia(t *testing.T, ts *httptest.Server, content string) domain.RoutingDecision {
	t.Helper()
	resp, data := do(t, "POST", ts.URL+"/api/v1/route", RouteRequest{Content: content})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	return decode[domain.RoutingDecision](t, data)
}

func TestRouteEndpoint(t *testing.T) {
	ts := newTestServer(t, newDeps(t), config.GatewayConfig{})

	d := routeVia(t, ts, issueMsg)
	assert.Equal(t, agents.IssuesID, d.AgentID)
	assert.Equal(t, "update_status", d.Intent)
	assert.Equal(t, "OCPQE-30241", d.Entities.Value("issue_key"))
	assert.NotEmpty(t, d.InteractionID)
}

func TestRouteEndpointBlankContent(t *testing.T) {
	ts := newTestServer(t, newDeps(t), config.GatewayConfig{})

	d := routeVia(t, ts, "   ")
	assert.Equal(t, agents.GeneralID, d.AgentID)
	assert.Equal(t, "general_conversation", d.Intent)
	assert.Equal(t, domain.MethodFallback, d.Method)
	assert.Equal(t, domain.FallbackResponse, d.Response)
}

func TestRouteEndpointErrors(t *testing.T) {
	ts := newTestServer(t, newDeps(t), config.GatewayConfig{})

	resp, _ := do(t, "POST", ts.URL+"/api/v1/route", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, "GET", ts.URL+"/api/v1/route", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestOutcomeEndpoint(t *testing.T) {
	ts := newTestServer(t, newDeps(t), config.GatewayConfig{})
	d := routeVia(t, ts, issueMsg)

	resp, data := do(t, "POST", ts.URL+"/api/v1/outcome", domain.Outcome{InteractionID: d.InteractionID, Success: true})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	out := decode[OutcomeResponse](t, data)
	assert.True(t, out.Created)
	require.NotNil(t, out.Pattern)
	assert.Equal(t, "update_status", out.Pattern.Intent)

	resp, _ = do(t, "POST", ts.URL+"/api/v1/outcome", domain.Outcome{InteractionID: d.InteractionID, Success: true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "an outcome closes the interaction")

	resp, _ = do(t, "POST", ts.URL+"/api/v1/outcome", domain.Outcome{Success: true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOutcomeEndpointForeignIntent(t *testing.T) {
	ts := newTestServer(t, newDeps(t), config.GatewayConfig{})
	d := routeVia(t, ts, issueMsg)

	resp, _ := do(t, "POST", ts.URL+"/api/v1/outcome", domain.Outcome{
		InteractionID:  d.InteractionID,
		Success:        true,
		ResolvedIntent: "list_pods",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleEndpoint(t *testing.T) {
	ts := newTestServer(t, newDeps(t), config.GatewayConfig{})

	resp, data := do(t, "POST", ts.URL+"/api/v1/handle", RouteRequest{Content: "hello there"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	res := decode[multiagent.HandleResult](t, data)
	assert.True(t, res.Executed)
	assert.True(t, res.Result.Success)
	assert.Equal(t, "Hello! How can I help you today?", res.Result.Response)
	assert.Equal(t, agents.GeneralID, res.Decision.AgentID)
}

func TestAgentsEndpoint(t *testing.T) {
	ts := newTestServer(t, newDeps(t), config.GatewayConfig{})

	resp, data := do(t, "GET", ts.URL+"/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]domain.AgentInfo](t, data)
	ids := make([]string, len(list))
	for i, a := range list {
		ids[i] = a.ID
	}
	assert.ElementsMatch(t, []string{
		agents.IssuesID, agents.ClusterID, agents.CodeReviewID,
		agents.MailID, agents.CalendarID, agents.GeneralID,
	}, ids)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestPatternsEndpoint(t *testing.T) {
	ts := newTestServer(t, newDeps(t), config.GatewayConfig{})

	resp, data := do(t, "GET", ts.URL+"/api/v1/patterns?intent=update_status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(data))

	d := routeVia(t, ts, issueMsg)
	do(t, "POST", ts.URL+"/api/v1/outcome", domain.Outcome{InteractionID: d.InteractionID, Success: true})

	resp, data = do(t, "GET", ts.URL+"/api/v1/patterns?intent=update_status&limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	patterns := decode[[]domain.Pattern](t, data)
	require.Len(t, patterns, 1)
	assert.Equal(t, agents.IssuesID, patterns[0].AgentID)

	resp, _ = do(t, "GET", ts.URL+"/api/v1/patterns?intent=x&limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPatternsEndpointAcrossIntents(t *testing.T) {
	ts := newTestServer(t, newDeps(t), config.GatewayConfig{})

	good := routeVia(t, ts, issueMsg)
	do(t, "POST", ts.URL+"/api/v1/outcome", domain.Outcome{InteractionID: good.InteractionID, Success: true})
	mail := routeVia(t, ts, "list my unread emails")
	do(t, "POST", ts.URL+"/api/v1/outcome", domain.Outcome{InteractionID: mail.InteractionID, Success: true})
	mail = routeVia(t, ts, "list my unread emails")
	do(t, "POST", ts.URL+"/api/v1/outcome", domain.Outcome{InteractionID: mail.InteractionID, Success: false})

	resp, data := do(t, "GET", ts.URL+"/api/v1/patterns", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	patterns := decode[[]domain.Pattern](t, data)
	require.Len(t, patterns, 2)
	assert.Equal(t, "update_status", patterns[0].Intent, "the fully successful pattern ranks first")
	assert.Equal(t, agents.MailID, patterns[1].AgentID)

	resp, data = do(t, "GET", ts.URL+"/api/v1/patterns?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]domain.Pattern](t, data), 1)
}

func TestAddPatternEndpoint(t *testing.T) {
	ts := newTestServer(t, newDeps(t), config.GatewayConfig{})

	resp, data := do(t, "POST", ts.URL+"/api/v1/patterns", AddPatternRequest{
		Intent:  "update_status",
		Message: "flip OCPQE-77 over to done",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	p := decode[domain.Pattern](t, data)
	assert.Equal(t, agents.IssuesID, p.AgentID, "the agent serving the intent is chosen")
	assert.Contains(t, p.Template, "[ISSUE_KEY]")
	assert.NotContains(t, p.Template, "OCPQE-77")

	// The same phrasing with another key now routes through the pattern.
	d := routeVia(t, ts, "flip OCPQE-78 over to done")
	assert.Equal(t, "update_status", d.Intent)
	assert.Equal(t, domain.MethodPattern, d.Method)
	assert.Equal(t, p.ID, d.MatchedPatternID)

	resp, _ = do(t, "POST", ts.URL+"/api/v1/patterns", AddPatternRequest{Intent: "update_status", Message: "flip OCPQE-1 over to done"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, "POST", ts.URL+"/api/v1/patterns", AddPatternRequest{Intent: "launch_rocket", Message: "go"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, "POST", ts.URL+"/api/v1/patterns", AddPatternRequest{AgentID: agents.MailID, Intent: "update_status", Message: "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, "POST", ts.URL+"/api/v1/patterns", AddPatternRequest{AgentID: "nobody", Intent: "update_status", Message: "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIntentsEndpoint(t *testing.T) {
	ts := newTestServer(t, newDeps(t), config.GatewayConfig{})

	resp, data := do(t, "GET", ts.URL+"/api/v1/intents", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(data))

	for _, msg := range []string{issueMsg, "list my unread emails"} {
		d := routeVia(t, ts, msg)
		do(t, "POST", ts.URL+"/api/v1/outcome", domain.Outcome{InteractionID: d.InteractionID, Success: true})
	}
	resp, data = do(t, "GET", ts.URL+"/api/v1/intents", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	intents := decode[[]string](t, data)
	require.Len(t, intents, 2)
	assert.IsIncreasing(t, intents)
	assert.Contains(t, intents, "update_status")
}

func TestInteractionsEndpoint(t *testing.T) {
	ts := newTestServer(t, newDeps(t), config.GatewayConfig{})

	resp, data := do(t, "GET", ts.URL+"/api/v1/interactions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(data))

	first := routeVia(t, ts, issueMsg)
	do(t, "POST", ts.URL+"/api/v1/outcome", domain.Outcome{InteractionID: first.InteractionID, Success: true})
	second := routeVia(t, ts, "asdkjasdkj")
	do(t, "POST", ts.URL+"/api/v1/outcome", domain.Outcome{InteractionID: second.InteractionID, Success: false})

	resp, data = do(t, "GET", ts.URL+"/api/v1/interactions?limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ins := decode[[]domain.Interaction](t, data)
	require.Len(t, ins, 2)
	assert.Equal(t, second.InteractionID, ins[0].ID, "most recent first")
	assert.Equal(t, first.InteractionID, ins[1].ID)
	assert.True(t, ins[1].Success)

	resp, data = do(t, "GET", ts.URL+"/api/v1/interactions?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]domain.Interaction](t, data), 1)

	resp, _ = do(t, "GET", ts.URL+"/api/v1/interactions?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t, newDeps(t), config.GatewayConfig{})
	d := routeVia(t, ts, issueMsg)
	routeVia(t, ts, "list my unread emails")
	do(t, "POST", ts.URL+"/api/v1/outcome", domain.Outcome{InteractionID: d.InteractionID, Success: true})

	resp, data := do(t, "GET", ts.URL+"/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[StatsResponse](t, data)
	require.NotNil(t, st.Patterns)
	assert.Equal(t, 1, st.Patterns.TotalPatterns)
	assert.Equal(t, 1, st.Patterns.TotalInteractions)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 6, st.Agents)
	assert.Equal(t, uint64(2), st.Events[domain.EventRoutingDecided])
}

func TestExportImportEndpoints(t *testing.T) {
	src := newTestServer(t, newDeps(t), config.GatewayConfig{})
	d := routeVia(t, src, issueMsg)
	do(t, "POST", src.URL+"/api/v1/outcome", domain.Outcome{InteractionID: d.InteractionID, Success: true})

	resp, exported := do(t, "GET", src.URL+"/api/v1/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "patterns.json")

	dstDeps := newDeps(t)
	dst := newTestServer(t, dstDeps, config.GatewayConfig{})
	resp, data := do(t, "POST", dst.URL+"/api/v1/import", exported)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	st := decode[domain.PatternStats](t, data)
	assert.Equal(t, 1, st.TotalPatterns)
	assert.Equal(t, 1, st.TotalInteractions)

	resp, data = do(t, "POST", dst.URL+"/api/v1/import?mode=merge", exported)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	st = decode[domain.PatternStats](t, data)
	assert.Equal(t, 1, st.TotalPatterns, "merge skips known pattern ids")

	resp, _ = do(t, "POST", dst.URL+"/api/v1/import?mode=upsert", exported)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, "POST", dst.URL+"/api/v1/import", `{"patterns": 7}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventsEndpoint(t *testing.T) {
	ts := newTestServer(t, newDeps(t), config.GatewayConfig{})
	routeVia(t, ts, issueMsg)

	resp, data := do(t, "GET", ts.URL+"/api/v1/events?limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[[]domain.Event](t, data)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventRoutingDecided, events[len(events)-1].Type)

	deps := newDeps(t)
	deps.Bus = nil
	bare := newTestServer(t, deps, config.GatewayConfig{})
	_, data = do(t, "GET", bare.URL+"/api/v1/events", nil)
	assert.JSONEq(t, "[]", string(data))
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name  string
		model HealthChecker
		want  string
	}{
		{"no model", nil, "disabled"},
		{"model up", stubHealth(true), "up"},
		{"model down", stubHealth(false), "down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newDeps(t)
			deps.Model = tt.model
			ts := newTestServer(t, deps, config.GatewayConfig{})
			resp, data := do(t, "GET", ts.URL+"/api/v1/health", nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			h := decode[HealthResponse](t, data)
			assert.Equal(t, "ok", h.Status)
			assert.Equal(t, tt.want, h.Model)
		})
	}
}

func TestBearerToken(t *testing.T) {
	ts := newTestServer(t, newDeps(t), config.GatewayConfig{Token: "s3cret"})

	resp, _ := do(t, "GET", ts.URL+"/api/v1/agents", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, "GET", ts.URL+"/api/v1/agents", nil, "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, "GET", ts.URL+"/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(domain.ErrEmptyMessage))
	assert.Equal(t, http.StatusBadRequest, statusFor(domain.ErrSnapshotInvalid))
	assert.Equal(t, http.StatusNotFound, statusFor(domain.ErrInteractionNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(domain.ErrDuplicate))
	assert.Equal(t, http.StatusInternalServerError, statusFor(domain.ErrStoreWrite))
}

// --- socket ---

func dialWS(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/ws"+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

// readUntil reads frames until match returns true or the deadline passes.
func readUntil(t *testing.T, ws *websocket.Conn, match func(Frame) bool) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		var f Frame
		require.NoError(t, wsjson.Read(ctx, ws, &f))
		if match(f) {
			return f
		}
	}
}

func TestSocketRPC(t *testing.T) {
	ts := newTestServer(t, newDeps(t), config.GatewayConfig{})
	ws := dialWS(t, ts, "")
	ctx := context.Background()

	payload, _ := json.Marshal(RouteRequest{SessionID: "u1", Content: issueMsg})
	require.NoError(t, wsjson.Write(ctx, ws, Frame{Type: FrameTypeRequest, ID: 1, Method: MethodRoute, Payload: payload}))

	resp := readUntil(t, ws, func(f Frame) bool { return f.Type == FrameTypeResponse && f.ID == 1 })
	require.Empty(t, resp.Error)
	d := decode[domain.RoutingDecision](t, resp.Payload)
	assert.Equal(t, agents.IssuesID, d.AgentID)
	assert.Equal(t, "u1", d.SessionID)

	payload, _ = json.Marshal(domain.Outcome{InteractionID: d.InteractionID, Success: true})
	require.NoError(t, wsjson.Write(ctx, ws, Frame{Type: FrameTypeRequest, ID: 2, Method: MethodOutcome, Payload: payload}))
	resp = readUntil(t, ws, func(f Frame) bool { return f.Type == FrameTypeResponse && f.ID == 2 })
	require.Empty(t, resp.Error)
	assert.True(t, decode[OutcomeResponse](t, resp.Payload).Created)

	require.NoError(t, wsjson.Write(ctx, ws, Frame{Type: FrameTypeRequest, ID: 3, Method: "reboot"}))
	resp = readUntil(t, ws, func(f Frame) bool { return f.Type == FrameTypeResponse && f.ID == 3 })
	assert.Contains(t, resp.Error, "unknown method")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	require.NoError(t, wsjson.Write(ctx, ws, Frame{Type: FrameTypeRequest, ID: 4, Method: MethodRoute, Payload: json.RawMessage(`"not an object"`)}))
	resp = readUntil(t, ws, func(f Frame) bool { return f.Type == FrameTypeResponse && f.ID == 4 })
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSocketStreamsEvents(t *testing.T) {
	ts := newTestServer(t, newDeps(t), config.GatewayConfig{})
	ws := dialWS(t, ts, "")

	// The upgrade completes before the client is registered; retry until an event arrives.
	got := make(chan domain.Event, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		for {
			var f Frame
			if err := wsjson.Read(ctx, ws, &f); err != nil {
				return
			}
			if f.Type != FrameTypeEvent {
				continue
			}
			var e domain.Event
			if json.Unmarshal(f.Payload, &e) == nil && e.Type == domain.EventRoutingDecided {
				got <- e
				return
			}
		}
	}()

	deadline := time.After(3 * time.Second)
	for {
		routeVia(t, ts, "show pods in namespace foo")
		select {
		case e := <-got:
			assert.False(t, e.Timestamp.IsZero())
			return
		case <-deadline:
			t.Fatal("no routing event streamed")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestSocketAuth(t *testing.T) {
	ts := newTestServer(t, newDeps(t), config.GatewayConfig{Token: "s3cret"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/ws?token=bad", nil)
	require.Error(t, err)

	ws := dialWS(t, ts, "?token=s3cret")
	require.NoError(t, wsjson.Write(context.Background(), ws, Frame{Type: FrameTypeRequest, ID: 9, Method: MethodAgents}))
	resp := readUntil(t, ws, func(f Frame) bool { return f.ID == 9 })
	assert.Empty(t, resp.Error)
	assert.Len(t, decode[[]domain.AgentInfo](t, resp.Payload), 6)
}

func TestServerStartStop(t *testing.T) {
	srv := NewServer(newDeps(t), config.GatewayConfig{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("server did not start in time")
	}
	require.NotEmpty(t, srv.BoundAddr())

	resp, err := http.Get("http://" + srv.BoundAddr() + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerListenError(t *testing.T) {
	srv := NewServer(newDeps(t), config.GatewayConfig{Addr: "256.0.0.1:bad"})
	assert.Error(t, srv.Start(context.Background()))
}
