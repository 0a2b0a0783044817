// Package gateway exposes routing, outcome reporting and pattern
// management over HTTP, plus a websocket that streams bus events.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"deskmate/internal/domain"
	"deskmate/internal/infra/config"
	"deskmate/internal/infra/logger"
	"deskmate/internal/infra/middleware"
	"deskmate/internal/usecase/eventbus"
	"deskmate/internal/usecase/learning"
	"deskmate/internal/usecase/multiagent"
)

const (
	sendQueueSize   = 64
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
	maxBodyBytes    = 1 << 20
	maxImportBytes  = 32 << 20
)

// HealthChecker reports whether the model backend answers.
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

// Deps holds the components the gateway serves.
type Deps struct {
	Orchestrator *multiagent.Orchestrator
	Learner      *learning.Learner
	Store        domain.PatternStore
	Bus          *eventbus.Bus // can be nil
	Model        HealthChecker // can be nil (no model configured)
	Logger       *slog.Logger
}

// RPCHandler answers one socket request.
type RPCHandler func(ctx context.Context, payload json.RawMessage) (any, error)

type clientConn struct {
	ws        *websocket.Conn
	sendCh    chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (c *clientConn) close() { c.closeOnce.Do(func() { close(c.done) }) }

// Server is the HTTP gateway.
type Server struct {
	deps    Deps
	cfg     config.GatewayConfig
	logger  *slog.Logger
	started time.Time
	rpc     map[string]RPCHandler

	clients sync.Map // connID (uint64) -> *clientConn
	nextID  atomic.Uint64

	subOnce sync.Once
	unsub   func()

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
	ready     chan struct{}
}

// NewServer creates a gateway server. Nothing listens until Start.
func NewServer(deps Deps, cfg config.GatewayConfig) *Server {
	s := &Server{
		deps:    deps,
		cfg:     cfg,
		logger:  logger.Component(deps.Logger, "gateway"),
		started: time.Now(),
		ready:   make(chan struct{}),
	}
	s.rpc = map[string]RPCHandler{
		MethodRoute:   s.rpcRoute,
		MethodOutcome: s.rpcOutcome,
		MethodHandle:  s.rpcHandle,
		MethodAgents:  s.rpcAgents,
		MethodStats:   s.rpcStats,

		MethodAddPattern: s.rpcAddPattern,
	}
	return s
}

// Handler returns the routed and wrapped HTTP handler. ctx bounds the
// rate limiter's background sweeper.
func (s *Server) Handler(ctx context.Context) http.Handler {
	s.subscribe()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/route", s.handleRoute)
	mux.HandleFunc("POST /api/v1/outcome", s.handleOutcome)
	mux.HandleFunc("POST /api/v1/handle", s.handleHandle)
	mux.HandleFunc("GET /api/v1/agents", s.handleAgents)
	mux.HandleFunc("GET /api/v1/patterns", s.handlePatterns)
	mux.HandleFunc("POST /api/v1/patterns", s.handleAddPattern)
	mux.HandleFunc("GET /api/v1/intents", s.handleIntents)
	mux.HandleFunc("GET /api/v1/interactions", s.handleInteractions)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/export", s.handleExport)
	mux.HandleFunc("POST /api/v1/import", s.handleImport)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/ws", s.handleUpgrade)

	var h http.Handler = mux
	// The socket authenticates itself; browsers cannot set headers on it.
	h = middleware.BearerAuth(s.cfg.Token, "/api/v1/health", "/api/v1/ws")(h)
	h = middleware.RateLimit(ctx, s.cfg.RateLimit)(h)
	h = middleware.SecurityHeaders(h)
	h = middleware.RequestLog(s.logger)(h)
	return h
}

// Start listens on the configured address and serves until ctx is
// cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	s.mu.Lock()
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpSrv
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info("gateway started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Ready is closed once Start is listening.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// BoundAddr returns the address the server bound to. Only valid after Ready.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// Stop closes socket clients and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsub != nil {
		s.unsub()
	}
	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.close()
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// subscribe forwards every bus event to connected socket clients.
func (s *Server) subscribe() {
	if s.deps.Bus == nil {
		return
	}
	s.subOnce.Do(func() {
		s.unsub = s.deps.Bus.SubscribeAll(func(_ context.Context, event domain.Event) {
			payload, err := json.Marshal(event)
			if err != nil {
				return
			}
			frame := Frame{Type: FrameTypeEvent, Payload: payload}
			s.clients.Range(func(_, value any) bool {
				cc := value.(*clientConn)
				select {
				case cc.sendCh <- frame:
				default:
					s.logger.Warn("dropped event for slow client", "event", event.Type)
				}
				return true
			})
		})
	})
}

// socketAuthorized accepts the token as ?token= or a bearer header.
func (s *Server) socketAuthorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	got := r.URL.Query().Get("token")
	if got == "" {
		got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) == 1
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !s.socketAuthorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		ws:     ws,
		sendCh: make(chan Frame, sendQueueSize),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, cc)
	s.logger.Info("socket client connected", "conn_id", connID)

	go s.writeLoop(cc)
	s.readLoop(r.Context(), cc)

	cc.close()
	s.clients.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("socket client disconnected", "conn_id", connID)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}
		go s.dispatchRPC(ctx, cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatchRPC(ctx context.Context, cc *clientConn, req Frame) {
	resp := Frame{Type: FrameTypeResponse, ID: req.ID}

	handler, ok := s.rpc[req.Method]
	if !ok {
		resp.Error = fmt.Sprintf("unknown method %q", req.Method)
		resp.Code = http.StatusNotFound
	} else if result, err := handler(ctx, req.Payload); err != nil {
		resp.Error = err.Error()
		resp.Code = statusFor(err)
	} else if resp.Payload, err = json.Marshal(result); err != nil {
		resp.Error = "encode result"
		resp.Code = http.StatusInternalServerError
	}

	select {
	case cc.sendCh <- resp:
	default:
		s.logger.Warn("dropped response for slow client", "frame_id", req.ID)
	}
}
