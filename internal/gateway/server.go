package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/xiaoji/internal/config"
	"github.com/soyeahso/xiaoji/internal/hooks"
	"github.com/soyeahso/xiaoji/internal/logging"
	"github.com/soyeahso/xiaoji/internal/session"
	"github.com/soyeahso/xiaoji/internal/upstream"
)

var ErrClientClosed = errors.New("client connection closed")

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
)

// Chatter runs one conversation turn upstream.
type Chatter interface {
	SendQuery(ctx context.Context, conversationID, query string) (upstream.Reply, error)
}

// Recognizer transcribes audio.
type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, format string) (string, error)
}

// Server serves the widget's HTTP API and the /api/ws RPC channel.
type Server struct {
	cfg      config.Config
	log      *logging.Logger
	registry *session.Registry
	chat     Chatter
	speech   Recognizer
	validate *validator.Validate

	hub        *Hub
	methods    map[string]MethodHandler
	eventSeq   atomic.Int64
	upgrader   websocket.Upgrader
	pongWait   time.Duration
	pingPeriod time.Duration

	// Hook manager (optional, nil drops events)
	hooks *hooks.Manager

	startedAt  time.Time
	httpServer *http.Server
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// New creates a gateway server over the session registry and the upstream
// chat and speech clients.
func New(cfg config.Config, registry *session.Registry, chat Chatter, speech Recognizer, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:        cfg,
		log:        log.Sub("gateway"),
		registry:   registry,
		chat:       chat,
		speech:     speech,
		validate:   newValidator(),
		hub:        NewHub(log.Sub("hub")),
		methods:    make(map[string]MethodHandler),
		pongWait:   pongWait,
		pingPeriod: pingPeriod,
		startedAt:  time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || isOriginAllowed(origin, cfg.Gateway.AllowedOrigins)
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	return s
}

// newValidator reports fields under their json names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return v
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler MethodHandler) {
	s.methods[method] = handler
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	names := make([]string, 0, len(s.methods))
	for m := range s.methods {
		names = append(names, m)
	}
	sort.Strings(names)
	return names
}

// Handler returns the routed HTTP handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg)
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	host := "127.0.0.1"
	switch cfg.Bind {
	case "lan":
		host = "0.0.0.0"
	case "custom":
		host = cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
	}
	return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Gateway)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the server on an existing listener until ctx is cancelled,
// then closes /api/ws subscribers, drains HTTP requests and waits for
// async hook handlers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.startedAt = time.Now()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Gateway.Bind).
		Str("env", s.cfg.Env).
		Strs("methods", s.Methods()).
		Msg("gateway server ready")
	s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": ln.Addr().String()})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		s.hooks.Emit(context.Background(), hooks.EventGatewayStop, map[string]any{"uptime": time.Since(s.startedAt).Seconds()})

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.hub.CloseAll()
		err := s.httpServer.Shutdown(shutdownCtx)
		if derr := s.hooks.Drain(shutdownCtx); derr != nil {
			s.log.Warn().Err(derr).Msg("hook handlers still running at shutdown")
		}
		return err
	})
	return g.Wait()
}

// Addr returns the listen address, or "" before Serve.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}
