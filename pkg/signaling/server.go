package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// ServerConfig tunes the relay.
type ServerConfig struct {
	Addr         string
	Mode         string // gin mode: debug or release
	ReadLimit    int64
	PingPeriod   time.Duration
	RateLimit    int
	RateInterval time.Duration
}

func (c *ServerConfig) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8089"
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 * 1024
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = 30 * time.Second
	}
	if c.RateInterval <= 0 {
		c.RateInterval = time.Second
	}
}

// Server relays signaling frames between attached endpoints.
type Server struct {
	cfg     ServerConfig
	logger  *slog.Logger
	limiter *windowLimiter
	newID   func() string

	relayedCount metric.Int64Counter
	peerGauge    metric.Int64UpDownCounter

	mu    sync.RWMutex
	peers map[string]*peerConn

	upgrader websocket.Upgrader
}

type ServerOption func(*Server)

func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

func WithServerMeter(m metric.Meter) ServerOption {
	return func(s *Server) { s.instrument(m) }
}

func WithPeerIDGenerator(gen func() string) ServerOption {
	return func(s *Server) { s.newID = gen }
}

func NewServer(cfg ServerConfig, opts ...ServerOption) *Server {
	cfg.applyDefaults()
	s := &Server{
		cfg:     cfg,
		logger:  slog.Default().With("module", "signal"),
		limiter: newWindowLimiter(cfg.RateLimit, cfg.RateInterval),
		newID:   uuid.NewString,
		peers:   make(map[string]*peerConn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.instrument(nil)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) instrument(m metric.Meter) {
	if m == nil {
		m = noop.NewMeterProvider().Meter("peercall/signaling")
	}
	var err error
	if s.relayedCount, err = m.Int64Counter("peercall.signal.relayed",
		metric.WithDescription("Signaling frames forwarded between peers")); err != nil {
		s.relayedCount, _ = noop.NewMeterProvider().Meter("").Int64Counter("peercall.signal.relayed")
	}
	if s.peerGauge, err = m.Int64UpDownCounter("peercall.signal.peers",
		metric.WithDescription("Peers attached to the relay")); err != nil {
		s.peerGauge, _ = noop.NewMeterProvider().Meter("").Int64UpDownCounter("peercall.signal.peers")
	}
}

// Router builds the gin engine serving the relay endpoints.
func (s *Server) Router() *gin.Engine {
	if s.cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	if s.cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "peers": s.PeerCount()})
	})
	api := r.Group("/api")
	api.GET("/ws", s.handleWS)
	return r
}

// Serve runs the relay on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Signaling relay listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("relay shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ListenAndServe binds the configured address and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

func (s *Server) handleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("ws upgrade", "error", err)
		return
	}

	pc := newPeerConn(s.newID(), ws)
	s.mu.Lock()
	s.peers[pc.id] = pc
	s.mu.Unlock()
	s.peerGauge.Add(c.Request.Context(), 1)
	s.logger.Info("new WS connection", "peer", pc.id, "remote", c.Request.RemoteAddr)

	_ = pc.sendJSON(Message{Type: TypeOpen, ID: pc.id})

	go s.writePump(pc)
	go s.readPump(pc)
}

func (s *Server) detach(c *peerConn) {
	s.mu.Lock()
	_, ok := s.peers[c.id]
	delete(s.peers, c.id)
	s.mu.Unlock()
	c.Close()
	s.limiter.Forget(c.id)
	if ok {
		s.peerGauge.Add(context.Background(), -1)
	}
}

func (s *Server) closeAll() {
	s.mu.RLock()
	conns := make([]*peerConn, 0, len(s.peers))
	for _, pc := range s.peers {
		conns = append(conns, pc)
	}
	s.mu.RUnlock()
	for _, pc := range conns {
		pc.Close()
	}
}

func (s *Server) relay(from *peerConn, msg Message) {
	s.mu.RLock()
	target, ok := s.peers[msg.To]
	s.mu.RUnlock()

	if !ok || msg.To == from.id {
		s.logger.Info("relay target unavailable", "from", from.id, "to", msg.To, "type", msg.Type)
		if msg.Type != TypeLeave {
			_ = from.sendJSON(Message{Type: TypeError, Error: ErrPeerUnavailable, ConnectionID: msg.ConnectionID, From: msg.To})
		}
		return
	}

	msg.From = from.id
	msg.To = ""
	if err := target.sendJSON(msg); err != nil {
		s.logger.Warn("relay send failed", "from", from.id, "to", target.id, "error", err)
		return
	}
	s.relayedCount.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", msg.Type)))
}
