package authz

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/latch-sh/latch/internal/domain/secrets"
	"github.com/latch-sh/latch/internal/service"
)

// maxBodyBytes caps request bodies. Oversize requests get 413 and the
// connection is closed.
const maxBodyBytes = 64 * 1024

// secretBytes is the length of the per-run bearer secret.
const secretBytes = 16

// Server is the loopback authorization endpoint. It binds an ephemeral
// 127.0.0.1 port and authenticates every request with a per-run bearer
// secret handed to harnesses through their generated configs.
type Server struct {
	supervisor *service.Supervisor
	vault      secrets.Vault
	addr       string
	logger     *slog.Logger
	registry   *prometheus.Registry

	metrics  *Metrics
	secret   string
	server   *http.Server
	listener net.Listener

	mu      sync.Mutex
	started bool
}

// Option configures the server.
type Option func(*Server)

// WithAddr overrides the listen address. Default is "127.0.0.1:0", an
// ephemeral loopback port.
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithRegistry sets the Prometheus registry. A private registry is created
// when unset.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// NewServer creates the server. Vault may be nil, in which case
// /secrets/resolve resolves nothing.
func NewServer(sup *service.Supervisor, vault secrets.Vault, opts ...Option) *Server {
	s := &Server{
		supervisor: sup,
		vault:      vault,
		addr:       "127.0.0.1:0",
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the listener, generates the bearer secret, and begins
// serving in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("server already started")
	}

	secret, err := newSecret()
	if err != nil {
		return fmt.Errorf("generating secret: %w", err)
	}
	s.secret = secret

	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.metrics = NewMetrics(s.registry,
		func() float64 { return float64(len(s.supervisor.PendingApprovals())) },
		func() float64 { return float64(s.supervisor.Sessions().Len()) },
	)

	listener, err := new(net.ListenConfig).Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		// No WriteTimeout: authorize responses legitimately stay open for
		// the whole approval timeout.
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("authz server stopped", slog.Any("error", err))
		}
	}()

	s.started = true
	s.logger.Info("authz server listening",
		slog.Int("port", s.Port()),
		slog.String("secret_fingerprint", fingerprint(secret)))
	return nil
}

// Port returns the bound port, or 0 before Start.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Secret returns the per-run bearer secret.
func (s *Server) Secret() string { return s.secret }

// BaseURL returns the loopback URL harnesses should call.
func (s *Server) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.Port())
}

// Stop denies all pending approvals, then shuts the listener down. Parked
// handlers unwind first so their deny responses still go out before idle
// connections are torn down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false

	s.supervisor.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return s.server.Close()
	}
	return nil
}

// routes builds the mux. Method checks live in the handlers because every
// route is POST-only and anything else must 404 rather than 405.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/authorize/{id}", s.instrument("authorize", s.handleAuthorize))
	mux.Handle("/notify/{id}", s.instrument("notify", s.handleNotify))
	mux.Handle("/feed/{id}", s.instrument("feed", s.handleFeed))
	mux.Handle("/secrets/resolve", s.instrument("secrets_resolve", s.handleSecretsResolve))
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// instrument wraps a handler with auth, method and body-size enforcement
// plus request metrics.
func (s *Server) instrument(route string, h func(http.ResponseWriter, *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		switch {
		case r.Method != http.MethodPost:
			writeError(sw, http.StatusNotFound, "not found")
		case !s.authorized(r):
			writeError(sw, http.StatusUnauthorized, "unauthorized")
		default:
			r.Body = http.MaxBytesReader(sw, r.Body, maxBodyBytes)
			h(sw, r)
		}

		s.metrics.RequestsTotal.WithLabelValues(route, fmt.Sprintf("%d", sw.status)).Inc()
		s.metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// authorized checks the bearer header in constant time.
func (s *Server) authorized(r *http.Request) bool {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	got := header[len(prefix):]
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) == 1
}

func newSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// fingerprint is a short digest safe to log; never log the secret itself.
func fingerprint(secret string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(secret))
}

// statusWriter records the status code for metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
