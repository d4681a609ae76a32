// ABOUTME: Gateway orchestrator that wires the store, broadcaster, sessions and HTTP server
// ABOUTME: Owns component lifecycles from startup through graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/tandem/internal/attachments"
	"github.com/2389/tandem/internal/auth"
	"github.com/2389/tandem/internal/config"
	"github.com/2389/tandem/internal/conversation"
	"github.com/2389/tandem/internal/dedupe"
	"github.com/2389/tandem/internal/metrics"
	"github.com/2389/tandem/internal/presence"
	"github.com/2389/tandem/internal/session"
	"github.com/2389/tandem/internal/sink"
	"github.com/2389/tandem/internal/store"
)

// typingCacheSize bounds the number of sessions whose typing state is remembered.
const typingCacheSize = 100_000

// Gateway orchestrates the tandem server components.
type Gateway struct {
	config      *config.Config
	store       store.Store
	verifier    auth.TokenVerifier
	registry    *conversation.Registry
	guard       *conversation.Guard
	messages    *conversation.Messages
	broadcaster *conversation.Broadcaster
	sessions    *session.Controller
	attachments *attachments.Service
	presence    presence.Tracker
	metrics     *metrics.Metrics
	httpServer  *http.Server
	logger      *slog.Logger

	// typing coalesces repeated typing indicators; nil when disabled
	typing *dedupe.Cache

	// sink streams broadcast events to Kafka; nil when disabled
	sink *sink.KafkaSink

	// sessionCtx is the parent of every live session and is canceled on shutdown
	sessionCtx     context.Context
	cancelSessions context.CancelFunc
	liveSessions   sync.WaitGroup
}

func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("TANDEM_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initAttachments builds the configured backend. mediaDir is set for the
// disk backend so the gateway can serve the files itself.
func initAttachments(ctx context.Context, cfg *config.Config) (backend attachments.Store, mediaDir string, err error) {
	a := cfg.Attachments
	switch a.Backend {
	case "s3":
		s3Store, err := attachments.NewS3Store(ctx, attachments.S3Options{
			Bucket:     a.S3.Bucket,
			Region:     a.S3.Region,
			Endpoint:   a.S3.Endpoint,
			Prefix:     a.S3.Prefix,
			PublicRead: a.S3.PublicRead,
			PresignTTL: a.S3.PresignTTL,
		})
		if err != nil {
			return nil, "", fmt.Errorf("initializing s3 attachments: %w", err)
		}
		return s3Store, "", nil
	default:
		disk, err := attachments.NewDiskStore(a.Dir, a.BaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("initializing disk attachments: %w", err)
		}
		return disk, disk.Dir(), nil
	}
}

// initPresence builds the configured tracker and the interval at which
// sessions must refresh their entry (zero when entries never expire).
func initPresence(ctx context.Context, cfg *config.Config) (presence.Tracker, time.Duration, error) {
	p := cfg.Presence
	if p.Backend != "redis" {
		return presence.NewMemoryTracker(), 0, nil
	}
	client, err := presence.DialRedis(ctx, p.Redis.Addr, p.Redis.Password, p.Redis.DB)
	if err != nil {
		return nil, 0, fmt.Errorf("initializing redis presence: %w", err)
	}
	tracker := presence.NewRedisTracker(client, p.Redis.Prefix, p.TTL)
	return tracker, tracker.TTL() / 2, nil
}

// New creates a Gateway from cfg. ctx bounds startup work such as dialing
// Redis and loading AWS credentials.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	backend, mediaDir, err := initAttachments(ctx, cfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	tracker, presenceRefresh, err := initPresence(ctx, cfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	registry := conversation.NewRegistry(s, logger)
	broadcaster := conversation.NewBroadcaster(cfg.Sessions.SendBuffer, logger)
	broadcaster.AddObserver(m)

	sessionCtx, cancelSessions := context.WithCancel(context.Background())
	gw := &Gateway{
		config:         cfg,
		store:          s,
		verifier:       verifier,
		registry:       registry,
		guard:          conversation.NewGuard(s),
		messages:       conversation.NewMessages(s, registry, logger),
		broadcaster:    broadcaster,
		attachments:    attachments.NewService(backend, cfg.Attachments.MaxSize, logger),
		presence:       tracker,
		metrics:        m,
		logger:         logger.With("component", "gateway"),
		sessionCtx:     sessionCtx,
		cancelSessions: cancelSessions,
	}

	if cfg.Events.Kafka.Enabled {
		gw.sink = sink.NewKafkaSink(cfg.Events.Kafka.Brokers, cfg.Events.Kafka.Topic, logger)
		broadcaster.AddObserver(gw.sink)
		gw.logger.Info("kafka event stream enabled", "topic", cfg.Events.Kafka.Topic)
	}

	if cfg.Sessions.TypingCoalesce > 0 {
		gw.typing = dedupe.New(cfg.Sessions.TypingCoalesce, typingCacheSize)
	}

	gw.sessions = session.NewController(session.Deps{
		Guard:       gw.guard,
		Messages:    gw.messages,
		Broadcaster: broadcaster,
		Presence:    tracker,
		Typing:      gw.typing,
		Metrics:     m,
	}, session.Options{
		WriteTimeout:    cfg.Sessions.WriteTimeout,
		InboundRate:     cfg.Sessions.InboundRate,
		InboundBurst:    cfg.Sessions.InboundBurst,
		PresenceRefresh: presenceRefresh,
	}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)
	mux.HandleFunc("GET /ws/threads/{id}", gw.handleWebSocket)
	gw.registerAPIRoutes(mux)

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}

	if mediaDir != "" && strings.HasPrefix(cfg.Attachments.BaseURL, "/") {
		prefix := "/" + strings.Trim(cfg.Attachments.BaseURL, "/") + "/"
		mux.Handle("GET "+prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(mediaDir))))
		gw.logger.Info("serving attachments", "path", prefix, "dir", mediaDir)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the HTTP server and blocks until ctx is canceled or the server
// fails, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops accepting connections, ends live sessions and releases
// every component. Sessions get until ctx expires to finish their cleanup.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.broadcaster.Close()
	g.cancelSessions()
	if err := g.waitForSessions(ctx); err != nil {
		g.logger.Warn("sessions still running at shutdown", "error", err)
	}

	if g.typing != nil {
		g.typing.Close()
	}
	if g.sink != nil {
		errs = appendCloseError(errs, "event sink close", g.sink.Close())
	}
	errs = appendCloseError(errs, "presence close", g.presence.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

func (g *Gateway) waitForSessions(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.liveSessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// handleHealth reports liveness.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports whether the store is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
