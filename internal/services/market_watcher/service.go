// Package market_watcher polls a P2P market for listings inside the configured
// price band, places orders against them, records each attempt in state and
// notifies the operator.
//
// The Service owns the watcher state. Front ends change configuration through
// the inbound.Controller methods, which serialize with the poll loop on a
// single mutex. Network calls to the gateway and to notifiers happen outside
// that mutex.
package market_watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/ports/inbound"
	"github.com/archon-research/p2pwatch/internal/ports/outbound"
)

// Config holds configuration for the market watcher.
type Config struct {
	// PollInterval is the wait between cycles, and the idle wait while stopped.
	PollInterval time.Duration

	// BackoffMultiplier scales PollInterval after a cycle fails unexpectedly.
	BackoffMultiplier int

	// PageSize is the number of listings requested per cycle.
	PageSize int

	// SeenCapacity bounds the LRU of listing ids already acted on.
	SeenCapacity int

	// NotificationQueueSize bounds pending notifications. When full the oldest is dropped.
	NotificationQueueSize int

	// NotificationTimeout bounds a single delivery to a single notifier.
	NotificationTimeout time.Duration

	// SaveTimeout bounds a state save. Saves are not cancelled by shutdown.
	SaveTimeout time.Duration

	// AdminID is the operator used when no state has been stored yet.
	AdminID int64

	// Defaults seeds a fresh install. Nil means entity.DefaultState(AdminID).
	Defaults *entity.State

	// Archive, when set, receives every order attempt.
	Archive outbound.AttemptArchive

	// Metrics, when set, records cycle and delivery metrics.
	Metrics outbound.MetricsRecorder

	Logger *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

func configDefaults() Config {
	return Config{
		PollInterval:          5 * time.Second,
		BackoffMultiplier:     5,
		PageSize:              50,
		SeenCapacity:          1000,
		NotificationQueueSize: 64,
		NotificationTimeout:   10 * time.Second,
		SaveTimeout:           5 * time.Second,
		AdminID:               entity.DefaultAdminID,
		Logger:                slog.Default(),
		Now:                   time.Now,
	}
}

// Compile-time checks
var (
	_ inbound.Controller    = (*Service)(nil)
	_ inbound.HealthChecker = (*Service)(nil)
)

// Service is the market watcher: poll loop, order placement, state and
// notification dispatch.
type Service struct {
	config    Config
	store     outbound.StateRepository
	gateway   outbound.MarketGateway
	notifiers []outbound.Notifier
	metrics   outbound.MetricsRecorder

	mu    sync.Mutex
	state entity.State

	seen  *seenSet
	queue *notificationQueue

	started  atomic.Bool
	ready    atomic.Bool
	lastBeat atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	tracer trace.Tracer
	logger *slog.Logger
}

// NewService creates a market watcher. A nil gateway is allowed and puts the
// watcher in degraded mode: polling finds nothing and orders are recorded as
// failed.
func NewService(
	config Config,
	store outbound.StateRepository,
	gateway outbound.MarketGateway,
	notifiers ...outbound.Notifier,
) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("state repository cannot be nil")
	}
	for i, n := range notifiers {
		if n == nil {
			return nil, fmt.Errorf("notifier %d cannot be nil", i)
		}
	}

	defaults := configDefaults()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.SeenCapacity <= 0 {
		config.SeenCapacity = defaults.SeenCapacity
	}
	if config.NotificationQueueSize <= 0 {
		config.NotificationQueueSize = defaults.NotificationQueueSize
	}
	if config.NotificationTimeout <= 0 {
		config.NotificationTimeout = defaults.NotificationTimeout
	}
	if config.SaveTimeout <= 0 {
		config.SaveTimeout = defaults.SaveTimeout
	}
	if config.AdminID == 0 {
		config.AdminID = defaults.AdminID
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}

	seen, err := newSeenSet(config.SeenCapacity)
	if err != nil {
		return nil, fmt.Errorf("creating seen set: %w", err)
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	logger := config.Logger.With("component", "market-watcher")
	if gateway == nil {
		logger.Error("market gateway not configured; listing queries and orders are disabled")
	}

	return &Service{
		config:    config,
		store:     store,
		gateway:   gateway,
		notifiers: notifiers,
		metrics:   metrics,
		state:     initialState(config),
		seen:      seen,
		queue:     newNotificationQueue(config.NotificationQueueSize),
		tracer:    otel.Tracer("github.com/archon-research/p2pwatch/internal/services/market_watcher"),
		logger:    logger,
	}, nil
}

func initialState(config Config) entity.State {
	if config.Defaults != nil {
		st := config.Defaults.Clone()
		if st.AdminID == 0 {
			st.AdminID = config.AdminID
		}
		return st
	}
	return entity.DefaultState(config.AdminID)
}

// Start loads state, applies boot auto-start and launches the poll loop and
// the notification worker.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("market watcher already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.loadState(s.ctx); err != nil {
		s.cancel()
		s.started.Store(false)
		return fmt.Errorf("loading state: %w", err)
	}

	s.mu.Lock()
	autoStart := s.state.AutoStart || s.state.BotRunning
	s.mu.Unlock()
	if autoStart {
		if err := s.StartWatching(s.ctx); err != nil {
			s.logger.Error("auto-start failed", "error", err)
		}
	}

	s.heartbeat()
	s.wg.Add(2)
	go s.pollLoop()
	go s.notifyLoop()
	s.ready.Store(true)

	s.logger.Info("market watcher started",
		"pollInterval", s.config.PollInterval,
		"running", autoStart,
		"notifiers", len(s.notifiers))
	return nil
}

// Stop cancels the poll loop and the notification worker and waits for them.
// Notifications still queued are discarded.
func (s *Service) Stop() error {
	s.ready.Store(false)
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if pending := s.queue.Len(); pending > 0 {
		s.logger.Warn("discarding queued notifications", "count", pending)
	}
	s.logger.Info("market watcher stopped")
	return nil
}

// loadState reads persisted state. A missing document is created from
// defaults; an unreadable one is logged and replaced by defaults in memory.
func (s *Service) loadState(ctx context.Context) error {
	st, err := s.store.Load(ctx)
	switch {
	case err == nil:
	case errors.Is(err, entity.ErrStateNotFound):
		def := initialState(s.config)
		st = &def
		s.logger.Info("no stored state, using defaults")
		if err := s.saveState(ctx, *st); err != nil {
			return err
		}
	case errors.Is(err, context.Canceled):
		return err
	default:
		s.logger.Error("failed to load state, using defaults", "error", err)
		def := initialState(s.config)
		st = &def
	}

	s.mu.Lock()
	s.state = st.Clone()
	s.mu.Unlock()
	return nil
}

// saveState persists st with a timeout detached from shutdown, so that a
// decision taken just before shutdown is still written.
func (s *Service) saveState(ctx context.Context, st entity.State) error {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.SaveTimeout)
	defer cancel()
	if err := s.store.Save(saveCtx, &st); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	return nil
}

// pollLoop runs cycles until the service context is cancelled.
func (s *Service) pollLoop() {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}

		wait := s.config.PollInterval
		if _, err := s.safeCycle(s.ctx); err != nil {
			wait = s.config.PollInterval * time.Duration(s.config.BackoffMultiplier)
			s.logger.Error("cycle failed, backing off", "error", err, "backoff", wait)
		}
		s.heartbeat()
		timer.Reset(wait)
	}
}

// safeCycle runs one cycle and converts a panic into an error so the loop
// keeps running.
func (s *Service) safeCycle(ctx context.Context) (outcome CycleOutcome, err error) {
	start := s.config.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
		status := "ok"
		switch {
		case err != nil:
			status = "error"
		case outcome.Idle:
			status = "idle"
		}
		s.metrics.RecordCycle(ctx, s.config.Now().Sub(start), status)
	}()
	return s.runCycle(ctx)
}

func (s *Service) heartbeat() {
	s.lastBeat.Store(s.config.Now().UnixNano())
}

// IsReady reports whether state is loaded and the loop is running.
func (s *Service) IsReady() bool {
	return s.ready.Load()
}

// IsHealthy reports whether the poll loop has completed an iteration
// recently, idle iterations included.
func (s *Service) IsHealthy() bool {
	if !s.ready.Load() {
		return false
	}
	limit := max(3*s.config.PollInterval*time.Duration(s.config.BackoffMultiplier), 30*time.Second)
	last := time.Unix(0, s.lastBeat.Load())
	return s.config.Now().Sub(last) < limit
}

type noopMetrics struct{}

func (noopMetrics) RecordCycle(context.Context, time.Duration, string) {}
func (noopMetrics) RecordListingsFetched(context.Context, int) {}
func (noopMetrics) RecordOrderAttempt(context.Context, string) {}
func (noopMetrics) RecordNotification(context.Context, string, string) {}
func (noopMetrics) RecordNotificationDropped(context.Context) {}
