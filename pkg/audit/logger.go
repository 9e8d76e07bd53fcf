package audit

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/invoicely/gatekeeper/pkg/async"
	"github.com/invoicely/gatekeeper/pkg/contextkeys"
	"github.com/invoicely/gatekeeper/pkg/observability"
)

const taskName = "audit.write"

// Config tunes the background writer
type Config struct {
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration
}

// DefaultConfig returns the writer defaults
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		QueueSize:    1024,
		WriteTimeout: 5 * time.Second,
	}
}

type options struct {
	metrics *observability.Metrics
	clock   clockwork.Clock
	onError async.ErrorHandler
}

// Option configures a Logger
type Option func(*options)

// WithMetrics counts writes, overflows and write latency
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock sets the clock used to stamp entries
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithErrorHandler receives durable write failures. It only feeds observability.
func WithErrorHandler(h async.ErrorHandler) Option {
	return func(o *options) { o.onError = h }
}

// Logger records audit entries. Record never blocks on the store and never fails.
type Logger struct {
	store   Store
	log     *observability.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
	timeout time.Duration
	onError async.ErrorHandler
	pool    *async.WorkerPool
}

// NewLogger creates a Logger writing to store. A nil store records to the log only.
func NewLogger(ctx context.Context, store Store, logger *observability.Logger, cfg Config, opts ...Option) *Logger {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}

	l := &Logger{
		store:   store,
		log:     logger.WithField("component", "audit"),
		metrics: o.metrics,
		clock:   o.clock,
		timeout: cfg.WriteTimeout,
		onError: o.onError,
	}

	if store != nil {
		l.pool = async.NewWorkerPool(ctx, async.PoolConfig{
			Workers:   cfg.Workers,
			QueueSize: cfg.QueueSize,
			TaskName:  taskName,
			Timeout:   cfg.WriteTimeout,
			Logger:    l.log,
			OnError:   o.onError,
		})
	}
	return l
}

// Record logs e and schedules its durable write. The request context's cancellation
// does not reach the write, but its values (request id, client IP) do.
func (l *Logger) Record(ctx context.Context, e Entry) {
	if l == nil {
		return
	}
	e = l.normalize(ctx, e)

	l.log.WithFields(e.fields()).Info("audit")

	if l.pool == nil {
		return
	}

	write := func(wctx context.Context) error { return l.write(wctx, e) }

	err := l.pool.TrySubmit(write)
	switch {
	case err == nil:
	case errors.Is(err, async.ErrQueueFull):
		if l.metrics != nil {
			l.metrics.AuditOverflowsTotal.Inc()
		}
		async.SafeGo(context.WithoutCancel(ctx), l.log, l.timeout, taskName, func(wctx context.Context) error {
			err := write(wctx)
			if err != nil && l.onError != nil {
				l.onError(taskName, err)
			}
			return err
		})
	default:
		l.count("dropped")
		l.log.WithError(err).WithField("audit_action", string(e.Action)).Warn("audit write dropped")
	}
}

func (l *Logger) normalize(ctx context.Context, e Entry) Entry {
	if e.UserID == "" {
		e.UserID = UserAnonymous
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.clock.Now().UTC()
	}
	if e.RequestID == "" {
		e.RequestID = contextkeys.GetRequestID(ctx)
	}
	if e.IPAddress == "" {
		e.IPAddress = contextkeys.GetClientIP(ctx)
	}
	return e
}

func (l *Logger) write(ctx context.Context, e Entry) error {
	start := time.Now()
	err := l.store.Append(ctx, e)
	if l.metrics != nil {
		l.metrics.AuditWriteDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		l.count("failure")
		return err
	}
	l.count("success")
	return nil
}

func (l *Logger) count(status string) {
	if l.metrics != nil {
		l.metrics.AuditWritesTotal.WithLabelValues(status).Inc()
	}
}

// Close drains queued writes, then closes the store
func (l *Logger) Close(ctx context.Context) error {
	if l == nil || l.pool == nil {
		return nil
	}
	return errors.Join(l.pool.Shutdown(ctx), l.store.Close())
}
