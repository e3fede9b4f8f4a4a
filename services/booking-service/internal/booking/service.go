package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/booking")

type Config struct {
	// Location interprets calendar dates and weekly windows. Defaults to UTC.
	Location *time.Location
	// TxTimeout bounds each operation when the caller's context has no deadline.
	TxTimeout time.Duration
	// MaxRetries is how many times a serialization failure or deadlock is retried.
	MaxRetries int
	// RetryBaseDelay is the first backoff interval between retries.
	RetryBaseDelay time.Duration
	Now            func() time.Time
	Cache          ScheduleCache
	Metrics        Metrics
}

// Service is the availability and booking engine. It holds no state between calls;
// the Store is the source of truth.
type Service struct {
	store   Store
	logger  *slog.Logger
	loc     *time.Location
	timeout time.Duration
	retries int
	delay   time.Duration
	now     func() time.Time
	cache   ScheduleCache
	metrics Metrics
}

func NewService(store Store, logger *slog.Logger, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 25 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		logger:  logger,
		loc:     cfg.Location,
		timeout: cfg.TxTimeout,
		retries: cfg.MaxRetries,
		delay:   cfg.RetryBaseDelay,
		now:     cfg.Now,
		cache:   cfg.Cache,
		metrics: cfg.Metrics,
	}
}

func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// update runs fn in a write transaction, retrying serialization failures and
// deadlocks with exponential backoff. Every other error ends the attempt.
func (s *Service) update(ctx context.Context, op string, fn func(Tx) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.delay
	b.Multiplier = 2
	b.MaxInterval = 20 * s.delay

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.store.Update(ctx, fn)
		if err == nil || errors.Is(err, model.ErrSerialization) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.retries)+1),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.metrics.ObserveRetry(op)
			s.logger.Warn("retrying transaction", "op", op, "err", err, "backoff_ms", next.Milliseconds())
		}),
	)
	return s.storeErr(op, err)
}

func (s *Service) view(ctx context.Context, op string, fn func(Tx) error) error {
	return s.storeErr(op, s.store.View(ctx, fn))
}

// storeErr turns infrastructure failures into *StoreUnavailableError and leaves
// business errors untouched.
func (s *Service) storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &StoreUnavailableError{Op: op, Err: err, Timeout: true}
	case errors.Is(err, context.Canceled),
		errors.Is(err, model.ErrStoreUnavailable),
		errors.Is(err, model.ErrSerialization):
		return &StoreUnavailableError{Op: op, Err: err}
	}
	return err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
