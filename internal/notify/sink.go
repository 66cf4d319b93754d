package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
)

// Sink sends fired notifications somewhere a person will see them
type Sink interface {
	Name() string
	Send(ctx context.Context, content Content) error
}

// LogSink writes notifications to the structured log
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, c Content) error {
	fields := []zap.Field{zap.String("title", c.Title), zap.String("body", c.Body)}
	for k, v := range c.Data {
		fields = append(fields, zap.String(k, v))
	}
	s.logger.Info("Reminder", fields...)
	return nil
}

// GuardedSink rate-limits a remote sink and trips a circuit breaker after
// repeated failures.
type GuardedSink struct {
	sink    Sink
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// Guard wraps a remote sink. perMinute <= 0 disables the rate limit.
func Guard(sink Sink, perMinute int, logger *zap.Logger) *GuardedSink {
	limit := rate.Inf
	burst := 1
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
		burst = max(1, perMinute/10)
	}

	return &GuardedSink{
		sink:    sink,
		limiter: rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        sink.Name(),
			MaxRequests: 1,
			Interval:    5 * time.Minute,
			Timeout:     time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Notification sink breaker changed state",
					zap.String("sink", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
	}
}

func (g *GuardedSink) Name() string { return g.sink.Name() }

func (g *GuardedSink) Send(ctx context.Context, c Content) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit: %w", g.sink.Name(), err)
	}
	_, err := g.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, g.sink.Send(ctx, c)
	})
	return err
}

// State reports the breaker state
func (g *GuardedSink) State() gobreaker.State {
	return g.breaker.State()
}

// Dispatcher fans a fired notification out to every sink
type Dispatcher struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger *zap.Logger
}

func NewDispatcher(logger *zap.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, logger: logger}
}

// Add appends sinks for subsequent deliveries
func (d *Dispatcher) Add(sinks ...Sink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, sinks...)
	d.mu.Unlock()
}

// Sinks returns the configured sink names
func (d *Dispatcher) Sinks() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Deliver sends to all sinks. A failing sink does not stop the others.
func (d *Dispatcher) Deliver(ctx context.Context, c Content) error {
	d.mu.RLock()
	sinks := d.sinks
	d.mu.RUnlock()

	var errs error
	for _, s := range sinks {
		if err := s.Send(ctx, c); err != nil {
			d.logger.Warn("Sink delivery failed", zap.String("sink", s.Name()), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if errs != nil {
		return apperrors.WrapWith(apperrors.ErrDeliveryFailed, errs)
	}
	return nil
}
