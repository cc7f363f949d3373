// Package replication pushes committed local mutations to the remote system
// of record. Delivery is best-effort and at-most-once: a failed publish is
// logged and counted, never retried, and never reported to the writer.
package replication

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"clinicflow/pkg/domain"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Publisher delivers one mutation to a remote sink.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, m domain.Mutation) error
}

// MetricsRecorder observes publish attempts.
type MetricsRecorder interface {
	ObservePublish(publisher, result string, elapsed time.Duration)
}

// Publish results reported to MetricsRecorder.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

const (
	defaultTimeout = 10 * time.Second
	defaultRate    = 20
	defaultBurst   = 40
)

type noopMetrics struct{}

func (noopMetrics) ObservePublish(string, string, time.Duration) {}

type options struct {
	logger  zerolog.Logger
	metrics MetricsRecorder
	limit   rate.Limit
	burst   int
	timeout time.Duration
	onError func(*SyncError)
}

// Option configures an Adapter.
type Option func(*options)

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics wires a metrics sink.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithRateLimit bounds outbound publishes per second. A non-positive rate
// disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		if perSecond <= 0 {
			o.limit = rate.Inf
			return
		}
		o.limit = rate.Limit(perSecond)
		if burst > 0 {
			o.burst = burst
		}
	}
}

// WithTimeout bounds each publish attempt, including the wait for a rate token.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithErrorHandler observes failed publishes after they are logged.
func WithErrorHandler(fn func(*SyncError)) Option {
	return func(o *options) { o.onError = fn }
}

// Adapter fans committed mutations out to its publishers on background
// goroutines. It implements core.Notifier.
type Adapter struct {
	publishers []Publisher
	opts       options
	limiter    *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New builds an adapter over publishers. With no publishers every mutation is
// discarded.
func New(publishers []Publisher, opts ...Option) *Adapter {
	o := options{
		logger:  zerolog.Nop(),
		metrics: noopMetrics{},
		limit:   defaultRate,
		burst:   defaultBurst,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if len(publishers) == 0 {
		publishers = []Publisher{None{}}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		publishers: publishers,
		opts:       o,
		limiter:    rate.NewLimiter(o.limit, o.burst),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Publishers lists the configured publisher names.
func (a *Adapter) Publishers() []string {
	out := make([]string, 0, len(a.publishers))
	for _, p := range a.publishers {
		out = append(out, p.Name())
	}
	return out
}

// Notify schedules m for delivery and returns immediately. Mutations arriving
// after Close are dropped.
func (a *Adapter) Notify(m domain.Mutation) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.opts.logger.Debug().Str("id", m.ID).Str("rev", m.Revision).Msg("sync adapter closed; mutation dropped")
		return
	}
	for _, p := range a.publishers {
		if _, ok := p.(None); ok {
			continue
		}
		a.wg.Add(1)
		go a.publish(p, m)
	}
}

func (a *Adapter) publish(p Publisher, m domain.Mutation) {
	defer a.wg.Done()
	ctx, cancel := context.WithTimeout(a.ctx, a.opts.timeout)
	defer cancel()

	start := time.Now()
	err := a.limiter.Wait(ctx)
	if err == nil {
		err = p.Publish(ctx, m)
	}
	elapsed := time.Since(start)
	if err != nil {
		se := &SyncError{Publisher: p.Name(), Kind: m.Kind, ID: m.ID, Revision: m.Revision, Err: err}
		a.opts.metrics.ObservePublish(p.Name(), ResultError, elapsed)
		a.opts.logger.Warn().Err(err).
			Str("publisher", p.Name()).
			Str("kind", string(m.Kind)).
			Str("id", m.ID).
			Str("rev", m.Revision).
			Msg("sync publish failed")
		if a.opts.onError != nil {
			a.opts.onError(se)
		}
		return
	}
	a.opts.metrics.ObservePublish(p.Name(), ResultOK, elapsed)
	a.opts.logger.Debug().Str("publisher", p.Name()).Str("id", m.ID).Str("rev", m.Revision).Dur("elapsed", elapsed).Msg("sync published")
}

// Close stops accepting mutations and waits for in-flight publishes. If ctx
// ends first, outstanding publishes are cancelled. Publishers implementing
// io.Closer are closed afterwards.
func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		a.cancel()
		<-done
		waitErr = ctx.Err()
	}
	a.cancel()

	errs := []error{waitErr}
	for _, p := range a.publishers {
		if c, ok := p.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
