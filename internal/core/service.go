package core

import (
	"clinicflow/internal/infra/persistence/memory"
	"clinicflow/pkg/domain"
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Clock supplies timestamps for records; tests substitute a fixed clock.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// Notifier receives committed mutations. Implementations must return promptly;
// the sync adapter dispatches on its own goroutines.
type Notifier interface {
	Notify(domain.Mutation)
}

// MetricsRecorder observes store writes and workflow transitions.
type MetricsRecorder interface {
	ObservePut(kind domain.Kind, result string)
	ObserveTransition(from, to domain.EncounterStatus)
}

// Put results reported to MetricsRecorder.
const (
	PutResultOK       = "ok"
	PutResultConflict = "conflict"
	PutResultInvalid  = "invalid"
	PutResultError    = "error"
)

type serviceOptions struct {
	clock    Clock
	logger   zerolog.Logger
	notifier Notifier
	metrics  MetricsRecorder
}

// Option configures a Service.
type Option func(*serviceOptions)

// WithClock overrides the wall clock.
func WithClock(clock Clock) Option {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *serviceOptions) { o.logger = logger }
}

// WithNotifier wires the sync adapter.
func WithNotifier(n Notifier) Option {
	return func(o *serviceOptions) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithMetricsRecorder wires a metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(o *serviceOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(domain.Mutation) {}

type noopMetrics struct{}

func (noopMetrics) ObservePut(domain.Kind, string) {}
func (noopMetrics) ObserveTransition(domain.EncounterStatus, domain.EncounterStatus) {}

// Service bundles the patient registry, encounter engine and queue service
// over a single document store.
type Service struct {
	store domain.DocumentStore
	opts  serviceOptions

	Patients   *PatientRegistry
	Encounters *EncounterEngine
	Queues     *QueueService
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.DocumentStore, opts ...Option) *Service {
	o := serviceOptions{
		clock:    ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:   zerolog.Nop(),
		notifier: noopNotifier{},
		metrics:  noopMetrics{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Service{store: store, opts: o}
	s.Patients = &PatientRegistry{svc: s}
	s.Encounters = &EncounterEngine{svc: s}
	s.Queues = &QueueService{svc: s}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store. A nil
// engine installs the default rules.
func NewInMemoryService(engine *domain.RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.DocumentStore { return s.store }

// Close releases the store.
func (s *Service) Close() error { return s.store.Close() }

func (s *Service) now() time.Time { return s.opts.clock.Now() }

// commit writes doc and, on success, hands the committed record to the
// notifier. record is re-stamped with the new revision by the caller-supplied
// setter before it is published.
func (s *Service) commit(ctx context.Context, doc domain.Document, record func(rev string) any) (domain.Document, error) {
	saved, res, err := s.store.Put(ctx, doc)
	for _, v := range res.Violations {
		if v.Severity != domain.SeverityBlock {
			s.opts.logger.Warn().Str("rule", v.Rule).Str("id", v.ID).Msg(v.Message)
		}
	}
	if err != nil {
		s.opts.metrics.ObservePut(doc.Kind, putResult(err))
		return domain.Document{}, err
	}
	s.opts.metrics.ObservePut(doc.Kind, PutResultOK)

	at := s.now()
	m, err := mutationFor(saved.Kind, saved.ID, saved.Revision, record(saved.Revision), at)
	if err != nil {
		s.opts.logger.Error().Err(err).Str("id", saved.ID).Msg("build sync mutation")
		return saved, nil
	}
	s.opts.notifier.Notify(m)
	return saved, nil
}

func putResult(err error) string {
	var rve domain.RuleViolationError
	switch {
	case errors.Is(err, domain.ErrConflict):
		return PutResultConflict
	case errors.Is(err, domain.ErrValidation), errors.As(err, &rve):
		return PutResultInvalid
	default:
		return PutResultError
	}
}
