package decision

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quipu/debitcheck/internal/features"
	"github.com/quipu/debitcheck/internal/idgen"
	"github.com/quipu/debitcheck/internal/logging"
	"github.com/quipu/debitcheck/internal/metrics"
	"github.com/quipu/debitcheck/internal/realtime"
	"github.com/quipu/debitcheck/internal/scoring"
	"github.com/quipu/debitcheck/internal/signals"
	"github.com/quipu/debitcheck/internal/traces"
)

const (
	// DefaultTimeout bounds one end-to-end evaluation.
	DefaultTimeout = 10 * time.Second

	// auditTimeout bounds the detached persist/publish work after the
	// response has been decided.
	auditTimeout = 5 * time.Second
)

// Service orchestrates one debit check end to end: signal fetch, feature
// build, scoring, decision, and fan-out of the resulting record.
type Service struct {
	fetcher   *signals.Fetcher
	bundle    *scoring.Bundle
	store     Store
	publisher Publisher
	hub       *realtime.Hub
	timeout   time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout overrides the default evaluation timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithPublisher attaches a broker publisher for finished decisions.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithHub attaches a realtime hub for decision broadcasts.
func WithHub(h *realtime.Hub) Option {
	return func(s *Service) { s.hub = h }
}

// NewService creates a decision service. Store may be nil; decisions are
// then returned but not audited.
func NewService(fetcher *signals.Fetcher, bundle *scoring.Bundle, store Store, opts ...Option) *Service {
	s := &Service{
		fetcher: fetcher,
		bundle:  bundle,
		store:   store,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate runs the full pipeline for one credit and returns the record.
// The same signals against the same bundle always produce the same
// probability and decision.
func (s *Service) Evaluate(ctx context.Context, creditUID string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ctx, span := traces.StartSpan(ctx, "decision.Evaluate", traces.CreditUID(creditUID))
	defer span.End()

	timer := prometheus.NewTimer(metrics.DecisionDuration)
	defer timer.ObserveDuration()

	sig, err := s.fetcher.Fetch(ctx, creditUID)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	vec, err := s.bundle.BuildFeatures(sig.Sms)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	p, err := s.bundle.Score(ctx, vec)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	rec := &Record{
		ID:               idgen.WithPrefix("dec_"),
		CreditUID:        creditUID,
		UserID:           sig.UserID,
		DeviceCount:      len(sig.Devices),
		SmsCount:         len(sig.Sms),
		FraudProbability: p,
		Decision:         Decide(p, s.bundle.Threshold),
		Threshold:        s.bundle.Threshold,
		ModelVersion:     s.bundle.Version,
		FeaturesUsed:     vec,
		EvaluatedAt:      time.Now().UTC(),
	}

	metrics.DecisionsTotal.WithLabelValues(string(rec.Decision)).Inc()
	span.SetAttributes(traces.UserID(rec.UserID), traces.Decision(string(rec.Decision)))
	logging.L(ctx).Info("debit check evaluated",
		"credit_uid", rec.CreditUID,
		"user_id", rec.UserID,
		"decision", rec.Decision,
		"fraud_probability", rec.FraudProbability,
		"sms_count", rec.SmsCount,
		"device_count", rec.DeviceCount,
		"model_version", rec.ModelVersion,
	)

	s.fanOut(rec)
	return rec, nil
}

// History returns the most recent audited decisions for a credit.
func (s *Service) History(ctx context.Context, creditUID string, limit int) ([]*Record, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.ListByCredit(ctx, creditUID, limit)
}

// fanOut persists and publishes the record off the request path
// (best-effort audit trail).
func (s *Service) fanOut(rec *Record) {
	r := *rec
	if s.store != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
			defer cancel()
			if err := s.store.Record(ctx, &r); err != nil {
				logging.L(ctx).Error("failed to audit decision",
					"error", err, "credit_uid", r.CreditUID, "decision_id", r.ID)
			}
		}()
	}
	if s.publisher != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
			defer cancel()
			_ = s.publisher.Publish(ctx, &r)
		}()
	}
	if s.hub != nil {
		s.hub.BroadcastDecision(map[string]interface{}{
			"id":                r.ID,
			"credit_uid":        r.CreditUID,
			"user_id":           r.UserID,
			"decision":          string(r.Decision),
			"fraud_probability": r.FraudProbability,
			"threshold":         r.Threshold,
			"model_version":     r.ModelVersion,
		})
	}
}

func (s *Service) fail(ctx context.Context, err error) error {
	kind := errorKind(err)
	metrics.DecisionErrorsTotal.WithLabelValues(kind).Inc()
	logging.L(ctx).Warn("debit check failed", "error", err, "kind", kind)
	return err
}

// errorKind buckets pipeline failures for metrics and HTTP mapping.
func errorKind(err error) string {
	switch {
	case errors.Is(err, signals.ErrCreditNotFound):
		return "credit_not_found"
	case errors.Is(err, signals.ErrSchemaViolation):
		return "schema_violation"
	case errors.Is(err, signals.ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, scoring.ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, scoring.ErrInference):
		return "inference_failed"
	case errors.Is(err, features.ErrFormula):
		return "formula_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}
