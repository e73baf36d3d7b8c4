package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records outcomes across the order payment pipeline.
type PipelineMetrics struct {
	verifications  *prometheus.CounterVec
	settlements    *prometheus.HistogramVec
	payouts        *prometheus.CounterVec
	webhookEvents  *prometheus.CounterVec
	refundedAmount prometheus.Counter
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	verifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_verifications_total",
		Help: "Payment verification attempts by outcome.",
	}, []string{"outcome"})
	settlements := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_duration_seconds",
		Help:    "Duration of order settlements in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	payouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_transitions_total",
		Help: "Payout state transitions.",
	}, []string{"status"})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_webhook_events_total",
		Help: "Gateway webhook deliveries by disposition.",
	}, []string{"disposition"})
	refundedAmount := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "refunded_cents_total",
		Help: "Cumulative refunded amount in cents.",
	})
	reg.MustRegister(verifications, settlements, payouts, webhookEvents, refundedAmount)
	return &PipelineMetrics{
		verifications:  verifications,
		settlements:    settlements,
		payouts:        payouts,
		webhookEvents:  webhookEvents,
		refundedAmount: refundedAmount,
	}
}

// IncVerification increments the verification counter for the given outcome.
func (p *PipelineMetrics) IncVerification(outcome string) {
	if p == nil || p.verifications == nil {
		return
	}
	p.verifications.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveSettlement records a settlement duration by outcome.
func (p *PipelineMetrics) ObserveSettlement(outcome string, duration time.Duration) {
	if p == nil || p.settlements == nil {
		return
	}
	p.settlements.WithLabelValues(normalizeLabel(outcome)).Observe(duration.Seconds())
}

// IncPayout increments the payout transition counter for the given status.
func (p *PipelineMetrics) IncPayout(status string) {
	if p == nil || p.payouts == nil {
		return
	}
	p.payouts.WithLabelValues(normalizeLabel(status)).Inc()
}

// IncWebhookEvent increments the webhook delivery counter for the disposition.
func (p *PipelineMetrics) IncWebhookEvent(disposition string) {
	if p == nil || p.webhookEvents == nil {
		return
	}
	p.webhookEvents.WithLabelValues(normalizeLabel(disposition)).Inc()
}

// AddRefundedCents adds to the cumulative refunded amount.
func (p *PipelineMetrics) AddRefundedCents(amountCents int64) {
	if p == nil || p.refundedAmount == nil || amountCents <= 0 {
		return
	}
	p.refundedAmount.Add(float64(amountCents))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
