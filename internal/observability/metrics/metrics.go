package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "esus_pec"

// AutomationMetrics tracks stage durations and run outcomes of the portal
// automation.
type AutomationMetrics struct {
	registry      *prometheus.Registry
	stageDuration *prometheus.HistogramVec
	runsTotal     *prometheus.CounterVec
	notifyTotal   *prometheus.CounterVec
	interventions *prometheus.CounterVec
	lastSuccess   prometheus.Gauge
}

// NewAutomationMetrics registers on reg, or on a private registry that Push
// can ship when reg is nil.
func NewAutomationMetrics(reg prometheus.Registerer) *AutomationMetrics {
	m := &AutomationMetrics{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each automation stage",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"stage", "status"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "runs_total",
			Help:      "Automation runs by outcome and error kind",
		}, []string{"status", "kind"}),
		notifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "notifications_total",
			Help:      "Completion notices by outcome",
		}, []string{"status"}),
		interventions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "manual_interventions_total",
			Help:      "Form steps handed to an operator",
		}, []string{"step"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run",
		}),
	}
	if reg == nil {
		m.registry = prometheus.NewRegistry()
		reg = m.registry
	}
	reg.MustRegister(m.stageDuration, m.runsTotal, m.notifyTotal, m.interventions, m.lastSuccess)
	return m
}

func (m *AutomationMetrics) ObserveStage(stage string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, status(err)).Observe(d.Seconds())
}

// ObserveRun counts a finished run; kind is empty on success.
func (m *AutomationMetrics) ObserveRun(kind string, at time.Time) {
	if m == nil {
		return
	}
	if kind == "" {
		m.runsTotal.WithLabelValues("success", "").Inc()
		m.lastSuccess.Set(float64(at.Unix()))
		return
	}
	m.runsTotal.WithLabelValues("error", kind).Inc()
}

func (m *AutomationMetrics) ObserveNotification(err error) {
	if m == nil {
		return
	}
	m.notifyTotal.WithLabelValues(status(err)).Inc()
}

func (m *AutomationMetrics) ObserveIntervention(step string) {
	if m == nil {
		return
	}
	m.interventions.WithLabelValues(step).Inc()
}

// Push sends the private registry to a Pushgateway. It is a no-op without a
// URL or when the metrics were registered elsewhere.
func (m *AutomationMetrics) Push(ctx context.Context, url, job string) error {
	if m == nil || m.registry == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: push to gateway: %w", err)
	}
	return nil
}

// BotMetrics covers the notifier bot's polling loop.
type BotMetrics struct {
	updatesTotal *prometheus.CounterVec
	pollErrors   prometheus.Counter
	relayedTotal *prometheus.CounterVec
}

func NewBotMetrics(reg prometheus.Registerer) *BotMetrics {
	m := &BotMetrics{
		updatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "updates_total",
			Help:      "Telegram updates handled by kind",
		}, []string{"kind"}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "poll_errors_total",
			Help:      "Failed getUpdates calls",
		}),
		relayedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "relayed_total",
			Help:      "Notices relayed to the group chat by outcome",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.updatesTotal, m.pollErrors, m.relayedTotal)
	return m
}

func (m *BotMetrics) ObserveUpdate(kind string) {
	if m == nil {
		return
	}
	m.updatesTotal.WithLabelValues(kind).Inc()
}

func (m *BotMetrics) ObservePollError() {
	if m == nil {
		return
	}
	m.pollErrors.Inc()
}

func (m *BotMetrics) ObserveRelay(err error) {
	if m == nil {
		return
	}
	m.relayedTotal.WithLabelValues(status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
