package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutomationMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAutomationMetrics(reg)
	m.ObserveStage("login", nil, 2*time.Second)
	m.ObserveStage("schedule", errors.New("boom"), time.Second)
	m.ObserveRun("", time.Unix(1760700000, 0))
	m.ObserveRun("timeout", time.Now())
	m.ObserveNotification(errors.New("down"))
	m.ObserveIntervention("finalizar")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("error", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifyTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.interventions.WithLabelValues("finalizar")))
	assert.Equal(t, 1760700000.0, testutil.ToFloat64(m.lastSuccess))

	families, err := reg.Gather()
	require.NoError(t, err)
	var stage *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "esus_pec_automation_stage_duration_seconds" {
			stage = f
		}
	}
	require.NotNil(t, stage)
	assert.Len(t, stage.GetMetric(), 2)
}

func TestAutomationMetricsPush(t *testing.T) {
	var body string
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/metrics/job/esus_pec_automation")
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	m := NewAutomationMetrics(nil)
	m.ObserveRun("", time.Now())
	require.NoError(t, m.Push(context.Background(), gateway.URL, "esus_pec_automation"))
	assert.NotEmpty(t, body)
}

func TestAutomationMetricsPushSkipped(t *testing.T) {
	m := NewAutomationMetrics(prometheus.NewRegistry())
	assert.NoError(t, m.Push(context.Background(), "http://127.0.0.1:1", "job"), "shared registry is not pushed")
	assert.NoError(t, NewAutomationMetrics(nil).Push(context.Background(), "", "job"))
}

func TestAutomationMetricsPushError(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gateway.Close()

	err := NewAutomationMetrics(nil).Push(context.Background(), gateway.URL, "job")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "metrics: push to gateway"))
}

func TestBotMetricsObserve(t *testing.T) {
	m := NewBotMetrics(prometheus.NewRegistry())
	m.ObserveUpdate("start")
	m.ObserveUpdate("unit")
	m.ObserveUpdate("unit")
	m.ObservePollError()
	m.ObserveRelay(nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.updatesTotal.WithLabelValues("unit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pollErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayedTotal.WithLabelValues("ok")))
}

func TestMetricsNilSafe(t *testing.T) {
	var a *AutomationMetrics
	a.ObserveStage("login", nil, time.Second)
	a.ObserveRun("", time.Now())
	a.ObserveNotification(nil)
	a.ObserveIntervention("adicionar")
	assert.NoError(t, a.Push(context.Background(), "http://x", "job"))

	var b *BotMetrics
	b.ObserveUpdate("start")
	b.ObservePollError()
	b.ObserveRelay(nil)
}
