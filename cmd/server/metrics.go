package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Skufu/postop-risk/internal/bundle"
	"github.com/Skufu/postop-risk/internal/predict"
)

type serverMetrics struct {
	registry    *prometheus.Registry
	predictions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	latency     prometheus.Histogram
	reloads     *prometheus.CounterVec
	loaded      *prometheus.GaugeVec
}

func newServerMetrics() *serverMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &serverMetrics{
		registry: reg,
		predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "postop_predictions_total",
			Help: "Predictions served, by model slot and risk level.",
		}, []string{"model", "risk_level"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "postop_prediction_failures_total",
			Help: "Failed requests, by reason.",
		}, []string{"reason"}),
		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "postop_prediction_duration_seconds",
			Help:    "Time to bind, score and explain one prediction.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		reloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "postop_model_reloads_total",
			Help: "Model reloads, by result.",
		}, []string{"result"}),
		loaded: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "postop_model_loaded",
			Help: "1 when the slot has a trained model.",
		}, []string{"model"}),
	}
}

func (m *serverMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *serverMetrics) recordPrediction(slot bundle.Slot, level predict.RiskLevel, elapsed time.Duration) {
	m.predictions.WithLabelValues(string(slot), level.String()).Inc()
	m.latency.Observe(elapsed.Seconds())
}

func (m *serverMetrics) recordFailure(reason string) {
	m.failures.WithLabelValues(reason).Inc()
}

func (m *serverMetrics) recordReload(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reloads.WithLabelValues(result).Inc()
}

func (m *serverMetrics) observeModels(models *bundle.Registry) {
	for _, st := range models.Status() {
		v := 0.0
		if st.Loaded {
			v = 1
		}
		m.loaded.WithLabelValues(string(st.Slot)).Set(v)
	}
}
