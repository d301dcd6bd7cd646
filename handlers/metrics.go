package handlers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kbressem/ai-template/engine"
)

// MetricsHandler exports training progress as prometheus metrics.
type MetricsHandler struct {
	epoch      prometheus.Gauge
	loss       prometheus.Gauge
	valDice    prometheus.Gauge
	iterations prometheus.Counter
	batches    prometheus.Counter
}

// NewMetricsHandler registers the collectors on reg.
func NewMetricsHandler(reg prometheus.Registerer) *MetricsHandler {
	factory := promauto.With(reg)
	return &MetricsHandler{
		epoch: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "aitemplate", Subsystem: "training",
			Name: "epoch", Help: "Current training epoch.",
		}),
		loss: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "aitemplate", Subsystem: "training",
			Name: "loss", Help: "Loss of the latest iteration.",
		}),
		valDice: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "aitemplate", Subsystem: "training",
			Name: "val_mean_dice", Help: "Validation mean Dice of the latest epoch.",
		}),
		iterations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "aitemplate", Subsystem: "training",
			Name: "iterations_total", Help: "Completed training iterations.",
		}),
		batches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "aitemplate", Subsystem: "training",
			Name: "batches_total", Help: "Fetched training batches.",
		}),
	}
}

// Attach registers the metric updates on the engine lifecycle.
func (h *MetricsHandler) Attach(e *engine.Engine) {
	e.AddEventHandler(engine.EventGetBatchCompleted, h.CountBatch)
	e.AddEventHandler(engine.EventIterationComplete, h.RecordIteration)
	e.AddEventHandler(engine.EventEpochCompleted, h.RecordEpoch)
}

func (h *MetricsHandler) CountBatch(*engine.Engine) { h.batches.Inc() }

func (h *MetricsHandler) RecordIteration(e *engine.Engine) {
	h.iterations.Inc()
	h.loss.Set(e.State.Metrics["loss"])
}

func (h *MetricsHandler) RecordEpoch(e *engine.Engine) {
	h.epoch.Set(float64(e.State.Epoch))
	h.valDice.Set(e.State.Metrics["val_mean_dice"])
}
