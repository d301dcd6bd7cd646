// Package handlers contains the event handlers attached to the training
// engine: debug batch assertions, push notifications and prometheus
// metrics.
package handlers

import (
	"go.uber.org/zap"

	"github.com/kbressem/ai-template/config"
	"github.com/kbressem/ai-template/engine"
	"github.com/kbressem/ai-template/logging"
	"github.com/kbressem/ai-template/transforms"
)

// DebugHandler inspects every fetched batch when the run is in debug mode:
// it logs batch statistics and checks the label values against the model's
// out_channels, catching label/class mismatches that would otherwise
// surface as silently wrong losses.
type DebugHandler struct {
	DebugOn bool

	cfg *config.Config
	log *zap.Logger
}

func NewDebugHandler(cfg *config.Config) *DebugHandler {
	return &DebugHandler{
		DebugOn: cfg.Debug,
		cfg:     cfg,
		log:     logging.L().Named("debug"),
	}
}

// Attach registers the batch inspections on GetBatchCompleted. The handlers
// are no-ops unless the run is in debug mode.
func (h *DebugHandler) Attach(e *engine.Engine) {
	e.AddEventHandler(engine.EventGetBatchCompleted, h.BatchStatistics)
	e.AddEventHandler(engine.EventGetBatchCompleted, h.CheckLossAndNClasses)
}

// BatchStatistics logs shape and value statistics of the current batch.
func (h *DebugHandler) BatchStatistics(e *engine.Engine) {
	if !h.DebugOn || e.State.Batch == nil {
		return
	}
	b := e.State.Batch
	img := &transforms.Volume{Data: b.Images, Shape: []int{len(b.Images)}}
	lab := &transforms.Volume{Data: b.Labels, Shape: []int{len(b.Labels)}}
	h.log.Info("batch statistics",
		zap.Int("iteration", e.State.Iteration),
		zap.Ints("image_shape", append([]int{b.Count}, b.ImageShape...)),
		zap.Float32("image_min", img.Min()),
		zap.Float64("image_mean", img.Mean()),
		zap.Float32("image_max", img.Max()),
		zap.Ints("label_shape", append([]int{b.Count}, b.LabelShape...)),
		zap.Float32s("label_unique", lab.Unique()),
	)
}

// CheckLossAndNClasses verifies that the label values in the current batch
// fit the configured number of output channels.
func (h *DebugHandler) CheckLossAndNClasses(e *engine.Engine) {
	if !h.DebugOn || e.State.Batch == nil {
		return
	}
	lab := &transforms.Volume{Data: e.State.Batch.Labels, Shape: []int{len(e.State.Batch.Labels)}}
	unique := lab.Unique()
	out := h.cfg.Model.OutChannels

	if len(unique) > out {
		h.log.Error("There are more unique values in the labels than there are `out_channels`.",
			zap.Int("out_channels", out),
			zap.Float32s("label_unique", unique))
	}
	if len(unique) > 0 && unique[len(unique)-1] > float32(out-1) {
		h.log.Error("The maximum value of labels is higher than `out_channels`.",
			zap.Int("out_channels", out),
			zap.Float32("label_max", unique[len(unique)-1]))
	}
}
