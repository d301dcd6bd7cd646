package engine

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kbressem/ai-template/transforms"
)

// MeanDice computes the mean Dice overlap between two one-hot volumes of
// identical shape, skipping the background channel. Channels empty in both
// volumes do not contribute.
func MeanDice(pred, label *transforms.Volume) (float64, error) {
	if pred.Channels() != label.Channels() {
		return 0, fmt.Errorf("pred has %d channels, label has %d", pred.Channels(), label.Channels())
	}
	pz, py, px := pred.Spatial()
	lz, ly, lx := label.Spatial()
	if pz != lz || py != ly || px != lx {
		return 0, fmt.Errorf("pred spatial shape [%d %d %d] does not match label [%d %d %d]",
			pz, py, px, lz, ly, lx)
	}

	voxels := pz * py * px
	var total float64
	channels := 0
	for c := 1; c < pred.Channels(); c++ {
		p := pred.Data[c*voxels : (c+1)*voxels]
		l := label.Data[c*voxels : (c+1)*voxels]
		var inter, sum float64
		for i := range p {
			if p[i] != 0 && l[i] != 0 {
				inter++
			}
			if p[i] != 0 {
				sum++
			}
			if l[i] != 0 {
				sum++
			}
		}
		if sum == 0 {
			continue
		}
		total += 2 * inter / sum
		channels++
	}
	if channels == 0 {
		return 0, nil
	}
	return total / float64(channels), nil
}

// MetricHistory appends per-epoch metrics to a CSV under the log
// directory. The report generator consumes the file after the run.
type MetricHistory struct {
	Path string

	file *os.File
	w    *csv.Writer
}

var metricColumns = []string{"epoch", "loss", "val_mean_dice"}

// NewMetricHistory creates logDir if needed and opens
// <logDir>/<runID>_metrics.csv with a header row.
func NewMetricHistory(logDir, runID string) (*MetricHistory, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", logDir, err)
	}
	path := filepath.Join(logDir, runID+"_metrics.csv")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create metric log %s: %w", path, err)
	}
	h := &MetricHistory{Path: path, file: f, w: csv.NewWriter(f)}
	if err := h.w.Write(metricColumns); err != nil {
		f.Close()
		return nil, fmt.Errorf("write metric log %s: %w", path, err)
	}
	return h, nil
}

// Append records one epoch.
func (h *MetricHistory) Append(epoch int, loss, valMeanDice float64) error {
	row := []string{
		strconv.Itoa(epoch),
		strconv.FormatFloat(loss, 'g', -1, 64),
		strconv.FormatFloat(valMeanDice, 'g', -1, 64),
	}
	if err := h.w.Write(row); err != nil {
		return fmt.Errorf("write metric log %s: %w", h.Path, err)
	}
	h.w.Flush()
	return h.w.Error()
}

// Close flushes and closes the underlying file.
func (h *MetricHistory) Close() error {
	h.w.Flush()
	if err := h.w.Error(); err != nil {
		h.file.Close()
		return err
	}
	return h.file.Close()
}
