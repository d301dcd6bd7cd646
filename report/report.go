// Package report renders a markdown summary of one training run from the
// metric history the trainer wrote to the log directory.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/plot/plotter"
)

// Generator writes <out_dir>/<run_id>_report.md plus the metric charts it
// references.
type Generator struct {
	RunID  string
	OutDir string
	LogDir string
}

func NewGenerator(runID, outDir, logDir string) *Generator {
	return &Generator{RunID: runID, OutDir: outDir, LogDir: logDir}
}

type metricRow struct {
	Epoch int
	Loss  float64
	Dice  float64
}

// Generate reads the metric history and writes the report and charts.
func (g *Generator) Generate() error {
	rows, err := g.readMetrics()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("metric history for run %s is empty", g.RunID)
	}
	if err := os.MkdirAll(g.OutDir, 0o755); err != nil {
		return fmt.Errorf("create out dir %s: %w", g.OutDir, err)
	}

	lossPNG := g.RunID + "_loss.png"
	dicePNG := g.RunID + "_dice.png"
	if err := plotCurve(
		"Training loss", "epoch", "loss",
		curve(rows, func(r metricRow) float64 { return r.Loss }),
		filepath.Join(g.OutDir, lossPNG),
	); err != nil {
		return err
	}
	if err := plotCurve(
		"Validation mean Dice", "epoch", "mean Dice",
		curve(rows, func(r metricRow) float64 { return r.Dice }),
		filepath.Join(g.OutDir, dicePNG),
	); err != nil {
		return err
	}

	final := rows[len(rows)-1]
	best := rows[0]
	for _, r := range rows {
		if r.Dice > best.Dice {
			best = r
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Segmentation run %s\n\n", g.RunID)
	fmt.Fprintf(&b, "Generated %s.\n\n", time.Now().Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "| | epoch | loss | val mean Dice |\n")
	fmt.Fprintf(&b, "|---|---|---|---|\n")
	fmt.Fprintf(&b, "| final | %d | %.4f | %.4f |\n", final.Epoch, final.Loss, final.Dice)
	fmt.Fprintf(&b, "| best | %d | %.4f | %.4f |\n\n", best.Epoch, best.Loss, best.Dice)
	fmt.Fprintf(&b, "![Training loss](%s)\n\n", lossPNG)
	fmt.Fprintf(&b, "![Validation mean Dice](%s)\n", dicePNG)

	path := filepath.Join(g.OutDir, g.RunID+"_report.md")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}

func (g *Generator) readMetrics() ([]metricRow, error) {
	path := filepath.Join(g.LogDir, g.RunID+"_metrics.csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metric history %s: %w", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read metric history %s: %w", path, err)
	}
	var rows []metricRow
	for i, rec := range records {
		if i == 0 || len(rec) < 3 {
			continue
		}
		epoch, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("metric history %s line %d: %w", path, i+1, err)
		}
		loss, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("metric history %s line %d: %w", path, i+1, err)
		}
		dice, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("metric history %s line %d: %w", path, i+1, err)
		}
		rows = append(rows, metricRow{Epoch: epoch, Loss: loss, Dice: dice})
	}
	return rows, nil
}

func curve(rows []metricRow, value func(metricRow) float64) plotter.XYs {
	xys := make(plotter.XYs, len(rows))
	for i, r := range rows {
		xys[i].X = float64(r.Epoch)
		xys[i].Y = value(r)
	}
	return xys
}
