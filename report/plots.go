package report

import (
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// plotCurve writes a single metric curve as a PNG.
func plotCurve(title, xLabel, yLabel string, xys plotter.XYs, outPath string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel

	line, err := plotter.NewLine(xys)
	if err != nil {
		return err
	}
	line.Color = color.RGBA{R: 20, G: 80, B: 200, A: 220}
	line.Width = vg.Points(1.5)
	p.Add(line)

	pts, err := plotter.NewScatter(xys)
	if err != nil {
		return err
	}
	pts.GlyphStyle.Color = color.RGBA{R: 20, G: 80, B: 200, A: 255}
	pts.GlyphStyle.Radius = vg.Points(1.8)
	p.Add(pts)

	p.Add(plotter.NewGrid())
	xmin, xmax, ymin, ymax := autoRange(xys)
	p.X.Min = xmin
	p.X.Max = xmax
	p.Y.Min = ymin
	p.Y.Max = ymax

	if err := p.Save(6*vg.Inch, 4*vg.Inch, outPath); err != nil {
		return err
	}
	return nil
}

// autoRange computes padded min/max for X and Y for a set of points.
func autoRange(xs plotter.XYs) (xmin, xmax, ymin, ymax float64) {
	if len(xs) == 0 {
		return -1, 1, -1, 1
	}
	xmin = math.Inf(1)
	xmax = math.Inf(-1)
	ymin = math.Inf(1)
	ymax = math.Inf(-1)
	for _, p := range xs {
		if p.X < xmin {
			xmin = p.X
		}
		if p.X > xmax {
			xmax = p.X
		}
		if p.Y < ymin {
			ymin = p.Y
		}
		if p.Y > ymax {
			ymax = p.Y
		}
	}
	padx := (xmax - xmin) * 0.06
	pady := (ymax - ymin) * 0.06
	if padx == 0 {
		padx = 1.0
	}
	if pady == 0 {
		pady = 1.0
	}
	return xmin - padx, xmax + padx, ymin - pady, ymax + pady
}
