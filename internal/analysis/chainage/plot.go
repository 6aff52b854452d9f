package chainage

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

var (
	diggingColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	leakColor    = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// Plot renders one window as a PNG scatter: time on X, chainage on Y,
// digging and leak events as separate series.
func Plot(w io.Writer, win Window) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Events near chainage %g (±%g)", win.Target, Tolerance)
	p.X.Label.Text = "Time"
	p.Y.Label.Text = "Chainage"
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01-02\n15:04"}
	p.Add(plotter.NewGrid())

	if err := addSeries(p, "Digging", win.Digging, diggingColor, draw.CircleGlyph{}); err != nil {
		return err
	}
	if err := addSeries(p, "Leak", win.Leaks, leakColor, draw.TriangleGlyph{}); err != nil {
		return err
	}

	wt, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

func addSeries(p *plot.Plot, label string, t *Table, c color.Color, shape draw.GlyphDrawer) error {
	if t.Len() == 0 {
		return nil
	}

	points := make(plotter.XYs, len(t.Rows))
	for i, row := range t.Rows {
		points[i].X = float64(row.Timestamp.Unix())
		points[i].Y = row.Chainage
	}

	scatter, err := plotter.NewScatter(points)
	if err != nil {
		return fmt.Errorf("build %s series: %w", label, err)
	}
	scatter.GlyphStyle.Color = c
	scatter.GlyphStyle.Shape = shape
	scatter.GlyphStyle.Radius = vg.Points(3)

	p.Add(scatter)
	p.Legend.Add(label, scatter)
	return nil
}
