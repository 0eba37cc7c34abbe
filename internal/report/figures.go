package report

import (
	"fmt"
	"image/color"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/crashrisk/internal/externality"
	"github.com/banshee-data/crashrisk/internal/fsutil"
	"github.com/banshee-data/crashrisk/internal/trends"
)

// Point is one window of a trend series.
type Point struct {
	Label    string  // e.g. "1983-1987"
	X        float64 // window end year
	Estimate trends.Estimate
}

// Series is one line of a trend figure.
type Series struct {
	Name   string
	Points []Point
}

// RiskSeries extracts one parameter per window, e.g. theta.
func RiskSeries(name string, results []trends.RiskResult, pick func(trends.RiskResult) trends.Estimate) Series {
	s := Series{Name: name}
	for _, r := range results {
		s.Points = append(s.Points, Point{
			Label:    fmt.Sprintf("%d-%d", r.Window.Start, r.Window.End),
			X:        float64(r.Window.End),
			Estimate: pick(r),
		})
	}
	return s
}

// CostSeries extracts the cost per mile per window.
func CostSeries(name string, windows []externality.Window) Series {
	s := Series{Name: name}
	for _, w := range windows {
		s.Points = append(s.Points, Point{
			Label:    fmt.Sprintf("%d-%d", w.Window.Start, w.Window.End),
			X:        float64(w.Window.End),
			Estimate: w.CostPerMile,
		})
	}
	return s
}

var palette = []color.Color{
	color.RGBA{R: 31, G: 119, B: 180, A: 255},
	color.RGBA{R: 214, G: 39, B: 40, A: 255},
	color.RGBA{R: 44, G: 160, B: 44, A: 255},
	color.RGBA{R: 148, G: 103, B: 189, A: 255},
}

// errorPoints pairs points with ±1 standard error bars.
type errorPoints struct {
	plotter.XYs
	plotter.YErrors
}

// PlotTrend renders the series as a PNG with standard error bars.
func PlotTrend(fs fsutil.FileSystem, path, title, yLabel string, series []Series) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Window end year"
	p.Y.Label.Text = yLabel

	for i, s := range series {
		if len(s.Points) == 0 {
			continue
		}
		pts := errorPoints{
			XYs:     make(plotter.XYs, len(s.Points)),
			YErrors: make(plotter.YErrors, len(s.Points)),
		}
		for j, pt := range s.Points {
			pts.XYs[j] = plotter.XY{X: pt.X, Y: pt.Estimate.Value}
			pts.YErrors[j].Low = pt.Estimate.StdErr
			pts.YErrors[j].High = pt.Estimate.StdErr
		}

		line, points, err := plotter.NewLinePoints(pts.XYs)
		if err != nil {
			return fmt.Errorf("series %s: %w", s.Name, err)
		}
		c := palette[i%len(palette)]
		line.Color = c
		line.Width = vg.Points(1.5)
		points.Color = c

		bars, err := plotter.NewYErrorBars(pts)
		if err != nil {
			return fmt.Errorf("series %s: %w", s.Name, err)
		}
		bars.Color = c

		p.Add(line, points, bars)
		p.Legend.Add(s.Name, line, points)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render %s: %w", path, err)
	}
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// ChartTrend renders the series as an interactive HTML line chart. Series
// are aligned on the first series' labels.
func ChartTrend(w io.Writer, title string, series []Series) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: "point estimate; tooltip shows standard error"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Window", NameLocation: "middle", NameGap: 30}),
	)

	var labels []string
	if len(series) > 0 {
		for _, pt := range series[0].Points {
			labels = append(labels, pt.Label)
		}
	}
	line.SetXAxis(labels)
	for _, s := range series {
		data := make([]opts.LineData, len(s.Points))
		for j, pt := range s.Points {
			data[j] = opts.LineData{
				Name:  fmt.Sprintf("%s se %s", pt.Label, round(pt.Estimate.StdErr, 4)),
				Value: pt.Estimate.Value,
			}
		}
		line.AddSeries(s.Name, data)
	}
	return line.Render(w)
}
