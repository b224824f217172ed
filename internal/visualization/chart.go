package visualization

import (
	"errors"
	"fmt"
	"io"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/nvandessel/resistsim/internal/engine"
	"github.com/nvandessel/resistsim/internal/model"
)

// ErrTooFewSamples is returned when a trajectory cannot span a time axis.
var ErrTooFewSamples = errors.New("trajectory needs at least two samples at distinct times")

// ChartOptions controls RenderChart. Zero values pick defaults.
type ChartOptions struct {
	Title  string
	Width  int
	Height int
}

var phenotypeStrokes = [model.NumPhenotypes]drawing.Color{
	model.NonResistant: chart.ColorBlue,
	model.ResistantA:   chart.ColorRed,
	model.ResistantB:   {R: 218, G: 165, B: 32, A: 255},
	model.ResistantAB:  {R: 186, G: 85, B: 211, A: 255},
}

// RenderChart writes a PNG line chart of the cell count of every phenotype
// over the recorded trajectory.
func RenderChart(w io.Writer, samples []engine.Sample, opts ChartOptions) error {
	if len(samples) < 2 || samples[0].Time == samples[len(samples)-1].Time {
		return ErrTooFewSamples
	}
	if opts.Width <= 0 {
		opts.Width = 960
	}
	if opts.Height <= 0 {
		opts.Height = 480
	}

	xs := make([]float64, len(samples))
	ys := make([][]float64, model.NumPhenotypes)
	for p := range ys {
		ys[p] = make([]float64, len(samples))
	}
	yMax := 0.0
	for i, smp := range samples {
		xs[i] = smp.Time
		for _, p := range model.AllPhenotypes {
			v := float64(smp.Snapshot.TotalCellsOf(p))
			ys[p][i] = v
			yMax = max(yMax, v)
		}
	}
	if yMax == 0 {
		yMax = 1
	}

	series := make([]chart.Series, 0, model.NumPhenotypes)
	for _, p := range model.AllPhenotypes {
		series = append(series, chart.ContinuousSeries{
			Name:    p.String(),
			XValues: xs,
			YValues: ys[p],
			Style:   chart.Style{StrokeColor: phenotypeStrokes[p], StrokeWidth: 2.0},
		})
	}

	graph := chart.Chart{
		Title:  opts.Title,
		Width:  opts.Width,
		Height: opts.Height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:  "time",
			Style: chart.Style{FontSize: 10.0},
			ValueFormatter: func(v interface{}) string {
				return fmt.Sprintf("%.1f", v.(float64))
			},
		},
		YAxis: chart.YAxis{
			Name:  "cells",
			Style: chart.Style{FontSize: 10.0},
			Range: &chart.ContinuousRange{Min: 0, Max: yMax * 1.05},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.LegendLeft(&graph)}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}
