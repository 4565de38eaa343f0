package place

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/lnesto74/hyperspace-sub000/internal/store"
)

// RenderCoverageChart writes an HTML scatter plot of a coverage simulation:
// floor cells colored by covering-sensor count, obstacle cells at -1, and the
// sensor positions on top. Debugging-only output, no auth assumed.
func RenderCoverageChart(w io.Writer, title string, roi []store.Vertex, obstacles [][]store.Vertex, placements []Placement, model *store.SensorModel, settings *Settings) error {
	cov := Simulate(roi, obstacles, placements, model, settings)

	cells := make([]opts.ScatterData, 0, len(cov.Cells))
	maxSeen := 0.0
	var pad float64
	for _, c := range cov.Cells {
		seen := float64(c.Sensors)
		if c.Obstacle {
			seen = -1
		}
		if seen > maxSeen {
			maxSeen = seen
		}
		pad = math.Max(pad, math.Max(math.Abs(c.X), math.Abs(c.Z)))
		cells = append(cells, opts.ScatterData{Value: []interface{}{c.X, c.Z, seen}})
	}
	sensors := make([]opts.ScatterData, 0, len(placements))
	for _, p := range placements {
		pad = math.Max(pad, math.Max(math.Abs(p.X), math.Abs(p.Z)))
		sensors = append(sensors, opts.ScatterData{Value: []interface{}{p.X, p.Z, maxSeen + 1}})
	}
	pad *= 1.05
	if pad == 0 {
		pad = 1.0
	}
	if maxSeen == 0 {
		maxSeen = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Coverage Simulation", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title: title,
			Subtitle: fmt.Sprintf("sensors=%d coverage=%.1f%% k-coverage=%.1f%% cells=%d",
				len(placements), cov.CoveragePct, cov.KCoveragePct, cov.TotalCells),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Z (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        -1,
			Max:        float32(maxSeen + 1),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#333333", "#440154", "#31688e", "#35b779", "#fde725"}},
		}),
	)

	scatter.AddSeries("cells", cells, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	scatter.AddSeries("sensors", sensors, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 14}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		return fmt.Errorf("failed to render coverage chart: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
