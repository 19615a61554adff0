package derive

import (
	"fmt"
	"io"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

const (
	DefaultChartWidth  = 360
	DefaultChartHeight = 360
)

var (
	healthyColor  = drawing.ColorFromHex("34d399")
	bleachedColor = drawing.ColorFromHex("f87171")
)

// RenderHealthChart writes a PNG pie chart of m to w. Empty slices are left
// out so a 100/0 split renders as a single disc.
func RenderHealthChart(w io.Writer, m Metrics, width, height int) error {
	if width <= 0 {
		width = DefaultChartWidth
	}
	if height <= 0 {
		height = DefaultChartHeight
	}

	var values []chart.Value
	if m.HealthyPercent > 0 {
		values = append(values, slice("Healthy", m.HealthyPercent, healthyColor))
	}
	if m.BleachedPercent > 0 {
		values = append(values, slice("Bleached", m.BleachedPercent, bleachedColor))
	}
	if len(values) == 0 {
		return fmt.Errorf("health chart: no data in %+v", m)
	}

	pie := chart.PieChart{
		Width:  width,
		Height: height,
		Values: values,
	}
	return pie.Render(chart.PNG, w)
}

func slice(name string, percent int, color drawing.Color) chart.Value {
	return chart.Value{
		Label: fmt.Sprintf("%s: %d%%", name, percent),
		Value: float64(percent),
		Style: chart.Style{
			FillColor:   color,
			StrokeColor: drawing.ColorWhite,
			StrokeWidth: 2,
		},
	}
}
