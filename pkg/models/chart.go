package models

import "strings"

// ChartType is a chart tag understood by the dashboard renderer.
type ChartType string

const (
	ChartBar      ChartType = "bar"
	ChartLine     ChartType = "line"
	ChartPie      ChartType = "pie"
	ChartDoughnut ChartType = "doughnut"
	ChartScatter  ChartType = "scatter"
	ChartRadar    ChartType = "radar"
	ChartArea     ChartType = "area"
)

var chartTypes = map[ChartType]bool{
	ChartBar: true, ChartLine: true, ChartPie: true, ChartDoughnut: true,
	ChartScatter: true, ChartRadar: true, ChartArea: true,
}

// NormalizeChartType maps any tag outside the whitelist to bar.
func NormalizeChartType(tag string) ChartType {
	t := ChartType(strings.ToLower(strings.TrimSpace(tag)))
	if chartTypes[t] {
		return t
	}
	return ChartBar
}

var chartPalettes = map[ChartType][]string{
	ChartBar:  {"#3b82f6", "#ef4444", "#10b981", "#f59e0b", "#8b5cf6"},
	ChartLine: {"#06b6d4", "#f97316", "#84cc16", "#ec4899", "#6366f1"},
	ChartPie:  {"#f59e0b", "#ef4444", "#10b981", "#3b82f6", "#8b5cf6"},
	ChartArea: {"#06b6d4", "#10b981", "#f59e0b", "#ef4444", "#8b5cf6"},
}

// Colors returns n colors of the chart type palette, cycling when needed.
func (t ChartType) Colors(n int) []string {
	palette, ok := chartPalettes[t]
	if !ok {
		palette = chartPalettes[ChartBar]
	}
	out := make([]string, n)
	for i := range out {
		out[i] = palette[i%len(palette)]
	}
	return out
}

// ChartDataset is one value series.
type ChartDataset struct {
	Label           string    `json:"label"`
	Data            []float64 `json:"data"`
	BackgroundColor []string  `json:"backgroundColor,omitempty"`
	BorderColor     []string  `json:"borderColor,omitempty"`
	BorderWidth     int       `json:"borderWidth,omitempty"`
}

// ChartPayload is {labels, datasets} as consumed by Chart.js.
type ChartPayload struct {
	Labels   []string       `json:"labels"`
	Datasets []ChartDataset `json:"datasets"`
}

// EmptyChart returns a payload with no points but valid JSON arrays.
func EmptyChart() ChartPayload {
	return ChartPayload{Labels: []string{}, Datasets: []ChartDataset{}}
}

// IsEmpty reports whether the payload has no labels.
func (p ChartPayload) IsEmpty() bool {
	return len(p.Labels) == 0
}

// Truncate keeps the first n points of labels and every series.
func (p ChartPayload) Truncate(n int) ChartPayload {
	if len(p.Labels) <= n {
		return p
	}
	out := ChartPayload{Labels: p.Labels[:n], Datasets: make([]ChartDataset, len(p.Datasets))}
	for i, ds := range p.Datasets {
		if len(ds.Data) > n {
			ds.Data = ds.Data[:n]
		}
		if len(ds.BackgroundColor) > n {
			ds.BackgroundColor = ds.BackgroundColor[:n]
		}
		if len(ds.BorderColor) > n {
			ds.BorderColor = ds.BorderColor[:n]
		}
		out.Datasets[i] = ds
	}
	return out
}
