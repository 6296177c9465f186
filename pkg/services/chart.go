package services

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-bi/pkg/models"
)

// maxAutoPoints bounds bar and line charts built by the automatic generator.
const maxAutoPoints = 15

// shapeChart turns a result into a chart payload: the first column becomes
// the labels, the second the values. Values that are NULL or not numeric
// count as 0.
func shapeChart(res *datasource.QueryResult, chartType models.ChartType) models.ChartPayload {
	if !res.Usable() {
		return models.EmptyChart()
	}

	labels := make([]string, len(res.Rows))
	values := make([]float64, len(res.Rows))
	for i, row := range res.Rows {
		if len(row) > 0 {
			labels[i] = formatLabel(row[0])
		}
		if len(row) > 1 {
			values[i] = toFloat(row[1])
		}
	}

	colors := chartType.Colors(len(values))
	return models.ChartPayload{
		Labels: labels,
		Datasets: []models.ChartDataset{{
			Label:           res.Columns[1].Name,
			Data:            values,
			BackgroundColor: colors,
			BorderColor:     colors,
			BorderWidth:     2,
		}},
	}
}

func formatLabel(v any) string {
	switch val := v.(type) {
	case nil:
		return "Sin valor"
	case string:
		return val
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 {
			return val.Format("2006-01-02")
		}
		return val.Format("2006-01-02 15:04")
	case []byte:
		return string(val)
	case decimal.Decimal:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// toFloat coerces a result value to a number through an exact decimal.
func toFloat(v any) float64 {
	d, ok := toDecimal(v)
	if !ok {
		return 0
	}
	f, _ := d.Float64()
	return f
}

func toInt64(v any) int64 {
	d, ok := toDecimal(v)
	if !ok {
		return 0
	}
	return d.IntPart()
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return val, true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int8:
		return decimal.NewFromInt(int64(val)), true
	case int16:
		return decimal.NewFromInt(int64(val)), true
	case int32:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case uint32:
		return decimal.NewFromInt(int64(val)), true
	case float32:
		return floatDecimal(float64(val))
	case float64:
		return floatDecimal(val)
	case bool:
		if val {
			return decimal.NewFromInt(1), true
		}
		return decimal.Zero, true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		return d, err == nil
	case []byte:
		d, err := decimal.NewFromString(strings.TrimSpace(string(val)))
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

func floatDecimal(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}
