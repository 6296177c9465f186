package services

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-bi/pkg/models"
	"github.com/ekaya-inc/ekaya-bi/pkg/sql"
)

// Analysis kinds of planned charts.
const (
	analysisDistribution = "distribucion"
	analysisTrend        = "tendencia"
	analysisComparison   = "comparacion"
	analysisRanking      = "ranking"
	analysisStatistics   = "estadistica"
)

const (
	maxAutoCharts        = 3
	maxDistributionSlots = 12
	maxPieSlices         = 6
	maxDimensionValues   = 100
	uniquenessCutoff     = 0.95
	variationCutoff      = 0.1
)

// columnProfile is the analysis of one table, built from catalog statistics.
type columnProfile struct {
	TotalRows  int64
	Metrics    []string
	Dimensions []dimension
	Temporal   []string
	Ignored    []string
	Domain     string
	// TopMetrics are at most three metrics ranked for the domain.
	TopMetrics []string
}

type dimension struct {
	Name     string
	Distinct int64
}

// chartPlan is one automatic chart before it is executed.
type chartPlan struct {
	Title     string
	SQL       string
	ChartType models.ChartType
	Analysis  string
	// Columns are the table columns the chart reads.
	Columns []string
}

func (p chartPlan) uses(col string) bool {
	for _, c := range p.Columns {
		if c == col {
			return true
		}
	}
	return false
}

var (
	identifierTokens = map[string]bool{"id": true, "codigo": true, "key": true, "index": true, "pk": true, "uuid": true}
	temporalWords    = []string{"fecha", "date", "año", "year", "mes", "month", "dia", "day", "periodo", "period"}
	businessMetrics  = []string{
		"cantidad", "amount", "total", "suma", "sum",
		"precio", "price", "costo", "cost", "valor", "value",
		"venta", "sale", "ingreso", "revenue", "ganancia", "profit",
		"score", "punto", "point", "nota", "grade", "calificacion",
		"duracion", "duration", "tiempo", "time", "hora", "hour",
		"peso", "weight", "altura", "height", "edad", "age",
		"distancia", "distance", "velocidad", "speed", "temperatura",
		"porcentaje", "percentage", "ratio", "rate", "promedio", "average",
	}
)

type domainKeywords struct {
	name  string
	words []string
}

// domains is ordered; ties go to the earlier domain.
var domains = []domainKeywords{
	{"ventas", []string{"venta", "sale", "cliente", "customer", "producto", "product", "precio", "price"}},
	{"academico", []string{"estudiante", "student", "curso", "course", "nota", "grade", "calificacion", "score"}},
	{"rrhh", []string{"empleado", "employee", "salario", "salary", "departamento", "department", "cargo", "position"}},
	{"inventario", []string{"stock", "inventory", "producto", "item", "cantidad", "quantity", "almacen", "warehouse"}},
	{"financiero", []string{"cuenta", "account", "transaccion", "transaction", "balance", "monto", "amount"}},
	{"salud", []string{"paciente", "patient", "diagnostico", "diagnosis", "tratamiento", "treatment", "medico", "doctor"}},
	{"marketing", []string{"campaña", "campaign", "conversion", "click", "impresion", "impression", "ctr", "roi"}},
	{"logistica", []string{"envio", "shipment", "pedido", "order", "entrega", "delivery", "ruta", "route"}},
	{"deportes", []string{"jugador", "player", "equipo", "team", "partido", "game", "gol", "goal", "punto", "score"}},
	{"investigacion", []string{"experimento", "experiment", "muestra", "sample", "resultado", "result", "medicion", "measurement"}},
}

var metricPriorities = map[string][]string{
	"ventas":     {"total", "venta", "ingreso", "cantidad", "precio"},
	"academico":  {"nota", "calificacion", "score", "promedio", "puntos"},
	"financiero": {"monto", "balance", "total", "valor", "cantidad"},
	"salud":      {"resultado", "medicion", "valor", "duracion", "cantidad"},
	"deportes":   {"puntos", "goles", "score", "tiempo", "distancia"},
}

var defaultMetricPriorities = []string{"total", "cantidad", "valor"}

func containsAnyWord(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// isIdentifierColumn matches id-like names by token, so that words such as
// "cantidad" are not mistaken for identifiers. Camel case suffixes like
// clienteId count too.
func isIdentifierColumn(name string) bool {
	for _, t := range tokens(name) {
		if identifierTokens[t] {
			return true
		}
	}
	n := len(name)
	return n > 2 && (name[n-2:] == "Id" || name[n-2:] == "ID")
}

// isSequential reports whether an integer column looks like a row counter.
func isSequential(st datasource.ColumnStats) bool {
	if st.DistinctCount <= 10 || st.Min == nil || st.Max == nil {
		return false
	}
	expected := *st.Max - *st.Min + 1
	return math.Abs(float64(st.DistinctCount)-expected) < expected*0.1
}

// suspiciousSample reports whether every sampled value looks like a code
// rather than a category.
func suspiciousSample(values []string) bool {
	seen := false
	for _, v := range values {
		if v == "" {
			continue
		}
		seen = true
		if len(v) <= 20 && strings.Count(v, "-") <= 3 && strings.Count(v, "_") <= 3 {
			return false
		}
	}
	return seen
}

// analyzeColumns classifies every column as ignored, temporal, metric or
// dimension. samples holds a few distinct values per candidate dimension.
func analyzeColumns(totalRows int64, cols []datasource.ColumnMetadata, stats []datasource.ColumnStats, samples map[string][]string) *columnProfile {
	p := &columnProfile{TotalRows: totalRows}
	if totalRows == 0 {
		return p
	}

	byName := make(map[string]datasource.ColumnStats, len(stats))
	for _, st := range stats {
		byName[st.ColumnName] = st
	}

	for _, col := range cols {
		st := byName[col.ColumnName]
		lower := strings.ToLower(col.ColumnName)
		dataType := strings.ToLower(col.DataType)
		ratio := float64(st.DistinctCount) / float64(totalRows)

		isInt := dataType == "integer" || dataType == "bigint" || dataType == "smallint"
		if isIdentifierColumn(col.ColumnName) || (isInt && isSequential(st)) || ratio > uniquenessCutoff {
			p.Ignored = append(p.Ignored, col.ColumnName)
			continue
		}

		switch {
		case strings.Contains(dataType, "date") || strings.Contains(dataType, "timestamp") || containsAnyWord(lower, temporalWords):
			p.Temporal = append(p.Temporal, col.ColumnName)
		case col.IsNumeric():
			metric := containsAnyWord(lower, businessMetrics)
			if !metric && st.DistinctCount > 5 {
				metric = st.CoefficientOfVariation() > variationCutoff
			}
			if metric {
				p.Metrics = append(p.Metrics, col.ColumnName)
			}
		case st.DistinctCount >= 2 && st.DistinctCount <= maxDimensionValues:
			if !suspiciousSample(samples[col.ColumnName]) {
				p.Dimensions = append(p.Dimensions, dimension{Name: col.ColumnName, Distinct: st.DistinctCount})
			}
		}
	}

	p.Domain = detectDomain(cols)
	p.TopMetrics = prioritizeMetrics(p.Domain, p.Metrics)
	return p
}

// detectDomain picks the domain whose keywords appear in most column names.
func detectDomain(cols []datasource.ColumnMetadata) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = strings.ToLower(c.ColumnName)
	}

	best, bestHits := "general", 0
	for _, d := range domains {
		hits := 0
		for _, w := range d.words {
			for _, n := range names {
				if strings.Contains(n, w) {
					hits++
					break
				}
			}
		}
		if hits > bestHits {
			best, bestHits = d.name, hits
		}
	}
	return best
}

func prioritizeMetrics(domain string, metrics []string) []string {
	words, ok := metricPriorities[domain]
	if !ok {
		words = defaultMetricPriorities
	}
	rank := func(name string) int {
		lower := strings.ToLower(name)
		for i, w := range words {
			if strings.Contains(lower, w) {
				return i
			}
		}
		return 10
	}

	ranked := append([]string(nil), metrics...)
	sort.SliceStable(ranked, func(i, j int) bool { return rank(ranked[i]) < rank(ranked[j]) })
	if len(ranked) > maxAutoCharts {
		ranked = ranked[:maxAutoCharts]
	}
	return ranked
}

func fewestValues(dims []dimension) dimension {
	best := dims[0]
	for _, d := range dims[1:] {
		if d.Distinct < best.Distinct {
			best = d
		}
	}
	return best
}

// planCharts chooses up to three complementary charts: a distribution, a
// monthly trend, a comparison or ranking, and statistics of a metric.
func planCharts(p *columnProfile, schema, table string) []chartPlan {
	from := sql.QuoteQualified(schema, table)
	var plans []chartPlan
	unused := func(col string) bool {
		for _, pl := range plans {
			if pl.uses(col) {
				return false
			}
		}
		return true
	}

	if len(p.Dimensions) > 0 {
		dim := fewestValues(p.Dimensions)
		if dim.Distinct <= maxDistributionSlots {
			c := sql.QuoteIdent(dim.Name)
			chartType := models.ChartBar
			if dim.Distinct <= maxPieSlices {
				chartType = models.ChartPie
			}
			plans = append(plans, chartPlan{
				Title:     "Distribución por " + humanize(dim.Name),
				SQL:       fmt.Sprintf(`SELECT %[1]s AS label, COUNT(*) AS value FROM %[2]s WHERE %[1]s IS NOT NULL GROUP BY %[1]s ORDER BY value DESC`, c, from),
				ChartType: chartType,
				Analysis:  analysisDistribution,
				Columns:   []string{dim.Name},
			})
		}
	}

	if len(p.Temporal) > 0 {
		t := p.Temporal[0]
		month := fmt.Sprintf(`DATE_TRUNC('month', %s::date)`, sql.QuoteIdent(t))
		plan := chartPlan{ChartType: models.ChartLine, Analysis: analysisTrend, Columns: []string{t}}
		if len(p.TopMetrics) > 0 {
			m := p.TopMetrics[0]
			plan.Title = "Evolución de " + humanize(m) + " por Mes"
			plan.SQL = fmt.Sprintf(`SELECT %[1]s AS label, SUM(%[2]s) AS value FROM %[3]s WHERE %[4]s IS NOT NULL GROUP BY %[1]s ORDER BY label`,
				month, sql.QuoteIdent(m), from, sql.QuoteIdent(t))
			plan.Columns = append(plan.Columns, m)
		} else {
			plan.Title = "Actividad por Mes"
			plan.SQL = fmt.Sprintf(`SELECT %[1]s AS label, COUNT(*) AS value FROM %[2]s WHERE %[3]s IS NOT NULL GROUP BY %[1]s ORDER BY label`,
				month, from, sql.QuoteIdent(t))
		}
		plans = append(plans, plan)
	}

	if len(plans) < maxAutoCharts {
		var free []dimension
		for _, d := range p.Dimensions {
			if unused(d.Name) {
				free = append(free, d)
			}
		}

		switch {
		case len(p.Metrics) > 0 && len(p.Dimensions) > 0:
			if len(free) > 0 {
				m := p.Metrics[0]
				if len(p.TopMetrics) > 0 {
					m = p.TopMetrics[0]
				}
				dim := fewestValues(free)
				dc, mc := sql.QuoteIdent(dim.Name), sql.QuoteIdent(m)
				plans = append(plans, chartPlan{
					Title: "Promedio de " + humanize(m) + " por " + humanize(dim.Name),
					SQL: fmt.Sprintf(`SELECT %[1]s AS label, AVG(%[2]s) AS value FROM %[3]s WHERE %[1]s IS NOT NULL AND %[2]s IS NOT NULL GROUP BY %[1]s ORDER BY value DESC LIMIT 10`,
						dc, mc, from),
					ChartType: models.ChartBar,
					Analysis:  analysisComparison,
					Columns:   []string{dim.Name, m},
				})
			}
		case len(p.Dimensions) > 1:
			if len(free) > 0 {
				dim := free[0]
				dc := sql.QuoteIdent(dim.Name)
				plans = append(plans, chartPlan{
					Title:     "Top 10 " + humanize(dim.Name),
					SQL:       fmt.Sprintf(`SELECT %[1]s AS label, COUNT(*) AS value FROM %[2]s WHERE %[1]s IS NOT NULL GROUP BY %[1]s ORDER BY value DESC LIMIT 10`, dc, from),
					ChartType: models.ChartBar,
					Analysis:  analysisRanking,
					Columns:   []string{dim.Name},
				})
			}
		}
	}

	if len(plans) < maxAutoCharts {
		for _, m := range p.Metrics {
			if !unused(m) {
				continue
			}
			mc := sql.QuoteIdent(m)
			plans = append(plans, chartPlan{
				Title: "Estadísticas de " + humanize(m),
				SQL: fmt.Sprintf(`SELECT 'Mínimo' AS label, MIN(%[1]s) AS value FROM %[2]s UNION ALL SELECT 'Promedio', AVG(%[1]s) FROM %[2]s UNION ALL SELECT 'Máximo', MAX(%[1]s) FROM %[2]s`,
					mc, from),
				ChartType: models.ChartBar,
				Analysis:  analysisStatistics,
				Columns:   []string{m},
			})
			break
		}
	}

	if len(plans) > maxAutoCharts {
		plans = plans[:maxAutoCharts]
	}
	return plans
}

// describeChart states the main finding of a chart in one sentence.
func describeChart(data models.ChartPayload, analysis string, totalRows int64) string {
	if data.IsEmpty() || len(data.Datasets) == 0 || len(data.Datasets[0].Data) == 0 {
		return "Visualización de datos"
	}
	labels, values := data.Labels, data.Datasets[0].Data

	switch analysis {
	case analysisDistribution:
		maxIdx, total := 0, 0.0
		for i, v := range values {
			total += v
			if v > values[maxIdx] {
				maxIdx = i
			}
		}
		pct := 0.0
		if total > 0 {
			pct = values[maxIdx] / total * 100
		}
		return fmt.Sprintf("%s representa el %.0f%% del total (%s de %s registros)",
			labels[maxIdx], pct, formatNumber(values[maxIdx]), formatNumber(total))
	case analysisTrend:
		if len(values) < 2 {
			return "Valor actual: " + formatNumber(values[0])
		}
		first, last := values[0], values[len(values)-1]
		change := 0.0
		if first != 0 {
			change = (last - first) / first * 100
		}
		direction := "disminuyó"
		if change > 0 {
			direction = "aumentó"
		}
		return fmt.Sprintf("La métrica %s %.0f%% desde %s hasta %s", direction, math.Abs(change), labels[0], labels[len(labels)-1])
	case analysisComparison, analysisRanking:
		var top []string
		for i := 0; i < len(labels) && i < 3; i++ {
			top = append(top, labels[i]+": "+formatNumber(math.Round(values[i])))
		}
		return "Líderes: " + strings.Join(top, ", ")
	case analysisStatistics:
		lo, hi, sum := values[0], values[0], 0.0
		for _, v := range values {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
			sum += v
		}
		return fmt.Sprintf("Rango: %s - %s (promedio: %s)",
			formatNumber(math.Round(lo)), formatNumber(math.Round(hi)), formatNumber(math.Round(sum/float64(len(values)))))
	default:
		return fmt.Sprintf("Análisis de %s registros", formatNumber(float64(totalRows)))
	}
}

// formatNumber renders v with thousands separators and up to two decimals.
func formatNumber(v float64) string {
	s := strconv.FormatFloat(math.Abs(v), 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i > 3 {
		s = strconv.FormatFloat(math.Abs(v), 'f', 2, 64)
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	var b strings.Builder
	if v < 0 {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteString(frac)
	return b.String()
}

// humanize turns nombre_de_columna into "Nombre De Columna", keeping short
// acronyms.
func humanize(name string) string {
	words := strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(name))
	for i, w := range words {
		if len(w) <= 4 && strings.ToUpper(w) == w && strings.ToLower(w) != w {
			continue
		}
		r := []rune(strings.ToLower(w))
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
