package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-bi/pkg/logging"
	"github.com/ekaya-inc/ekaya-bi/pkg/models"
	"github.com/ekaya-inc/ekaya-bi/pkg/sql"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Column types inferred for tabular uploads.
const (
	typeBigint    = "BIGINT"
	typeDouble    = "DOUBLE PRECISION"
	typeBoolean   = "BOOLEAN"
	typeDate      = "DATE"
	typeTimestamp = "TIMESTAMP"
	typeText      = "TEXT"
)

type tabularColumn struct {
	Name string
	Type string
}

// tabularData is a parsed upload ready for COPY.
type tabularData struct {
	Columns []tabularColumn
	Rows    [][]any
}

func (d *tabularData) columnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

func (s *importService) ImportTabular(ctx context.Context, desc datasource.ConnectionDescriptor, schema, table, filename string, data []byte) (*models.ImportReport, error) {
	if err := s.checkSize(data); err != nil {
		return nil, err
	}
	if schema == "" {
		return nil, fmt.Errorf("%w: target schema is required", apperrors.ErrInvalidInput)
	}
	table = sql.SanitizeIdentifier(table, "ds")

	records, err := readRecords(filename, data)
	if err != nil {
		return nil, err
	}
	parsed, err := buildTable(records)
	if err != nil {
		return nil, err
	}

	session, err := s.connector.Open(ctx, desc)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	var loaded int64
	err = session.WithTx(ctx, func(ctx context.Context, tx datasource.Tx) error {
		if err := enterSchema(ctx, tx, schema); err != nil {
			return err
		}
		target := sql.QuoteQualified(schema, table)
		if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+target+" CASCADE"); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, createTableSQL(target, parsed.Columns)); err != nil {
			return err
		}
		n, err := tx.CopyFrom(ctx, schema, table, parsed.columnNames(), parsed.Rows)
		if err != nil {
			return err
		}
		loaded = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	report := &models.ImportReport{
		Tables:             []string{table},
		PerTable:           map[string]models.TableReport{table: {Columns: parsed.columnNames(), Rows: loaded}},
		MainTable:          table,
		StatementsExecuted: 3,
	}
	s.logger.Info("Imported tabular file",
		zap.String("target", logging.SanitizeDescriptor(desc)),
		zap.String("schema", schema),
		zap.String("table", table),
		zap.Int("columns", len(parsed.Columns)),
		zap.Int64("rows", loaded))
	return report, nil
}

func createTableSQL(target string, cols []tabularColumn) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = sql.QuoteIdent(c.Name) + " " + c.Type
	}
	return "CREATE TABLE " + target + " (" + strings.Join(defs, ", ") + ")"
}

// readRecords turns an upload into rows of cells, header first.
func readRecords(filename string, data []byte) ([][]string, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".xlsx":
		return readWorkbook(data)
	case ".csv", ".tsv", ".txt":
		text, err := decodeText(data)
		if err != nil {
			return nil, err
		}
		delim := sniffDelimiter(text)
		if ext == ".tsv" {
			delim = '\t'
		}
		return readDelimited(text, delim)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", apperrors.ErrInvalidInput, ext)
	}
}

func readWorkbook(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open workbook: %v", apperrors.ErrInvalidInput, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", apperrors.ErrInvalidInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read sheet %q: %v", apperrors.ErrInvalidInput, sheets[0], err)
	}
	return rows, nil
}

// decodeText returns the upload as UTF-8. UTF-16 is recognised by its byte
// order mark; bytes that are not valid UTF-8 are read as Windows-1252.
func decodeText(data []byte) (string, error) {
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}), bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		out, _, err := transform.Bytes(dec, data)
		if err != nil {
			return "", fmt.Errorf("%w: invalid UTF-16 text: %v", apperrors.ErrInvalidInput, err)
		}
		return string(out), nil
	case bytes.HasPrefix(data, utf8BOM):
		data = data[len(utf8BOM):]
	}

	if utf8.Valid(data) {
		return string(data), nil
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("%w: undecodable text: %v", apperrors.ErrInvalidInput, err)
	}
	return string(out), nil
}

var delimiterCandidates = []rune{',', ';', '\t', '|'}

// sniffDelimiter picks the candidate that splits the first lines into the
// same, largest number of fields. Quoted sections are not counted.
func sniffDelimiter(text string) rune {
	lines := firstLines(text, 5)
	best, bestCount := ',', 0
	for _, d := range delimiterCandidates {
		count := -1
		for _, line := range lines {
			n := countOutsideQuotes(line, d)
			if count == -1 {
				count = n
			} else if n != count {
				count = 0
				break
			}
		}
		if count > bestCount {
			best, bestCount = d, count
		}
	}
	return best
}

func firstLines(text string, n int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
		if len(out) == n {
			break
		}
	}
	return out
}

func countOutsideQuotes(line string, d rune) int {
	n, quoted := 0, false
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
		case r == d && !quoted:
			n++
		}
	}
	return n
}

func readDelimited(text string, delim rune) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: malformed delimited file: %v", apperrors.ErrInvalidInput, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

var unnamedHeader = regexp.MustCompile(`(?i)^unnamed:\s*\d+$`)

// buildTable names and types the columns of records and converts every cell.
// Anonymous columns and leading ordinal index columns are dropped.
func buildTable(records [][]string) (*tabularData, error) {
	records = dropBlankRows(records)
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: file has no header row", apperrors.ErrInvalidInput)
	}
	header, body := records[0], records[1:]

	width := len(header)
	for _, row := range body {
		if len(row) > width {
			width = len(row)
		}
	}
	cell := func(row []string, i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var keep []int
	for i := 0; i < width; i++ {
		name := cell(header, i)
		if name == "" || unnamedHeader.MatchString(name) {
			continue
		}
		if i == 0 && isIndexHeader(name) && isOrdinal(body, cell) {
			continue
		}
		keep = append(keep, i)
	}
	if len(keep) == 0 {
		return nil, fmt.Errorf("%w: file has no named columns", apperrors.ErrInvalidInput)
	}

	data := &tabularData{}
	seen := map[string]int{}
	for n, i := range keep {
		name := sql.SanitizeIdentifier(cell(header, i), fmt.Sprintf("col_%d", n+1))
		seen[name]++
		if seen[name] > 1 {
			name = fmt.Sprintf("%s_%d", name, seen[name])
		}
		values := make([]string, len(body))
		for r, row := range body {
			values[r] = cell(row, i)
		}
		data.Columns = append(data.Columns, tabularColumn{Name: name, Type: inferType(values)})
	}

	for _, row := range body {
		out := make([]any, len(keep))
		for n, i := range keep {
			out[n] = convertCell(cell(row, i), data.Columns[n].Type)
		}
		data.Rows = append(data.Rows, out)
	}
	return data, nil
}

func dropBlankRows(records [][]string) [][]string {
	out := records[:0:0]
	for _, rec := range records {
		for _, v := range rec {
			if strings.TrimSpace(v) != "" {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}

func isIndexHeader(name string) bool {
	switch strings.ToLower(name) {
	case "index", "idx", "#", "n", "no":
		return true
	}
	return false
}

// isOrdinal reports whether the first column counts rows from 0 or 1.
func isOrdinal(body [][]string, cell func([]string, int) string) bool {
	if len(body) == 0 {
		return false
	}
	start := -1
	for r, row := range body {
		v, err := strconv.Atoi(cell(row, 0))
		if err != nil {
			return false
		}
		if r == 0 {
			if v != 0 && v != 1 {
				return false
			}
			start = v
		}
		if v != start+r {
			return false
		}
	}
	return true
}

var (
	dateLayouts      = []string{"2006-01-02", "02/01/2006", "2006/01/02", "02-01-2006"}
	timestampLayouts = []string{
		time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02 15:04",
		"02/01/2006 15:04:05", "02/01/2006 15:04",
	}
)

// inferType picks the narrowest type every non-empty value parses as.
func inferType(values []string) string {
	candidates := []struct {
		name string
		ok   func(string) bool
	}{
		{typeBigint, isInteger},
		{typeDouble, isFloat},
		{typeBoolean, func(v string) bool { _, ok := parseBool(v); return ok }},
		{typeDate, func(v string) bool { _, ok := parseTime(v, dateLayouts); return ok }},
		{typeTimestamp, func(v string) bool { _, ok := parseTime(v, timestampLayouts); return ok }},
	}

	nonEmpty := 0
	for _, v := range values {
		if v != "" {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		return typeText
	}

	for _, c := range candidates {
		all := true
		for _, v := range values {
			if v != "" && !c.ok(v) {
				all = false
				break
			}
		}
		if all {
			return c.name
		}
	}
	return typeText
}

// isInteger rejects zero-padded codes so "007" stays text.
func isInteger(v string) bool {
	digits := strings.TrimPrefix(v, "-")
	if len(digits) > 1 && digits[0] == '0' {
		return false
	}
	_, err := strconv.ParseInt(v, 10, 64)
	return err == nil
}

func isFloat(v string) bool {
	if strings.EqualFold(v, "nan") || strings.Contains(strings.ToLower(v), "inf") {
		return false
	}
	digits := strings.TrimPrefix(v, "-")
	if len(digits) > 1 && digits[0] == '0' && digits[1] != '.' {
		return false
	}
	_, err := strconv.ParseFloat(v, 64)
	return err == nil
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "true", "t", "yes", "si", "sí", "verdadero":
		return true, true
	case "false", "f", "no", "falso":
		return false, true
	}
	return false, false
}

func parseTime(v string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// convertCell returns the COPY value of v for a column of type typ. Empty
// cells are NULL.
func convertCell(v, typ string) any {
	if v == "" {
		return nil
	}
	switch typ {
	case typeBigint:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case typeDouble:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case typeBoolean:
		b, _ := parseBool(v)
		return b
	case typeDate:
		t, _ := parseTime(v, dateLayouts)
		return t
	case typeTimestamp:
		t, _ := parseTime(v, timestampLayouts)
		return t
	default:
		return v
	}
}
