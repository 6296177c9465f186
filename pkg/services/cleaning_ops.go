package services

import (
	"context"
	"sort"
	"strings"

	"github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-bi/pkg/models"
	"github.com/ekaya-inc/ekaya-bi/pkg/sql"
)

// opExecutor runs normalized operations against one table inside a
// transaction. Columns are re-read before every operation so a rename or an
// added column is visible to the operations after it.
type opExecutor struct {
	tx     datasource.Tx
	schema string
	table  string
	target string
	cols   []datasource.ColumnMetadata
}

func (e *opExecutor) refresh(ctx context.Context) error {
	cols, err := e.tx.TableColumns(ctx, e.schema, e.table)
	if err != nil {
		return err
	}
	e.cols = cols
	return nil
}

// column looks a column up case-insensitively in the current catalog.
func (e *opExecutor) column(name string) (datasource.ColumnMetadata, bool) {
	return lookupColumn(e.cols, name)
}

// existing splits names into the columns that exist and a count of those
// that do not.
func (e *opExecutor) existing(names []string) ([]datasource.ColumnMetadata, int) {
	var found []datasource.ColumnMetadata
	missing := 0
	for _, n := range names {
		if c, ok := e.column(n); ok {
			found = append(found, c)
		} else {
			missing++
		}
	}
	return found, missing
}

func (e *opExecutor) exec(ctx context.Context, stmt string, args ...any) error {
	_, err := e.tx.Exec(ctx, stmt, args...)
	return err
}

// run executes op and reports whether any statement ran and how many of its
// targets were skipped.
func (e *opExecutor) run(ctx context.Context, op models.Operation) (bool, int, error) {
	if _, ok := models.LookupOperationKind(string(op.Kind())); !ok {
		return false, 1, nil
	}
	if err := e.refresh(ctx); err != nil {
		return false, 0, err
	}

	switch o := op.(type) {
	case models.RenameOp:
		return e.rename(ctx, o)
	case models.CastOp:
		return e.cast(ctx, o)
	case models.FillNullsOp:
		return e.fillNulls(ctx, o)
	case models.DropNullsOp:
		return e.dropNulls(ctx, o)
	case models.AddCalculatedOp:
		return e.addCalculated(ctx, o)
	case models.TextOp:
		return e.text(ctx, o)
	case models.RegexReplaceOp:
		return e.regexReplace(ctx, o)
	}
	return false, 1, nil
}

func (e *opExecutor) rename(ctx context.Context, o models.RenameOp) (bool, int, error) {
	applied, skipped := false, 0
	for _, from := range o.Columns() {
		to := o.Mapping[from]
		c, ok := e.column(from)
		if !ok {
			skipped++
			continue
		}
		if c.ColumnName == to {
			continue
		}
		if _, taken := e.column(to); taken && !strings.EqualFold(c.ColumnName, to) {
			skipped++
			continue
		}
		stmt := "ALTER TABLE " + e.target + " RENAME COLUMN " + sql.QuoteIdent(c.ColumnName) + " TO " + sql.QuoteIdent(to)
		if err := e.exec(ctx, stmt); err != nil {
			return applied, skipped, err
		}
		applied = true
		if err := e.refresh(ctx); err != nil {
			return applied, skipped, err
		}
	}
	return applied, skipped, nil
}

func (e *opExecutor) cast(ctx context.Context, o models.CastOp) (bool, int, error) {
	applied, skipped := false, 0
	for _, name := range o.Columns() {
		typ := o.Types[name]
		if !portableType.MatchString(typ) {
			skipped++
			continue
		}
		c, ok := e.column(name)
		if !ok {
			skipped++
			continue
		}
		col := sql.QuoteIdent(c.ColumnName)
		using := "NULLIF(TRIM(" + col + "::text), '')::" + typ
		stmt := "ALTER TABLE " + e.target + " ALTER COLUMN " + col + " TYPE " + typ + " USING " + using
		if err := e.exec(ctx, stmt); err != nil {
			return applied, skipped, err
		}
		applied = true
	}
	return applied, skipped, nil
}

func (e *opExecutor) fillNulls(ctx context.Context, o models.FillNullsOp) (bool, int, error) {
	cols, skipped := e.existing(o.Cols)
	applied := false
	for _, c := range cols {
		if !castable(c.DataType) {
			skipped++
			continue
		}
		col := sql.QuoteIdent(c.ColumnName)
		stmt := "UPDATE " + e.target + " SET " + col + " = CAST($1::text AS " + c.DataType + ") WHERE " + col + " IS NULL"
		if err := e.exec(ctx, stmt, o.Value); err != nil {
			return applied, skipped, err
		}
		applied = true
	}
	return applied, skipped, nil
}

// castable reports whether a catalog type name can be used in a CAST.
func castable(dataType string) bool {
	switch strings.ToUpper(dataType) {
	case "USER-DEFINED", "ARRAY", "":
		return false
	}
	return true
}

func (e *opExecutor) dropNulls(ctx context.Context, o models.DropNullsOp) (bool, int, error) {
	cols, skipped := e.existing(o.Cols)
	if len(cols) == 0 {
		return false, skipped, nil
	}
	conds := make([]string, len(cols))
	for i, c := range cols {
		conds[i] = sql.QuoteIdent(c.ColumnName) + " IS NULL"
	}
	stmt := "DELETE FROM " + e.target + " WHERE " + strings.Join(conds, " OR ")
	if err := e.exec(ctx, stmt); err != nil {
		return false, skipped, err
	}
	return true, skipped, nil
}

// addCalculated creates the column when absent and fills it. The expression
// is adapted to the type the column actually has.
func (e *opExecutor) addCalculated(ctx context.Context, o models.AddCalculatedOp) (bool, int, error) {
	if err := sql.CheckExpression(o.Expr); err != nil {
		return false, 0, apperrors.NewSecurityViolation(err.Error(), "", o.Expr)
	}
	for _, ref := range sql.ColumnIdentifiers(o.Expr) {
		if _, ok := e.column(ref); !ok {
			return false, 1, nil
		}
	}

	interval := isTimeSubtraction(o.Expr, e.cols)
	typ := o.Type
	if typ == "" {
		typ = "DOUBLE PRECISION"
		if interval {
			typ = "INTERVAL"
		}
	}

	existing, ok := e.column(o.NewCol)
	if !ok {
		stmt := "ALTER TABLE " + e.target + " ADD COLUMN IF NOT EXISTS " + sql.QuoteIdent(o.NewCol) + " " + typ
		if err := e.exec(ctx, stmt); err != nil {
			return false, 0, err
		}
		existing = datasource.ColumnMetadata{ColumnName: o.NewCol, DataType: strings.ToLower(typ)}
	}

	expr := o.Expr
	dataType := strings.ToLower(existing.DataType)
	switch {
	case existing.IsNumeric() || isNumericType(dataType):
		if interval && !epochPattern.MatchString(expr) {
			expr = epochExpression(expr, durationUnit(o, ""))
		}
	case strings.HasPrefix(dataType, "interval"):
	case existing.IsText() || dataType == "text":
		expr = "(" + expr + ")::text"
	}

	stmt := "UPDATE " + e.target + " SET " + sql.QuoteIdent(existing.ColumnName) + " = " + expr
	if err := e.exec(ctx, stmt); err != nil {
		return false, 0, err
	}
	return true, 0, nil
}

var textFunctions = map[models.OperationKind]string{
	models.OpTrim:  "TRIM",
	models.OpLower: "LOWER",
	models.OpUpper: "UPPER",
}

func (e *opExecutor) text(ctx context.Context, o models.TextOp) (bool, int, error) {
	fn, ok := textFunctions[o.Op]
	if !ok {
		return false, 1, nil
	}
	cols, skipped := e.existing(o.Cols)
	var sets []string
	for _, c := range cols {
		if !c.IsText() {
			skipped++
			continue
		}
		col := sql.QuoteIdent(c.ColumnName)
		sets = append(sets, col+" = "+fn+"("+col+")")
	}
	if len(sets) == 0 {
		return false, skipped, nil
	}
	sort.Strings(sets)
	if err := e.exec(ctx, "UPDATE "+e.target+" SET "+strings.Join(sets, ", ")); err != nil {
		return false, skipped, err
	}
	return true, skipped, nil
}

func (e *opExecutor) regexReplace(ctx context.Context, o models.RegexReplaceOp) (bool, int, error) {
	c, ok := e.column(o.Col)
	if !ok || !c.IsText() {
		return false, 1, nil
	}
	col := sql.QuoteIdent(c.ColumnName)
	stmt := "UPDATE " + e.target + " SET " + col + " = regexp_replace(" + col + ", $1, $2, 'g')"
	if err := e.exec(ctx, stmt, o.Pattern, o.Repl); err != nil {
		return false, 0, err
	}
	return true, 0, nil
}
