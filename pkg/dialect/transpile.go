package dialect

import (
	"fmt"
	"sync"

	"github.com/pingcap/tidb/pkg/parser"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-bi/pkg/logging"
	"github.com/ekaya-inc/ekaya-bi/pkg/sql"
)

// Result is one transpiled statement.
type Result struct {
	SQL string
	// Deferred holds statements to run after every table of the import exists
	// and its rows are loaded: TINYINT(1) to BOOLEAN conversions and foreign
	// keys lifted out of CREATE TABLE.
	Deferred []string
	// Dropped lists the column options the parser path removed.
	Dropped []DroppedOption
	// Degraded is set when the parser could not handle the statement and the
	// pre-cleaned text was used instead. Cause carries the parser error.
	Degraded bool
	Cause    error
}

// Option configures a Transpiler.
type Option func(*Transpiler)

// WithoutParser disables the AST path; only the text rewrites run.
func WithoutParser() Option {
	return func(t *Transpiler) { t.parser = nil }
}

// Transpiler rewrites MySQL statements into PostgreSQL. It is safe for
// concurrent use.
type Transpiler struct {
	mu     sync.Mutex
	parser *parser.Parser
	logger *zap.Logger
}

func New(logger *zap.Logger, opts ...Option) *Transpiler {
	t := &Transpiler{
		parser: newParser(),
		logger: logger.Named("transpiler"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transpile rewrites one allowed statement of a MySQL dump.
func (t *Transpiler) Transpile(stmt string) Result {
	pre := stripTrailers(sql.StripTableQualifier(stmt, sql.LexOptions{MySQL: true}))
	pre, deferred := stripSecondaryKeys(pre)

	res := Result{SQL: pre, Deferred: booleanConversions(pre)}
	mysqlLiterals := true
	if t.parser != nil {
		restored, dropped, err := t.parseAndRestore(pre)
		if err != nil {
			res.Degraded = true
			res.Cause = fmt.Errorf("%w: %w", apperrors.ErrTranspileDegraded, err)
			t.logger.Warn("Transpile degraded, using pre-cleaned statement",
				zap.String("statement", logging.TruncateQuery(pre, 200)),
				zap.Error(err))
		} else {
			res.SQL = restored
			res.Dropped = dropped
			mysqlLiterals = false
			for _, d := range dropped {
				t.logger.Warn("Dropped column option",
					zap.String("table", d.Table),
					zap.String("column", d.Column),
					zap.String("option", d.Option))
			}
		}
	}

	res.SQL = postNormalize(res.SQL, mysqlLiterals)
	for _, d := range deferred {
		res.Deferred = append(res.Deferred, FinalCleanup(postNormalize(d, true)))
	}
	return res
}

// Normalize is the light path for dumps that do not look like MySQL. It fixes
// stray MySQL type syntax and database qualifiers without reparsing.
func (t *Transpiler) Normalize(stmt string) string {
	p := protect(sql.StripTableQualifier(stmt, sql.LexOptions{}), false)
	code := p.code
	if isCreateTable(code) {
		code = mapIntegerWidths(code)
		code = convertAutoIncrement(code)
		code = widenUnsigned(code)
		code = convertEnums(code)
		code = convertDatetime(code)
		code = dropOnUpdate(code)
		code = removeAutoIncrement(code)
		code = dropSequenceDefaults(code)
	}
	return p.restore(code)
}

// postNormalize applies the type and clause rewrites to a statement that
// went through the parser or fell back to the pre-cleaned text.
func postNormalize(stmt string, mysqlLiterals bool) string {
	p := protect(stmt, mysqlLiterals)
	code := stripIntroducers(p.code)
	if isCreateTable(code) {
		code = mapIntegerWidths(code)
		code = convertAutoIncrement(code)
		code = widenUnsigned(code)
		code = convertEnums(code)
		code = convertDatetime(code)
		code = mapPortableTypes(code)
		code = dropOnUpdate(code)
		code = dropColumnCharsets(code)
		code = p.dropZeroDateDefaults(code)
		code = removeAutoIncrement(code)
	}
	return p.restore(code)
}

// FinalCleanup is the last pass before a statement is executed. It repeats
// the integer and identity rewrites in case anything reintroduced them,
// removes comments and collapses whitespace outside literals.
func FinalCleanup(stmt string) string {
	p := protect(stmt, false)
	code := p.code
	if isCreateTable(code) {
		code = mapIntegerWidths(code)
		code = convertAutoIncrement(code)
		code = removeAutoIncrement(code)
	}
	return p.restore(collapseSpace(code))
}
