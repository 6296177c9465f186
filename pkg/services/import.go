package services

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-bi/pkg/config"
	"github.com/ekaya-inc/ekaya-bi/pkg/dialect"
	"github.com/ekaya-inc/ekaya-bi/pkg/logging"
	"github.com/ekaya-inc/ekaya-bi/pkg/models"
	"github.com/ekaya-inc/ekaya-bi/pkg/sql"
)

// ImportService loads SQL dumps and tabular files into a target schema.
type ImportService interface {
	// ImportSQL executes the allow-listed statements of a dump in one
	// transaction. Any deny-listed statement aborts before a connection is
	// opened.
	ImportSQL(ctx context.Context, desc datasource.ConnectionDescriptor, schema string, raw []byte) (*models.ImportReport, error)

	// ImportTabular replaces schema.table with the rows of a CSV, TSV or
	// XLSX file.
	ImportTabular(ctx context.Context, desc datasource.ConnectionDescriptor, schema, table, filename string, data []byte) (*models.ImportReport, error)

	// ImportDataSource imports an upload into the private schema of a FILE
	// datasource and records the resulting main table.
	ImportDataSource(ctx context.Context, dataSourceID uuid.UUID, filename string, data []byte) (*models.ImportReport, error)
}

type importService struct {
	connector   datasource.Connector
	datasources DataSourceService
	transpiler  *dialect.Transpiler
	cfg         config.ImportConfig
	logger      *zap.Logger
}

// NewImportService creates a new import service.
func NewImportService(
	connector datasource.Connector,
	datasources DataSourceService,
	transpiler *dialect.Transpiler,
	cfg config.ImportConfig,
	logger *zap.Logger,
) ImportService {
	return &importService{
		connector:   connector,
		datasources: datasources,
		transpiler:  transpiler,
		cfg:         cfg,
		logger:      logger.Named("import"),
	}
}

// plannedStatement is one statement ready to run against the target schema.
type plannedStatement struct {
	sql   string
	table string // set for CREATE TABLE
}

func (s *importService) ImportDataSource(ctx context.Context, dataSourceID uuid.UUID, filename string, data []byte) (*models.ImportReport, error) {
	resolved, err := s.datasources.Resolve(ctx, dataSourceID, nil)
	if err != nil {
		return nil, err
	}
	if !resolved.DataSource.IsInternal() {
		return nil, fmt.Errorf("%w: uploads are only accepted by FILE datasources", apperrors.ErrInvalidInput)
	}
	schema := resolved.Descriptor.Schema

	var report *models.ImportReport
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".sql":
		report, err = s.ImportSQL(ctx, resolved.Descriptor, schema, data)
	default:
		table := sql.SanitizeIdentifier(strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)), "ds")
		report, err = s.ImportTabular(ctx, resolved.Descriptor, schema, table, filename, data)
	}
	if err != nil {
		return nil, err
	}

	if err := s.datasources.RecordImport(ctx, dataSourceID, schema, report.MainTable); err != nil {
		return nil, fmt.Errorf("failed to record import: %w", err)
	}
	return report, nil
}

func (s *importService) ImportSQL(ctx context.Context, desc datasource.ConnectionDescriptor, schema string, raw []byte) (*models.ImportReport, error) {
	if err := s.checkSize(raw); err != nil {
		return nil, err
	}
	if schema == "" {
		return nil, fmt.Errorf("%w: target schema is required", apperrors.ErrInvalidInput)
	}

	text := string(bytes.TrimPrefix(raw, utf8BOM))
	detection := dialect.Detect(text)
	opts := sql.LexOptions{MySQL: detection.Foreign}

	if err := sql.CheckForbidden(text, opts); err != nil {
		s.logger.Warn("Rejected import script", zap.String("schema", schema), zap.Error(err))
		return nil, err
	}

	report := &models.ImportReport{PerTable: map[string]models.TableReport{}}
	statements, deferred, err := s.plan(text, schema, opts, detection.Foreign, report)
	if err != nil {
		s.logger.Warn("Rejected import script", zap.String("schema", schema), zap.Error(err))
		return nil, err
	}

	s.logger.Info("Importing SQL dump",
		zap.String("target", logging.SanitizeDescriptor(desc)),
		zap.String("schema", schema),
		zap.Bool("foreign_dialect", detection.Foreign),
		zap.Strings("signals", detection.Signals),
		zap.Int("statements", len(statements)),
		zap.Int("dropped", report.StatementsDropped))

	session, err := s.connector.Open(ctx, desc)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	err = session.WithTx(ctx, func(ctx context.Context, tx datasource.Tx) error {
		if err := enterSchema(ctx, tx, schema); err != nil {
			return err
		}

		var created []string
		for _, st := range statements {
			if st.table != "" {
				drop := "DROP TABLE IF EXISTS " + sql.QuoteQualified(schema, st.table) + " CASCADE"
				if _, err := tx.Exec(ctx, drop); err != nil {
					return err
				}
				created = appendUnique(created, st.table)
			}
			if _, err := tx.Exec(ctx, st.sql); err != nil {
				return err
			}
			report.StatementsExecuted++
		}

		for _, stmt := range deferred {
			if err := tx.TryExec(ctx, stmt); err != nil {
				s.logger.Warn("Skipped deferred statement",
					zap.String("statement", logging.TruncateQuery(stmt, 200)),
					zap.String("error", logging.SanitizeError(err)))
				continue
			}
			report.StatementsExecuted++
		}

		return s.fillReport(ctx, tx, schema, created, report)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Imported SQL dump",
		zap.String("schema", schema),
		zap.Strings("tables", report.Tables),
		zap.String("main_table", report.MainTable),
		zap.Int("executed", report.StatementsExecuted),
		zap.Int("degraded", report.Degraded))
	return report, nil
}

// plan splits and classifies the script and rewrites every allowed
// statement for PostgreSQL. Statements that are run after the load (foreign
// keys, flag conversions) come back separately. A statement reading from
// outside schema fails the whole plan.
func (s *importService) plan(text, schema string, opts sql.LexOptions, foreign bool, report *models.ImportReport) ([]plannedStatement, []string, error) {
	var (
		planned  []plannedStatement
		deferred []string
	)
	for _, raw := range sql.SplitStatements(text, opts) {
		c := sql.Classify(raw, opts)
		if c.Kind != sql.StatementAllowed {
			report.StatementsDropped++
			continue
		}

		stmt := c.SQL
		if foreign {
			res := s.transpiler.Transpile(stmt)
			if res.Degraded {
				report.Degraded++
			}
			for _, d := range res.Dropped {
				report.DroppedOptions = append(report.DroppedOptions, d.String())
			}
			stmt = res.SQL
			deferred = append(deferred, res.Deferred...)
		} else {
			stmt = s.transpiler.Normalize(stmt)
		}
		stmt = dialect.FinalCleanup(stmt)
		if err := sql.CheckSchemaScope(stmt, schema, sql.LexOptions{}); err != nil {
			return nil, nil, err
		}

		st := plannedStatement{sql: stmt}
		if c.IsCreateTable() {
			name, ok := sql.CreateTableName(stmt, sql.LexOptions{})
			if !ok {
				report.StatementsDropped++
				continue
			}
			st.table = name
		}
		planned = append(planned, st)
	}
	return planned, deferred, nil
}

// enterSchema creates schema if needed and points the transaction at it.
func enterSchema(ctx context.Context, tx datasource.Tx, schema string) error {
	if _, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+sql.QuoteIdent(schema)); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, "SET LOCAL search_path TO "+sql.QuoteIdent(schema))
	return err
}

// fillReport re-reads the schema: tables created by this import come first
// in statement order, any other tables of the schema follow by name.
func (s *importService) fillReport(ctx context.Context, tx datasource.Tx, schema string, created []string, report *models.ImportReport) error {
	res, err := tx.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		 ORDER BY table_name`, schema)
	if err != nil {
		return err
	}

	present := map[string]bool{}
	var others []string
	for _, row := range res.Rows {
		name := fmt.Sprint(row[0])
		present[name] = true
		others = append(others, name)
	}

	var tables []string
	for _, t := range created {
		if present[t] {
			tables = appendUnique(tables, t)
		}
	}
	sort.Strings(others)
	for _, t := range others {
		tables = appendUnique(tables, t)
	}

	for _, t := range tables {
		cols, err := tx.TableColumns(ctx, schema, t)
		if err != nil {
			return err
		}
		names := make([]string, len(cols))
		for i, c := range cols {
			names[i] = c.ColumnName
		}

		count, err := tx.Query(ctx, "SELECT COUNT(*) FROM "+sql.QuoteQualified(schema, t))
		if err != nil {
			return err
		}
		var rows int64
		if len(count.Rows) > 0 && len(count.Rows[0]) > 0 {
			rows = toInt64(count.Rows[0][0])
		}
		report.PerTable[t] = models.TableReport{Columns: names, Rows: rows}
	}

	report.Tables = tables
	report.MainTable = models.PickMainTable(tables, report.PerTable)
	return nil
}

func (s *importService) checkSize(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty upload", apperrors.ErrInvalidInput)
	}
	if s.cfg.MaxUploadBytes > 0 && int64(len(data)) > s.cfg.MaxUploadBytes {
		return fmt.Errorf("%w: upload of %d bytes exceeds the %d byte limit", apperrors.ErrInvalidInput, len(data), s.cfg.MaxUploadBytes)
	}
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

var _ ImportService = (*importService)(nil)
