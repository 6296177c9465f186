package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-bi/pkg/config"
	"github.com/ekaya-inc/ekaya-bi/pkg/llm"
	"github.com/ekaya-inc/ekaya-bi/pkg/models"
	"github.com/ekaya-inc/ekaya-bi/pkg/prompts"
	"github.com/ekaya-inc/ekaya-bi/pkg/sql"
)

const noPlanMessage = "No pude generar un plan de limpieza válido. Reformula la instrucción indicando las columnas."

// CleaningRequest asks for a cleaning plan over one table of a datasource.
type CleaningRequest struct {
	DataSourceID uuid.UUID                        `json:"datasource_id"`
	Table        string                           `json:"table"`
	Instructions string                           `json:"instructions"`
	// SampleRows overrides cleaning.sample_rows when positive.
	SampleRows int                              `json:"sample_rows,omitempty"`
	Override   *datasource.ConnectionDescriptor `json:"override,omitempty"`
}

// CleaningSuggestion is a normalized plan that has not been executed.
type CleaningSuggestion struct {
	Plan *models.CleaningPlan `json:"plan"`
	// Dropped counts operations removed by the whitelist or the type checks.
	Dropped int    `json:"dropped"`
	Message string `json:"message,omitempty"`
}

// CleaningAck reports an applied plan.
type CleaningAck struct {
	OK      bool   `json:"ok"`
	Applied int    `json:"applied"`
	Intent  string `json:"intent"`
	Dropped int    `json:"dropped"`
	// Skipped counts operation targets whose columns did not exist.
	Skipped int    `json:"skipped"`
	Message string `json:"message,omitempty"`
}

// CleaningService generates and applies cleaning plans.
type CleaningService interface {
	// Suggest generates and normalizes a plan without executing it.
	Suggest(ctx context.Context, req CleaningRequest) (*CleaningSuggestion, error)

	// Apply generates, normalizes and executes a plan in one transaction.
	Apply(ctx context.Context, req CleaningRequest) (*CleaningAck, error)

	// ApplyPlan re-validates a previously returned plan and executes it.
	ApplyPlan(ctx context.Context, dataSourceID uuid.UUID, table string, plan *models.CleaningPlan) (*CleaningAck, error)
}

type cleaningService struct {
	resolver    Resolver
	connector   datasource.Connector
	llm         llm.LLMClient
	sampleRows  int
	temperature float64
	logger      *zap.Logger
}

// NewCleaningService creates the cleaning plan engine.
func NewCleaningService(
	resolver Resolver,
	connector datasource.Connector,
	llmClient llm.LLMClient,
	cfg *config.Config,
	logger *zap.Logger,
) CleaningService {
	return &cleaningService{
		resolver:    resolver,
		connector:   connector,
		llm:         llmClient,
		sampleRows:  cfg.Cleaning.SampleRows,
		temperature: cfg.LLM.Temperature,
		logger:      logger.Named("cleaning"),
	}
}

// target is a resolved table with an open session.
type target struct {
	session datasource.Session
	schema  string
	table   string
}

func (s *cleaningService) open(ctx context.Context, id uuid.UUID, table string, override *datasource.ConnectionDescriptor) (*target, error) {
	resolved, err := s.resolver.Resolve(ctx, id, override)
	if err != nil {
		return nil, err
	}
	if table == "" {
		table = resolved.DataSource.InternalTable
	}
	if table == "" {
		return nil, fmt.Errorf("%w: table is required", apperrors.ErrInvalidInput)
	}
	session, err := s.connector.Open(ctx, resolved.Descriptor)
	if err != nil {
		return nil, err
	}
	return &target{session: session, schema: resolved.Descriptor.Schema, table: table}, nil
}

func (s *cleaningService) Suggest(ctx context.Context, req CleaningRequest) (*CleaningSuggestion, error) {
	t, err := s.open(ctx, req.DataSourceID, req.Table, req.Override)
	if err != nil {
		return nil, err
	}
	defer t.session.Close()
	return s.suggest(ctx, t, req)
}

func (s *cleaningService) suggest(ctx context.Context, t *target, req CleaningRequest) (*CleaningSuggestion, error) {
	cols, err := t.session.TableColumns(ctx, t.schema, t.table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: table %q", apperrors.ErrNotFound, t.table)
	}

	n := s.sampleRows
	if req.SampleRows > 0 {
		n = req.SampleRows
	}
	sample, err := t.session.SampleRows(ctx, t.schema, t.table, n)
	if err != nil {
		return nil, err
	}

	pc := prompts.CleaningContext{Table: t.table, Sample: sample.RowMaps(), Instructions: strings.TrimSpace(req.Instructions)}
	for _, c := range cols {
		pc.Columns = append(pc.Columns, prompts.ColumnType{Name: c.ColumnName, Type: c.DataType})
	}

	resp, err := s.llm.GenerateResponse(ctx, prompts.BuildCleaningPrompt(pc), prompts.CleaningSystemMessage, s.temperature, false)
	if err != nil {
		return nil, apperrors.Connectivity("generation service", err)
	}

	plan, dropped, err := decodePlan(resp.Content)
	if err != nil {
		s.logger.Warn("Unusable cleaning reply", zap.Error(err))
		return &CleaningSuggestion{Plan: &models.CleaningPlan{}, Message: noPlanMessage}, nil
	}

	normalized, removed := normalizePlan(plan, req.Instructions, cols)
	suggestion := &CleaningSuggestion{Plan: normalized, Dropped: dropped + removed}
	if len(normalized.Operations) == 0 {
		suggestion.Message = noPlanMessage
	}
	return suggestion, nil
}

func decodePlan(content string) (*models.CleaningPlan, int, error) {
	raw, err := llm.ExtractJSON(content)
	if err != nil {
		return nil, 0, apperrors.Contract("%v", err)
	}
	return models.DecodeCleaningPlan([]byte(raw))
}

func (s *cleaningService) Apply(ctx context.Context, req CleaningRequest) (*CleaningAck, error) {
	t, err := s.open(ctx, req.DataSourceID, req.Table, req.Override)
	if err != nil {
		return nil, err
	}
	defer t.session.Close()

	suggestion, err := s.suggest(ctx, t, req)
	if err != nil {
		return nil, err
	}
	ack, err := s.apply(ctx, t, suggestion.Plan, req.Instructions)
	if err != nil {
		return nil, err
	}
	ack.Dropped += suggestion.Dropped
	if ack.Message == "" {
		ack.Message = suggestion.Message
	}
	return ack, nil
}

func (s *cleaningService) ApplyPlan(ctx context.Context, dataSourceID uuid.UUID, table string, plan *models.CleaningPlan) (*CleaningAck, error) {
	if plan == nil {
		return nil, fmt.Errorf("%w: plan is required", apperrors.ErrInvalidInput)
	}
	t, err := s.open(ctx, dataSourceID, table, nil)
	if err != nil {
		return nil, err
	}
	defer t.session.Close()
	return s.apply(ctx, t, plan, "")
}

// apply normalizes plan once more and runs it in a single transaction.
func (s *cleaningService) apply(ctx context.Context, t *target, plan *models.CleaningPlan, instructions string) (*CleaningAck, error) {
	cols, err := t.session.TableColumns(ctx, t.schema, t.table)
	if err != nil {
		return nil, err
	}
	normalized, dropped := normalizePlan(plan, instructions, cols)
	ack := &CleaningAck{OK: true, Intent: normalized.Intent, Dropped: dropped}
	if len(normalized.Operations) == 0 {
		ack.Message = noPlanMessage
		return ack, nil
	}

	err = t.session.WithTx(ctx, func(ctx context.Context, tx datasource.Tx) error {
		ex := &opExecutor{tx: tx, schema: t.schema, table: t.table, target: sql.QuoteQualified(t.schema, t.table)}
		for i, op := range normalized.Operations {
			applied, skipped, err := ex.run(ctx, op)
			if err != nil {
				return fmt.Errorf("operation %d (%s): %w", i+1, op.Kind(), err)
			}
			ack.Skipped += skipped
			if applied {
				ack.Applied++
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Cleaning plan failed",
			zap.String("schema", t.schema),
			zap.String("table", t.table),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Applied cleaning plan",
		zap.String("schema", t.schema),
		zap.String("table", t.table),
		zap.Int("applied", ack.Applied),
		zap.Int("skipped", ack.Skipped),
		zap.Int("dropped", ack.Dropped))
	return ack, nil
}

var _ CleaningService = (*cleaningService)(nil)

// portableType accepts the type names cast and add_calculated may declare.
var portableType = regexp.MustCompile(`(?i)^(smallint|integer|int|bigint|real|double precision|float|text|boolean|bool|date|time|timestamptz|interval|` +
	`(?:numeric|decimal)(?:\s*\(\s*\d+\s*(?:,\s*\d+\s*)?\))?|` +
	`(?:varchar|character varying)(?:\s*\(\s*\d+\s*\))?|` +
	`timestamp(?:\s+with(?:out)?\s+time\s+zone)?)$`)

func isNumericType(t string) bool {
	t = strings.ToLower(strings.TrimSpace(t))
	switch {
	case t == "smallint", t == "integer", t == "int", t == "bigint", t == "real", t == "float",
		strings.HasPrefix(t, "double"), strings.HasPrefix(t, "numeric"), strings.HasPrefix(t, "decimal"):
		return true
	}
	return false
}

var (
	epochPattern       = regexp.MustCompile(`(?i)EXTRACT\s*\(\s*EPOCH`)
	subtractionPattern = regexp.MustCompile(`[\w")]\s*-\s*[\w"(]`)
	intervalOperand    = regexp.MustCompile(`(?i)::\s*(?:time|timestamp|timestamptz)\b|\b(?:age|now)\s*\(|\b(?:current_timestamp|localtimestamp)\b`)
	minutesHint        = regexp.MustCompile(`(?i)\bmin(?:uto|utos|utes|s)?\b`)
	hoursHint          = regexp.MustCompile(`(?i)\b(?:horas|hours|hrs?)\b`)
)

// isTimeSubtraction reports whether expr subtracts times or timestamps and
// so yields an interval. Operands count when they are cast to a time type or
// are columns of cols whose catalog type is date, time or timestamp, with at
// least one time or timestamp among them: date minus date is a day count.
func isTimeSubtraction(expr string, cols []datasource.ColumnMetadata) bool {
	if !subtractionPattern.MatchString(expr) {
		return false
	}
	if intervalOperand.MatchString(expr) {
		return true
	}
	refs := sql.ColumnIdentifiers(expr)
	if len(refs) < 2 {
		return false
	}
	clock := false
	for _, ref := range refs {
		c, ok := lookupColumn(cols, ref)
		if !ok {
			return false
		}
		dt := strings.ToLower(c.DataType)
		switch {
		case dt == "date":
		case strings.HasPrefix(dt, "time"):
			clock = true
		default:
			return false
		}
	}
	return clock
}

// lookupColumn finds name case-insensitively in cols.
func lookupColumn(cols []datasource.ColumnMetadata, name string) (datasource.ColumnMetadata, bool) {
	for _, c := range cols {
		if strings.EqualFold(c.ColumnName, strings.TrimSpace(name)) {
			return c, true
		}
	}
	return datasource.ColumnMetadata{}, false
}

// durationUnit resolves the unit of an epoch extraction: the declared unit,
// else a hint in the column name, else in the user's instructions.
func durationUnit(op models.AddCalculatedOp, instructions string) string {
	switch op.Unit {
	case "minutes", "minute", "minutos", "min":
		return "minutes"
	case "hours", "hour", "horas":
		return "hours"
	case "seconds", "second", "segundos":
		return "seconds"
	}
	for _, text := range []string{strings.ReplaceAll(op.NewCol, "_", " "), instructions} {
		switch {
		case minutesHint.MatchString(text):
			return "minutes"
		case hoursHint.MatchString(text):
			return "hours"
		}
	}
	return "seconds"
}

// epochExpression turns an interval-valued expression into a scalar
// duration in unit.
func epochExpression(expr, unit string) string {
	base := "EXTRACT(EPOCH FROM (" + expr + "))"
	switch unit {
	case "minutes":
		return "(" + base + ")/60.0"
	case "hours":
		return "(" + base + ")/3600.0"
	default:
		return base
	}
}

// normalizePlan re-applies the operation whitelist and repairs what can be
// repaired: numeric computed columns over time subtractions of cols get an
// epoch extraction, types outside the portable set are removed. It returns
// the normalized copy and how many operations were removed.
func normalizePlan(plan *models.CleaningPlan, instructions string, cols []datasource.ColumnMetadata) (*models.CleaningPlan, int) {
	out := &models.CleaningPlan{Intent: plan.Intent}
	dropped := 0
	for _, op := range plan.Operations {
		if op == nil {
			dropped++
			continue
		}
		if _, ok := models.LookupOperationKind(string(op.Kind())); !ok {
			dropped++
			continue
		}

		switch o := op.(type) {
		case models.CastOp:
			types := map[string]string{}
			for col, typ := range o.Types {
				if portableType.MatchString(strings.TrimSpace(typ)) {
					types[col] = strings.ToUpper(strings.TrimSpace(typ))
				}
			}
			if len(types) == 0 {
				dropped++
				continue
			}
			op = models.CastOp{Types: types}
		case models.RenameOp:
			mapping := map[string]string{}
			for from, to := range o.Mapping {
				if name := sql.SanitizeIdentifier(to, ""); name != "" {
					mapping[from] = name
				}
			}
			if len(mapping) == 0 {
				dropped++
				continue
			}
			op = models.RenameOp{Mapping: mapping}
		case models.AddCalculatedOp:
			if o.Type != "" && !portableType.MatchString(o.Type) {
				dropped++
				continue
			}
			if sql.CheckExpression(o.Expr) != nil {
				dropped++
				continue
			}
			o.NewCol = sql.SanitizeIdentifier(o.NewCol, "")
			if o.NewCol == "" {
				dropped++
				continue
			}
			if isNumericType(o.Type) && isTimeSubtraction(o.Expr, cols) && !epochPattern.MatchString(o.Expr) {
				o.Unit = durationUnit(o, instructions)
				o.Expr = epochExpression(o.Expr, o.Unit)
			}
			op = o
		case models.RegexReplaceOp:
			if _, err := regexp.Compile(o.Pattern); err != nil {
				dropped++
				continue
			}
		}
		out.Operations = append(out.Operations, op)
	}
	return out, dropped
}
