package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-bi/pkg/config"
	"github.com/ekaya-inc/ekaya-bi/pkg/llm"
	"github.com/ekaya-inc/ekaya-bi/pkg/logging"
	"github.com/ekaya-inc/ekaya-bi/pkg/models"
	"github.com/ekaya-inc/ekaya-bi/pkg/prompts"
	"github.com/ekaya-inc/ekaya-bi/pkg/sql"
)

// OutcomeKind tells the caller how to render a chat turn.
type OutcomeKind string

const (
	OutcomeChart    OutcomeKind = "chart"
	OutcomeClarify  OutcomeKind = "clarify"
	OutcomeRejected OutcomeKind = "rejected"
	OutcomeEmpty    OutcomeKind = "empty"
)

const (
	defaultClarification = "No pude interpretar la consulta. ¿Puedes indicar qué tabla y qué columnas quieres ver?"
	emptyResultText      = "La consulta no devolvió datos para graficar."
	defaultExample       = "Conteo de registros por categoría"
	maxGreetingExamples  = 2
)

var greetings = map[string]bool{"hola": true, "buenas": true, "hello": true, "hey": true}

// ChatRequest is one chat turn against a datasource.
type ChatRequest struct {
	DataSourceID uuid.UUID                        `json:"datasource_id"`
	Message      string                           `json:"message"`
	Override     *datasource.ConnectionDescriptor `json:"override,omitempty"`
}

// ChatOutcome is the result of a chat turn. Kind selects which fields are set.
type ChatOutcome struct {
	Kind      OutcomeKind         `json:"kind"`
	Chart     models.ChartPayload `json:"chart"`
	ChartType models.ChartType    `json:"chart_type,omitempty"`
	Title     string              `json:"title,omitempty"`
	Text      string              `json:"text,omitempty"`
	// SQL is the statement that produced Chart, schema qualified.
	SQL      string `json:"sql,omitempty"`
	Question string `json:"question,omitempty"`
	Reason   string `json:"reason,omitempty"`
	// Attempts counts executed statements, fallbacks included.
	Attempts int `json:"attempts"`
}

func clarify(question string) *ChatOutcome {
	return &ChatOutcome{Kind: OutcomeClarify, Question: question, Chart: models.EmptyChart()}
}

// ChatService turns a free-text question into a chart.
type ChatService interface {
	Ask(ctx context.Context, req ChatRequest) (*ChatOutcome, error)
}

type chatService struct {
	resolver    Resolver
	connector   datasource.Connector
	llm         llm.LLMClient
	cfg         config.ChatConfig
	temperature float64
	logger      *zap.Logger
}

// NewChatService creates the query synthesis service.
func NewChatService(
	resolver Resolver,
	connector datasource.Connector,
	llmClient llm.LLMClient,
	cfg *config.Config,
	logger *zap.Logger,
) ChatService {
	return &chatService{
		resolver:    resolver,
		connector:   connector,
		llm:         llmClient,
		cfg:         cfg.Chat,
		temperature: cfg.LLM.Temperature,
		logger:      logger.Named("chat"),
	}
}

func (s *chatService) Ask(ctx context.Context, req ChatRequest) (*ChatOutcome, error) {
	resolved, err := s.resolver.Resolve(ctx, req.DataSourceID, req.Override)
	if err != nil {
		return nil, err
	}
	schema := resolved.Descriptor.Schema

	if isGreeting(req.Message) {
		return clarify(s.greeting(ctx, resolved.Descriptor)), nil
	}

	session, err := s.connector.Open(ctx, resolved.Descriptor)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	desc, err := session.DescribeSchema(ctx, schema, false)
	if err != nil {
		return nil, err
	}

	fks, err := session.ForeignKeys(ctx, schema)
	if err != nil {
		return nil, err
	}
	edges := make([]string, len(fks))
	for i, fk := range fks {
		edges[i] = fk.Edge()
	}

	prompt := prompts.BuildChatPrompt(prompts.ChatContext{
		Schema:      desc.Reduced(),
		ForeignKeys: edges,
		Message:     strings.TrimSpace(req.Message),
	})
	resp, err := s.llm.GenerateResponse(ctx, prompt, prompts.ChatSystemMessage, s.temperature, false)
	if err != nil {
		return nil, apperrors.Connectivity("generation service", err)
	}

	generated, err := decodeReply(resp.Content)
	if err != nil {
		s.logger.Warn("Unusable generation reply", zap.Error(err))
		return clarify(defaultClarification), nil
	}

	switch g := generated.(type) {
	case *models.Clarify:
		return clarify(g.Question), nil
	case *models.Answer:
		return s.answer(ctx, session, desc, g, req.Message)
	default:
		return clarify(defaultClarification), nil
	}
}

func decodeReply(content string) (models.GeneratedQuery, error) {
	raw, err := llm.ExtractJSON(content)
	if err != nil {
		return nil, apperrors.Contract("%v", err)
	}
	return models.DecodeGeneratedQuery([]byte(raw))
}

// answer validates and runs the generated SQL, walking the fallback
// rewrites when the first result cannot back a chart.
func (s *chatService) answer(ctx context.Context, session datasource.Session, desc *datasource.SchemaDescription, a *models.Answer, message string) (*ChatOutcome, error) {
	query, err := sql.EnsureReadOnly(a.SQL)
	if err != nil {
		s.logger.Warn("Rejected generated SQL",
			zap.String("sql", logging.TruncateQuery(a.SQL, 200)),
			zap.Error(err))
		return &ChatOutcome{
			Kind:   OutcomeRejected,
			Reason: err.Error(),
			SQL:    a.SQL,
			Chart:  models.EmptyChart(),
		}, nil
	}

	if err := sql.CheckSchemaScope(query, desc.Schema, sql.LexOptions{}); err != nil {
		s.logger.Warn("Rejected generated SQL",
			zap.String("schema", desc.Schema),
			zap.String("sql", logging.TruncateQuery(a.SQL, 200)),
			zap.Error(err))
		return &ChatOutcome{
			Kind:   OutcomeRejected,
			Reason: err.Error(),
			SQL:    a.SQL,
			Chart:  models.EmptyChart(),
		}, nil
	}

	outcome := &ChatOutcome{ChartType: a.Chart, Title: a.Title, Text: a.Text}
	if outcome.Title == "" {
		outcome.Title = titleFromMessage(message)
	}

	qualified := sql.QualifyTables(query, desc.Schema)
	res, err := s.run(ctx, session, qualified, outcome)
	if err != nil {
		return nil, err
	}
	if res.Usable() {
		return chartOutcome(outcome, res, qualified), nil
	}

	counts, err := session.RowCounts(ctx, desc.Schema, desc.TableNames())
	if err != nil {
		return nil, err
	}
	planner := newFallbackPlanner(desc, counts)
	for _, candidate := range planner.Candidates(query, s.cfg.MaxFallbackAttempts) {
		qualified := sql.QualifyTables(candidate, desc.Schema)
		res, err := s.run(ctx, session, qualified, outcome)
		if err != nil {
			return nil, err
		}
		if res.Usable() {
			s.logger.Info("Fallback rewrite produced a result",
				zap.String("sql", logging.TruncateQuery(qualified, 200)),
				zap.Int("attempts", outcome.Attempts))
			return chartOutcome(outcome, res, qualified), nil
		}
	}

	outcome.Kind = OutcomeEmpty
	outcome.Reason = emptyResultText
	outcome.SQL = qualified
	outcome.Chart = models.EmptyChart()
	return outcome, nil
}

// run executes one candidate. Database errors count as an unusable result;
// only connectivity failures abort the turn.
func (s *chatService) run(ctx context.Context, session datasource.Session, query string, outcome *ChatOutcome) (*datasource.QueryResult, error) {
	outcome.Attempts++
	res, err := session.ExecuteReadOnly(ctx, query, s.cfg.RowLimit)
	if err != nil {
		if errors.Is(err, apperrors.ErrConnectivity) {
			return nil, err
		}
		s.logger.Debug("Candidate query failed",
			zap.String("sql", logging.TruncateQuery(query, 200)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, nil
	}
	return res, nil
}

func chartOutcome(outcome *ChatOutcome, res *datasource.QueryResult, query string) *ChatOutcome {
	outcome.Kind = OutcomeChart
	outcome.SQL = query
	outcome.Chart = shapeChart(res, outcome.ChartType)
	return outcome
}

func isGreeting(message string) bool {
	m := strings.ToLower(strings.Trim(strings.TrimSpace(message), "¡!¿?.,;: "))
	return m == "" || greetings[m]
}

// greeting builds the greeting reply. The schema read only feeds the
// examples; when it fails the default example is used.
func (s *chatService) greeting(ctx context.Context, cd datasource.ConnectionDescriptor) string {
	session, err := s.connector.Open(ctx, cd)
	if err != nil {
		s.logger.Debug("Greeting without schema examples", zap.Error(err))
		return greetingMessage(&datasource.SchemaDescription{})
	}
	defer session.Close()

	desc, err := session.DescribeSchema(ctx, cd.Schema, false)
	if err != nil {
		s.logger.Debug("Greeting without schema examples", zap.Error(err))
		return greetingMessage(&datasource.SchemaDescription{})
	}
	return greetingMessage(desc)
}

// greetingMessage suggests questions built from the first tables of the schema.
func greetingMessage(desc *datasource.SchemaDescription) string {
	var examples []string
	for _, t := range desc.Tables {
		if len(examples) == maxGreetingExamples {
			break
		}
		cols := t.ColumnNames()
		switch {
		case len(cols) >= 2:
			examples = append(examples, fmt.Sprintf("Total de %s por %s en la tabla %s", cols[1], cols[0], t.Name))
		case len(cols) == 1:
			examples = append(examples, fmt.Sprintf("Conteo de %s en la tabla %s", cols[0], t.Name))
		}
	}
	if len(examples) == 0 {
		examples = []string{defaultExample}
	}
	return "¡Hola! Dime qué quieres ver. Por ejemplo: '" + strings.Join(examples, "' o '") + "'."
}

func titleFromMessage(message string) string {
	r := []rune(strings.TrimSpace(message))
	if len(r) == 0 {
		return "Consulta"
	}
	if len(r) > 60 {
		r = r[:60]
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

var _ ChatService = (*chatService)(nil)
