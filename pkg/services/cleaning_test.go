package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-bi/pkg/config"
	"github.com/ekaya-inc/ekaya-bi/pkg/llm"
	"github.com/ekaya-inc/ekaya-bi/pkg/models"
)

const shiftPlanReply = "Claro, este es el plan:\n```json\n" + `{
  "intent": "calcular duración",
  "operations": [
    {"op": "add_calculated", "new_col": "duracion_minutos", "expr": "hora_fin - hora_inicio", "type": "numeric"},
    {"op": "exec_sql", "sql": "DROP TABLE turnos"},
    {"op": "cast", "types": {"monto": "money"}}
  ]
}` + "\n```"

const durationMinutes = "(EXTRACT(EPOCH FROM (hora_fin - hora_inicio)))/60.0"

func shiftColumns() []datasource.ColumnMetadata {
	return []datasource.ColumnMetadata{
		numCol("hora_inicio", "time without time zone", 1),
		numCol("hora_fin", "time without time zone", 2),
		textCol("nombre", 3),
		numCol("monto", "numeric", 4),
	}
}

type cleaningFixture struct {
	service   CleaningService
	session   *stubSession
	connector *stubConnector
	llm       *llm.MockLLMClient
	resolver  *stubResolver
}

func newCleaningFixture(reply string) *cleaningFixture {
	session := newStubSession(&datasource.SchemaDescription{
		Schema: "ds",
		Tables: []datasource.TableDescription{{Name: "turnos", Columns: shiftColumns()}},
	})
	session.sample = result([]string{"hora_inicio", "hora_fin"}, []any{"08:00:00", "16:30:00"})
	session.tx.columns["turnos"] = shiftColumns()

	connector := newStubConnector(session)
	mock := llm.NewMockLLMClient(reply)
	resolver := newStubResolver("ds", "turnos")
	cfg := &config.Config{Cleaning: config.CleaningConfig{SampleRows: 10}}
	return &cleaningFixture{
		service:   NewCleaningService(resolver, connector, mock, cfg, zap.NewNop()),
		session:   session,
		connector: connector,
		llm:       mock,
		resolver:  resolver,
	}
}

func (f *cleaningFixture) applyPlan(t *testing.T, ops ...models.Operation) *CleaningAck {
	t.Helper()
	ack, err := f.service.ApplyPlan(context.Background(), uuid.New(), "", &models.CleaningPlan{Intent: "test", Operations: ops})
	require.NoError(t, err)
	return ack
}

func TestCleaningSuggest_NormalizesPlan(t *testing.T) {
	f := newCleaningFixture(shiftPlanReply)

	s, err := f.service.Suggest(context.Background(), CleaningRequest{DataSourceID: uuid.New(), Instructions: "duración del turno"})
	require.NoError(t, err)

	assert.Equal(t, "calcular duración", s.Plan.Intent)
	require.Len(t, s.Plan.Operations, 1)
	op, ok := s.Plan.Operations[0].(models.AddCalculatedOp)
	require.True(t, ok)
	assert.Equal(t, durationMinutes, op.Expr)
	assert.Equal(t, "minutes", op.Unit)
	assert.Equal(t, 2, s.Dropped)
	assert.Empty(t, s.Message)

	assert.Equal(t, 0, f.session.txCalls)
	assert.Contains(t, f.llm.LastPrompt(), "hora_inicio")
	assert.Contains(t, f.llm.LastPrompt(), "duración del turno")
}

func TestCleaningApply_RepairedCalculationIsExecuted(t *testing.T) {
	f := newCleaningFixture(shiftPlanReply)

	ack, err := f.service.Apply(context.Background(), CleaningRequest{DataSourceID: uuid.New()})
	require.NoError(t, err)

	assert.True(t, ack.OK)
	assert.Equal(t, 1, ack.Applied)
	assert.Equal(t, 2, ack.Dropped)

	tx := f.session.tx
	assert.True(t, tx.committed)
	assert.Equal(t, []string{
		`ALTER TABLE "ds"."turnos" ADD COLUMN IF NOT EXISTS "duracion_minutos" numeric`,
		`UPDATE "ds"."turnos" SET "duracion_minutos" = ` + durationMinutes,
	}, tx.statements)
}

func TestCleaningSuggest_UnusableReply(t *testing.T) {
	f := newCleaningFixture("no sé qué hacer")

	s, err := f.service.Suggest(context.Background(), CleaningRequest{DataSourceID: uuid.New()})
	require.NoError(t, err)

	assert.Empty(t, s.Plan.Operations)
	assert.Equal(t, noPlanMessage, s.Message)
}

func TestCleaningSuggest_Errors(t *testing.T) {
	t.Run("missing table", func(t *testing.T) {
		f := newCleaningFixture(shiftPlanReply)
		_, err := f.service.Suggest(context.Background(), CleaningRequest{DataSourceID: uuid.New(), Table: "fantasma"})
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
		assert.Equal(t, 0, f.llm.GenerateResponseCalls)
	})

	t.Run("no table known", func(t *testing.T) {
		f := newCleaningFixture(shiftPlanReply)
		f.resolver.ds.InternalTable = ""
		_, err := f.service.Suggest(context.Background(), CleaningRequest{DataSourceID: uuid.New()})
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		assert.Equal(t, 0, f.connector.opens)
	})

	t.Run("generation failure", func(t *testing.T) {
		f := newCleaningFixture("")
		f.llm.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64, thinking bool) (*llm.GenerateResponseResult, error) {
			return nil, errors.New("rate limited")
		}
		_, err := f.service.Suggest(context.Background(), CleaningRequest{DataSourceID: uuid.New()})
		assert.ErrorIs(t, err, apperrors.ErrConnectivity)
	})
}

// shellOp is an operation the whitelist does not know.
type shellOp struct{}

func (shellOp) Kind() models.OperationKind { return "shell" }
func (shellOp) Columns() []string          { return nil }

func TestCleaningApplyPlan_WhitelistDropsUnknownOperations(t *testing.T) {
	f := newCleaningFixture("")

	ack := f.applyPlan(t, shellOp{}, models.DropNullsOp{Cols: []string{"nombre"}})

	assert.Equal(t, 1, ack.Dropped)
	assert.Equal(t, 1, ack.Applied)
	assert.Equal(t, []string{`DELETE FROM "ds"."turnos" WHERE "nombre" IS NULL`}, f.session.tx.statements)
}

func TestCleaningApplyPlan_MissingColumnsAreSkipped(t *testing.T) {
	f := newCleaningFixture("")

	ack := f.applyPlan(t,
		models.DropNullsOp{Cols: []string{"Nombre", "fantasma"}},
		models.TextOp{Op: models.OpUpper, Cols: []string{"fantasma"}},
	)

	assert.Equal(t, 1, ack.Applied)
	assert.Equal(t, 2, ack.Skipped)
	assert.Equal(t, []string{`DELETE FROM "ds"."turnos" WHERE "nombre" IS NULL`}, f.session.tx.statements)
}

func TestCleaningApplyPlan_LaterOperationsSeeRenames(t *testing.T) {
	f := newCleaningFixture("")
	tx := f.session.tx
	tx.execFunc = func(stmt string) error {
		if strings.Contains(stmt, `RENAME COLUMN "nombre" TO "nombre_cliente"`) {
			cols := tx.columns["turnos"]
			cols[2].ColumnName = "nombre_cliente"
		}
		return nil
	}

	ack := f.applyPlan(t,
		models.RenameOp{Mapping: map[string]string{"nombre": "Nombre Cliente"}},
		models.TextOp{Op: models.OpTrim, Cols: []string{"nombre_cliente"}},
	)

	assert.Equal(t, 2, ack.Applied)
	assert.Equal(t, []string{
		`ALTER TABLE "ds"."turnos" RENAME COLUMN "nombre" TO "nombre_cliente"`,
		`UPDATE "ds"."turnos" SET "nombre_cliente" = TRIM("nombre_cliente")`,
	}, tx.statements)
}

func TestCleaningApplyPlan_CastAndFill(t *testing.T) {
	f := newCleaningFixture("")

	ack := f.applyPlan(t,
		models.CastOp{Types: map[string]string{"monto": "numeric(10,2)", "nombre": "jsonb"}},
		models.FillNullsOp{Cols: []string{"monto"}, Value: "0"},
	)

	assert.Equal(t, 2, ack.Applied)
	tx := f.session.tx
	require.Len(t, tx.statements, 2)
	assert.Equal(t, `ALTER TABLE "ds"."turnos" ALTER COLUMN "monto" TYPE NUMERIC(10,2) USING NULLIF(TRIM("monto"::text), '')::NUMERIC(10,2)`, tx.statements[0])
	assert.Equal(t, `UPDATE "ds"."turnos" SET "monto" = CAST($1::text AS numeric) WHERE "monto" IS NULL`, tx.statements[1])
	assert.Equal(t, []any{"0"}, tx.args[1])
}

func TestCleaningApplyPlan_RegexReplace(t *testing.T) {
	f := newCleaningFixture("")

	ack := f.applyPlan(t,
		models.RegexReplaceOp{Col: "nombre", Pattern: `\s+`, Repl: " "},
		models.RegexReplaceOp{Col: "nombre", Pattern: `(`, Repl: ""},
	)

	assert.Equal(t, 1, ack.Applied)
	assert.Equal(t, 1, ack.Dropped)
	assert.Equal(t, []any{`\s+`, " "}, f.session.tx.args[0])
}

func TestCleaningApplyPlan_UnsafeExpressionIsDropped(t *testing.T) {
	f := newCleaningFixture("")

	ack := f.applyPlan(t, models.AddCalculatedOp{NewCol: "x", Expr: "1; DROP TABLE turnos"})

	assert.Equal(t, 1, ack.Dropped)
	assert.Equal(t, noPlanMessage, ack.Message)
	assert.Equal(t, 0, f.session.txCalls)
}

func TestCleaningApplyPlan_NumericSubtractionIsNotWrapped(t *testing.T) {
	f := newCleaningFixture("")
	cols := append(shiftColumns(),
		numCol("start_time_balance", "numeric", 5),
		numCol("end_time_balance", "numeric", 6),
	)
	f.session.schema.Tables[0].Columns = cols
	f.session.tx.columns["turnos"] = cols

	ack := f.applyPlan(t, models.AddCalculatedOp{NewCol: "variacion_horas", Expr: "end_time_balance - start_time_balance", Type: "numeric"})

	assert.Equal(t, 1, ack.Applied)
	assert.Equal(t, []string{
		`ALTER TABLE "ds"."turnos" ADD COLUMN IF NOT EXISTS "variacion_horas" numeric`,
		`UPDATE "ds"."turnos" SET "variacion_horas" = end_time_balance - start_time_balance`,
	}, f.session.tx.statements)
}

func TestCleaningApplyPlan_ServerFunctionIsDropped(t *testing.T) {
	f := newCleaningFixture("")

	ack := f.applyPlan(t,
		models.AddCalculatedOp{NewCol: "fuga", Expr: "query_to_xml('SELECT * FROM ds_otro.clientes', true, false, '')::text"},
		models.AddCalculatedOp{NewCol: "fuga2", Expr: "(SELECT count(*) FROM ds_otro.clientes)"},
	)

	assert.Equal(t, 2, ack.Dropped)
	assert.Zero(t, ack.Applied)
	assert.Equal(t, 0, f.session.txCalls)
}

func TestCleaningApplyPlan_FailureRollsBack(t *testing.T) {
	f := newCleaningFixture("")
	f.session.tx.execFunc = func(stmt string) error { return errors.New("permission denied") }

	_, err := f.service.ApplyPlan(context.Background(), uuid.New(), "turnos", &models.CleaningPlan{
		Operations: []models.Operation{models.DropNullsOp{Cols: []string{"nombre"}}},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrExecution)
	assert.Contains(t, err.Error(), "operation 1 (drop_nulls)")
	assert.True(t, f.session.tx.rolledBack)
}

func TestCleaningApplyPlan_RequiresPlan(t *testing.T) {
	f := newCleaningFixture("")

	_, err := f.service.ApplyPlan(context.Background(), uuid.New(), "turnos", nil)

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestOpExecutor_UnsafeExpressionIsSecurityViolation(t *testing.T) {
	tx := newStubTx()
	tx.columns["t"] = []datasource.ColumnMetadata{numCol("a", "integer", 1)}
	ex := &opExecutor{tx: tx, schema: "ds", table: "t", target: `"ds"."t"`}

	_, _, err := ex.run(context.Background(), models.AddCalculatedOp{NewCol: "b", Expr: "a /* x */"})

	assert.ErrorIs(t, err, apperrors.ErrSecurityViolation)
	assert.Empty(t, tx.statements)
}

func TestOpExecutor_ServerFunctionIsSecurityViolation(t *testing.T) {
	tx := newStubTx()
	tx.columns["t"] = []datasource.ColumnMetadata{numCol("a", "integer", 1)}
	ex := &opExecutor{tx: tx, schema: "ds", table: "t", target: `"ds"."t"`}

	_, _, err := ex.run(context.Background(), models.AddCalculatedOp{NewCol: "b", Expr: "a || pg_read_file('/etc/passwd')"})

	assert.ErrorIs(t, err, apperrors.ErrSecurityViolation)
	assert.Empty(t, tx.statements)
}

func TestOpExecutor_AddCalculatedTypes(t *testing.T) {
	tests := []struct {
		name string
		op   models.AddCalculatedOp
		want []string
	}{
		{
			name: "interval by default",
			op:   models.AddCalculatedOp{NewCol: "duracion", Expr: "hora_fin - hora_inicio"},
			want: []string{
				`ALTER TABLE "ds"."turnos" ADD COLUMN IF NOT EXISTS "duracion" INTERVAL`,
				`UPDATE "ds"."turnos" SET "duracion" = hora_fin - hora_inicio`,
			},
		},
		{
			name: "existing text column",
			op:   models.AddCalculatedOp{NewCol: "nombre", Expr: "monto * 2"},
			want: []string{`UPDATE "ds"."turnos" SET "nombre" = (monto * 2)::text`},
		},
		{
			name: "double precision with hours",
			op:   models.AddCalculatedOp{NewCol: "turno_horas", Expr: "hora_fin - hora_inicio", Type: "double precision"},
			want: []string{
				`ALTER TABLE "ds"."turnos" ADD COLUMN IF NOT EXISTS "turno_horas" double precision`,
				`UPDATE "ds"."turnos" SET "turno_horas" = (EXTRACT(EPOCH FROM (hora_fin - hora_inicio)))/3600.0`,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := newStubTx()
			tx.columns["turnos"] = shiftColumns()
			ex := &opExecutor{tx: tx, schema: "ds", table: "turnos", target: `"ds"."turnos"`}

			applied, skipped, err := ex.run(context.Background(), tt.op)

			require.NoError(t, err)
			assert.True(t, applied)
			assert.Zero(t, skipped)
			assert.Equal(t, tt.want, tx.statements)
		})
	}
}

func TestOpExecutor_AddCalculatedSkipsUnknownReferences(t *testing.T) {
	tx := newStubTx()
	tx.columns["turnos"] = shiftColumns()
	ex := &opExecutor{tx: tx, schema: "ds", table: "turnos", target: `"ds"."turnos"`}

	applied, skipped, err := ex.run(context.Background(), models.AddCalculatedOp{NewCol: "x", Expr: "precio * cantidad"})

	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 1, skipped)
	assert.Empty(t, tx.statements)
}

func TestDurationUnit(t *testing.T) {
	assert.Equal(t, "hours", durationUnit(models.AddCalculatedOp{Unit: "horas"}, ""))
	assert.Equal(t, "minutes", durationUnit(models.AddCalculatedOp{NewCol: "tiempo_min"}, ""))
	assert.Equal(t, "hours", durationUnit(models.AddCalculatedOp{NewCol: "tiempo"}, "expresado en horas"))
	assert.Equal(t, "seconds", durationUnit(models.AddCalculatedOp{NewCol: "tiempo"}, ""))
}

func TestIsTimeSubtraction(t *testing.T) {
	cols := []datasource.ColumnMetadata{
		numCol("hora_inicio", "time without time zone", 1),
		numCol("hora_fin", "time without time zone", 2),
		numCol("start_ts", "timestamp with time zone", 3),
		numCol("end_ts", "timestamp with time zone", 4),
		numCol("fecha_pedido", "date", 5),
		numCol("fecha_entrega", "date", 6),
		numCol("precio_final", "numeric", 7),
		numCol("descuento", "numeric", 8),
		numCol("start_balance", "numeric", 9),
		numCol("end_balance", "numeric", 10),
	}
	tests := []struct {
		expr string
		want bool
	}{
		{"hora_fin - hora_inicio", true},
		{`"end_ts"-"start_ts"`, true},
		{"end_ts - fecha_pedido", true},
		{"fecha_entrega::timestamp - fecha_pedido::timestamp", true},
		{"now() - start_ts", true},
		{"fecha_entrega - fecha_pedido", false},
		{"precio_final - descuento", false},
		{"end_balance - start_balance", false},
		{"end_ts - precio_final", false},
		{"hora_fin - fantasma", false},
		{"hora_fin", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, isTimeSubtraction(tt.expr, cols))
		})
	}

	assert.False(t, isTimeSubtraction("hora_fin - hora_inicio", nil))
}
