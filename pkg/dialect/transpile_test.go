package dialect

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
)

func transpilers() map[string]*Transpiler {
	return map[string]*Transpiler{
		"parser":   New(zap.NewNop()),
		"rewrites": New(zap.NewNop(), WithoutParser()),
	}
}

func TestTranspile_MySQLCreateTable(t *testing.T) {
	stmt := "CREATE TABLE t (id INT(11) AUTO_INCREMENT, flag TINYINT(1), name VARCHAR(50)) ENGINE=InnoDB"

	for name, tr := range transpilers() {
		t.Run(name, func(t *testing.T) {
			res := tr.Transpile(stmt)
			got := FinalCleanup(res.SQL)

			assert.NotContains(t, got, "ENGINE")
			assert.NotContains(t, got, "AUTO_INCREMENT")
			assert.Regexp(t, regexp.MustCompile(`(?i)"?id"?\s+INTEGER\s+GENERATED BY DEFAULT AS IDENTITY`), got)
			assert.Regexp(t, regexp.MustCompile(`(?i)"?flag"?\s+SMALLINT`), got)
			assert.Equal(t, []string{`ALTER TABLE "t" ALTER COLUMN "flag" TYPE BOOLEAN USING "flag" <> 0`}, res.Deferred)
			assert.Regexp(t, regexp.MustCompile(`(?i)"?name"?\s+VARCHAR\(50\)`), got)
		})
	}
}

func TestTranspile_DumpTable(t *testing.T) {
	stmt := "CREATE TABLE `shop`.`ventas` (\n" +
		"  `id` int(10) unsigned NOT NULL AUTO_INCREMENT,\n" +
		"  `categoria` enum('a','b') COLLATE utf8mb4_unicode_ci DEFAULT NULL COMMENT 'tipo',\n" +
		"  `creado` datetime NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,\n" +
		"  `cliente_id` int(11) DEFAULT NULL,\n" +
		"  PRIMARY KEY (`id`),\n" +
		"  KEY `idx_cliente` (`cliente_id`),\n" +
		"  CONSTRAINT `fk_cliente` FOREIGN KEY (`cliente_id`) REFERENCES `clientes` (`id`)\n" +
		") ENGINE=InnoDB AUTO_INCREMENT=11 DEFAULT CHARSET=utf8mb4"

	for name, tr := range transpilers() {
		t.Run(name, func(t *testing.T) {
			res := tr.Transpile(stmt)
			got := FinalCleanup(res.SQL)

			for _, gone := range []string{"`", "shop", "ENGINE", "AUTO_INCREMENT", "UNSIGNED", "enum(", "ENUM(", "ON UPDATE", "COMMENT", "idx_cliente", "utf8mb4", "datetime", "DATETIME"} {
				assert.NotContains(t, got, gone)
			}
			assert.Contains(t, got, "PRIMARY KEY")
			assert.Regexp(t, regexp.MustCompile(`(?i)"?creado"?\s+TIMESTAMP`), got)
			assert.Regexp(t, regexp.MustCompile(`(?i)"?categoria"?\s+TEXT`), got)

			require.Len(t, res.Deferred, 1)
			assert.Equal(t, `ALTER TABLE "ventas" ADD CONSTRAINT "fk_cliente" FOREIGN KEY ("cliente_id") REFERENCES "clientes" ("id") NOT VALID`, res.Deferred[0])
		})
	}
}

func TestTranspile_Insert(t *testing.T) {
	stmt := "INSERT INTO `shop`.`t` VALUES (1,'it\\'s'),(2,NULL)"

	for name, tr := range transpilers() {
		t.Run(name, func(t *testing.T) {
			got := FinalCleanup(tr.Transpile(stmt).SQL)

			assert.Contains(t, got, "'it''s'")
			assert.NotContains(t, got, "`")
			assert.NotContains(t, got, "shop")
			assert.Contains(t, got, `"t"`)
		})
	}
}

func TestTranspile_FlagColumnsKeepIntegerValues(t *testing.T) {
	create := "CREATE TABLE u (id int, activo tinyint(1), nombre varchar(10))"
	insert := "INSERT INTO u VALUES (1,1,'a'),(2,0,'b')"

	for name, tr := range transpilers() {
		t.Run(name, func(t *testing.T) {
			ddl := tr.Transpile(create)
			rows := FinalCleanup(tr.Transpile(insert).SQL)

			assert.NotContains(t, FinalCleanup(ddl.SQL), "BOOLEAN")
			assert.Regexp(t, regexp.MustCompile(`(?i)"?activo"?\s+SMALLINT`), FinalCleanup(ddl.SQL))
			assert.Regexp(t, regexp.MustCompile(`\(1,\s*1,\s*'a'\),\s*\(2,\s*0,\s*'b'\)`), rows)
			assert.Equal(t, []string{`ALTER TABLE "u" ALTER COLUMN "activo" TYPE BOOLEAN USING "activo" <> 0`}, ddl.Deferred)
		})
	}
}

func TestTranspile_RecordsDroppedColumnOptions(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	tr := New(zap.New(core))

	res := tr.Transpile("CREATE TABLE cuentas (id INT PRIMARY KEY, email VARCHAR(100) UNIQUE, " +
		"owner_id INT REFERENCES usuarios(id), total INT GENERATED ALWAYS AS (id * 2) VIRTUAL)")

	require.False(t, res.Degraded)
	assert.Equal(t, []DroppedOption{
		{Table: "cuentas", Column: "email", Option: "UNIQUE"},
		{Table: "cuentas", Column: "owner_id", Option: "REFERENCES"},
		{Table: "cuentas", Column: "total", Option: "GENERATED"},
	}, res.Dropped)
	assert.NotContains(t, res.SQL, "UNIQUE")
	assert.NotContains(t, res.SQL, "REFERENCES")
	assert.NotContains(t, res.SQL, "GENERATED")

	entries := logs.FilterMessage("Dropped column option").All()
	require.Len(t, entries, 3)
	assert.Equal(t, map[string]any{"table": "cuentas", "column": "email", "option": "UNIQUE"}, entries[0].ContextMap())
	assert.Equal(t, "cuentas.owner_id REFERENCES", res.Dropped[1].String())
}

func TestTranspile_DegradesOnParserFailure(t *testing.T) {
	tr := New(zap.NewNop())

	res := tr.Transpile("CREATE TABLE t (id int, doc tsvector)")

	assert.True(t, res.Degraded)
	assert.True(t, errors.Is(res.Cause, apperrors.ErrTranspileDegraded))
	assert.Contains(t, res.SQL, "tsvector")
	assert.Contains(t, res.SQL, "id int")
}

func TestTranspile_IdempotentOnRewritePath(t *testing.T) {
	tr := New(zap.NewNop(), WithoutParser())
	stmt := "CREATE TABLE t (id INT(11) NOT NULL AUTO_INCREMENT, amount DOUBLE, at DATETIME, PRIMARY KEY (id)) ENGINE=InnoDB"

	once := FinalCleanup(tr.Transpile(stmt).SQL)
	twice := FinalCleanup(tr.Transpile(once).SQL)

	assert.Equal(t, once, twice)
}

func TestNormalize(t *testing.T) {
	tr := New(zap.NewNop())

	plain := "CREATE TABLE t (id integer, n text)"
	assert.Equal(t, plain, tr.Normalize(plain))

	got := tr.Normalize("CREATE TABLE public.t (id integer DEFAULT nextval('public.t_id_seq'::regclass) NOT NULL, n int(11))")
	assert.Equal(t, "CREATE TABLE t (id integer NOT NULL, n INTEGER)", got)

	insert := "INSERT INTO public.t VALUES (1, 'DATETIME int(11)')"
	assert.Equal(t, "INSERT INTO t VALUES (1, 'DATETIME int(11)')", tr.Normalize(insert))
}

func TestFinalCleanup(t *testing.T) {
	got := FinalCleanup("CREATE TABLE t (\n  id int(11)   /* note */ NOT NULL,\n  s text DEFAULT 'a  b'\n)")
	assert.Equal(t, "CREATE TABLE t ( id INTEGER NOT NULL, s text DEFAULT 'a  b' )", got)
}
