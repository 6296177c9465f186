package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripTrailers(t *testing.T) {
	got := stripTrailers("CREATE TABLE `t` (`id` int, `n` varchar(10)) ENGINE=InnoDB AUTO_INCREMENT=42 DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci")
	assert.Equal(t, "CREATE TABLE `t` (`id` int, `n` varchar(10))", got)

	insert := "INSERT INTO t VALUES (1)"
	assert.Equal(t, insert, stripTrailers(insert))
}

func TestStripSecondaryKeys(t *testing.T) {
	stmt := "CREATE TABLE `v` (\n" +
		"  `id` int NOT NULL,\n" +
		"  `c` int,\n" +
		"  PRIMARY KEY (`id`),\n" +
		"  KEY `idx_c` (`c`),\n" +
		"  UNIQUE KEY `u` (`c`),\n" +
		"  FULLTEXT KEY `ft` (`c`),\n" +
		"  CONSTRAINT `fk` FOREIGN KEY (`c`) REFERENCES `cat` (`id`) ON DELETE CASCADE\n" +
		")"

	got, deferred := stripSecondaryKeys(stmt)

	assert.Equal(t, "CREATE TABLE `v` (\n  `id` int NOT NULL,\n  `c` int,\n  PRIMARY KEY (`id`)\n)", got)
	require.Len(t, deferred, 1)
	assert.Equal(t, "ALTER TABLE \"v\" ADD CONSTRAINT `fk` FOREIGN KEY (`c`) REFERENCES `cat` (`id`) ON DELETE CASCADE NOT VALID", deferred[0])
}

func TestMapIntegerWidths(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"flag TINYINT(1)", "flag SMALLINT"},
		{"level tinyint(4)", "level SMALLINT"},
		{"level tinyint", "level SMALLINT"},
		{"qty SMALLINT(6)", "qty SMALLINT"},
		{"n MEDIUMINT(8)", "n INTEGER"},
		{"id INT(11)", "id INTEGER"},
		{"big BIGINT(20)", "big BIGINT"},
		{"plain integer", "plain integer"},
		{"p POINT", "p POINT"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapIntegerWidths(tt.in), tt.in)
	}
}

func TestBooleanConversions(t *testing.T) {
	stmt := "CREATE TABLE `u` (\n" +
		"  `id` int(11) NOT NULL,\n" +
		"  `activo` tinyint(1) NOT NULL DEFAULT '1',\n" +
		"  `borrado` TINYINT(1) DEFAULT 0,\n" +
		"  `verificado` tinyint(1) DEFAULT NULL,\n" +
		"  `nivel` tinyint(4) DEFAULT 1,\n" +
		"  `extra` tinyint(1),\n" +
		"  PRIMARY KEY (`id`)\n" +
		")"

	got := booleanConversions(stmt)

	assert.Equal(t, []string{
		`ALTER TABLE "u" ALTER COLUMN "activo" DROP DEFAULT, ALTER COLUMN "activo" TYPE BOOLEAN USING "activo" <> 0, ALTER COLUMN "activo" SET DEFAULT TRUE`,
		`ALTER TABLE "u" ALTER COLUMN "borrado" DROP DEFAULT, ALTER COLUMN "borrado" TYPE BOOLEAN USING "borrado" <> 0, ALTER COLUMN "borrado" SET DEFAULT FALSE`,
		`ALTER TABLE "u" ALTER COLUMN "verificado" DROP DEFAULT, ALTER COLUMN "verificado" TYPE BOOLEAN USING "verificado" <> 0`,
		`ALTER TABLE "u" ALTER COLUMN "extra" TYPE BOOLEAN USING "extra" <> 0`,
	}, got)
	assert.Nil(t, booleanConversions("INSERT INTO u VALUES (1,1)"))
}

func TestWidenUnsigned(t *testing.T) {
	got := widenUnsigned("a SMALLINT UNSIGNED, b INTEGER UNSIGNED, c BIGINT UNSIGNED, d DECIMAL(10,2) UNSIGNED ZEROFILL")
	assert.Equal(t, "a INTEGER, b BIGINT, c NUMERIC(20,0), d DECIMAL(10,2)", got)
}

func TestConvertAutoIncrement(t *testing.T) {
	assert.Equal(t,
		"id INT NOT NULL GENERATED BY DEFAULT AS IDENTITY",
		convertAutoIncrement("id int NOT NULL AUTO_INCREMENT"))
	assert.Equal(t,
		"\x000\x00 BIGINT NOT NULL GENERATED BY DEFAULT AS IDENTITY, x TEXT",
		convertAutoIncrement("\x000\x00 BIGINT UNSIGNED NOT NULL AUTO_INCREMENT, x TEXT"))
	assert.Equal(t,
		"id INTEGER GENERATED BY DEFAULT AS IDENTITY",
		convertAutoIncrement("id INTEGER NULL DEFAULT NULL AUTO_INCREMENT"))
}

func TestRemoveAutoIncrement(t *testing.T) {
	assert.Equal(t, "CREATE TABLE t (v varchar(3))", removeAutoIncrement("CREATE TABLE t (v varchar(3) AUTO_INCREMENT)"))
}

func TestColumnTypeRewrites(t *testing.T) {
	assert.Equal(t, "status TEXT NOT NULL", convertEnums("status ENUM('a','b') NOT NULL"))
	assert.Equal(t, "tags TEXT", convertEnums("tags SET('x','y')"))
	assert.Equal(t, "created TIMESTAMP, updated TIMESTAMP", convertDatetime("created DATETIME(6), updated datetime"))
	assert.Equal(t, "ts TIMESTAMP DEFAULT CURRENT_TIMESTAMP", dropOnUpdate("ts TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP"))
	assert.Equal(t, "n varchar(10) NOT NULL", dropColumnCharsets("n varchar(10) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL"))
	assert.Equal(t, "n text", dropColumnCharsets("n text COMMENT \x003\x00"))
	assert.Equal(t, "a DOUBLE PRECISION, b TEXT, c BYTEA, d REAL, e DEFAULT CURRENT_TIMESTAMP",
		mapPortableTypes("a DOUBLE(10,2), b LONGTEXT, c MEDIUMBLOB, d FLOAT(7,3), e DEFAULT CURRENT_TIMESTAMP()"))
}

func TestProtect_RoundTrip(t *testing.T) {
	stmt := "INSERT INTO `t` VALUES ('a -- b', \"x\") /* c */"
	p := protect(stmt, true)

	assert.NotContains(t, p.code, "a -- b")
	assert.NotContains(t, p.code, "/*")
	assert.Equal(t, `INSERT INTO "t" VALUES ('a -- b', "x")  `, p.restore(p.code))
}

func TestConvertMySQLString(t *testing.T) {
	assert.Equal(t, "'it''s a \"test\"\n'", convertMySQLString(`'it\'s a \"test\"\n'`))
	assert.Equal(t, `'100\%'`, convertMySQLString(`'100\%'`))
	assert.Equal(t, "'o''neil'", convertMySQLString("'o''neil'"))
	assert.Equal(t, `'a\b'`, convertMySQLString(`'a\\b'`))
}

func TestDropZeroDateDefaults(t *testing.T) {
	p := protect("d TIMESTAMP NOT NULL DEFAULT '0000-00-00 00:00:00', e DATE DEFAULT '2024-01-01'", false)
	got := p.restore(p.dropZeroDateDefaults(p.code))
	assert.Equal(t, "d TIMESTAMP NOT NULL, e DATE DEFAULT '2024-01-01'", got)
}
