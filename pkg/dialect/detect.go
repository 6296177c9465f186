// Package dialect recognises MySQL-flavoured SQL dumps and rewrites their
// statements into PostgreSQL.
package dialect

import (
	"regexp"
	"strings"

	"github.com/ekaya-inc/ekaya-bi/pkg/sql"
)

// Detection is the outcome of scanning a raw dump for MySQL signals.
type Detection struct {
	Foreign bool
	Signals []string
}

type signal struct {
	name    string
	pattern *regexp.Regexp
}

// Keyword signals are matched against the masked dump so that literal data
// and quoted names never count.
var signals = []signal{
	{"ENGINE=", regexp.MustCompile(`(?i)\bENGINE\s*=`)},
	{"AUTO_INCREMENT", regexp.MustCompile(`(?i)\bAUTO_INCREMENT\b`)},
	{"UNSIGNED", regexp.MustCompile(`(?i)\bUNSIGNED\b`)},
	{"LOCK TABLES", regexp.MustCompile(`(?i)\b(?:UN)?LOCK\s+TABLES\b`)},
	{"DELIMITER", regexp.MustCompile(`(?im)^\s*DELIMITER\s+\S+`)},
	{"CHARSET", regexp.MustCompile(`(?i)\bCHARSET\b`)},
	{"COLLATE", regexp.MustCompile(`(?i)\bCOLLATE\s*=?\s*[a-z0-9]+_[a-z0-9_]*_(?:ci|cs|bin)\b`)},
	{"INT(n)", regexp.MustCompile(`(?i)\b(?:TINY|SMALL|MEDIUM|BIG)?INT\s*\(\s*\d+\s*\)`)},
}

var enumPattern = regexp.MustCompile(`(?i)(\w*)\s+ENUM\s*\(`)

// Detect reports whether raw looks like it was written for MySQL. It is a
// boolean heuristic, not a parse.
func Detect(raw string) Detection {
	var d Detection
	opts := sql.LexOptions{MySQL: true}

	for _, tok := range sql.Lex(raw, opts) {
		if tok.Kind == sql.TokenBacktickIdent {
			d.Signals = append(d.Signals, "backtick identifiers")
			break
		}
	}

	masked := sql.Mask(raw, opts)
	for _, s := range signals {
		if s.pattern.MatchString(masked) {
			d.Signals = append(d.Signals, s.name)
		}
	}

	// CREATE TYPE x AS ENUM (...) is PostgreSQL; only inline column enums count.
	for _, m := range enumPattern.FindAllStringSubmatch(masked, -1) {
		if !strings.EqualFold(m[1], "AS") {
			d.Signals = append(d.Signals, "ENUM(...)")
			break
		}
	}

	d.Foreign = len(d.Signals) > 0
	return d
}
