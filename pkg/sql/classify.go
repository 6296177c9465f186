package sql

import (
	"regexp"
	"strings"

	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
)

// StatementKind is the outcome of classifying one statement of an import script.
type StatementKind int

const (
	// StatementNoise is neither allowed nor forbidden and is dropped (SET, USE, LOCK TABLES, ...).
	StatementNoise StatementKind = iota
	StatementAllowed
	StatementForbidden
)

func (k StatementKind) String() string {
	switch k {
	case StatementAllowed:
		return "allowed"
	case StatementForbidden:
		return "forbidden"
	default:
		return "noise"
	}
}

// Classification is the result of Classify.
type Classification struct {
	Kind StatementKind
	// Keyword is the matched allow or deny keyword.
	Keyword string
	// SQL is the statement with comments removed.
	SQL string
}

// IsCreateTable reports whether an allowed statement creates a table.
func (c Classification) IsCreateTable() bool {
	return c.Kind == StatementAllowed && c.Keyword == "CREATE TABLE"
}

var allowPattern = regexp.MustCompile(`(?is)^\s*(CREATE\s+TABLE(?:\s+IF\s+NOT\s+EXISTS)?|INSERT\s+INTO)\b`)

type denyRule struct {
	keyword string
	pattern *regexp.Regexp
}

var denyRules = []denyRule{
	{"ALTER SYSTEM", regexp.MustCompile(`(?i)\bALTER\s+SYSTEM\b`)},
	{"CREATE USER", regexp.MustCompile(`(?i)\bCREATE\s+USER\b`)},
	{"CREATE ROLE", regexp.MustCompile(`(?i)\bCREATE\s+ROLE\b`)},
	{"ALTER ROLE", regexp.MustCompile(`(?i)\bALTER\s+(?:ROLE|USER)\b`)},
	{"GRANT", regexp.MustCompile(`(?i)\bGRANT\b`)},
	{"REVOKE", regexp.MustCompile(`(?i)\bREVOKE\b`)},
	{"TRUNCATE", regexp.MustCompile(`(?i)\bTRUNCATE\b`)},
	{"COMMENT ON", regexp.MustCompile(`(?i)\bCOMMENT\s+ON\b`)},
	{"OWNER TO", regexp.MustCompile(`(?i)\bOWNER\s+TO\b`)},
	{"ALTER DEFAULT PRIVILEGES", regexp.MustCompile(`(?i)\bALTER\s+DEFAULT\s+PRIVILEGES\b`)},
	{"SET ROLE", regexp.MustCompile(`(?i)\bSET\s+(?:LOCAL\s+)?ROLE\b`)},
	{"SET SESSION AUTHORIZATION", regexp.MustCompile(`(?i)\bSET\s+SESSION\s+AUTHORIZATION\b`)},
}

// Classify decides whether an import statement is executed, rejected or dropped.
// Deny rules win over the allow rule.
func Classify(stmt string, opts LexOptions) Classification {
	clean := StripComments(stmt, opts)
	if kw := matchDeny(Mask(clean, opts)); kw != "" {
		return Classification{Kind: StatementForbidden, Keyword: kw, SQL: clean}
	}
	if m := allowPattern.FindStringSubmatch(clean); m != nil {
		kw := "INSERT INTO"
		if strings.HasPrefix(strings.ToUpper(m[1]), "CREATE") {
			kw = "CREATE TABLE"
		}
		return Classification{Kind: StatementAllowed, Keyword: kw, SQL: clean}
	}
	return Classification{Kind: StatementNoise, SQL: clean}
}

// CheckForbidden scans a whole script for deny-listed statements before any of
// it is split or executed. Keywords inside literals, quoted names and comments
// are ignored.
func CheckForbidden(text string, opts LexOptions) error {
	masked := Mask(text, opts)
	for _, rule := range denyRules {
		loc := rule.pattern.FindStringIndex(masked)
		if loc == nil {
			continue
		}
		return apperrors.NewSecurityViolation("forbidden statement in script", rule.keyword, excerpt(text, loc[0]))
	}
	return nil
}

func matchDeny(masked string) string {
	for _, rule := range denyRules {
		if rule.pattern.MatchString(masked) {
			return rule.keyword
		}
	}
	return ""
}

// excerpt returns the line of text containing offset, trimmed to a readable length.
func excerpt(text string, offset int) string {
	start := strings.LastIndexByte(text[:offset], '\n') + 1
	end := strings.IndexByte(text[offset:], '\n')
	if end < 0 {
		end = len(text)
	} else {
		end += offset
	}
	line := strings.TrimSpace(text[start:end])
	if len(line) > 120 {
		line = line[:120] + "..."
	}
	return line
}
