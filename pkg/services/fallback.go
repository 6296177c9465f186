package services

import (
	"sort"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-bi/pkg/sql"
)

// Name similarity scores. Anything below minMatchScore is not a candidate.
const (
	scoreExact    = 100
	scoreFolded   = 95
	scoreInflect  = 90
	scoreEditBase = 70
	scoreTokens   = 50
	minMatchScore = 50

	maxEditDistance     = 2
	matchesPerReference = 2
)

// fallbackPlanner proposes rewrites of a query that did not produce a usable
// result, using the names that actually exist in the schema. Only tables
// with rows are offered as replacements.
type fallbackPlanner struct {
	populated []string
	columns   map[string][]string
}

func newFallbackPlanner(desc *datasource.SchemaDescription, counts map[string]int64) *fallbackPlanner {
	p := &fallbackPlanner{columns: map[string][]string{}}
	for _, t := range desc.Tables {
		p.columns[strings.ToLower(t.Name)] = t.ColumnNames()
		if counts[t.Name] > 0 {
			p.populated = append(p.populated, t.Name)
		}
	}
	sort.Strings(p.populated)
	return p
}

func (p *fallbackPlanner) isPopulated(name string) bool {
	for _, t := range p.populated {
		if t == name {
			return true
		}
	}
	return false
}

// Candidates returns at most limit distinct rewrites of query, best first.
// query must not be schema qualified yet.
func (p *fallbackPlanner) Candidates(query string, limit int) []string {
	if limit <= 0 {
		return nil
	}

	var out []string
	seen := map[string]bool{query: true}
	add := func(q string) {
		if !seen[q] && len(out) < limit {
			seen[q] = true
			out = append(out, q)
		}
	}

	variants := []string{query}
	for _, ref := range sql.ReferencedTables(query) {
		if p.isPopulated(ref.Name) {
			continue
		}
		var next []string
		for _, v := range variants {
			for _, match := range p.tableMatches(ref.Name) {
				next = append(next, sql.RenameTable(v, ref.Name, match))
			}
		}
		if len(next) > 0 {
			variants = next
		}
	}

	for _, v := range variants {
		if repaired := p.repairColumns(v); repaired != v {
			add(repaired)
		}
		add(v)
	}
	return out
}

// tableMatches ranks populated tables by similarity to name.
func (p *fallbackPlanner) tableMatches(name string) []string {
	type scored struct {
		name  string
		score int
	}
	var matches []scored
	for _, t := range p.populated {
		if s := nameScore(name, t); s >= minMatchScore {
			matches = append(matches, scored{t, s})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

	var out []string
	for i := 0; i < len(matches) && i < matchesPerReference; i++ {
		out = append(out, matches[i].name)
	}
	return out
}

// repairColumns renames column references that do not exist in any table of
// query to the most similar existing column.
func (p *fallbackPlanner) repairColumns(query string) string {
	var known []string
	for _, ref := range sql.ReferencedTables(query) {
		known = append(known, p.columns[strings.ToLower(ref.Name)]...)
	}
	if len(known) == 0 {
		return query
	}

	exists := map[string]bool{}
	for _, c := range known {
		exists[strings.ToLower(c)] = true
	}

	for _, col := range sql.ColumnIdentifiers(query) {
		if exists[col] {
			continue
		}
		best, bestScore := "", 0
		for _, c := range known {
			if s := nameScore(col, c); s > bestScore {
				best, bestScore = c, s
			}
		}
		if bestScore >= minMatchScore {
			query = sql.RenameColumn(query, col, best)
		}
	}
	return query
}

// nameScore rates how likely have is the name meant by want.
func nameScore(want, have string) int {
	if strings.EqualFold(want, have) {
		return scoreExact
	}
	w, h := foldName(want), foldName(have)
	if w == h {
		return scoreFolded
	}
	if sameStem(w, h) {
		return scoreInflect
	}
	if d := levenshtein(w, h); d <= maxEditDistance && len(w) > maxEditDistance && len(h) > maxEditDistance {
		return scoreEditBase - 10*d
	}
	if n := sharedTokens(want, have); n > 0 {
		return scoreTokens + 10*n
	}
	return 0
}

func foldName(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "")
	return strings.ReplaceAll(s, " ", "")
}

// stems returns s with its plural endings removed: English through
// inflection plus the Spanish "-es" plural of words ending in a consonant.
func stems(s string) []string {
	out := []string{s, inflection.Singular(s)}
	if len(s) > 4 && strings.HasSuffix(s, "es") && !strings.ContainsRune("aeiou", rune(s[len(s)-3])) {
		out = append(out, s[:len(s)-2])
	}
	return out
}

func sameStem(a, b string) bool {
	for _, x := range stems(a) {
		for _, y := range stems(b) {
			if x == y {
				return true
			}
		}
	}
	return false
}

func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool { return r == '_' || r == ' ' || r == '-' })
}

func sharedTokens(a, b string) int {
	rest := tokens(b)
	n := 0
	for _, t := range tokens(a) {
		if len(t) <= 2 {
			continue
		}
		for i, u := range rest {
			if sameStem(t, u) {
				n++
				rest = append(rest[:i], rest[i+1:]...)
				break
			}
		}
	}
	return n
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
