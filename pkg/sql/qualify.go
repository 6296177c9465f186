package sql

import "strings"

// TableRef is a table reference found after FROM or JOIN.
type TableRef struct {
	Schema string
	Name   string
	// Alias is the correlation name, if any.
	Alias string

	schemaTok int
	nameTok   int
	aliasTok  int
}

// Qualified reports whether the reference already names its schema.
func (r TableRef) Qualified() bool { return r.Schema != "" }

var clauseTerminators = map[string]bool{
	"WHERE": true, "GROUP": true, "ORDER": true, "HAVING": true, "LIMIT": true,
	"OFFSET": true, "UNION": true, "INTERSECT": true, "EXCEPT": true, "WINDOW": true,
	"FETCH": true, "FOR": true, "RETURNING": true, "SELECT": true,
}

var joinModifiers = map[string]bool{
	"LATERAL": true, "ONLY": true,
}

var aliasStoppers = map[string]bool{
	"ON": true, "USING": true, "JOIN": true, "LEFT": true, "RIGHT": true, "FULL": true,
	"INNER": true, "OUTER": true, "CROSS": true, "NATURAL": true, "TABLESAMPLE": true,
}

type frame struct {
	query    bool
	fromList bool
}

// walkTableRefs calls fn for every table reference in query scope. FROM inside
// expression frames such as EXTRACT(EPOCH FROM x) or IS DISTINCT FROM is not a
// table reference; neither are subqueries, function sources or CTE names.
func walkTableRefs(tokens []Token, fn func(TableRef)) {
	sig := significant(tokens)
	ctes := cteNames(tokens, sig)
	stack := []frame{{query: true}}

	at := func(i int) Token {
		if i < 0 || i >= len(sig) {
			return Token{Kind: TokenSpace}
		}
		return tokens[sig[i]]
	}

	for i := 0; i < len(sig); i++ {
		tok := at(i)
		top := &stack[len(stack)-1]

		switch {
		case tok.Text == "(":
			next, prev := at(i+1), at(i-1)
			query := next.Is("SELECT") || next.Is("WITH") || next.Is("VALUES") ||
				(top.query && (prev.Is("FROM") || prev.Is("JOIN")))
			stack = append(stack, frame{query: query})
			continue
		case tok.Text == ")":
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
			continue
		}

		if !top.query {
			continue
		}

		start := -1
		switch {
		case tok.Is("FROM"):
			if at(i - 1).Is("DISTINCT") {
				continue
			}
			top.fromList = true
			start = i + 1
		case tok.Is("JOIN"):
			start = i + 1
		case tok.Text == "," && top.fromList:
			start = i + 1
		case tok.Kind == TokenWord && clauseTerminators[strings.ToUpper(tok.Text)]:
			top.fromList = false
			continue
		default:
			continue
		}

		for joinModifiers[strings.ToUpper(at(start).Text)] && at(start).Kind == TokenWord {
			start++
		}
		ref, ok := readTableRef(tokens, sig, start, at)
		if !ok {
			continue
		}
		if !ref.Qualified() && ctes[strings.ToLower(ref.Name)] {
			continue
		}
		fn(ref)
	}
}

func readTableRef(tokens []Token, sig []int, i int, at func(int) Token) (TableRef, bool) {
	first := at(i)
	if !first.IsIdent() || first.Kind == TokenWord && isReserved(first.Text) {
		return TableRef{}, false
	}
	ref := TableRef{schemaTok: -1, aliasTok: -1}
	next := i + 1
	if at(i+1).Text == "." && at(i+2).IsIdent() {
		ref.Schema = UnquoteIdent(first.Text)
		ref.schemaTok = sig[i]
		ref.Name = UnquoteIdent(at(i + 2).Text)
		ref.nameTok = sig[i+2]
		next = i + 3
	} else {
		ref.Name = UnquoteIdent(first.Text)
		ref.nameTok = sig[i]
	}
	if at(next).Text == "(" {
		// function source, e.g. generate_series(...)
		return TableRef{}, false
	}
	if at(next).Is("AS") {
		next++
	}
	if a := at(next); a.IsIdent() && !(a.Kind == TokenWord && (isReserved(a.Text) || aliasStoppers[strings.ToUpper(a.Text)])) {
		ref.Alias = UnquoteIdent(a.Text)
		ref.aliasTok = sig[next]
	}
	return ref, true
}

// cteNames collects the names bound by WITH clauses anywhere in the query.
func cteNames(tokens []Token, sig []int) map[string]bool {
	names := map[string]bool{}
	for i := 0; i < len(sig); i++ {
		if !tokens[sig[i]].Is("WITH") {
			continue
		}
		j := i + 1
		if j < len(sig) && tokens[sig[j]].Is("RECURSIVE") {
			j++
		}
		for j < len(sig) && tokens[sig[j]].IsIdent() {
			name := strings.ToLower(UnquoteIdent(tokens[sig[j]].Text))
			j++
			if j < len(sig) && tokens[sig[j]].Text == "(" {
				j = skipBalanced(tokens, sig, j)
			}
			if j >= len(sig) || !tokens[sig[j]].Is("AS") {
				break
			}
			names[name] = true
			for j < len(sig) && tokens[sig[j]].Text != "(" {
				j++
			}
			j = skipBalanced(tokens, sig, j)
			if j < len(sig) && tokens[sig[j]].Text == "," {
				j++
				continue
			}
			break
		}
		i = j - 1
	}
	return names
}

// skipBalanced returns the significant index just past the parenthesis group opening at j.
func skipBalanced(tokens []Token, sig []int, j int) int {
	depth := 0
	for ; j < len(sig); j++ {
		switch tokens[sig[j]].Text {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				return j + 1
			}
		}
	}
	return j
}

// QualifyTables prefixes every unqualified FROM/JOIN table reference with
// schema. Already qualified names are left alone.
func QualifyTables(query, schema string) string {
	tokens := Lex(query, LexOptions{})
	prefix := QuoteIdent(schema) + "."
	walkTableRefs(tokens, func(ref TableRef) {
		if ref.Qualified() {
			return
		}
		tokens[ref.nameTok].Text = prefix + tokens[ref.nameTok].Text
	})
	return Render(tokens)
}

// ReferencedTables lists the FROM/JOIN table references of query in order.
func ReferencedTables(query string) []TableRef {
	var refs []TableRef
	walkTableRefs(Lex(query, LexOptions{}), func(ref TableRef) {
		refs = append(refs, ref)
	})
	return refs
}

// RenameTable replaces table references named from (case-insensitive, any
// schema) with to. The schema qualifier is kept.
func RenameTable(query, from, to string) string {
	tokens := Lex(query, LexOptions{})
	walkTableRefs(tokens, func(ref TableRef) {
		if strings.EqualFold(ref.Name, from) {
			tokens[ref.nameTok].Text = QuoteIdent(to)
		}
	})
	return Render(tokens)
}
