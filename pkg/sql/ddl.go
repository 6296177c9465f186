package sql

import "strings"

// CreateTableName returns the unquoted table name of a CREATE TABLE
// statement, ignoring any database qualifier.
func CreateTableName(stmt string, opts LexOptions) (string, bool) {
	tokens := Lex(stmt, opts)
	sig := significant(tokens)
	i, ok := afterCreateTable(tokens, sig)
	if !ok || i >= len(sig) || !tokens[sig[i]].IsIdent() {
		return "", false
	}
	name := tokens[sig[i]].Text
	if i+2 < len(sig) && tokens[sig[i+1]].Text == "." && tokens[sig[i+2]].IsIdent() {
		name = tokens[sig[i+2]].Text
	}
	return UnquoteIdent(name), true
}

// afterCreateTable returns the significant index following
// CREATE [TEMPORARY] TABLE [IF NOT EXISTS].
func afterCreateTable(tokens []Token, sig []int) (int, bool) {
	i := 0
	at := func(k int) Token {
		if k < len(sig) {
			return tokens[sig[k]]
		}
		return Token{Kind: TokenSpace}
	}
	if !at(i).Is("CREATE") {
		return 0, false
	}
	i++
	if at(i).Is("TEMPORARY") {
		i++
	}
	if !at(i).Is("TABLE") {
		return 0, false
	}
	i++
	if at(i).Is("IF") && at(i+1).Is("NOT") && at(i+2).Is("EXISTS") {
		i += 3
	}
	return i, true
}

// CreateTableBody locates the parenthesised column list of a CREATE TABLE
// statement as token indexes of the opening and closing parenthesis.
func CreateTableBody(tokens []Token) (open, close int, ok bool) {
	sig := significant(tokens)
	start, ok := afterCreateTable(tokens, sig)
	if !ok {
		return 0, 0, false
	}
	for k := start; k < len(sig); k++ {
		if tokens[sig[k]].Text != "(" {
			continue
		}
		depth := 0
		for m := sig[k]; m < len(tokens); m++ {
			switch tokens[m].Text {
			case "(":
				depth++
			case ")":
				depth--
				if depth == 0 {
					return sig[k], m, true
				}
			}
		}
		return 0, 0, false
	}
	return 0, 0, false
}

// SplitTopLevel splits tokens on commas that are not nested in parentheses.
func SplitTopLevel(tokens []Token) [][]Token {
	var (
		parts   [][]Token
		current []Token
		depth   int
	)
	for _, t := range tokens {
		switch t.Text {
		case "(":
			depth++
		case ")":
			depth--
		case ",":
			if depth == 0 {
				parts = append(parts, current)
				current = nil
				continue
			}
		}
		current = append(current, t)
	}
	return append(parts, current)
}

// FirstWords returns up to n leading keywords of tokens, uppercased.
func FirstWords(tokens []Token, n int) []string {
	var words []string
	for _, t := range tokens {
		if t.IsTrivia() {
			continue
		}
		if len(words) == n {
			break
		}
		words = append(words, strings.ToUpper(t.Text))
	}
	return words
}

// SkipTrivia returns tokens without leading and trailing whitespace and comments.
func SkipTrivia(tokens []Token) []Token {
	start, end := 0, len(tokens)
	for start < end && tokens[start].IsTrivia() {
		start++
	}
	for end > start && tokens[end-1].IsTrivia() {
		end--
	}
	return tokens[start:end]
}

// StripTableQualifier removes a database qualifier from the target of
// CREATE TABLE and INSERT INTO so the statement lands in the active search
// path: CREATE TABLE shop.t -> CREATE TABLE t.
func StripTableQualifier(stmt string, opts LexOptions) string {
	tokens := Lex(stmt, opts)
	sig := significant(tokens)
	if len(sig) == 0 {
		return stmt
	}

	var i int
	switch {
	case tokens[sig[0]].Is("CREATE"):
		k, ok := afterCreateTable(tokens, sig)
		if !ok {
			return stmt
		}
		i = k
	case tokens[sig[0]].Is("INSERT"):
		i = 1
		if i < len(sig) && tokens[sig[i]].Is("IGNORE") {
			i++
		}
		if i >= len(sig) || !tokens[sig[i]].Is("INTO") {
			return stmt
		}
		i++
	default:
		return stmt
	}

	if i+2 >= len(sig) || !tokens[sig[i]].IsIdent() || tokens[sig[i+1]].Text != "." || !tokens[sig[i+2]].IsIdent() {
		return stmt
	}
	for k := sig[i]; k < sig[i+2]; k++ {
		tokens[k].Text = ""
	}
	return Render(tokens)
}
