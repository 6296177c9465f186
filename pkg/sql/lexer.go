// Package sql provides the text-level SQL primitives used by the import and
// query pipelines: a literal-aware lexer, statement splitting and
// classification, the read-only gate and table-reference rewriting.
package sql

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenKind identifies the lexical class of a Token.
type TokenKind int

const (
	TokenWord TokenKind = iota
	TokenQuotedIdent
	TokenBacktickIdent
	TokenString
	TokenNumber
	TokenPunct
	TokenSemicolon
	TokenSpace
	TokenLineComment
	TokenBlockComment
)

// Token is a lexeme with its byte offset in the source text.
type Token struct {
	Kind TokenKind
	Text string
	Pos  int
}

// IsComment reports whether the token is a line or block comment.
func (t Token) IsComment() bool {
	return t.Kind == TokenLineComment || t.Kind == TokenBlockComment
}

// IsTrivia reports whether the token carries no SQL meaning (whitespace or comment).
func (t Token) IsTrivia() bool {
	return t.Kind == TokenSpace || t.IsComment()
}

// IsIdent reports whether the token names something (bare word or quoted identifier).
func (t Token) IsIdent() bool {
	return t.Kind == TokenWord || t.Kind == TokenQuotedIdent || t.Kind == TokenBacktickIdent
}

// Is reports whether the token is the bare keyword kw (case-insensitive).
func (t Token) Is(kw string) bool {
	return t.Kind == TokenWord && strings.EqualFold(t.Text, kw)
}

// LexOptions tunes the lexer for the source dialect.
type LexOptions struct {
	// MySQL enables backslash escapes inside '...' strings and '#' line comments.
	MySQL bool
}

// Lex splits text into tokens. Unterminated literals and comments run to the
// end of input; Lex never fails.
func Lex(text string, opts LexOptions) []Token {
	l := lexer{src: text, opts: opts}
	for l.pos < len(l.src) {
		l.next()
	}
	return l.tokens
}

type lexer struct {
	src    string
	pos    int
	opts   LexOptions
	tokens []Token
}

func (l *lexer) emit(kind TokenKind, start int) {
	l.tokens = append(l.tokens, Token{Kind: kind, Text: l.src[start:l.pos], Pos: start})
}

func (l *lexer) peek(offset int) byte {
	if l.pos+offset < len(l.src) {
		return l.src[l.pos+offset]
	}
	return 0
}

func (l *lexer) next() {
	start := l.pos
	c := l.src[l.pos]

	switch {
	case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
		for l.pos < len(l.src) && strings.IndexByte(" \t\n\r\f", l.src[l.pos]) >= 0 {
			l.pos++
		}
		l.emit(TokenSpace, start)
	case c == '-' && l.peek(1) == '-', c == '#' && l.opts.MySQL:
		l.skipLine()
		l.emit(TokenLineComment, start)
	case c == '/' && l.peek(1) == '*':
		l.skipBlockComment()
		l.emit(TokenBlockComment, start)
	case c == '\'':
		l.pos++
		l.skipQuoted('\'', l.opts.MySQL)
		l.emit(TokenString, start)
	case (c == 'E' || c == 'e') && l.peek(1) == '\'':
		l.pos += 2
		l.skipQuoted('\'', true)
		l.emit(TokenString, start)
	case c == '"':
		l.pos++
		l.skipQuoted('"', false)
		l.emit(TokenQuotedIdent, start)
	case c == '`':
		l.pos++
		l.skipQuoted('`', false)
		l.emit(TokenBacktickIdent, start)
	case c == '$' && l.dollarTag() != "":
		tag := l.dollarTag()
		l.pos += len(tag)
		if end := strings.Index(l.src[l.pos:], tag); end >= 0 {
			l.pos += end + len(tag)
		} else {
			l.pos = len(l.src)
		}
		l.emit(TokenString, start)
	case c == ';':
		l.pos++
		l.emit(TokenSemicolon, start)
	case c >= '0' && c <= '9', c == '.' && isDigit(l.peek(1)):
		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.' || l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
			l.pos++
		}
		l.emit(TokenNumber, start)
	default:
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if isWordStart(r) {
			l.pos += size
			for l.pos < len(l.src) {
				r, size = utf8.DecodeRuneInString(l.src[l.pos:])
				if !isWordPart(r) {
					break
				}
				l.pos += size
			}
			l.emit(TokenWord, start)
			return
		}
		l.pos += size
		l.emit(TokenPunct, start)
	}
}

func (l *lexer) skipLine() {
	for l.pos < len(l.src) && l.src[l.pos] != '\n' {
		l.pos++
	}
}

func (l *lexer) skipBlockComment() {
	if end := strings.Index(l.src[l.pos+2:], "*/"); end >= 0 {
		l.pos += end + 4
		return
	}
	l.pos = len(l.src)
}

// skipQuoted advances past the closing quote. A doubled quote is an escaped
// quote; with backslash set, \x escapes any character.
func (l *lexer) skipQuoted(quote byte, backslash bool) {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case backslash && c == '\\':
			l.pos += 2
		case c == quote && l.peek(1) == quote:
			l.pos += 2
		case c == quote:
			l.pos++
			return
		default:
			l.pos++
		}
	}
	l.pos = len(l.src)
}

// dollarTag returns the opening $tag$ at the current position, or "".
func (l *lexer) dollarTag() string {
	i := l.pos + 1
	for i < len(l.src) {
		c := l.src[i]
		if c == '$' {
			return l.src[l.pos : i+1]
		}
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i > l.pos+1 && isDigit(c)) {
			return ""
		}
		i++
	}
	return ""
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isWordStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isWordPart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Render concatenates token texts.
func Render(tokens []Token) string {
	var sb strings.Builder
	for _, t := range tokens {
		sb.WriteString(t.Text)
	}
	return sb.String()
}

// significant returns the indexes of non-trivia tokens.
func significant(tokens []Token) []int {
	idx := make([]int, 0, len(tokens))
	for i, t := range tokens {
		if !t.IsTrivia() {
			idx = append(idx, i)
		}
	}
	return idx
}
