package query

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Lexer tokenizes SQL query strings
type Lexer struct {
	input  string
	offset int // byte offset of ch
	pos    int // byte offset after ch
	ch     rune
}

// NewLexer creates a new lexer
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	l.offset = l.pos
	if l.pos >= len(l.input) {
		l.ch = 0
		return
	}
	r, w := utf8.DecodeRuneInString(l.input[l.pos:])
	l.ch = r
	l.pos += w
}

func (l *Lexer) peekChar() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return r
}

func (l *Lexer) skipWhitespace() {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r':
			l.readChar()
		case l.ch == '-' && l.peekChar() == '-':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		default:
			return
		}
	}
}

// readString reads a quoted literal. A doubled quote or a backslash escapes
// the quote character. The second result is false if the literal is not
// terminated.
func (l *Lexer) readString(quote rune) (string, bool) {
	var result strings.Builder
	l.readChar() // skip opening quote

	for l.ch != 0 {
		if l.ch == quote {
			if l.peekChar() == quote {
				result.WriteRune(quote)
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar()
			return result.String(), true
		}
		if l.ch == '\\' && quote != '`' {
			l.readChar()
			switch l.ch {
			case 'n':
				result.WriteRune('\n')
			case 't':
				result.WriteRune('\t')
			case 0:
				return result.String(), false
			default:
				result.WriteRune(l.ch)
			}
		} else {
			result.WriteRune(l.ch)
		}
		l.readChar()
	}
	return result.String(), false
}

func (l *Lexer) readNumber() string {
	var result strings.Builder
	seenDot := false
	for unicode.IsDigit(l.ch) || (l.ch == '.' && !seenDot) {
		if l.ch == '.' {
			seenDot = true
		}
		result.WriteRune(l.ch)
		l.readChar()
	}
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if unicode.IsDigit(next) || next == '-' || next == '+' {
			result.WriteRune(l.ch)
			l.readChar()
			result.WriteRune(l.ch)
			l.readChar()
			for unicode.IsDigit(l.ch) {
				result.WriteRune(l.ch)
				l.readChar()
			}
		}
	}
	return result.String()
}

func (l *Lexer) readIdentifier() string {
	var result strings.Builder
	for unicode.IsLetter(l.ch) || unicode.IsDigit(l.ch) || l.ch == '_' || l.ch == '$' {
		result.WriteRune(l.ch)
		l.readChar()
	}
	return result.String()
}

// NextToken returns the next token
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	start := l.offset
	single := func(t TokenType) Token {
		tok := Token{Type: t, Value: string(l.ch), Pos: start}
		l.readChar()
		return tok
	}
	double := func(t TokenType, v string) Token {
		l.readChar()
		l.readChar()
		return Token{Type: t, Value: v, Pos: start}
	}

	switch l.ch {
	case 0:
		return Token{Type: TokenEOF, Pos: start}
	case '=':
		if l.peekChar() == '=' {
			return double(TokenEqual, "==")
		}
		return single(TokenEqual)
	case '!':
		if l.peekChar() == '=' {
			return double(TokenNotEqual, "!=")
		}
		return single(TokenError)
	case '<':
		switch l.peekChar() {
		case '=':
			return double(TokenLessEqual, "<=")
		case '>':
			return double(TokenNotEqual, "<>")
		}
		return single(TokenLess)
	case '>':
		if l.peekChar() == '=' {
			return double(TokenGreaterEqual, ">=")
		}
		return single(TokenGreater)
	case '|':
		if l.peekChar() == '|' {
			return double(TokenConcat, "||")
		}
		return single(TokenError)
	case '+':
		return single(TokenPlus)
	case '-':
		return single(TokenMinus)
	case '*':
		return single(TokenStar)
	case '/':
		return single(TokenSlash)
	case '%':
		return single(TokenPercent)
	case ',':
		return single(TokenComma)
	case '(':
		return single(TokenLeftParen)
	case ')':
		return single(TokenRightParen)
	case ';':
		return single(TokenSemicolon)
	case '.':
		if unicode.IsDigit(l.peekChar()) {
			return Token{Type: TokenNumber, Value: l.readNumber(), Pos: start}
		}
		return single(TokenDot)
	case '\'', '"':
		value, ok := l.readString(l.ch)
		if !ok {
			return Token{Type: TokenError, Value: "unterminated string", Pos: start}
		}
		return Token{Type: TokenString, Value: value, Pos: start}
	case '`':
		value, ok := l.readString('`')
		if !ok || value == "" {
			return Token{Type: TokenError, Value: "unterminated quoted identifier", Pos: start}
		}
		return Token{Type: TokenQuotedIdent, Value: value, Pos: start}
	}

	if unicode.IsDigit(l.ch) {
		return Token{Type: TokenNumber, Value: l.readNumber(), Pos: start}
	}
	if unicode.IsLetter(l.ch) || l.ch == '_' {
		value := l.readIdentifier()
		return Token{Type: identifierType(value), Value: value, Pos: start}
	}
	return single(TokenError)
}

// Tokenize returns every token of input up to and including EOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens
		}
	}
}

var keywords = map[string]TokenType{
	"select":    TokenSelect,
	"from":      TokenFrom,
	"where":     TokenWhere,
	"and":       TokenAnd,
	"or":        TokenOr,
	"as":        TokenAs,
	"group":     TokenGroup,
	"by":        TokenBy,
	"having":    TokenHaving,
	"order":     TokenOrder,
	"asc":       TokenAsc,
	"desc":      TokenDesc,
	"limit":     TokenLimit,
	"offset":    TokenOffset,
	"in":        TokenIn,
	"like":      TokenLike,
	"between":   TokenBetween,
	"is":        TokenIs,
	"not":       TokenNot,
	"null":      TokenNull,
	"distinct":  TokenDistinct,
	"case":      TokenCase,
	"when":      TokenWhen,
	"then":      TokenThen,
	"else":      TokenElse,
	"end":       TokenEnd,
	"with":      TokenWith,
	"join":      TokenJoin,
	"inner":     TokenInner,
	"left":      TokenLeft,
	"right":     TokenRight,
	"full":      TokenFull,
	"outer":     TokenOuter,
	"cross":     TokenCross,
	"on":        TokenOn,
	"over":      TokenOver,
	"partition": TokenPartition,
	"exists":    TokenExists,
	"true":      TokenBool,
	"false":     TokenBool,
}

// identifierType determines if an identifier is a keyword
func identifierType(ident string) TokenType {
	if t, ok := keywords[strings.ToLower(ident)]; ok {
		return t
	}
	return TokenIdent
}
