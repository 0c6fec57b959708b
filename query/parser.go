package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vegasq/deltagate/gatewayerr"
)

// syntaxError pins a parse failure to the token it happened at.
type syntaxError struct {
	Near string
	Err  error
}

func (e *syntaxError) Error() string { return e.Err.Error() }
func (e *syntaxError) Unwrap() error { return e.Err }

// Parser parses SQL queries into AST
type Parser struct {
	tokens       []Token
	src          string
	pos          int
	depthCounter *ExpressionDepthCounter
	aggDepth     int
	inWindow     bool
}

// NewParser creates a new parser
func NewParser(tokens []Token) *Parser {
	return &Parser{
		tokens:       tokens,
		depthCounter: NewExpressionDepthCounter(),
	}
}

func (p *Parser) current() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) peekN(n int) Token {
	if p.pos+n >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos+n]
}

func (p *Parser) peek() Token {
	return p.peekN(1)
}

func (p *Parser) advance() {
	p.pos++
}

// accept advances past the current token if it has type t.
func (p *Parser) accept(t TokenType) bool {
	if p.current().Type == t {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(tokType TokenType) error {
	if p.current().Type != tokType {
		return p.errorf("expected %v, got %s", tokType, describe(p.current()))
	}
	p.advance()
	return nil
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	tok := p.current()
	near := tok.Value
	if tok.Type == TokenEOF {
		near = ""
	}
	return &syntaxError{Near: near, Err: fmt.Errorf(format, args...)}
}

func describe(tok Token) string {
	switch tok.Type {
	case TokenEOF:
		return "end of input"
	case TokenError:
		return fmt.Sprintf("invalid input %q", tok.Value)
	}
	return fmt.Sprintf("%q", tok.Value)
}

// Parse parses a single SELECT statement. Failures are returned as
// *gatewayerr.QueryError.
func Parse(query string) (*Select, error) {
	stmt, err := parse(query)
	if err != nil {
		return nil, asQueryError(query, err)
	}
	return stmt, nil
}

func parse(query string) (*Select, error) {
	if err := ValidateQuery(query); err != nil {
		return nil, err
	}
	tokens := Tokenize(query)
	if err := ValidateTokens(tokens); err != nil {
		return nil, err
	}
	if len(tokens) == 1 {
		return nil, ErrEmptyQuery
	}

	parser := NewParser(tokens)
	parser.src = query
	stmt, err := parser.parseStatement()
	if err != nil {
		return nil, err
	}
	for parser.accept(TokenSemicolon) {
	}
	if parser.current().Type != TokenEOF {
		return nil, parser.errorf("unexpected %s after end of statement", describe(parser.current()))
	}
	return stmt, nil
}

// ParseExpr parses a standalone scalar expression such as a merge
// predicate. Aggregates are rejected.
func ParseExpr(text string) (Expr, error) {
	expr, err := parseExpr(text)
	if err != nil {
		return nil, asQueryError(text, err)
	}
	return expr, nil
}

func parseExpr(text string) (Expr, error) {
	if err := ValidateQuery(text); err != nil {
		return nil, err
	}
	tokens := Tokenize(text)
	if err := ValidateTokens(tokens); err != nil {
		return nil, err
	}
	if len(tokens) == 1 {
		return nil, ErrEmptyQuery
	}
	parser := NewParser(tokens)
	parser.src = text
	expr, err := parser.parseExpression()
	if err != nil {
		return nil, err
	}
	if parser.current().Type != TokenEOF {
		return nil, parser.errorf("unexpected %s after expression", describe(parser.current()))
	}
	if hasAggregate(expr) {
		return nil, fmt.Errorf("aggregate functions are not allowed in %s", expr)
	}
	if hasWindow(expr) {
		return nil, fmt.Errorf("window functions are not allowed in %s", expr)
	}
	if hasSubquery(expr) {
		return nil, fmt.Errorf("subqueries are not allowed in %s", expr)
	}
	return expr, nil
}

func asQueryError(query string, err error) error {
	qe := &gatewayerr.QueryError{Query: query, Err: err}
	var se *syntaxError
	if errors.As(err, &se) {
		qe.Fragment = se.Near
	}
	return qe
}

func (p *Parser) parseStatement() (*Select, error) {
	var ctes []CTE
	if p.accept(TokenWith) {
		for {
			name, err := p.parseIdentifier()
			if err != nil {
				return nil, err
			}
			if err := p.expect(TokenAs); err != nil {
				return nil, err
			}
			if err := p.expect(TokenLeftParen); err != nil {
				return nil, err
			}
			q, err := p.parseStatement()
			if err != nil {
				return nil, err
			}
			if err := p.expect(TokenRightParen); err != nil {
				return nil, err
			}
			for _, c := range ctes {
				if strings.EqualFold(c.Name, name) {
					return nil, p.errorf("duplicate WITH name %s", name)
				}
			}
			ctes = append(ctes, CTE{Name: name, Query: q})
			if !p.accept(TokenComma) {
				break
			}
		}
	}

	stmt, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	stmt.With = ctes
	return stmt, nil
}

func (p *Parser) parseSelect() (*Select, error) {
	if err := p.expect(TokenSelect); err != nil {
		return nil, err
	}
	stmt := &Select{}
	stmt.Distinct = p.accept(TokenDistinct)

	items, err := p.parseSelectList()
	if err != nil {
		return nil, err
	}
	stmt.Items = items

	if p.accept(TokenFrom) {
		ref, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		stmt.From = ref
		joins, err := p.parseJoins()
		if err != nil {
			return nil, err
		}
		stmt.Joins = joins
	}

	if p.accept(TokenWhere) {
		if stmt.Where, err = p.parseExpression(); err != nil {
			return nil, err
		}
		if err := p.checkClause(stmt.Where, "WHERE"); err != nil {
			return nil, err
		}
	}

	if p.accept(TokenGroup) {
		if err := p.expect(TokenBy); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if err := p.checkClause(e, "GROUP BY"); err != nil {
				return nil, err
			}
			stmt.GroupBy = append(stmt.GroupBy, e)
			if !p.accept(TokenComma) {
				break
			}
		}
	}

	if p.accept(TokenHaving) {
		if stmt.Having, err = p.parseExpression(); err != nil {
			return nil, err
		}
		if hasWindow(stmt.Having) {
			return nil, p.errorf("window functions are not allowed in HAVING")
		}
	}

	if p.accept(TokenOrder) {
		if err := p.expect(TokenBy); err != nil {
			return nil, err
		}
		if stmt.OrderBy, err = p.parseOrderItems(); err != nil {
			return nil, err
		}
	}

	if p.accept(TokenLimit) {
		n, err := p.parseCount("LIMIT")
		if err != nil {
			return nil, err
		}
		stmt.Limit = &n
	}
	if p.accept(TokenOffset) {
		n, err := p.parseCount("OFFSET")
		if err != nil {
			return nil, err
		}
		stmt.Offset = &n
	}
	return stmt, nil
}

// checkClause rejects aggregates and window functions in clauses that are
// evaluated per input row.
func (p *Parser) checkClause(e Expr, clause string) error {
	if hasAggregate(e) {
		return p.errorf("aggregate functions are not allowed in %s", clause)
	}
	if hasWindow(e) {
		return p.errorf("window functions are not allowed in %s", clause)
	}
	return nil
}

func (p *Parser) parseOrderItems() ([]OrderItem, error) {
	var items []OrderItem
	for {
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		item := OrderItem{Expr: e}
		if p.accept(TokenDesc) {
			item.Desc = true
		} else {
			p.accept(TokenAsc)
		}
		items = append(items, item)
		if !p.accept(TokenComma) {
			return items, nil
		}
	}
}

func (p *Parser) parseCount(clause string) (int64, error) {
	tok := p.current()
	if tok.Type != TokenNumber {
		return 0, p.errorf("%s expects a non-negative integer, got %s", clause, describe(tok))
	}
	n, err := strconv.ParseInt(tok.Value, 10, 64)
	if err != nil || n < 0 {
		return 0, p.errorf("%s expects a non-negative integer, got %s", clause, describe(tok))
	}
	p.advance()
	return n, nil
}

func (p *Parser) parseSelectList() ([]SelectItem, error) {
	var items []SelectItem
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if !p.accept(TokenComma) {
			return items, nil
		}
	}
}

func (p *Parser) parseSelectItem() (SelectItem, error) {
	if p.accept(TokenStar) {
		return SelectItem{Expr: &StarExpr{}}, nil
	}
	if isIdent(p.current()) && p.peek().Type == TokenDot {
		// qualifier.* with a possibly dotted qualifier
		n := 0
		for isIdent(p.peekN(n)) && p.peekN(n+1).Type == TokenDot {
			n += 2
		}
		if p.peekN(n).Type == TokenStar {
			var parts []string
			for i := 0; i < n; i += 2 {
				parts = append(parts, p.current().Value)
				p.advance()
				p.advance()
			}
			p.advance()
			return SelectItem{Expr: &StarExpr{Table: joinDotted(parts)}}, nil
		}
	}

	expr, err := p.parseExpression()
	if err != nil {
		return SelectItem{}, err
	}
	alias, err := p.parseAlias()
	if err != nil {
		return SelectItem{}, err
	}
	return SelectItem{Expr: expr, Alias: alias}, nil
}

// parseAlias parses an optional [AS] alias.
func (p *Parser) parseAlias() (string, error) {
	if p.accept(TokenAs) {
		if p.current().Type == TokenString {
			s := p.current().Value
			p.advance()
			return s, nil
		}
		return p.parseIdentifier()
	}
	if isIdent(p.current()) {
		return p.parseIdentifier()
	}
	return "", nil
}

func isIdent(tok Token) bool {
	return tok.Type == TokenIdent || tok.Type == TokenQuotedIdent
}

func (p *Parser) parseIdentifier() (string, error) {
	tok := p.current()
	if !isIdent(tok) {
		return "", p.errorf("expected identifier, got %s", describe(tok))
	}
	p.advance()
	return tok.Value, nil
}

func (p *Parser) parseTableRef() (*TableRef, error) {
	ref := &TableRef{}
	if p.accept(TokenLeftParen) {
		sub, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenRightParen); err != nil {
			return nil, err
		}
		ref.Subquery = sub
	} else {
		first, err := p.parseIdentifier()
		if err != nil {
			return nil, err
		}
		parts := []string{first}
		for p.accept(TokenDot) {
			part, err := p.parseIdentifier()
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		}
		ref.Name = joinDotted(parts)
	}

	alias, err := p.parseAlias()
	if err != nil {
		return nil, err
	}
	ref.Alias = alias
	if ref.Subquery != nil && ref.Alias == "" {
		ref.Alias = "subquery"
	}
	return ref, nil
}

func (p *Parser) parseJoins() ([]Join, error) {
	var joins []Join
	for {
		var jt JoinType
		switch p.current().Type {
		case TokenJoin:
			jt = JoinInner
		case TokenInner:
			jt = JoinInner
			p.advance()
		case TokenLeft:
			jt = JoinLeft
			p.advance()
			p.accept(TokenOuter)
		case TokenRight:
			jt = JoinRight
			p.advance()
			p.accept(TokenOuter)
		case TokenFull:
			jt = JoinFull
			p.advance()
			p.accept(TokenOuter)
		case TokenCross:
			jt = JoinCross
			p.advance()
		case TokenComma:
			jt = JoinCross
		default:
			return joins, nil
		}
		if p.current().Type == TokenComma {
			p.advance()
		} else if err := p.expect(TokenJoin); err != nil {
			return nil, err
		}

		ref, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		join := Join{Type: jt, Table: *ref}
		if jt != JoinCross {
			if err := p.expect(TokenOn); err != nil {
				return nil, err
			}
			if join.Condition, err = p.parseExpression(); err != nil {
				return nil, err
			}
			if err := p.checkClause(join.Condition, "ON"); err != nil {
				return nil, err
			}
		}
		joins = append(joins, join)
	}
}
