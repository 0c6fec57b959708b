package query

import (
	"fmt"
	"strconv"
	"strings"
)

var aggregateNames = map[string]bool{
	"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true,
}

// parseExpression parses an expression with precedence
// OR < AND < NOT < predicates < additive < multiplicative < unary.
func (p *Parser) parseExpression() (Expr, error) {
	if err := p.depthCounter.Enter(); err != nil {
		return nil, &syntaxError{Near: p.current().Value, Err: err}
	}
	defer p.depthCounter.Exit()
	return p.parseOr()
}

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept(TokenOr) {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: TokenOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.accept(TokenAnd) {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: TokenAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.current().Type == TokenNot && p.peek().Type == TokenExists {
		p.advance()
		return p.parseExists(true)
	}
	if p.accept(TokenNot) {
		if err := p.depthCounter.Enter(); err != nil {
			return nil, &syntaxError{Near: p.current().Value, Err: err}
		}
		defer p.depthCounter.Exit()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: TokenNot, Operand: operand}, nil
	}
	return p.parsePredicate()
}

func (p *Parser) parsePredicate() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	switch op := p.current().Type; op {
	case TokenEqual, TokenNotEqual, TokenLess, TokenLessEqual, TokenGreater, TokenGreaterEqual:
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: op, Left: left, Right: right}, nil
	case TokenIs:
		p.advance()
		not := p.accept(TokenNot)
		if err := p.expect(TokenNull); err != nil {
			return nil, err
		}
		return &IsNullExpr{Expr: left, Not: not}, nil
	}

	not := false
	if p.current().Type == TokenNot {
		switch p.peek().Type {
		case TokenIn, TokenLike, TokenBetween:
			p.advance()
			not = true
		}
	}

	switch p.current().Type {
	case TokenIn:
		p.advance()
		if err := p.expect(TokenLeftParen); err != nil {
			return nil, err
		}
		if p.current().Type == TokenSelect || p.current().Type == TokenWith {
			q, text, err := p.parseSubquery()
			if err != nil {
				return nil, err
			}
			return &InSubqueryExpr{Expr: left, Query: q, Text: text, Not: not}, nil
		}
		list, err := p.parseExpressionList(TokenRightParen)
		if err != nil {
			return nil, err
		}
		return &InExpr{Expr: left, List: list, Not: not}, nil
	case TokenLike:
		p.advance()
		pattern, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &LikeExpr{Expr: left, Pattern: pattern, Not: not}, nil
	case TokenBetween:
		p.advance()
		low, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenAnd); err != nil {
			return nil, err
		}
		high, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BetweenExpr{Expr: left, Low: low, High: high, Not: not}, nil
	}
	return left, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		op := p.current().Type
		if op != TokenPlus && op != TokenMinus && op != TokenConcat {
			return left, nil
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op := p.current().Type
		if op != TokenStar && op != TokenSlash && op != TokenPercent {
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.current().Type == TokenMinus || p.current().Type == TokenPlus {
		op := p.current().Type
		p.advance()
		if err := p.depthCounter.Enter(); err != nil {
			return nil, &syntaxError{Near: p.current().Value, Err: err}
		}
		defer p.depthCounter.Exit()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if op == TokenPlus {
			return operand, nil
		}
		if lit, ok := operand.(*Literal); ok {
			switch v := lit.Value.(type) {
			case int64:
				return &Literal{Value: -v}, nil
			case float64:
				return &Literal{Value: -v}, nil
			}
		}
		return &UnaryExpr{Op: TokenMinus, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.current()
	switch tok.Type {
	case TokenNumber:
		p.advance()
		return parseNumberLiteral(tok.Value), nil
	case TokenString:
		p.advance()
		return &Literal{Value: tok.Value}, nil
	case TokenBool:
		p.advance()
		return &Literal{Value: strings.EqualFold(tok.Value, "true")}, nil
	case TokenNull:
		p.advance()
		return &Literal{Value: nil}, nil
	case TokenLeftParen:
		p.advance()
		if p.current().Type == TokenSelect || p.current().Type == TokenWith {
			q, text, err := p.parseSubquery()
			if err != nil {
				return nil, err
			}
			return &SubqueryExpr{Query: q, Text: text}, nil
		}
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenRightParen); err != nil {
			return nil, err
		}
		return expr, nil
	case TokenCase:
		return p.parseCase()
	case TokenExists:
		return p.parseExists(false)
	case TokenIdent, TokenQuotedIdent:
		if tok.Type == TokenIdent && p.peek().Type == TokenLeftParen {
			return p.parseCall()
		}
		if tok.Type == TokenIdent && p.peek().Type != TokenDot {
			if name := strings.ToUpper(tok.Value); niladicNames[name] {
				p.advance()
				fn, _ := GetGlobalRegistry().Get(name)
				return &FuncCall{Name: name, fn: fn}, nil
			}
		}
		return p.parseColumnRef()
	}
	return nil, p.errorf("unexpected %s in expression", describe(tok))
}

func parseNumberLiteral(text string) Expr {
	if !strings.ContainsAny(text, ".eE") {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return &Literal{Value: i}
		}
	}
	f, _ := strconv.ParseFloat(text, 64)
	return &Literal{Value: f}
}

// parseColumnRef parses name or qualifier.name, where the qualifier may
// itself be dotted (catalog.schema.table.column).
func (p *Parser) parseColumnRef() (Expr, error) {
	first, err := p.parseIdentifier()
	if err != nil {
		return nil, err
	}
	parts := []string{first}
	for p.current().Type == TokenDot {
		p.advance()
		part, err := p.parseIdentifier()
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	name := parts[len(parts)-1]
	return &ColumnRef{Table: joinDotted(parts[:len(parts)-1]), Name: name}, nil
}

func (p *Parser) parseCall() (Expr, error) {
	name := strings.ToUpper(p.current().Value)
	p.advance() // name
	p.advance() // (

	if aggregateNames[name] {
		agg, err := p.parseAggregate(name)
		if err != nil {
			return nil, err
		}
		if p.current().Type == TokenOver {
			return p.parseOver(&WindowExpr{Func: name, Aggregate: agg})
		}
		return agg, nil
	}
	if arity, ok := windowFunctions[name]; ok {
		return p.parseWindowCall(name, arity)
	}
	if name == "CAST" || name == "TRY_CAST" {
		return p.parseCast(name)
	}

	fn, ok := GetGlobalRegistry().Get(name)
	if !ok {
		return nil, &syntaxError{Near: name, Err: fmt.Errorf("unknown function %s", name)}
	}
	var args []Expr
	if !p.accept(TokenRightParen) {
		var err error
		if args, err = p.parseExpressionList(TokenRightParen); err != nil {
			return nil, err
		}
	}
	if len(args) < fn.MinArity() || (fn.MaxArity() >= 0 && len(args) > fn.MaxArity()) {
		return nil, &syntaxError{Near: name, Err: fmt.Errorf("wrong number of arguments to %s: %d", name, len(args))}
	}
	return &FuncCall{Name: name, Args: args, fn: fn}, nil
}

func (p *Parser) parseAggregate(name string) (*AggregateExpr, error) {
	if p.aggDepth > 0 {
		return nil, p.errorf("aggregate functions cannot be nested")
	}
	p.aggDepth++
	defer func() { p.aggDepth-- }()

	agg := &AggregateExpr{Func: name}
	if name == "COUNT" && p.current().Type == TokenStar {
		p.advance()
		if err := p.expect(TokenRightParen); err != nil {
			return nil, err
		}
		return agg, nil
	}
	agg.Distinct = p.accept(TokenDistinct)
	arg, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	agg.Arg = arg
	if err := p.expect(TokenRightParen); err != nil {
		return nil, err
	}
	return agg, nil
}

func (p *Parser) parseExpressionList(end TokenType) ([]Expr, error) {
	var list []Expr
	for {
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		list = append(list, e)
		if p.accept(TokenComma) {
			continue
		}
		if err := p.expect(end); err != nil {
			return nil, err
		}
		return list, nil
	}
}

func (p *Parser) parseCase() (Expr, error) {
	p.advance() // CASE
	c := &CaseExpr{}
	if p.current().Type != TokenWhen {
		operand, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		c.Operand = operand
	}
	for p.accept(TokenWhen) {
		cond, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenThen); err != nil {
			return nil, err
		}
		result, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		c.Whens = append(c.Whens, WhenClause{Condition: cond, Result: result})
	}
	if len(c.Whens) == 0 {
		return nil, p.errorf("CASE requires at least one WHEN")
	}
	if p.accept(TokenElse) {
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		c.Else = e
	}
	if err := p.expect(TokenEnd); err != nil {
		return nil, err
	}
	return c, nil
}
