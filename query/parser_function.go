package query

import (
	"fmt"
	"strings"
)

// parseCast parses the remainder of CAST(expr AS type) or TRY_CAST. A
// length or precision suffix such as VARCHAR(20) or DECIMAL(10, 2) is
// accepted and ignored.
func (p *Parser) parseCast(name string) (Expr, error) {
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenAs); err != nil {
		return nil, err
	}
	typeTok := p.current()
	typeName, err := p.parseIdentifier()
	if err != nil {
		return nil, err
	}
	target, ok := castTypes[strings.ToUpper(typeName)]
	if !ok {
		return nil, &syntaxError{Near: typeTok.Value, Err: fmt.Errorf("unknown type %s in %s", typeName, name)}
	}
	if p.accept(TokenLeftParen) {
		for {
			if err := p.expect(TokenNumber); err != nil {
				return nil, err
			}
			if !p.accept(TokenComma) {
				break
			}
		}
		if err := p.expect(TokenRightParen); err != nil {
			return nil, err
		}
	}
	if err := p.expect(TokenRightParen); err != nil {
		return nil, err
	}
	return &CastExpr{Expr: expr, Type: target, Try: name == "TRY_CAST"}, nil
}

// enterWindow guards against window calls nested in aggregates or in
// other window calls. The returned func leaves the window.
func (p *Parser) enterWindow() (func(), error) {
	if p.aggDepth > 0 {
		return nil, p.errorf("window functions are not allowed inside aggregates")
	}
	if p.inWindow {
		return nil, p.errorf("window functions cannot be nested")
	}
	p.inWindow = true
	return func() { p.inWindow = false }, nil
}

// parseWindowCall parses a ranking or value function from its argument
// list through the OVER clause.
func (p *Parser) parseWindowCall(name string, arity [2]int) (Expr, error) {
	leave, err := p.enterWindow()
	if err != nil {
		return nil, err
	}
	defer leave()

	w := &WindowExpr{Func: name}
	if !p.accept(TokenRightParen) {
		if w.Args, err = p.parseExpressionList(TokenRightParen); err != nil {
			return nil, err
		}
	}
	if len(w.Args) < arity[0] || len(w.Args) > arity[1] {
		return nil, &syntaxError{Near: name, Err: fmt.Errorf("wrong number of arguments to %s: %d", name, len(w.Args))}
	}
	if p.current().Type != TokenOver {
		return nil, p.errorf("%s requires an OVER clause", name)
	}
	if err := p.parseWindowSpec(w); err != nil {
		return nil, err
	}
	return w, nil
}

// parseOver parses the OVER clause of an aggregate used as a window
// function.
func (p *Parser) parseOver(w *WindowExpr) (Expr, error) {
	leave, err := p.enterWindow()
	if err != nil {
		return nil, err
	}
	defer leave()
	if err := p.parseWindowSpec(w); err != nil {
		return nil, err
	}
	return w, nil
}

// parseWindowSpec parses OVER ([PARTITION BY expr, ...] [ORDER BY ...]).
func (p *Parser) parseWindowSpec(w *WindowExpr) error {
	if err := p.expect(TokenOver); err != nil {
		return err
	}
	if err := p.expect(TokenLeftParen); err != nil {
		return err
	}
	if p.accept(TokenPartition) {
		if err := p.expect(TokenBy); err != nil {
			return err
		}
		for {
			e, err := p.parseExpression()
			if err != nil {
				return err
			}
			w.PartitionBy = append(w.PartitionBy, e)
			if !p.accept(TokenComma) {
				break
			}
		}
	}
	if p.accept(TokenOrder) {
		if err := p.expect(TokenBy); err != nil {
			return err
		}
		items, err := p.parseOrderItems()
		if err != nil {
			return err
		}
		w.OrderBy = items
	}
	if tok := p.current(); tok.Type == TokenIdent {
		switch strings.ToUpper(tok.Value) {
		case "ROWS", "RANGE":
			return p.errorf("window frame clauses are not supported")
		}
	}
	return p.expect(TokenRightParen)
}

// parseSubquery parses a statement after its opening parenthesis through
// the closing one. Aggregate and window nesting restart inside it.
func (p *Parser) parseSubquery() (*Select, string, error) {
	if err := p.depthCounter.Enter(); err != nil {
		return nil, "", &syntaxError{Near: p.current().Value, Err: err}
	}
	defer p.depthCounter.Exit()

	aggDepth, inWindow := p.aggDepth, p.inWindow
	p.aggDepth, p.inWindow = 0, false
	defer func() { p.aggDepth, p.inWindow = aggDepth, inWindow }()

	start := p.current().Pos
	q, err := p.parseStatement()
	if err != nil {
		return nil, "", err
	}
	text := "subquery"
	if end := p.current().Pos; p.src != "" && end > start && end <= len(p.src) {
		text = strings.TrimSpace(p.src[start:end])
	}
	if err := p.expect(TokenRightParen); err != nil {
		return nil, "", err
	}
	return q, text, nil
}

// parseExists parses EXISTS (SELECT ...).
func (p *Parser) parseExists(not bool) (Expr, error) {
	if err := p.expect(TokenExists); err != nil {
		return nil, err
	}
	if err := p.expect(TokenLeftParen); err != nil {
		return nil, err
	}
	q, text, err := p.parseSubquery()
	if err != nil {
		return nil, err
	}
	return &ExistsExpr{Query: q, Text: text, Not: not}, nil
}
