package query

import (
	"errors"
	"fmt"
)

// Input limits guarding the parser against oversized or pathological
// statements.
const (
	MaxQueryLength     = 1024 * 1024
	MaxTokens          = 20000
	MaxExpressionDepth = 100
)

var (
	ErrQueryTooLong      = errors.New("query too long")
	ErrTooManyTokens     = errors.New("too many tokens in query")
	ErrExpressionTooDeep = errors.New("expression nesting too deep")
	ErrEmptyQuery        = errors.New("empty query")
)

// ValidateQuery checks the raw statement length.
func ValidateQuery(query string) error {
	if len(query) > MaxQueryLength {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrQueryTooLong, len(query), MaxQueryLength)
	}
	return nil
}

// ValidateTokens checks the token count.
func ValidateTokens(tokens []Token) error {
	if len(tokens) > MaxTokens {
		return fmt.Errorf("%w: %d tokens (max %d)", ErrTooManyTokens, len(tokens), MaxTokens)
	}
	return nil
}

// ExpressionDepthCounter tracks expression nesting depth
type ExpressionDepthCounter struct {
	depth    int
	maxDepth int
}

// NewExpressionDepthCounter creates a new depth counter
func NewExpressionDepthCounter() *ExpressionDepthCounter {
	return &ExpressionDepthCounter{maxDepth: MaxExpressionDepth}
}

// Enter increments depth and returns error if limit exceeded
func (c *ExpressionDepthCounter) Enter() error {
	c.depth++
	if c.depth > c.maxDepth {
		return fmt.Errorf("%w: %d (max %d)", ErrExpressionTooDeep, c.depth, c.maxDepth)
	}
	return nil
}

// Exit decrements depth
func (c *ExpressionDepthCounter) Exit() {
	c.depth--
}
