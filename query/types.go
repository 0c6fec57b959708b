package query

import "context"

// TokenType represents the type of a token
type TokenType int

const (
	// Keywords
	TokenSelect TokenType = iota
	TokenFrom
	TokenWhere
	TokenAnd
	TokenOr
	TokenAs
	TokenGroup
	TokenBy
	TokenHaving
	TokenOrder
	TokenAsc
	TokenDesc
	TokenLimit
	TokenOffset
	TokenIn
	TokenLike
	TokenBetween
	TokenIs
	TokenNot
	TokenNull
	TokenDistinct
	TokenCase
	TokenWhen
	TokenThen
	TokenElse
	TokenEnd
	TokenWith
	TokenJoin
	TokenInner
	TokenLeft
	TokenRight
	TokenFull
	TokenOuter
	TokenCross
	TokenOn
	TokenOver
	TokenPartition
	TokenExists

	// Operators
	TokenEqual        // =
	TokenNotEqual     // != or <>
	TokenLess         // <
	TokenGreater      // >
	TokenLessEqual    // <=
	TokenGreaterEqual // >=
	TokenPlus         // +
	TokenMinus        // -
	TokenStar         // *
	TokenSlash        // /
	TokenPercent      // %
	TokenConcat       // ||

	// Literals
	TokenString
	TokenNumber
	TokenIdent
	TokenQuotedIdent
	TokenBool

	// Delimiters
	TokenComma      // ,
	TokenDot        // .
	TokenLeftParen  // (
	TokenRightParen // )
	TokenSemicolon  // ;

	// Special
	TokenEOF
	TokenError
)

var tokenNames = map[TokenType]string{
	TokenEqual: "=", TokenNotEqual: "!=", TokenLess: "<", TokenGreater: ">",
	TokenLessEqual: "<=", TokenGreaterEqual: ">=", TokenPlus: "+", TokenMinus: "-",
	TokenStar: "*", TokenSlash: "/", TokenPercent: "%", TokenConcat: "||",
	TokenAnd: "AND", TokenOr: "OR", TokenNot: "NOT",
	TokenComma: ",", TokenDot: ".", TokenLeftParen: "(", TokenRightParen: ")",
	TokenEOF: "end of input", TokenIdent: "identifier", TokenNumber: "number",
	TokenString: "string", TokenFrom: "FROM", TokenSelect: "SELECT", TokenOn: "ON",
	TokenJoin: "JOIN", TokenBy: "BY", TokenAs: "AS", TokenThen: "THEN", TokenEnd: "END",
	TokenOver: "OVER", TokenPartition: "PARTITION", TokenExists: "EXISTS",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return "token"
}

// Token represents a lexical token
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

// Select is a parsed SELECT statement.
type Select struct {
	With     []CTE
	Distinct bool
	Items    []SelectItem
	From     *TableRef // nil for a statement without FROM
	Joins    []Join
	Where    Expr
	GroupBy  []Expr
	Having   Expr
	OrderBy  []OrderItem
	Limit    *int64
	Offset   *int64
}

// CTE represents a Common Table Expression (WITH clause)
type CTE struct {
	Name  string
	Query *Select
}

// TableRef is a FROM or JOIN source: a bound table name or a subquery.
type TableRef struct {
	Name     string  // dotted name as written, quotes removed
	Subquery *Select // alternative to Name
	Alias    string
}

// Qualifier is the name columns of this source are qualified by.
func (t *TableRef) Qualifier() string {
	if t.Alias != "" {
		return t.Alias
	}
	if t.Name == "" {
		return ""
	}
	parts := splitDotted(t.Name)
	return parts[len(parts)-1]
}

// JoinType represents the type of join operation
type JoinType int

const (
	JoinInner JoinType = iota
	JoinLeft
	JoinRight
	JoinFull
	JoinCross
)

func (j JoinType) String() string {
	switch j {
	case JoinLeft:
		return "LEFT"
	case JoinRight:
		return "RIGHT"
	case JoinFull:
		return "FULL"
	case JoinCross:
		return "CROSS"
	default:
		return "INNER"
	}
}

// Join represents a JOIN clause
type Join struct {
	Type      JoinType
	Table     TableRef
	Condition Expr // nil for CROSS JOIN
}

// SelectItem is one entry of the select list.
type SelectItem struct {
	Expr  Expr
	Alias string
}

// OrderItem is one ORDER BY key.
type OrderItem struct {
	Expr Expr
	Desc bool
}

// Env resolves column references while evaluating an expression.
type Env interface {
	Column(table, name string) (interface{}, error)
}

// Expr is an evaluable expression node.
type Expr interface {
	Eval(env Env) (interface{}, error)
	String() string
}

// Table is a bound, lazily read relation.
type Table interface {
	// Read materializes the table's rows.
	Read(ctx context.Context) (*Result, error)
	// Describe renders the scan for plan output without reading data.
	Describe() string
}

// Result is an ordered row set. Row values line up with Columns.
type Result struct {
	Columns []string
	Rows    [][]interface{}
}

// Records returns the rows as column-name maps.
func (r *Result) Records() []map[string]interface{} {
	out := make([]map[string]interface{}, len(r.Rows))
	for i, row := range r.Rows {
		rec := make(map[string]interface{}, len(r.Columns))
		for j, col := range r.Columns {
			rec[col] = row[j]
		}
		out[i] = rec
	}
	return out
}
