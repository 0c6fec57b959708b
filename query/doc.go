// Package query compiles and runs SQL SELECT statements against a set of
// named, bound tables.
//
// The pipeline follows the usual shape: a lexer produces tokens, a
// recursive-descent parser builds a Select AST, and the executor evaluates
// it stage by stage:
//
//	source -> joins -> WHERE -> GROUP BY/aggregates -> HAVING ->
//	projection -> DISTINCT -> ORDER BY -> LIMIT/OFFSET
//
// Table names in FROM and JOIN clauses resolve only through the Bindings
// passed to Execute; there is no ambient catalog. A statement without FROM
// evaluates its select list once.
//
// Supported syntax:
//
//	[WITH name AS (select), ...]
//	SELECT [DISTINCT] expr [[AS] alias], ...
//	[FROM table_ref [[AS] alias]
//	  {[INNER|LEFT|RIGHT|FULL [OUTER]|CROSS] JOIN table_ref [[AS] alias] [ON expr]}]
//	[WHERE expr] [GROUP BY expr, ...] [HAVING expr]
//	[ORDER BY expr [ASC|DESC], ...] [LIMIT n] [OFFSET n]
//
// table_ref is a dotted, optionally backtick-quoted name such as
// main.sales.orders, or a parenthesized subquery.
//
// Expressions support literals, column references, arithmetic, string
// concatenation (||), comparisons, AND/OR/NOT, IN, LIKE, BETWEEN, IS NULL,
// CASE, CAST and TRY_CAST, scalar functions and the aggregates COUNT, SUM,
// AVG, MIN and MAX. Comparisons against NULL yield NULL, which WHERE,
// HAVING and ON treat as false.
//
// Window functions (ROW_NUMBER, RANK, DENSE_RANK, NTILE, FIRST_VALUE,
// LAST_VALUE, NTH_VALUE, LAG, LEAD and the aggregates) take
// OVER ([PARTITION BY ...] [ORDER BY ...]) and are evaluated after
// HAVING, before DISTINCT.
//
// Scalar, IN and EXISTS subqueries are uncorrelated. Each runs once per
// execution, before the enclosing statement reads its sources.
//
// Example:
//
//	res, plan, err := query.Execute(ctx,
//	    "SELECT region, SUM(amount) AS total FROM main.sales.orders GROUP BY region",
//	    bindings)
//
// Compile failures are reported as *gatewayerr.QueryError and runtime
// failures as *gatewayerr.ExecutionError.
package query
