// ABOUTME: Composable SQL query builder producing SQLite-flavored ?-placeholder queries
// ABOUTME: Clauses are appended in a fixed order so generated SQL is deterministic and cacheable

// Package query builds parameterized SQLite SELECT statements for the
// storage engine's dynamic filter surface. It exists because the set of
// WHERE clauses for get_feeds/get_entries/get_entry_counts varies per call
// depending on which filter fields are set; building that SQL by hand
// inline in the storage layer made the clause order non-deterministic and
// hard to test in isolation.
package query

import "strings"

// Builder accumulates the pieces of a SELECT statement. Zero value is not
// usable; construct with Select.
type Builder struct {
	ctes    []cte
	columns []string
	from    string
	joins   []string
	wheres  []string
	groupBy []string
	having  []string
	orderBy []string
	limit   *int
	offset  *int
	args    []any
}

type cte struct {
	name string
	sql  string
	args []any
}

// Select starts a new query selecting the given columns.
func Select(columns ...string) *Builder {
	return &Builder{columns: columns}
}

// With adds a named common table expression. CTEs are emitted in the
// order they were added, before the main SELECT.
func (b *Builder) With(name, sql string, args ...any) *Builder {
	b.ctes = append(b.ctes, cte{name: name, sql: sql, args: args})
	return b
}

// From sets the FROM clause's source table or expression.
func (b *Builder) From(table string) *Builder {
	b.from = table
	return b
}

// Join appends a JOIN clause verbatim (caller supplies the join keyword).
// Call Join, Where, and Having in the same order their clauses should
// appear in the rendered SQL: their args are collected into one slice
// in call order, which Build assumes matches clause emission order.
func (b *Builder) Join(clause string, args ...any) *Builder {
	b.joins = append(b.joins, clause)
	b.args = append(b.args, args...)
	return b
}

// Where appends a condition, ANDed with any others already present.
// A zero-arg call with an empty condition is ignored, so callers can
// build conditionally without an explicit emptiness check at every
// call site.
func (b *Builder) Where(cond string, args ...any) *Builder {
	if cond == "" {
		return b
	}
	b.wheres = append(b.wheres, cond)
	b.args = append(b.args, args...)
	return b
}

// GroupBy appends a GROUP BY column.
func (b *Builder) GroupBy(col string) *Builder {
	b.groupBy = append(b.groupBy, col)
	return b
}

// Having appends a HAVING condition.
func (b *Builder) Having(cond string, args ...any) *Builder {
	b.having = append(b.having, cond)
	b.args = append(b.args, args...)
	return b
}

// OrderBy appends an ORDER BY term, in the order terms are added.
func (b *Builder) OrderBy(term string) *Builder {
	if term == "" {
		return b
	}
	b.orderBy = append(b.orderBy, term)
	return b
}

// Limit sets the LIMIT clause.
func (b *Builder) Limit(n int) *Builder {
	b.limit = &n
	return b
}

// Offset sets the OFFSET clause.
func (b *Builder) Offset(n int) *Builder {
	b.offset = &n
	return b
}

// Build renders the accumulated clauses into SQL text and a matching
// positional argument slice, in the fixed order: CTEs, SELECT, FROM,
// JOINs, WHERE, GROUP BY, HAVING, ORDER BY, LIMIT, OFFSET.
func (b *Builder) Build() (string, []any) {
	var sql strings.Builder
	var args []any

	if len(b.ctes) > 0 {
		sql.WriteString("WITH ")
		for i, c := range b.ctes {
			if i > 0 {
				sql.WriteString(", ")
			}
			sql.WriteString(c.name)
			sql.WriteString(" AS (")
			sql.WriteString(c.sql)
			sql.WriteString(")")
			args = append(args, c.args...)
		}
		sql.WriteString(" ")
	}

	sql.WriteString("SELECT ")
	sql.WriteString(strings.Join(b.columns, ", "))
	sql.WriteString(" FROM ")
	sql.WriteString(b.from)

	for _, j := range b.joins {
		sql.WriteString(" ")
		sql.WriteString(j)
	}

	if len(b.wheres) > 0 {
		sql.WriteString(" WHERE ")
		sql.WriteString(strings.Join(b.wheres, " AND "))
	}
	args = append(args, b.args...)

	if len(b.groupBy) > 0 {
		sql.WriteString(" GROUP BY ")
		sql.WriteString(strings.Join(b.groupBy, ", "))
	}

	if len(b.having) > 0 {
		sql.WriteString(" HAVING ")
		sql.WriteString(strings.Join(b.having, " AND "))
	}

	if len(b.orderBy) > 0 {
		sql.WriteString(" ORDER BY ")
		sql.WriteString(strings.Join(b.orderBy, ", "))
	}

	if b.limit != nil {
		sql.WriteString(" LIMIT ?")
		args = append(args, *b.limit)
	}

	if b.offset != nil {
		sql.WriteString(" OFFSET ?")
		args = append(args, *b.offset)
	}

	return sql.String(), args
}
