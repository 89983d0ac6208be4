// ABOUTME: Compiles a models.TagFilter DNF expression into an EXISTS/NOT EXISTS SQL fragment
// ABOUTME: Used for both feed-level and entry-level tag filters via a caller-supplied table/key spec

package query

import (
	"fmt"
	"strings"

	"github.com/colinashford/feedcore/models"
)

// TagTableSpec names the tag table and the column(s) that scope a row to
// its owning resource, so the same compiler serves both feed-level and
// entry-level tag tables.
type TagTableSpec struct {
	Table      string   // e.g. "tags"
	KeyColumns []string // columns correlating the tag row to the outer query, e.g. {"feed_url"}
	OuterAlias []string // matching outer-query columns, e.g. {"f.url"}
}

// CompileTagFilter renders a TagFilter DNF expression as a single boolean
// SQL expression suitable for use in a WHERE clause, along with its
// positional arguments. An empty filter compiles to "1=1" (no constraint).
func CompileTagFilter(f models.TagFilter, spec TagTableSpec) (string, []any) {
	if f.Empty() {
		return "1=1", nil
	}

	var clauseSQL []string
	var args []any
	for _, clause := range f {
		var literals []string
		for _, lit := range clause {
			sql, litArgs := compileLiteral(lit, spec)
			literals = append(literals, sql)
			args = append(args, litArgs...)
		}
		clauseSQL = append(clauseSQL, "("+strings.Join(literals, " AND ")+")")
	}
	return "(" + strings.Join(clauseSQL, " OR ") + ")", args
}

func compileLiteral(lit models.TagFilterLiteral, spec TagTableSpec) (string, []any) {
	correlation := correlationSQL(spec)

	switch lit.Op {
	case models.AnyTagExists:
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s t WHERE %s)", spec.Table, correlation), nil
	case models.NoTagExists:
		return fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s t WHERE %s)", spec.Table, correlation), nil
	case models.TagExists:
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s t WHERE %s AND t.name = ?)", spec.Table, correlation), []any{lit.Name}
	case models.TagNotExists:
		return fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s t WHERE %s AND t.name = ?)", spec.Table, correlation), []any{lit.Name}
	default:
		return "1=1", nil
	}
}

func correlationSQL(spec TagTableSpec) string {
	var parts []string
	for i, col := range spec.KeyColumns {
		parts = append(parts, fmt.Sprintf("t.%s = %s", col, spec.OuterAlias[i]))
	}
	return strings.Join(parts, " AND ")
}
