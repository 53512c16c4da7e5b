package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/database"
)

// ============================================================================
// Helper Functions
// ============================================================================

// querier returns the query target for ctx: the open transaction if any,
// otherwise the request's pooled connection.
func querier(ctx context.Context) (database.Querier, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}
	return scope.Q(), nil
}

// nullString returns nil if the string is empty, otherwise returns the string pointer.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// derefString returns "" for a nil pointer.
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nonNilStrings keeps NOT NULL TEXT[] columns from receiving NULL.
func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// whereBuilder accumulates SQL predicates with positional arguments.
type whereBuilder struct {
	clauses []string
	args    []any
}

// add appends a predicate. Each "?" in clause is replaced with the next
// positional placeholder, one argument per "?".
func (w *whereBuilder) add(clause string, args ...any) {
	var b strings.Builder
	i := 0
	for _, ch := range clause {
		if ch == '?' && i < len(args) {
			w.args = append(w.args, args[i])
			fmt.Fprintf(&b, "$%d", len(w.args))
			i++
			continue
		}
		b.WriteRune(ch)
	}
	w.clauses = append(w.clauses, b.String())
}

// sql renders the WHERE clause, or "" when there are no predicates.
func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// next returns the placeholder for an argument appended after the predicates.
func (w *whereBuilder) next(arg any) string {
	w.args = append(w.args, arg)
	return fmt.Sprintf("$%d", len(w.args))
}
