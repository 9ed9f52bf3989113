package core

import (
	"fmt"
	"regexp"
	"strings"
)

// ForbiddenKeywords are statements or clauses that mutate data, change the
// schema or reach outside a plain read.
var ForbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE",
	"GRANT", "REVOKE", "EXEC", "EXECUTE", "MERGE", "CALL", "COPY",
	"ATTACH", "DETACH", "VACUUM", "RENAME", "LOCK", "UNLOCK", "SHUTDOWN",
	"KILL", "INTO", "SET", "DECLARE", "BACKUP", "RESTORE", "DBCC",
	"OPENROWSET", "PRAGMA",
}

// SQLGuard holds the compiled keyword matcher.
type SQLGuard struct {
	forbidden *regexp.Regexp
	limit     *regexp.Regexp
	comments  *regexp.Regexp
}

func NewSQLGuard() *SQLGuard {
	// Whole words only, so created_at or updated_by are not flagged
	return &SQLGuard{
		forbidden: regexp.MustCompile(`\b(` + strings.Join(ForbiddenKeywords, "|") + `)\b`),
		limit:     regexp.MustCompile(`\bLIMIT\b`),
		comments:  regexp.MustCompile(`(?s)--[^\n]*|/\*.*?\*/`),
	}
}

var defaultGuard = NewSQLGuard()

// ValidateSQL runs the deterministic read-only checks.
func ValidateSQL(sqlText string) error {
	return defaultGuard.Validate(sqlText)
}

// EnsureLimit appends a LIMIT clause unless one is already present.
func EnsureLimit(sqlText string, maxRows int) string {
	return defaultGuard.EnsureLimit(sqlText, maxRows)
}

func (g *SQLGuard) Validate(sqlText string) error {
	cleaned := CleanSQL(sqlText)
	if cleaned == "" {
		return &UnsafeQueryError{SQL: sqlText, Reason: "query is empty"}
	}

	upper := strings.ToUpper(cleaned)
	if match := g.forbidden.FindString(upper); match != "" {
		return &UnsafeQueryError{SQL: sqlText, Reason: fmt.Sprintf("forbidden operation: %s", match)}
	}

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return &UnsafeQueryError{SQL: sqlText, Reason: "only SELECT or WITH queries are allowed"}
	}

	if strings.Contains(cleaned, ";") {
		return &UnsafeQueryError{SQL: sqlText, Reason: "multiple statements are not allowed"}
	}

	if !balancedParens(cleaned) {
		return &UnsafeQueryError{SQL: sqlText, Reason: "unbalanced parentheses"}
	}

	return nil
}

func (g *SQLGuard) EnsureLimit(sqlText string, maxRows int) string {
	cleaned := CleanSQL(sqlText)
	if g.limit.MatchString(strings.ToUpper(g.comments.ReplaceAllString(cleaned, " "))) {
		return cleaned
	}
	// On its own line so a trailing -- comment cannot swallow it
	return fmt.Sprintf("%s\nLIMIT %d", cleaned, maxRows)
}

func balancedParens(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}
