// Package validate guards pipeline inputs before they reach the model or the
// database.
//
// The SQL guard is a regular-expression heuristic, not a parser. Crafted
// statements using comments or unusual whitespace can slip past it, which is
// why the database runner also executes every statement in a read-only
// transaction.
package validate

import (
	"regexp"
	"strings"

	"github.com/pitchql/pitchql/pkg/apperr"
)

var (
	// selectShape accepts SELECT ... FROM or WITH ... SELECT ... FROM.
	selectShape = regexp.MustCompile(`(?i)^\s*(?:with\b[\s\S]+?\bselect\b|select\b)[\s\S]+?\bfrom\b`)

	forbidden = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|truncate|create)\b`)
)

// Question trims q and fails with MissingInput when nothing is left.
func Question(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", apperr.New(apperr.KindMissingInput, "validate question")
	}
	return q, nil
}

// IsSafe reports whether sql looks like a single read-only SELECT statement.
func IsSafe(sql string) bool {
	sql = strings.TrimSpace(sql)
	if strings.Contains(sql, ";") {
		return false
	}
	if forbidden.MatchString(sql) {
		return false
	}
	return selectShape.MatchString(sql)
}

// SQL returns the trimmed statement, or an UnsafeSQL error when IsSafe rejects it.
func SQL(sql string) (string, error) {
	if !IsSafe(sql) {
		return "", apperr.New(apperr.KindUnsafeSQL, "validate sql")
	}
	return strings.TrimSpace(sql), nil
}
