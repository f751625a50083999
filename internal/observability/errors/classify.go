// Package errors normalizes application errors into low-cardinality class
// names for metric tagging.
package errors

import (
	apperrors "github.com/setalabs/blingsync/internal/errors"
)

// Classify returns a normalized error class suitable for tagging metrics and
// logs. Structured application errors classify by their code; anything else
// is lumped under "unknown" to keep tag cardinality bounded.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if code := apperrors.GetCode(err); code != "" {
		return string(code)
	}
	return "unknown"
}
