// Package codegen generates the DDL the ORM executes at runtime
package codegen

import (
	"strings"

	"github.com/lib/pq"
)

// QuoteIdentifier wraps a SQL identifier in double quotes and escapes internal quotes.
// Qualified names ("schema.table") are quoted per segment.
func QuoteIdentifier(identifier string) string {
	parts := strings.Split(identifier, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

// IsSafeIdentifier reports whether s only contains letters, digits and underscores
func IsSafeIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_') {
			return false
		}
	}
	return true
}
