// Package strings provides naming helpers shared by the ORM and form layers.
package strings

import (
	"strings"
	"unicode"

	"github.com/go-openapi/inflect"
)

// ToSnakeCase converts CamelCase to snake_case
// Handles acronyms properly (HTTPRequest -> http_request)
func ToSnakeCase(s string) string {
	var result strings.Builder
	runes := []rune(s)

	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				if unicode.IsLower(prev) {
					result.WriteRune('_')
				} else if i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
					result.WriteRune('_')
				}
			}
			result.WriteRune(unicode.ToLower(r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Singular returns the singular form of a snake_case table or relation name.
// Only the last segment is inflected ("gathering_centers" -> "gathering_center").
// Irregular and non-English plurals are guessed, not guaranteed.
func Singular(name string) string {
	head, last := splitLast(name)
	return head + inflect.Singularize(last)
}

// Plural returns the plural form of a snake_case name, inflecting the last segment
func Plural(name string) string {
	head, last := splitLast(name)
	return head + inflect.Pluralize(last)
}

// Humanize turns an attribute name into a display label ("first_name" -> "First name")
func Humanize(name string) string {
	name = strings.TrimSuffix(name, "_id")
	words := strings.Fields(strings.ReplaceAll(ToSnakeCase(name), "_", " "))
	if len(words) == 0 {
		return ""
	}
	runes := []rune(words[0])
	runes[0] = unicode.ToUpper(runes[0])
	words[0] = string(runes)
	return strings.Join(words, " ")
}

func splitLast(name string) (string, string) {
	idx := strings.LastIndex(name, "_")
	if idx < 0 {
		return "", name
	}
	return name[:idx+1], name[idx+1:]
}
