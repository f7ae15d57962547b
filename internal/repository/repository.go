package repository

import "strings"

// joinPrefix prefixes each column in a comma-separated list with the given
// table alias, for use in joined queries.
func joinPrefix(columns, prefix string) string {
	parts := strings.Split(columns, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, prefix+strings.TrimSpace(p))
	}
	return strings.Join(out, ", ")
}
