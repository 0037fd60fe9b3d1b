package canonicalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Identifier returns the NFC-normalized, whitespace-trimmed form of an
// externally supplied identifier (agent IDs, metric names, operation
// names). Visually identical Unicode spellings must address the same
// baselines, counters, and policies.
func Identifier(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
