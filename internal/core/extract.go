package core

import (
	"regexp"
	"strings"
)

// sqlRules are tried in order; the first rule with any match wins. Models often restate a
// corrected query near the end of the answer, so the last match of that rule is used.
// The WITH rule requires a named CTE followed by AS ( so that prose like "help with that" is not
// taken for a statement.
var sqlRules = []*regexp.Regexp{
	regexp.MustCompile(`(?is)\bWITH\s+(?:RECURSIVE\s+)?(?:"[^"]+"|\w+)(?:\s*\([^)]*\))?\s+AS\s*\(.*?;`),
	regexp.MustCompile(`(?is)SELECT.*?;`),
	regexp.MustCompile("(?is)```sql[ \\t]*\\r?\\n(.*?)```"),
	regexp.MustCompile("(?is)```sqlite[ \\t]*\\r?\\n(.*?)```"),
	regexp.MustCompile("(?is)```(.*?)```"),
}

// ExtractSQL isolates one SQL statement from free-form model output. ok is false when no rule
// matched, in which case the text is returned unchanged and execution will surface the failure.
func ExtractSQL(response string) (sql string, ok bool) {
	return extractSQL(response, false)
}

// ExtractFirstSQL is ExtractSQL taking the first match of the winning rule instead of the last.
// It shows the model's initial attempt when it revised itself.
func ExtractFirstSQL(response string) (sql string, ok bool) {
	return extractSQL(response, true)
}

func extractSQL(response string, first bool) (string, bool) {
	for _, rule := range sqlRules {
		matches := rule.FindAllStringSubmatch(response, -1)
		if len(matches) == 0 {
			continue
		}
		m := matches[len(matches)-1]
		if first {
			m = matches[0]
		}
		if len(m) > 1 {
			return strings.TrimSpace(m[1]), true
		}
		return strings.TrimSpace(m[0]), true
	}
	return response, false
}
