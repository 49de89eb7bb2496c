package autoreply

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/aldihidayat35/billey-waapi-v2/internal/store"
)

// ruleMatches reports whether rule applies to a message with the given text
// and chat kind. Case-insensitive rules lowercase both operands; regex rules
// compile with (?i) instead. A regex that fails to compile never matches.
func ruleMatches(rule *store.Rule, text string, isGroup bool) bool {
	switch rule.ChatScope {
	case store.ScopePrivate:
		if isGroup {
			return false
		}
	case store.ScopeGroup:
		if !isGroup {
			return false
		}
	}

	if rule.MatchKind == store.MatchRegex {
		pattern := rule.MatchValue
		if !rule.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			slog.Warn("auto-reply rule has invalid regex", "rule", rule.ID, "pattern", rule.MatchValue, "error", err)
			return false
		}
		return re.MatchString(text)
	}

	needle, hay := rule.MatchValue, text
	if !rule.CaseSensitive {
		needle = strings.ToLower(needle)
		hay = strings.ToLower(hay)
	}
	switch rule.MatchKind {
	case store.MatchExact:
		return strings.TrimSpace(hay) == needle
	case store.MatchContains:
		return strings.Contains(hay, needle)
	case store.MatchPrefix:
		return strings.HasPrefix(hay, needle)
	case store.MatchSuffix:
		return strings.HasSuffix(hay, needle)
	}
	return false
}

// selectRule returns the first matching rule in rules, which arrive in
// selection order (priority descending, then id ascending).
func selectRule(rules []store.Rule, text string, isGroup bool) *store.Rule {
	for i := range rules {
		if ruleMatches(&rules[i], text, isGroup) {
			return &rules[i]
		}
	}
	return nil
}
