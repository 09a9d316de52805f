package agent

import (
	"math/rand"
	"strings"
)

// Match scans rules in declared order and returns the first whose
// keywords hit the text. A rule matches when any of its comma-separated
// keywords appears as a case-insensitive substring of the text. Rules
// without configured responses are treated as non-matches. Returns nil
// when nothing fires.
func Match(rules []Rule, text string) *Rule {
	folded := strings.ToLower(text)
	for i := range rules {
		rule := &rules[i]
		if len(rule.Responses) == 0 {
			continue
		}
		for _, kw := range strings.Split(rule.Keywords, ",") {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if strings.Contains(folded, kw) {
				return rule
			}
		}
	}
	return nil
}

// PickResponse returns one of the rule's responses uniformly at random.
func PickResponse(rule *Rule) string {
	if len(rule.Responses) == 0 {
		return ""
	}
	return rule.Responses[rand.Intn(len(rule.Responses))]
}

// Reply resolves the text an agent answers with in rule mode: the first
// matching rule's random response, or the fallback when nothing matched.
func (a *Agent) Reply(text string) string {
	if rule := Match(a.Rules, text); rule != nil {
		return PickResponse(rule)
	}
	return a.FallbackResponse
}
