// ABOUTME: Deterministic fallback for the team collaboration-mode decision
// ABOUTME: Fires when the AI call errors or times out; reproducible for identical input

package routing

import (
	"strings"

	"github.com/2389/conclave/internal/decision"
)

// imperativeVerbs is the fixed lexicon the fallback heuristic recognizes as
// task-assigning verbs at the head of a clause.
var imperativeVerbs = map[string]bool{
	"analyze": true, "build": true, "calculate": true, "check": true,
	"compare": true, "compile": true, "create": true, "draft": true,
	"design": true, "fetch": true, "find": true, "fix": true,
	"gather": true, "implement": true, "investigate": true, "list": true,
	"plan": true, "prepare": true, "report": true, "research": true,
	"review": true, "send": true, "summarize": true, "test": true,
	"translate": true, "update": true, "write": true,
}

// FallbackTeamMode is the deterministic team-mode heuristic: if the message
// contains clauses assigning distinct imperative verbs to different
// members, the task decomposes and the mode is coordinate; otherwise every
// member answers independently. Always returns coordinate or collaborate.
func FallbackTeamMode(body string, memberNames []string) decision.TeamMode {
	assigned := make(map[string]bool)

	for _, clause := range splitClauses(body) {
		lower := strings.ToLower(clause)
		if !containsImperative(lower) {
			continue
		}
		for _, name := range memberNames {
			if name == "" {
				continue
			}
			if strings.Contains(lower, "@"+strings.ToLower(name)) {
				assigned[name] = true
			}
		}
	}

	if len(assigned) >= 2 {
		return decision.ModeCoordinate
	}
	return decision.ModeCollaborate
}

// splitClauses breaks a message into task-sized clauses on sentence
// punctuation, newlines, and the conjunction "and".
func splitClauses(body string) []string {
	parts := strings.FieldsFunc(body, func(r rune) bool {
		switch r {
		case '.', ';', ',', '\n':
			return true
		}
		return false
	})

	var out []string
	for _, part := range parts {
		for _, sub := range strings.Split(" "+part+" ", " and ") {
			sub = strings.TrimSpace(sub)
			if sub != "" {
				out = append(out, sub)
			}
		}
	}
	return out
}

// containsImperative reports whether any word of the clause is in the verb
// lexicon.
func containsImperative(clause string) bool {
	for _, word := range strings.Fields(clause) {
		word = strings.Trim(word, "!?:\"'()")
		if imperativeVerbs[word] {
			return true
		}
	}
	return false
}
