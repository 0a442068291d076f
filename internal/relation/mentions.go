// ABOUTME: Mention extraction from structured m.mentions and textual @name scans
// ABOUTME: The structured source wins; the textual fallback covers federation bridges

package relation

import (
	"regexp"
	"strings"

	"maunium.net/go/mautrix/event"

	"github.com/2389/conclave/internal/config"
	"github.com/2389/conclave/internal/identity"
)

// mentionToken matches @name-style tokens in plain text. Some federation
// bridges never populate the structured mention field, so the textual scan
// is a required fallback, not an optimization.
var mentionToken = regexp.MustCompile(`@([A-Za-z0-9][A-Za-z0-9_.\-]*)`)

// ParseMentions extracts configured identities mentioned by the content.
// The structured mention list is consulted first; the textual scan applies
// only when the structured source yields no configured identity.
func ParseMentions(content *event.MessageEventContent, snap *config.Snapshot) []identity.Identity {
	if content == nil {
		return nil
	}

	if mentions := structuredMentions(content, snap); len(mentions) > 0 {
		return mentions
	}
	return textualMentions(content.Body, snap)
}

// structuredMentions maps m.mentions user ids to configured identities.
// Bridged ids are canonicalized through the alias table first.
func structuredMentions(content *event.MessageEventContent, snap *config.Snapshot) []identity.Identity {
	if content.Mentions == nil {
		return nil
	}

	var out []identity.Identity
	seen := make(map[string]bool)
	for _, uid := range content.Mentions.UserIDs {
		canonical, _ := snap.Aliases.Resolve(uid)
		ident, ok := snap.IdentityByUserID(canonical)
		if !ok || seen[ident.Name+"/"+string(ident.UserID)] {
			continue
		}
		seen[ident.Name+"/"+string(ident.UserID)] = true
		out = append(out, ident)
	}
	return out
}

// textualMentions scans the body for @name tokens against configured short
// names.
func textualMentions(body string, snap *config.Snapshot) []identity.Identity {
	if body == "" {
		return nil
	}

	var out []identity.Identity
	seen := make(map[string]bool)
	for _, match := range mentionToken.FindAllStringSubmatch(body, -1) {
		name := match[1]
		ident, ok := snap.HasName(name)
		if !ok {
			// Tokens like "@finance." parse greedily; retry without
			// trailing punctuation.
			trimmed := strings.TrimRight(name, "._-")
			if trimmed == name {
				continue
			}
			ident, ok = snap.HasName(trimmed)
			if !ok {
				continue
			}
		}
		if seen[ident.Name] {
			continue
		}
		seen[ident.Name] = true
		out = append(out, ident)
	}
	return out
}
