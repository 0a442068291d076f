// ABOUTME: Ordered authorization engine for incoming events
// ABOUTME: Alias canonicalization, allow lists, and the non-fallthrough room rule

package authz

import (
	"maunium.net/go/mautrix/id"

	"github.com/2389/conclave/internal/config"
	"github.com/2389/conclave/internal/identity"
)

// Decision is the outcome of authorizing one sender for one room. A denial
// is a valid decision, not an error: the pipeline drops the event silently
// so configuration details never leak into the room.
type Decision struct {
	Allowed bool
	// Sender is the canonical identity after alias resolution. Permission
	// checks downstream of authorization use this id.
	Sender id.UserID
	// Original is the id the event arrived with, kept for audit logging
	// and voice attribution.
	Original id.UserID
	Reason   string
}

// Authorize evaluates the ordered policy for a sender in a room. The rules
// short-circuit on first match, and once a room permission list applies
// there is no fallthrough: absence from that list denies access even when
// default access would otherwise allow it.
func Authorize(sender id.UserID, roomID id.RoomID, snap *config.Snapshot) Decision {
	// 1. Internal system identities on the configured domain.
	if snap.IsInternal(sender) {
		return allow(sender, sender, "internal identity")
	}

	// 2. Any configured identity: agents, teams, the router, bridge bots.
	if _, ok := snap.IdentityByUserID(sender); ok {
		return allow(sender, sender, "configured identity")
	}

	// 3. Alias resolution. All subsequent checks use the canonical id;
	// the original is retained for logging and voice attribution.
	canonical, _ := snap.Aliases.Resolve(sender)

	// 4. Global allow list.
	if snap.InGlobalAllow(canonical) {
		return allow(canonical, sender, "global allow list")
	}

	// 5. Room permission list. Any entry for this room, matched by id,
	// alias, or key, makes membership mandatory.
	handles := []string{string(roomID)}
	if room, ok := snap.RoomByID(roomID); ok {
		handles = append(handles, room.Alias, room.Key)
	}
	if allowList, exists := snap.RoomAllowList(handles...); exists {
		if allowList[canonical] {
			return allow(canonical, sender, "room permission list")
		}
		return deny(canonical, sender, "absent from room permission list")
	}

	// 6. No room entry: fall back to the global default.
	if snap.DefaultAccess {
		return allow(canonical, sender, "default access")
	}
	return deny(canonical, sender, "default access disabled")
}

func allow(canonical, original id.UserID, reason string) Decision {
	return Decision{Allowed: true, Sender: canonical, Original: original, Reason: reason}
}

func deny(canonical, original id.UserID, reason string) Decision {
	return Decision{Allowed: false, Sender: canonical, Original: original, Reason: reason}
}

// CanReply is the per-entity reply permission gate, applied after room
// authorization when deciding whether a specific responder may address a
// specific sender. Internal system identities bypass the gate; bridge bots
// deliberately do not. Entities with no configured patterns carry no
// restriction.
func CanReply(entity string, sender id.UserID, snap *config.Snapshot) bool {
	if snap.IsInternal(sender) {
		return true
	}

	patterns, restricted := snap.ReplyPatterns(entity)
	if !restricted {
		return true
	}

	for _, pattern := range patterns {
		if MatchSender(pattern, sender) {
			return true
		}
	}
	return false
}

// MatchSender matches a sender id against a permission pattern: an exact
// user id, or a glob where '*' matches any run of characters within a
// segment ("@*:corp.example.org").
func MatchSender(pattern string, sender id.UserID) bool {
	if pattern == string(sender) {
		return true
	}
	return globMatch(pattern, string(sender))
}

// globMatch implements '*' wildcard matching without treating ':' or '.'
// specially. Matrix ids contain characters path.Match reserves, so the
// matcher is written out here.
func globMatch(pattern, s string) bool {
	// Iterative wildcard match with single backtrack point.
	var starIdx, matchIdx = -1, 0
	pi, si := 0, 0
	for si < len(s) {
		switch {
		case pi < len(pattern) && pattern[pi] == '*':
			starIdx = pi
			matchIdx = si
			pi++
		case pi < len(pattern) && pattern[pi] == s[si]:
			pi++
			si++
		case starIdx >= 0:
			pi = starIdx + 1
			matchIdx++
			si = matchIdx
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

// ReplyEntity returns the reply-permission entity name for a responder
// identity: the router is always checked under "router".
func ReplyEntity(responder identity.Identity) string {
	if responder.Kind == identity.KindRouter {
		return "router"
	}
	return responder.Name
}
