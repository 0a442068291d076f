// ABOUTME: Identity model for conclave participants (humans, agents, teams, router, bridges).
// ABOUTME: Provides kind classification and alias canonicalization used across the pipeline.

package identity

import (
	"strings"

	"maunium.net/go/mautrix/id"
)

// Kind classifies a participant. The set is closed: authorization and
// routing switch exhaustively over it.
type Kind int

const (
	// KindUser is a human participant with no special role.
	KindUser Kind = iota
	// KindAgent is an AI agent identity owned by this deployment.
	KindAgent
	// KindTeam is a named group of agents addressed as one identity.
	KindTeam
	// KindRouter is the designated routing agent that handles unmentioned
	// and voice-relayed messages.
	KindRouter
	// KindBridge is a federation bridge bot relaying messages from another
	// network on behalf of remote users.
	KindBridge
	// KindInternal is a deployment-internal system identity (service
	// accounts on the configured domain). Always authorized.
	KindInternal
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindAgent:
		return "agent"
	case KindTeam:
		return "team"
	case KindRouter:
		return "router"
	case KindBridge:
		return "bridge"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Identity is one addressable participant. Identities are built from
// configuration and are immutable for the lifetime of a config snapshot.
type Identity struct {
	// UserID is the canonical protocol-qualified id, e.g. "@finance:example.org".
	UserID id.UserID
	// Name is the short name used for @name textual mentions and for
	// reply-permission entries. Empty for plain users.
	Name string
	Kind Kind
	// Members lists member agent names when Kind is KindTeam.
	Members []string
	// DefaultMode is the team's configured collaboration mode
	// ("coordinate" or "collaborate"). Only meaningful for teams.
	DefaultMode string
}

// IsResponder reports whether this identity can produce responses.
func (i Identity) IsResponder() bool {
	return i.Kind == KindAgent || i.Kind == KindTeam || i.Kind == KindRouter
}

// Domain returns the server part of a user id, e.g. "example.org" for
// "@finance:example.org". Empty if the id is malformed.
func Domain(userID id.UserID) string {
	s := string(userID)
	idx := strings.IndexByte(s, ':')
	if idx < 0 || !strings.HasPrefix(s, "@") {
		return ""
	}
	return s[idx+1:]
}

// Localpart returns the local part of a user id without the leading "@".
// Empty if the id is malformed.
func Localpart(userID id.UserID) string {
	s := string(userID)
	if !strings.HasPrefix(s, "@") {
		return ""
	}
	s = s[1:]
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// AliasTable maps bridged ids to canonical ids. Many bridged ids may map
// to the same canonical id; the mapping is never chained.
type AliasTable map[id.UserID]id.UserID

// Resolve returns the canonical id for sender and whether an alias entry
// applied. Ids without an entry resolve to themselves.
func (t AliasTable) Resolve(sender id.UserID) (id.UserID, bool) {
	if canonical, ok := t[sender]; ok {
		return canonical, true
	}
	return sender, false
}
