// ABOUTME: Hot-reloadable policy file: identities, rooms, aliases, permission lists
// ABOUTME: Compiles the YAML document into an immutable Snapshot for lock-free reads

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix/id"

	"github.com/2389/conclave/internal/identity"
)

// Policy is the raw YAML shape of the policy file. It is compiled into a
// Snapshot before anything else sees it; the pipeline never touches Policy
// directly.
type Policy struct {
	DefaultAccess bool              `yaml:"default_access"`
	Internal      []string          `yaml:"internal"`
	GlobalAllow   []string          `yaml:"global_allow"`
	Aliases       map[string]string `yaml:"aliases"`
	Agents        []AgentPolicy     `yaml:"agents"`
	Router        *AgentPolicy      `yaml:"router"`
	DefaultAgent  string            `yaml:"default_agent"`
	Teams         []TeamPolicy      `yaml:"teams"`
	Bridges       []string          `yaml:"bridges"`
	VoiceRelay    string            `yaml:"voice_relay"`
	Rooms         []RoomPolicy      `yaml:"rooms"`
	// ReplyPermissions maps an entity name (agent name, team name,
	// "router", or "*") to sender patterns (exact user id or glob).
	ReplyPermissions map[string][]string `yaml:"reply_permissions"`
	Timezone         string              `yaml:"timezone"`
}

// AgentPolicy declares one agent identity.
type AgentPolicy struct {
	Name   string `yaml:"name"`
	UserID string `yaml:"user_id"`
	// Model optionally overrides the gateway's default model for this agent.
	Model string `yaml:"model"`
}

// TeamPolicy declares a named group of agents addressed as one identity.
type TeamPolicy struct {
	Name    string   `yaml:"name"`
	UserID  string   `yaml:"user_id"`
	Members []string `yaml:"members"`
	// DefaultMode is used when the team is mentioned directly, skipping
	// the AI team-mode decision. "coordinate" or "collaborate".
	DefaultMode string `yaml:"default_mode"`
}

// RoomPolicy declares a room the deployment participates in.
type RoomPolicy struct {
	ID    string `yaml:"id"`
	Alias string `yaml:"alias"`
	// Key is a stable human-friendly handle usable in permission lookups.
	Key string `yaml:"key"`
	// Allow is the room permission list. If present (even empty),
	// membership is mandatory: absence denies regardless of default_access.
	Allow *[]string `yaml:"allow"`
	// Model optionally overrides the gateway model for this room.
	Model string `yaml:"model"`
}

// Snapshot is the compiled, immutable view of the policy. A snapshot is
// shared by all identity loops; hot-reload replaces the whole snapshot via
// a single pointer swap and never mutates one in place.
type Snapshot struct {
	Domain        string
	DefaultAccess bool

	byUserID map[id.UserID]identity.Identity
	byName   map[string]identity.Identity

	Aliases     identity.AliasTable
	globalAllow map[id.UserID]bool
	internal    map[id.UserID]bool

	// roomAllow is keyed by every handle a room permission entry can be
	// matched under: room id, full alias, and configured room key.
	roomAllow map[string]map[id.UserID]bool

	replyPerms map[string][]string

	Rooms        []RoomPolicy
	RouterName   string
	DefaultAgent string
	VoiceRelay   id.UserID
	Location     *time.Location
}

// LoadPolicy reads, parses, and compiles the policy file. The domain comes
// from the bootstrap config and scopes internal-identity checks.
func LoadPolicy(path, domain string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var pol Policy
	if err := yaml.Unmarshal([]byte(expanded), &pol); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}

	return Compile(&pol, domain)
}

// Compile validates the policy and builds the immutable snapshot.
func Compile(pol *Policy, domain string) (*Snapshot, error) {
	snap := &Snapshot{
		Domain:        domain,
		DefaultAccess: pol.DefaultAccess,
		byUserID:      make(map[id.UserID]identity.Identity),
		byName:        make(map[string]identity.Identity),
		Aliases:       make(identity.AliasTable),
		globalAllow:   make(map[id.UserID]bool),
		internal:      make(map[id.UserID]bool),
		roomAllow:     make(map[string]map[id.UserID]bool),
		replyPerms:    make(map[string][]string),
		Rooms:         pol.Rooms,
		DefaultAgent:  pol.DefaultAgent,
	}

	loc := time.UTC
	if pol.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(pol.Timezone)
		if err != nil {
			return nil, fmt.Errorf("loading timezone %q: %w", pol.Timezone, err)
		}
	}
	snap.Location = loc

	add := func(ident identity.Identity) error {
		if ident.UserID != "" {
			if _, dup := snap.byUserID[ident.UserID]; dup {
				return fmt.Errorf("duplicate identity user id %q", ident.UserID)
			}
			snap.byUserID[ident.UserID] = ident
		}
		if ident.Name != "" {
			if _, dup := snap.byName[ident.Name]; dup {
				return fmt.Errorf("duplicate identity name %q", ident.Name)
			}
			snap.byName[ident.Name] = ident
		}
		return nil
	}

	for _, a := range pol.Agents {
		if a.Name == "" || a.UserID == "" {
			return nil, fmt.Errorf("agent entries require both name and user_id")
		}
		if err := add(identity.Identity{
			UserID: id.UserID(a.UserID),
			Name:   a.Name,
			Kind:   identity.KindAgent,
		}); err != nil {
			return nil, err
		}
	}

	if pol.Router != nil {
		if pol.Router.Name == "" || pol.Router.UserID == "" {
			return nil, fmt.Errorf("router requires both name and user_id")
		}
		if err := add(identity.Identity{
			UserID: id.UserID(pol.Router.UserID),
			Name:   pol.Router.Name,
			Kind:   identity.KindRouter,
		}); err != nil {
			return nil, err
		}
		snap.RouterName = pol.Router.Name
	}

	for _, t := range pol.Teams {
		if t.Name == "" {
			return nil, fmt.Errorf("team entries require a name")
		}
		mode := t.DefaultMode
		if mode == "" {
			mode = "collaborate"
		}
		if mode != "coordinate" && mode != "collaborate" {
			return nil, fmt.Errorf("team %q: invalid default_mode %q", t.Name, mode)
		}
		for _, m := range t.Members {
			member, ok := snap.byName[m]
			if !ok || member.Kind != identity.KindAgent {
				return nil, fmt.Errorf("team %q: unknown member agent %q", t.Name, m)
			}
		}
		if err := add(identity.Identity{
			UserID:      id.UserID(t.UserID),
			Name:        t.Name,
			Kind:        identity.KindTeam,
			Members:     t.Members,
			DefaultMode: mode,
		}); err != nil {
			return nil, err
		}
	}

	for _, b := range pol.Bridges {
		if err := add(identity.Identity{
			UserID: id.UserID(b),
			Kind:   identity.KindBridge,
		}); err != nil {
			return nil, err
		}
	}

	for _, u := range pol.Internal {
		uid := id.UserID(u)
		if identity.Domain(uid) != domain {
			return nil, fmt.Errorf("internal identity %q is not on domain %q", u, domain)
		}
		snap.internal[uid] = true
		if _, exists := snap.byUserID[uid]; !exists {
			snap.byUserID[uid] = identity.Identity{UserID: uid, Kind: identity.KindInternal}
		}
	}

	if pol.DefaultAgent != "" {
		def, ok := snap.byName[pol.DefaultAgent]
		if !ok || def.Kind != identity.KindAgent {
			return nil, fmt.Errorf("default_agent %q is not a configured agent", pol.DefaultAgent)
		}
	}

	for bridged, canonical := range pol.Aliases {
		snap.Aliases[id.UserID(bridged)] = id.UserID(canonical)
	}

	for _, u := range pol.GlobalAllow {
		snap.globalAllow[id.UserID(u)] = true
	}

	for _, r := range pol.Rooms {
		if r.ID == "" {
			return nil, fmt.Errorf("room entries require an id")
		}
		if r.Allow == nil {
			continue
		}
		allow := make(map[id.UserID]bool, len(*r.Allow))
		for _, u := range *r.Allow {
			allow[id.UserID(u)] = true
		}
		snap.roomAllow[r.ID] = allow
		if r.Alias != "" {
			snap.roomAllow[r.Alias] = allow
		}
		if r.Key != "" {
			snap.roomAllow[r.Key] = allow
		}
	}

	for entity, patterns := range pol.ReplyPermissions {
		if entity != "*" && entity != "router" {
			if _, ok := snap.byName[entity]; !ok {
				return nil, fmt.Errorf("reply_permissions: unknown entity %q", entity)
			}
		}
		snap.replyPerms[entity] = patterns
	}

	snap.VoiceRelay = id.UserID(pol.VoiceRelay)

	return snap, nil
}

// IdentityByUserID looks up a configured identity by canonical user id.
func (s *Snapshot) IdentityByUserID(uid id.UserID) (identity.Identity, bool) {
	ident, ok := s.byUserID[uid]
	return ident, ok
}

// IdentityByName looks up a configured identity by short name.
func (s *Snapshot) IdentityByName(name string) (identity.Identity, bool) {
	ident, ok := s.byName[name]
	return ident, ok
}

// Router returns the configured router identity, if any.
func (s *Snapshot) Router() (identity.Identity, bool) {
	if s.RouterName == "" {
		return identity.Identity{}, false
	}
	return s.IdentityByName(s.RouterName)
}

// Agents returns all configured agent identities (not teams, not the router).
func (s *Snapshot) Agents() []identity.Identity {
	var out []identity.Identity
	for _, ident := range s.byName {
		if ident.Kind == identity.KindAgent {
			out = append(out, ident)
		}
	}
	return out
}

// ShortNames returns every mentionable short name, for textual mention scans.
func (s *Snapshot) ShortNames() []string {
	out := make([]string, 0, len(s.byName))
	for name := range s.byName {
		out = append(out, name)
	}
	return out
}

// IsInternal reports whether the user id is a deployment-internal system
// identity on the configured domain.
func (s *Snapshot) IsInternal(uid id.UserID) bool {
	return s.internal[uid]
}

// InGlobalAllow reports global allow-list membership.
func (s *Snapshot) InGlobalAllow(uid id.UserID) bool {
	return s.globalAllow[uid]
}

// RoomAllowList returns the room permission list for any of the given room
// handles (id, alias, key) and whether any entry exists. The presence of an
// entry makes list membership mandatory for that room.
func (s *Snapshot) RoomAllowList(handles ...string) (map[id.UserID]bool, bool) {
	for _, h := range handles {
		if h == "" {
			continue
		}
		if allow, ok := s.roomAllow[h]; ok {
			return allow, true
		}
	}
	return nil, false
}

// RoomByID returns the configured room policy for a room id.
func (s *Snapshot) RoomByID(roomID id.RoomID) (RoomPolicy, bool) {
	for _, r := range s.Rooms {
		if r.ID == string(roomID) {
			return r, true
		}
	}
	return RoomPolicy{}, false
}

// ReplyPatterns returns the reply-permission patterns for an entity name.
// The second return is false when the entity carries no restriction.
func (s *Snapshot) ReplyPatterns(entity string) ([]string, bool) {
	if patterns, ok := s.replyPerms[entity]; ok {
		return patterns, true
	}
	if patterns, ok := s.replyPerms["*"]; ok {
		return patterns, true
	}
	return nil, false
}

// MentionableNames returns short names sorted longest-first so that textual
// scans prefer the most specific match.
func (s *Snapshot) MentionableNames() []string {
	names := s.ShortNames()
	// Insertion sort by descending length; the set is small.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && len(names[j]) > len(names[j-1]); j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}

// HasName reports whether the short name is configured, case-insensitively.
func (s *Snapshot) HasName(name string) (identity.Identity, bool) {
	if ident, ok := s.byName[name]; ok {
		return ident, ok
	}
	ident, ok := s.byName[strings.ToLower(name)]
	return ident, ok
}
