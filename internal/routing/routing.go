// ABOUTME: Routing decision engine: picks the responder set for a message
// ABOUTME: Single agent, router-selected agent, or a team with a collaboration mode

package routing

import (
	"context"
	"log/slog"

	"github.com/2389/conclave/internal/config"
	"github.com/2389/conclave/internal/decision"
	"github.com/2389/conclave/internal/identity"
)

// Mode describes how the responder set answers.
type Mode string

const (
	// ModeSingle is one responder, no team semantics.
	ModeSingle Mode = "single"
	// ModeCoordinate has a leader decompose and delegate subtasks.
	ModeCoordinate Mode = "coordinate"
	// ModeCollaborate has every responder answer independently.
	ModeCollaborate Mode = "collaborate"
)

// Decision is the ephemeral routing outcome for one message. An empty
// responder set means nothing responds.
type Decision struct {
	Responders []identity.Identity
	Mode       Mode
}

// Request carries everything the router needs about one message.
type Request struct {
	Body     string
	Mentions []identity.Identity
	// ThreadParticipants are the responder identities already active in
	// the message's thread. Empty for root messages.
	ThreadParticipants []identity.Identity
	IsThread           bool
	// VoiceOriginated marks speech-to-text relayed messages, which only
	// the router may process to avoid duplicate responses.
	VoiceOriginated bool
}

// Router makes routing decisions, consulting the AI decision service where
// the deterministic rules do not apply.
type Router struct {
	decisions decision.Service
	logger    *slog.Logger
}

// NewRouter creates a routing engine.
func NewRouter(decisions decision.Service, logger *slog.Logger) *Router {
	return &Router{
		decisions: decisions,
		logger:    logger.With("component", "routing"),
	}
}

// Route picks the responder set for a message that already passed
// authorization. Messages that pass authorization are never silently
// dropped here except when no responder exists at all.
func (r *Router) Route(ctx context.Context, req Request, snap *config.Snapshot) Decision {
	// Voice-transcribed messages are only ever processed by the router.
	if req.VoiceOriginated {
		if router, ok := snap.Router(); ok {
			return Decision{Responders: []identity.Identity{router}, Mode: ModeSingle}
		}
		r.logger.Warn("voice message received but no router configured")
		return Decision{}
	}

	mentioned := responders(req.Mentions)

	// Exactly one mentioned identity.
	if len(mentioned) == 1 {
		ident := mentioned[0]
		if ident.Kind == identity.KindTeam {
			return r.teamDefault(ident, snap)
		}
		return Decision{Responders: []identity.Identity{ident}, Mode: ModeSingle}
	}

	// Multiple mentions, or multiple active participants in the thread.
	members := dedupeIdentities(append(mentioned, responders(req.ThreadParticipants)...))
	if len(members) > 1 {
		members = expandTeams(members, snap)
		mode := r.teamMode(ctx, req.Body, members)
		return Decision{Responders: members, Mode: mode}
	}

	// Thread continuation with a single active responder.
	if req.IsThread && len(members) == 1 {
		if members[0].Kind == identity.KindTeam {
			return r.teamDefault(members[0], snap)
		}
		return Decision{Responders: members, Mode: ModeSingle}
	}

	// No mention, not a thread continuation: router selection.
	return r.selectAgent(ctx, req.Body, snap)
}

// teamDefault resolves a directly-mentioned team to its members with the
// team's configured mode, skipping the AI decision entirely.
func (r *Router) teamDefault(team identity.Identity, snap *config.Snapshot) Decision {
	members := teamMembers(team, snap)
	if len(members) == 0 {
		r.logger.Warn("mentioned team has no resolvable members", "team", team.Name)
		return Decision{}
	}
	mode := ModeCollaborate
	if team.DefaultMode == string(ModeCoordinate) {
		mode = ModeCoordinate
	}
	return Decision{Responders: members, Mode: mode}
}

// selectAgent asks the decision service for the best agent and falls back
// to the configured default. A message that passed authorization is never
// dropped for lack of an AI answer.
func (r *Router) selectAgent(ctx context.Context, body string, snap *config.Snapshot) Decision {
	agents := snap.Agents()
	if len(agents) == 0 {
		r.logger.Warn("no agents configured, dropping unmentioned message")
		return Decision{}
	}

	candidates := make([]string, len(agents))
	byName := make(map[string]identity.Identity, len(agents))
	for i, a := range agents {
		candidates[i] = a.Name
		byName[a.Name] = a
	}

	name, err := r.decisions.ClassifyRoute(ctx, body, candidates)
	if err == nil {
		if ident, ok := byName[name]; ok {
			return Decision{Responders: []identity.Identity{ident}, Mode: ModeSingle}
		}
	} else {
		r.logger.Debug("route classification failed, using default agent", "error", err)
	}

	if def, ok := snap.IdentityByName(snap.DefaultAgent); ok {
		return Decision{Responders: []identity.Identity{def}, Mode: ModeSingle}
	}
	if router, ok := snap.Router(); ok {
		return Decision{Responders: []identity.Identity{router}, Mode: ModeSingle}
	}
	// Last resort: the first configured agent.
	return Decision{Responders: []identity.Identity{agents[0]}, Mode: ModeSingle}
}

// teamMode decides coordinate vs collaborate for an ad-hoc member set,
// with the deterministic heuristic as fallback.
func (r *Router) teamMode(ctx context.Context, body string, members []identity.Identity) Mode {
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Name
	}

	mode, err := r.decisions.DecideTeamMode(ctx, body, names)
	if err == nil {
		switch mode {
		case decision.ModeCoordinate:
			return ModeCoordinate
		case decision.ModeCollaborate:
			return ModeCollaborate
		}
	}
	r.logger.Debug("team mode decision fell back to heuristic", "error", err)

	if FallbackTeamMode(body, names) == decision.ModeCoordinate {
		return ModeCoordinate
	}
	return ModeCollaborate
}

// responders filters a mention list down to identities that can respond.
func responders(idents []identity.Identity) []identity.Identity {
	var out []identity.Identity
	for _, ident := range idents {
		if ident.IsResponder() {
			out = append(out, ident)
		}
	}
	return out
}

// expandTeams replaces team identities with their member agents.
func expandTeams(idents []identity.Identity, snap *config.Snapshot) []identity.Identity {
	var out []identity.Identity
	for _, ident := range idents {
		if ident.Kind == identity.KindTeam {
			out = append(out, teamMembers(ident, snap)...)
			continue
		}
		out = append(out, ident)
	}
	return dedupeIdentities(out)
}

func teamMembers(team identity.Identity, snap *config.Snapshot) []identity.Identity {
	var out []identity.Identity
	for _, name := range team.Members {
		if member, ok := snap.IdentityByName(name); ok {
			out = append(out, member)
		}
	}
	return out
}

func dedupeIdentities(idents []identity.Identity) []identity.Identity {
	seen := make(map[string]bool, len(idents))
	var out []identity.Identity
	for _, ident := range idents {
		key := ident.Name + "/" + string(ident.UserID)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ident)
	}
	return out
}
