// ABOUTME: Tests for the routing decision engine with a scripted decision service
// ABOUTME: Covers mention routing, team formation, voice gating, and fallbacks

package routing

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/conclave/internal/config"
	"github.com/2389/conclave/internal/decision"
	"github.com/2389/conclave/internal/identity"
)

// fakeDecisions is a scripted decision.Service.
type fakeDecisions struct {
	route     string
	routeErr  error
	mode      decision.TeamMode
	modeErr   error
	routeCall int
	modeCall  int
}

func (f *fakeDecisions) ClassifyRoute(context.Context, string, []string) (string, error) {
	f.routeCall++
	return f.route, f.routeErr
}

func (f *fakeDecisions) DecideTeamMode(context.Context, string, []string) (decision.TeamMode, error) {
	f.modeCall++
	return f.mode, f.modeErr
}

func (f *fakeDecisions) ParseSchedule(context.Context, string, time.Time, *time.Location) (*decision.ScheduleSpec, error) {
	return nil, decision.ErrNoDecision
}

func routingSnapshot(t *testing.T) *config.Snapshot {
	t.Helper()
	snap, err := config.Compile(&config.Policy{
		DefaultAccess: true,
		Agents: []config.AgentPolicy{
			{Name: "finance", UserID: "@finance:example.org"},
			{Name: "research", UserID: "@research:example.org"},
			{Name: "legal", UserID: "@legal:example.org"},
		},
		Router:       &config.AgentPolicy{Name: "router", UserID: "@router:example.org"},
		DefaultAgent: "finance",
		Teams: []config.TeamPolicy{
			{Name: "analysts", UserID: "@analysts:example.org", Members: []string{"finance", "research"}, DefaultMode: "coordinate"},
		},
	}, "example.org")
	require.NoError(t, err)
	return snap
}

func testLogger() *slog.Logger {
	return slog.Default()
}

func ident(snap *config.Snapshot, name string) identity.Identity {
	i, _ := snap.IdentityByName(name)
	return i
}

func respNames(dec Decision) []string {
	var out []string
	for _, r := range dec.Responders {
		out = append(out, r.Name)
	}
	return out
}

func TestRouteSingleMention(t *testing.T) {
	snap := routingSnapshot(t)
	fake := &fakeDecisions{}
	r := NewRouter(fake, testLogger())

	dec := r.Route(context.Background(), Request{
		Body:     "hey @finance",
		Mentions: []identity.Identity{ident(snap, "finance")},
	}, snap)

	assert.Equal(t, []string{"finance"}, respNames(dec))
	assert.Equal(t, ModeSingle, dec.Mode)
	assert.Zero(t, fake.routeCall, "mentions never consult the AI")
	assert.Zero(t, fake.modeCall)
}

func TestRouteTeamMentionUsesDefaultMode(t *testing.T) {
	snap := routingSnapshot(t)
	fake := &fakeDecisions{}
	r := NewRouter(fake, testLogger())

	dec := r.Route(context.Background(), Request{
		Body:     "@analysts quarterly review",
		Mentions: []identity.Identity{ident(snap, "analysts")},
	}, snap)

	assert.ElementsMatch(t, []string{"finance", "research"}, respNames(dec))
	assert.Equal(t, ModeCoordinate, dec.Mode, "team default mode applies, no AI call")
	assert.Zero(t, fake.modeCall)
}

func TestRouteMultipleMentionsFormTeam(t *testing.T) {
	snap := routingSnapshot(t)
	fake := &fakeDecisions{mode: decision.ModeCoordinate}
	r := NewRouter(fake, testLogger())

	dec := r.Route(context.Background(), Request{
		Body: "@finance gather numbers and @legal review the contract",
		Mentions: []identity.Identity{
			ident(snap, "finance"),
			ident(snap, "legal"),
		},
	}, snap)

	assert.ElementsMatch(t, []string{"finance", "legal"}, respNames(dec))
	assert.Equal(t, ModeCoordinate, dec.Mode)
	assert.Equal(t, 1, fake.modeCall)
}

func TestRouteTeamModeFallsBackDeterministically(t *testing.T) {
	snap := routingSnapshot(t)
	fake := &fakeDecisions{modeErr: errors.New("timeout")}
	r := NewRouter(fake, testLogger())

	// Distinct imperatives assigned to distinct members: coordinate.
	dec := r.Route(context.Background(), Request{
		Body: "@finance gather the numbers and @legal review the contract",
		Mentions: []identity.Identity{
			ident(snap, "finance"),
			ident(snap, "legal"),
		},
	}, snap)
	assert.Equal(t, ModeCoordinate, dec.Mode)

	// No decomposable structure: collaborate.
	dec = r.Route(context.Background(), Request{
		Body: "@finance @legal what do you both think",
		Mentions: []identity.Identity{
			ident(snap, "finance"),
			ident(snap, "legal"),
		},
	}, snap)
	assert.Equal(t, ModeCollaborate, dec.Mode)
}

func TestRouteThreadContinuation(t *testing.T) {
	snap := routingSnapshot(t)
	fake := &fakeDecisions{}
	r := NewRouter(fake, testLogger())

	dec := r.Route(context.Background(), Request{
		Body:               "and what about Q3?",
		IsThread:           true,
		ThreadParticipants: []identity.Identity{ident(snap, "finance")},
	}, snap)

	assert.Equal(t, []string{"finance"}, respNames(dec))
	assert.Equal(t, ModeSingle, dec.Mode)
	assert.Zero(t, fake.routeCall)
}

func TestRouteThreadWithMultipleParticipants(t *testing.T) {
	snap := routingSnapshot(t)
	fake := &fakeDecisions{mode: decision.ModeCollaborate}
	r := NewRouter(fake, testLogger())

	dec := r.Route(context.Background(), Request{
		Body:     "thoughts?",
		IsThread: true,
		ThreadParticipants: []identity.Identity{
			ident(snap, "finance"),
			ident(snap, "research"),
		},
	}, snap)

	assert.ElementsMatch(t, []string{"finance", "research"}, respNames(dec))
	assert.Equal(t, ModeCollaborate, dec.Mode)
}

func TestRouteUnmentionedUsesClassifier(t *testing.T) {
	snap := routingSnapshot(t)
	fake := &fakeDecisions{route: "research"}
	r := NewRouter(fake, testLogger())

	dec := r.Route(context.Background(), Request{Body: "what's the latest on fusion?"}, snap)

	assert.Equal(t, []string{"research"}, respNames(dec))
	assert.Equal(t, ModeSingle, dec.Mode)
}

func TestRouteClassifierFailureFallsBackToDefaultAgent(t *testing.T) {
	snap := routingSnapshot(t)
	fake := &fakeDecisions{routeErr: decision.ErrNoDecision}
	r := NewRouter(fake, testLogger())

	dec := r.Route(context.Background(), Request{Body: "hello there"}, snap)

	assert.Equal(t, []string{"finance"}, respNames(dec), "default agent catches classifier failures")
	assert.Equal(t, ModeSingle, dec.Mode)
}

func TestRouteClassifierInventedNameFallsBack(t *testing.T) {
	snap := routingSnapshot(t)
	fake := &fakeDecisions{route: "nonexistent"}
	r := NewRouter(fake, testLogger())

	dec := r.Route(context.Background(), Request{Body: "hello there"}, snap)
	assert.Equal(t, []string{"finance"}, respNames(dec))
}

func TestRouteVoiceOnlyRouter(t *testing.T) {
	snap := routingSnapshot(t)
	fake := &fakeDecisions{}
	r := NewRouter(fake, testLogger())

	dec := r.Route(context.Background(), Request{
		Body: "@finance what is our runway",
		Mentions: []identity.Identity{
			ident(snap, "finance"),
		},
		VoiceOriginated: true,
	}, snap)

	assert.Equal(t, []string{"router"}, respNames(dec), "voice messages go only to the router")
	assert.Equal(t, ModeSingle, dec.Mode)
}

func TestRouteVoiceWithoutRouterDrops(t *testing.T) {
	snap, err := config.Compile(&config.Policy{
		DefaultAccess: true,
		Agents:        []config.AgentPolicy{{Name: "finance", UserID: "@finance:example.org"}},
	}, "example.org")
	require.NoError(t, err)

	r := NewRouter(&fakeDecisions{}, testLogger())
	dec := r.Route(context.Background(), Request{Body: "hi", VoiceOriginated: true}, snap)
	assert.Empty(t, dec.Responders)
}
