// ABOUTME: Per-event processing pipeline: relations, authorization, routing, response
// ABOUTME: Each event is one isolated unit of work; failures never cross events

package pipeline

import (
	"context"
	"log/slog"
	"regexp"
	"sync"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/conclave/internal/authz"
	"github.com/2389/conclave/internal/config"
	"github.com/2389/conclave/internal/identity"
	"github.com/2389/conclave/internal/relation"
	"github.com/2389/conclave/internal/responder"
	"github.com/2389/conclave/internal/routing"
	"github.com/2389/conclave/internal/scheduler"
	"github.com/2389/conclave/internal/transport"
)

// Connections resolves a responder identity's short name to its live
// connection. Implemented by the session manager; the indirection keeps
// this package free of a dependency on it.
type Connections interface {
	ClientFor(name string) (transport.Client, bool)
}

// Pipeline processes authorized message events end to end. One Pipeline is
// shared by every identity connection; all per-event state lives on the
// stack of Process.
type Pipeline struct {
	policy  *config.Provider
	router  *routing.Router
	agents  responder.Responder
	logger  *slog.Logger
	threads *threadTracker

	sched *scheduler.Scheduler
	conns Connections
}

// New creates the pipeline. The scheduler and connection resolver are wired
// afterwards via SetScheduler and SetConnections; construction order in main
// requires the pipeline to exist before both.
func New(policy *config.Provider, router *routing.Router, agents responder.Responder, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		policy:  policy,
		router:  router,
		agents:  agents,
		logger:  logger.With("component", "pipeline"),
		threads: newThreadTracker(),
	}
}

// SetScheduler wires the scheduler used for chat commands.
func (p *Pipeline) SetScheduler(s *scheduler.Scheduler) { p.sched = s }

// SetConnections wires the connection resolver.
func (p *Pipeline) SetConnections(c Connections) { p.conns = c }

// voiceAttribution matches the first line of a relayed voice transcript:
// "@speaker:domain: what they said".
var voiceAttribution = regexp.MustCompile(`(?s)^(@[^\s:]+:[^\s:]+): (.+)$`)

// Process handles one incoming message event received by recv. It never
// returns an error: every failure mode is logged and resolved locally so
// that no event's outcome depends on another's.
func (p *Pipeline) Process(ctx context.Context, recv transport.Client, evt *event.Event) {
	snap := p.policy.Snapshot()

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content == nil {
		return
	}
	if content.MsgType != event.MsgText {
		return
	}

	log := p.logger.With("event_id", evt.ID, "room", evt.RoomID, "sender", evt.Sender)

	// Splice split messages back together before anything reads the body.
	// A failed download keeps the preview; never invent content.
	body, wasSplit, err := relation.Reconstruct(ctx, recv, relation.EffectiveBody(content))
	if err != nil {
		log.Warn("split message reconstruction failed, using preview", "error", err)
	} else if wasSplit {
		content.Body = body
	}

	info := relation.Resolve(evt, snap)
	if info.IsEdit {
		// Edits supersede an already-processed event; re-responding to the
		// amended text would double up.
		log.Debug("ignoring edit", "original", info.OriginalEvent)
		return
	}

	dec := authz.Authorize(evt.Sender, evt.RoomID, snap)
	if !dec.Allowed {
		log.Info("sender not authorized, dropping", "reason", dec.Reason)
		return
	}
	log.Debug("sender authorized", "canonical", dec.Sender, "reason", dec.Reason)

	// Voice transcripts arrive from the relay identity with the original
	// speaker on the first line. Reply permissions apply to the speaker,
	// not the relay.
	body = relation.EffectiveBody(content)
	permSender := dec.Sender
	isVoice := snap.VoiceRelay != "" && evt.Sender == snap.VoiceRelay
	if isVoice {
		if speaker, transcript, ok := parseVoiceAttribution(body); ok {
			permSender, _ = snap.Aliases.Resolve(speaker)
			body = transcript
			content.Body = transcript
		}
	}

	threadRoot := p.resolveThreadRoot(evt, &info)
	p.threads.Record(evt.RoomID, threadRoot, evt.ID, dec.Sender)

	if scheduler.IsCommand(body) {
		p.handleCommand(ctx, recv, evt, threadRoot, dec.Sender, body, log)
		return
	}

	routeReq := routing.Request{
		Body:               body,
		Mentions:           info.Mentions,
		ThreadParticipants: p.threadResponders(evt.RoomID, threadRoot, dec.Sender, snap),
		IsThread:           threadRoot != evt.ID,
		VoiceOriginated:    isVoice,
	}
	routeDec := p.router.Route(ctx, routeReq, snap)
	if len(routeDec.Responders) == 0 {
		return
	}

	var allowed []identity.Identity
	for _, resp := range routeDec.Responders {
		if authz.CanReply(authz.ReplyEntity(resp), permSender, snap) {
			allowed = append(allowed, resp)
			continue
		}
		log.Debug("responder not permitted to reply", "responder", resp.Name, "perm_sender", permSender)
	}
	if len(allowed) == 0 {
		log.Info("no routed responder permitted to reply", "perm_sender", permSender)
		return
	}

	log.Info("routed",
		"responders", names(allowed),
		"mode", routeDec.Mode,
		"thread", threadRoot,
	)

	switch routeDec.Mode {
	case routing.ModeCollaborate:
		// Every member answers independently and concurrently.
		var wg sync.WaitGroup
		for _, member := range allowed {
			wg.Add(1)
			go func(m identity.Identity) {
				defer wg.Done()
				p.respond(ctx, snap, evt, threadRoot, m, nil, routeDec.Mode)
			}(member)
		}
		wg.Wait()

	case routing.ModeCoordinate:
		// The leader receives the full roster and delegates.
		p.respond(ctx, snap, evt, threadRoot, allowed[0], names(allowed), routeDec.Mode)

	default:
		p.respond(ctx, snap, evt, threadRoot, allowed[0], nil, routing.ModeSingle)
	}
}

// resolveThreadRoot determines which thread the event belongs to. Reply
// fallbacks from non-threaded clients chain into the thread of their target
// when the tracker knows it.
func (p *Pipeline) resolveThreadRoot(evt *event.Event, info *relation.Info) id.EventID {
	if info.IsThread {
		return info.ThreadRoot
	}
	if info.IsReply {
		if root, ok := p.threads.RootFor(evt.RoomID, info.ReplyTarget); ok {
			return root
		}
		// Unknown target: treat the reply target as a new thread root.
		return info.ReplyTarget
	}
	return evt.ID
}

// threadResponders returns responder identities already active in the
// thread, excluding the sender itself.
func (p *Pipeline) threadResponders(room id.RoomID, root id.EventID, sender id.UserID, snap *config.Snapshot) []identity.Identity {
	var out []identity.Identity
	for _, uid := range p.threads.Participants(room, root) {
		if uid == sender {
			continue
		}
		if ident, ok := snap.IdentityByUserID(uid); ok && ident.IsResponder() {
			out = append(out, ident)
		}
	}
	return out
}

// handleCommand runs a scheduler chat command and posts the reply as a
// notice from the receiving identity.
func (p *Pipeline) handleCommand(ctx context.Context, recv transport.Client, evt *event.Event, threadRoot id.EventID, sender id.UserID, body string, log *slog.Logger) {
	if p.sched == nil {
		return
	}
	reply := p.sched.HandleCommand(ctx, string(evt.RoomID), string(threadRoot), string(sender), body)
	if reply == "" {
		return
	}
	content := transport.NoticeMessage(reply)
	p.markThreaded(content, evt.RoomID, threadRoot)
	if eventID, err := recv.Send(ctx, evt.RoomID, content); err != nil {
		log.Error("sending command reply failed", "error", err)
	} else {
		p.threads.Record(evt.RoomID, threadRoot, eventID, recv.UserID())
	}
}

// parseVoiceAttribution splits a relayed transcript into the original
// speaker id and the spoken text.
func parseVoiceAttribution(body string) (id.UserID, string, bool) {
	m := voiceAttribution.FindStringSubmatch(body)
	if m == nil {
		return "", "", false
	}
	return id.UserID(m[1]), m[2], true
}

func names(idents []identity.Identity) []string {
	out := make([]string, len(idents))
	for i, ident := range idents {
		out[i] = ident.Name
	}
	return out
}
