// ABOUTME: Response execution and delivery: typing keepalive, streamed edits, final send
// ABOUTME: Presence-gated streaming; offline recipients get exactly one final message

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/conclave/internal/config"
	"github.com/2389/conclave/internal/identity"
	"github.com/2389/conclave/internal/relation"
	"github.com/2389/conclave/internal/responder"
	"github.com/2389/conclave/internal/routing"
	"github.com/2389/conclave/internal/transport"
)

// typingTimeout is how long the homeserver keeps a typing indicator alive
// without a refresh.
const typingTimeout = 30 * time.Second

// editInterval throttles streamed placeholder edits.
const editInterval = 1500 * time.Millisecond

// sendTimeout bounds final sends once response generation finishes. Final
// sends detach from the unit's context so an identity being reconfigured
// away mid-flight still completes delivery best-effort.
const sendTimeout = 30 * time.Second

// typingRefresh is the keepalive interval for a typing timeout: half the
// timeout, capped at 15 seconds.
func typingRefresh(timeout time.Duration) time.Duration {
	interval := timeout / 2
	if interval > 15*time.Second {
		interval = 15 * time.Second
	}
	return interval
}

// respond generates and delivers one responder's answer to evt.
func (p *Pipeline) respond(ctx context.Context, snap *config.Snapshot, evt *event.Event, threadRoot id.EventID, ident identity.Identity, team []string, mode routing.Mode) {
	log := p.logger.With("responder", ident.Name, "event_id", evt.ID, "room", evt.RoomID)

	conn, ok := p.conns.ClientFor(ident.Name)
	if !ok {
		log.Warn("responder has no active connection")
		return
	}

	stopTyping := p.keepTyping(ctx, conn, evt.RoomID)
	defer stopTyping()

	// Streamed delivery only pays off when the recipient is watching.
	online := conn.IsOnline(ctx, evt.Sender)

	var placeholder id.EventID
	var lastEdit time.Time
	var onPartial func(string)
	if online {
		onPartial = func(text string) {
			if text == "" || time.Since(lastEdit) < editInterval {
				return
			}
			lastEdit = time.Now()

			partial := transport.TextMessage(text + " …")
			if placeholder == "" {
				p.markThreaded(partial, evt.RoomID, threadRoot)
				eventID, err := conn.Send(ctx, evt.RoomID, partial)
				if err != nil {
					log.Debug("streamed placeholder send failed", "error", err)
					return
				}
				placeholder = eventID
				return
			}
			if _, err := conn.Edit(ctx, evt.RoomID, placeholder, partial); err != nil {
				log.Debug("streamed edit failed", "error", err)
			}
		}
	}

	req := responder.Request{
		Agent:   ident.Name,
		Team:    team,
		Mode:    string(mode),
		Room:    string(evt.RoomID),
		Thread:  string(threadRoot),
		Sender:  string(evt.Sender),
		Content: relation.EffectiveBody(evt.Content.Parsed.(*event.MessageEventContent)),
	}
	if room, ok := snap.RoomByID(evt.RoomID); ok {
		req.Model = room.Model
	}

	full, err := p.agents.Respond(ctx, req, onPartial)
	stopTyping()
	if err != nil {
		log.Error("response generation failed", "error", err)
		if full == "" {
			return
		}
		// Partial output already shown stays; finalize what we have.
	}
	if full == "" {
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()
	p.deliver(sendCtx, conn, evt.RoomID, threadRoot, placeholder, full, log)
}

// deliver sends the final response: an edit of the streamed placeholder
// when one exists, a fresh message otherwise. Oversized bodies are split
// before sending.
func (p *Pipeline) deliver(ctx context.Context, conn transport.Client, room id.RoomID, threadRoot id.EventID, placeholder id.EventID, full string, log *slog.Logger) {
	threshold := relation.SendThreshold
	if placeholder != "" {
		threshold = relation.EditThreshold
	}
	body, err := relation.SplitOutbound(ctx, conn, full, threshold)
	if err != nil {
		log.Error("splitting oversized response failed", "error", err)
		return
	}

	content := transport.MarkdownMessage(body)
	if placeholder != "" {
		if _, err := conn.Edit(ctx, room, placeholder, content); err != nil {
			log.Error("finalizing streamed response failed", "error", err)
		}
		p.threads.Record(room, threadRoot, placeholder, conn.UserID())
		return
	}

	p.markThreaded(content, room, threadRoot)
	eventID, err := conn.Send(ctx, room, content)
	if err != nil {
		log.Error("sending response failed", "error", err)
		return
	}
	p.threads.Record(room, threadRoot, eventID, conn.UserID())
}

// markThreaded attaches the thread relation with a reply fallback to the
// latest known in-thread event, so non-threaded clients render sanely.
func (p *Pipeline) markThreaded(content *event.MessageEventContent, room id.RoomID, threadRoot id.EventID) {
	if threadRoot == "" {
		return
	}
	rel := &event.RelatesTo{
		Type:          event.RelThread,
		EventID:       threadRoot,
		IsFallingBack: true,
	}
	if latest, ok := p.threads.Latest(room, threadRoot); ok {
		rel.InReplyTo = &event.InReplyTo{EventID: latest}
	} else {
		rel.InReplyTo = &event.InReplyTo{EventID: threadRoot}
	}
	content.RelatesTo = rel
}

// keepTyping starts the typing indicator and refreshes it until the
// returned stop function runs. Stop is idempotent.
func (p *Pipeline) keepTyping(ctx context.Context, conn transport.Client, room id.RoomID) func() {
	typingCtx, cancel := context.WithCancel(ctx)

	if err := conn.Typing(typingCtx, room, true, typingTimeout); err != nil {
		p.logger.Debug("typing indicator failed", "error", err)
	}

	go func() {
		ticker := time.NewTicker(typingRefresh(typingTimeout))
		defer ticker.Stop()
		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				if err := conn.Typing(typingCtx, room, true, typingTimeout); err != nil {
					p.logger.Debug("typing refresh failed", "error", err)
				}
			}
		}
	}()

	var stopped bool
	return func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		// Clearing uses a fresh context: the unit's context may already be done.
		clearCtx, clearCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer clearCancel()
		if err := conn.Typing(clearCtx, room, false, 0); err != nil {
			p.logger.Debug("clearing typing indicator failed", "error", err)
		}
	}
}
