// ABOUTME: Resolves raw Matrix events into typed relation info (thread/edit/reply)
// ABOUTME: Pure functions; malformed relation data degrades to a fresh root message

package relation

import (
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/conclave/internal/config"
	"github.com/2389/conclave/internal/identity"
)

// Info is the typed relation view of one event. Computed fresh per event
// and never persisted.
type Info struct {
	IsThread   bool
	ThreadRoot id.EventID

	// IsEdit marks events that supersede another. Edits are never valid
	// response triggers and can never be thread roots.
	IsEdit        bool
	OriginalEvent id.EventID

	IsReply     bool
	ReplyTarget id.EventID

	// CanBeThreadRoot is true only for non-edit, non-reply events with no
	// existing thread relation.
	CanBeThreadRoot bool

	// Mentions are the configured identities addressed by this event, in
	// order of appearance.
	Mentions []identity.Identity
}

// Resolve computes relation info for an event. It is total: any malformed
// or ambiguous relation data yields a plain root-level message rather than
// an error.
func Resolve(evt *event.Event, snap *config.Snapshot) Info {
	info := Info{}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content == nil {
		info.CanBeThreadRoot = true
		return info
	}

	// Relation priority: edit first, then thread, then reply. An edit
	// supersedes another event and carries no other relation semantics.
	rel := content.RelatesTo
	if rel != nil {
		if replaceID := rel.GetReplaceID(); replaceID != "" {
			info.IsEdit = true
			info.OriginalEvent = replaceID
			info.Mentions = ParseMentions(editedContent(content), snap)
			return info
		}

		if threadRoot := rel.GetThreadParent(); threadRoot != "" {
			info.IsThread = true
			info.ThreadRoot = threadRoot
			// A thread message may carry a genuine in-thread reply; the
			// reply fallback used by non-threaded clients is not one.
			if rel.InReplyTo != nil && !rel.IsFallingBack {
				info.IsReply = true
				info.ReplyTarget = rel.InReplyTo.EventID
			}
			info.Mentions = ParseMentions(content, snap)
			return info
		}

		if replyTo := rel.GetReplyTo(); replyTo != "" {
			info.IsReply = true
			info.ReplyTarget = replyTo
			info.Mentions = ParseMentions(content, snap)
			return info
		}
	}

	info.CanBeThreadRoot = true
	info.Mentions = ParseMentions(content, snap)
	return info
}

// editedContent returns the replacement content of an edit when present,
// falling back to the envelope content.
func editedContent(content *event.MessageEventContent) *event.MessageEventContent {
	if content.NewContent != nil {
		return content.NewContent
	}
	return content
}

// EffectiveBody returns the body a reader would see: the replacement body
// for edits, the plain body otherwise.
func EffectiveBody(content *event.MessageEventContent) string {
	return editedContent(content).Body
}
