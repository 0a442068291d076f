// ABOUTME: Responder interface: the external collaborator that produces agent output
// ABOUTME: Model inference happens behind this boundary, never in the core

package responder

import "context"

// Request describes one prompt for an agent or team.
type Request struct {
	// Agent is the short name of the identity producing the response. For
	// coordinate mode this is the leader.
	Agent string
	// Team lists member names for coordinate/collaborate requests; empty
	// for single-responder requests.
	Team []string
	// Mode is "single", "coordinate", or "collaborate".
	Mode string

	Room    string
	Thread  string
	Sender  string
	Content string
	// Model optionally overrides the gateway's default model, from
	// per-room or per-agent policy.
	Model string
}

// Responder produces a response for a request, streaming partial text as
// it becomes available. The returned string is the complete response.
type Responder interface {
	Respond(ctx context.Context, req Request, onPartial func(text string)) (string, error)
}
