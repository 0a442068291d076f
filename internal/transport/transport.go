// ABOUTME: Transport abstraction over the Matrix protocol client
// ABOUTME: Defines the Client interface the pipeline and session manager depend on

package transport

import (
	"context"
	"errors"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// ErrBlobNotFound indicates a blob pointer could not be resolved.
var ErrBlobNotFound = errors.New("blob not found")

// MessageHandler receives every message event delivered by the sync loop.
// Handlers must not block: parse and dispatch only.
type MessageHandler func(ctx context.Context, evt *event.Event)

// Client is one identity's connection to the homeserver. Each agent
// identity owns exactly one Client for the lifetime of the process.
type Client interface {
	// UserID is the identity this client is logged in as.
	UserID() id.UserID

	// OnMessage registers the handler for incoming message events.
	// Must be called before Run.
	OnMessage(handler MessageHandler)

	// Run starts the long-poll sync loop and blocks until the context is
	// cancelled or the connection fails terminally.
	Run(ctx context.Context) error

	// Send posts a message to a room and returns the new event id.
	Send(ctx context.Context, room id.RoomID, content *event.MessageEventContent) (id.EventID, error)

	// Edit replaces the content of a previously sent event.
	Edit(ctx context.Context, room id.RoomID, target id.EventID, content *event.MessageEventContent) (id.EventID, error)

	// Typing sets or clears the typing indicator in a room. The timeout is
	// how long the homeserver keeps the indicator alive without a refresh.
	Typing(ctx context.Context, room id.RoomID, typing bool, timeout time.Duration) error

	// IsOnline reports current presence for a user. Errors degrade to
	// offline: the caller falls back to non-streamed delivery.
	IsOnline(ctx context.Context, user id.UserID) bool

	// UploadBlob stores an out-of-band blob and returns its pointer.
	UploadBlob(ctx context.Context, data []byte) (string, error)

	// DownloadBlob fetches a blob by pointer.
	DownloadBlob(ctx context.Context, pointer string) ([]byte, error)

	// FetchEvent retrieves a single event, used to resolve relation targets.
	FetchEvent(ctx context.Context, room id.RoomID, eventID id.EventID) (*event.Event, error)

	// JoinRoom ensures the identity is a member of the room.
	JoinRoom(ctx context.Context, room id.RoomID) error

	// Close stops the client and releases resources.
	Close()
}
