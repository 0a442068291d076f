// ABOUTME: Matrix implementation of the transport Client using mautrix
// ABOUTME: Wraps sync, send/edit, typing, presence, and media blob transfer

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// MatrixClient implements Client on top of a mautrix client.
type MatrixClient struct {
	client  *mautrix.Client
	logger  *slog.Logger
	handler MessageHandler
}

// NewMatrixClient creates a client logged in as the given account.
func NewMatrixClient(homeserver string, userID id.UserID, accessToken string, logger *slog.Logger) (*MatrixClient, error) {
	client, err := mautrix.NewClient(homeserver, userID, accessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	return &MatrixClient{
		client: client,
		logger: logger.With("component", "transport", "user_id", userID.String()),
	}, nil
}

// Mautrix exposes the underlying client for crypto setup at startup.
func (m *MatrixClient) Mautrix() *mautrix.Client {
	return m.client
}

// UserID returns the logged-in identity.
func (m *MatrixClient) UserID() id.UserID {
	return m.client.UserID
}

// OnMessage registers the message handler. Own echoes are filtered here so
// no identity ever processes its own output.
func (m *MatrixClient) OnMessage(handler MessageHandler) {
	m.handler = handler

	syncer, ok := m.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		m.logger.Error("unexpected syncer type, messages will not be handled",
			"type", fmt.Sprintf("%T", m.client.Syncer))
		return
	}

	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		if evt.Sender == m.client.UserID {
			return
		}
		m.handler(ctx, evt)
	})
}

// Run starts the sync loop and blocks until the context is cancelled.
func (m *MatrixClient) Run(ctx context.Context) error {
	m.logger.Info("starting sync loop")
	if err := m.client.SyncWithContext(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("matrix sync failed: %w", err)
	}
	return nil
}

// Send posts a message event to a room.
func (m *MatrixClient) Send(ctx context.Context, room id.RoomID, content *event.MessageEventContent) (id.EventID, error) {
	resp, err := m.client.SendMessageEvent(ctx, room, event.EventMessage, content)
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	return resp.EventID, nil
}

// Edit replaces a previously sent event via an m.replace relation.
func (m *MatrixClient) Edit(ctx context.Context, room id.RoomID, target id.EventID, content *event.MessageEventContent) (id.EventID, error) {
	edited := *content
	edited.SetEdit(target)
	resp, err := m.client.SendMessageEvent(ctx, room, event.EventMessage, &edited)
	if err != nil {
		return "", fmt.Errorf("sending edit: %w", err)
	}
	return resp.EventID, nil
}

// Typing sets or clears the typing indicator.
func (m *MatrixClient) Typing(ctx context.Context, room id.RoomID, typing bool, timeout time.Duration) error {
	if !typing {
		timeout = 0
	}
	_, err := m.client.UserTyping(ctx, room, typing, timeout)
	if err != nil {
		return fmt.Errorf("setting typing indicator: %w", err)
	}
	return nil
}

// IsOnline reports presence. Lookup failures degrade to offline so the
// caller falls back to single-message delivery.
func (m *MatrixClient) IsOnline(ctx context.Context, user id.UserID) bool {
	resp, err := m.client.GetPresence(ctx, user)
	if err != nil {
		m.logger.Debug("presence lookup failed, assuming offline",
			"target", user.String(), "error", err)
		return false
	}
	return resp.Presence == event.PresenceOnline
}

// UploadBlob stores a blob in the media repository and returns its mxc URI.
func (m *MatrixClient) UploadBlob(ctx context.Context, data []byte) (string, error) {
	resp, err := m.client.UploadBytes(ctx, data, "text/plain")
	if err != nil {
		return "", fmt.Errorf("uploading blob: %w", err)
	}
	return resp.ContentURI.String(), nil
}

// DownloadBlob fetches a blob by mxc URI.
func (m *MatrixClient) DownloadBlob(ctx context.Context, pointer string) ([]byte, error) {
	uri, err := id.ParseContentURI(pointer)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid pointer %q", ErrBlobNotFound, pointer)
	}
	data, err := m.client.DownloadBytes(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("downloading blob %s: %w", pointer, err)
	}
	return data, nil
}

// FetchEvent retrieves one event and parses its content.
func (m *MatrixClient) FetchEvent(ctx context.Context, room id.RoomID, eventID id.EventID) (*event.Event, error) {
	evt, err := m.client.GetEvent(ctx, room, eventID)
	if err != nil {
		return nil, fmt.Errorf("fetching event %s: %w", eventID, err)
	}
	if evt.Content.Parsed == nil {
		if err := evt.Content.ParseRaw(evt.Type); err != nil {
			m.logger.Debug("failed to parse fetched event content",
				"event_id", eventID.String(), "error", err)
		}
	}
	return evt, nil
}

// JoinRoom ensures membership in a room. Joining a room we are already in
// is a no-op on the homeserver side.
func (m *MatrixClient) JoinRoom(ctx context.Context, room id.RoomID) error {
	if _, err := m.client.JoinRoomByID(ctx, room); err != nil {
		return fmt.Errorf("joining room %s: %w", room, err)
	}
	return nil
}

// Close stops the sync loop.
func (m *MatrixClient) Close() {
	m.client.StopSync()
}
