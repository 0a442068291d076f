// ABOUTME: Connection manager: one transport client per identity, shared dedupe cache
// ABOUTME: Dispatches each event exactly once and injects synthetic scheduler events

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/conclave/internal/config"
	"github.com/2389/conclave/internal/dedupe"
	"github.com/2389/conclave/internal/pipeline"
	"github.com/2389/conclave/internal/scheduler"
	"github.com/2389/conclave/internal/transport"
)

const (
	// dedupeTTL covers the window in which the homeserver may redeliver an
	// event across reconnects and gappy syncs.
	dedupeTTL = 30 * time.Minute
	dedupeMax = 65536
)

// Manager owns every identity connection. All connections share one dedupe
// cache: an event federated to several of our identities is processed by
// whichever connection delivers it first, exactly once.
type Manager struct {
	policy *config.Provider
	pipe   *pipeline.Pipeline
	cache  *dedupe.Cache
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]*connection
}

// NewManager creates the connection manager. Connections are added with
// Add before Run.
func NewManager(policy *config.Provider, pipe *pipeline.Pipeline, logger *slog.Logger) *Manager {
	return &Manager{
		policy: policy,
		pipe:   pipe,
		cache:  dedupe.New(dedupeTTL, dedupeMax),
		logger: logger.With("component", "session"),
		conns:  make(map[string]*connection),
	}
}

// Add registers a connection for the named identity.
func (m *Manager) Add(name string, client transport.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[name] = &connection{
		name:   name,
		client: client,
		logger: m.logger.With("identity", name),
	}
}

// ClientFor returns the live client for a responder identity name.
func (m *Manager) ClientFor(name string) (transport.Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[name]
	if !ok || conn.ctx == nil || conn.ctx.Err() != nil {
		return nil, false
	}
	return conn.client, true
}

// Run joins configured rooms, starts every connection's sync loop, and
// blocks until the context is cancelled. Policy reloads that drop an
// identity cancel its connection; in-flight sends complete best-effort.
func (m *Manager) Run(ctx context.Context) error {
	m.policy.Subscribe(func(snap *config.Snapshot) {
		m.dropRemoved(snap)
	})

	m.joinRooms(ctx)

	group, ctx := errgroup.WithContext(ctx)

	m.mu.Lock()
	for _, conn := range m.conns {
		conn.ctx, conn.cancel = context.WithCancel(ctx)
		c := conn
		c.client.OnMessage(func(_ context.Context, evt *event.Event) {
			m.dispatch(c, evt)
		})
		group.Go(c.run)
	}
	m.mu.Unlock()

	err := group.Wait()
	m.cache.Close()
	m.closeAll()
	return err
}

// dispatch routes one delivered event into the pipeline as a detached unit
// of work. The shared cache makes the same event id a no-op on every
// connection but the first.
func (m *Manager) dispatch(conn *connection, evt *event.Event) {
	if m.cache.Seen(string(evt.ID)) {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				conn.logger.Error("event processing panicked",
					"event_id", evt.ID,
					"panic", fmt.Sprint(r),
				)
			}
		}()
		m.pipe.Process(conn.ctx, conn.client, evt)
	}()
}

// InjectScheduled turns a fired schedule entry into a synthetic message
// event attributed to the entry's creator and dispatches it through the
// identical authorization and routing path as a live message.
func (m *Manager) InjectScheduled(ctx context.Context, entry *scheduler.Entry) {
	conn, ok := m.injectionConn()
	if !ok {
		m.logger.Error("no connection available to inject scheduled message",
			"schedule_id", entry.ID,
			"room", entry.Room,
		)
		return
	}

	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    entry.Template,
	}
	if entry.Thread != "" && entry.Thread != entry.Room {
		content.RelatesTo = &event.RelatesTo{
			Type:          event.RelThread,
			EventID:       id.EventID(entry.Thread),
			IsFallingBack: true,
			InReplyTo:     &event.InReplyTo{EventID: id.EventID(entry.Thread)},
		}
	}

	evt := &event.Event{
		ID:        id.EventID("$sched-" + entry.ID + "-" + uuid.New().String()),
		Type:      event.EventMessage,
		RoomID:    id.RoomID(entry.Room),
		Sender:    id.UserID(entry.Creator),
		Timestamp: time.Now().UnixMilli(),
		Content:   event.Content{Parsed: content},
	}

	m.logger.Info("injecting scheduled message",
		"schedule_id", entry.ID,
		"room", entry.Room,
		"creator", entry.Creator,
	)
	m.dispatch(conn, evt)
}

// injectionConn picks the connection synthetic events enter through: the
// router's when configured, otherwise any live connection.
func (m *Manager) injectionConn() (*connection, bool) {
	snap := m.policy.Snapshot()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if router, ok := snap.Router(); ok {
		if conn, ok := m.conns[router.Name]; ok && conn.ctx != nil && conn.ctx.Err() == nil {
			return conn, true
		}
	}
	for _, conn := range m.conns {
		if conn.ctx != nil && conn.ctx.Err() == nil {
			return conn, true
		}
	}
	return nil, false
}

// dropRemoved cancels connections whose identity is no longer configured.
func (m *Manager) dropRemoved(snap *config.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, conn := range m.conns {
		if _, ok := snap.IdentityByName(name); ok {
			continue
		}
		m.logger.Info("identity removed from policy, stopping connection", "identity", name)
		if conn.cancel != nil {
			conn.cancel()
		}
		delete(m.conns, name)
	}
}

// joinRooms makes every connection a member of every configured room.
// Failures are logged and retried implicitly on the next restart.
func (m *Manager) joinRooms(ctx context.Context) {
	snap := m.policy.Snapshot()

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, conn := range m.conns {
		for _, room := range snap.Rooms {
			if err := conn.client.JoinRoom(ctx, id.RoomID(room.ID)); err != nil {
				conn.logger.Warn("joining room failed", "room", room.ID, "error", err)
			}
		}
	}
}

// closeAll releases every transport client.
func (m *Manager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conn := range m.conns {
		conn.client.Close()
	}
}

var _ pipeline.Connections = (*Manager)(nil)
