// ABOUTME: Tests for schedule creation, cancellation, restoration, and firing
// ABOUTME: Uses an in-memory store and a scripted decision service

package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/conclave/internal/decision"
	"github.com/2389/conclave/internal/statestore"
)

// memStore is an in-memory statestore.Store.
type memStore struct {
	mu   sync.Mutex
	data map[string]map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]map[string][]byte)}
}

func (m *memStore) Get(_ context.Context, room, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[room][key]; ok {
		return v, nil
	}
	return nil, statestore.ErrNotFound
}

func (m *memStore) Put(_ context.Context, room, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[room] == nil {
		m.data[room] = make(map[string][]byte)
	}
	m.data[room][key] = value
	return nil
}

func (m *memStore) List(_ context.Context, room, prefix string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte)
	for k, v := range m.data[room] {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memStore) Rooms(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for room, keys := range m.data {
		for k := range keys {
			if strings.HasPrefix(k, prefix) {
				out = append(out, room)
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

// parseDecisions is a scripted schedule parser.
type parseDecisions struct {
	spec *decision.ScheduleSpec
	err  error
}

func (p *parseDecisions) ClassifyRoute(context.Context, string, []string) (string, error) {
	return "", decision.ErrNoDecision
}

func (p *parseDecisions) DecideTeamMode(context.Context, string, []string) (decision.TeamMode, error) {
	return "", decision.ErrNoDecision
}

func (p *parseDecisions) ParseSchedule(context.Context, string, time.Time, *time.Location) (*decision.ScheduleSpec, error) {
	return p.spec, p.err
}

func utcLocation() *time.Location { return time.UTC }

func newTestScheduler(store statestore.Store, decisions decision.Service, inject Injector) *Scheduler {
	if inject == nil {
		inject = func(context.Context, *Entry) {}
	}
	return New(store, decisions, inject, utcLocation, slog.Default())
}

func TestCreateOnce(t *testing.T) {
	store := newMemStore()
	at := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	s := newTestScheduler(store, &parseDecisions{
		spec: &decision.ScheduleSpec{Once: &at, Template: "@finance market report"},
	}, nil)

	entry, err := s.Create(context.Background(), "!room:example.org", "", "@alice:example.org", "in two hours, @finance market report")
	require.NoError(t, err)
	assert.Equal(t, KindOnce, entry.Kind)
	assert.Equal(t, StatusPending, entry.Status)
	assert.Equal(t, "@finance market report", entry.Template)

	// Durable and listed.
	entries, err := s.List(context.Background(), "!room:example.org")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
}

func TestCreateCron(t *testing.T) {
	store := newMemStore()
	s := newTestScheduler(store, &parseDecisions{
		spec: &decision.ScheduleSpec{Cron: "0 9 * * *", Template: "daily standup"},
	}, nil)

	entry, err := s.Create(context.Background(), "!room:example.org", "", "@alice:example.org", "every day at 9am, daily standup")
	require.NoError(t, err)
	assert.Equal(t, KindCron, entry.Kind)
	assert.Equal(t, "0 9 * * *", entry.Trigger)
}

func TestCreateRejectsPastInstant(t *testing.T) {
	store := newMemStore()
	past := time.Now().Add(-time.Hour).UTC()
	s := newTestScheduler(store, &parseDecisions{
		spec: &decision.ScheduleSpec{Once: &past, Template: "too late"},
	}, nil)

	_, err := s.Create(context.Background(), "!room:example.org", "", "@alice:example.org", "an hour ago, too late")
	assert.ErrorIs(t, err, ErrBadSchedule)

	entries, err := s.List(context.Background(), "!room:example.org")
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected requests mutate nothing")
}

func TestCreateRejectsInvalidCron(t *testing.T) {
	store := newMemStore()
	s := newTestScheduler(store, &parseDecisions{
		spec: &decision.ScheduleSpec{Cron: "not a cron", Template: "x"},
	}, nil)

	_, err := s.Create(context.Background(), "!room:example.org", "", "@alice:example.org", "gibberish")
	assert.ErrorIs(t, err, ErrBadSchedule)
}

func TestCreateParseFailureIsUserVisible(t *testing.T) {
	store := newMemStore()
	s := newTestScheduler(store, &parseDecisions{err: decision.ErrNoDecision}, nil)

	_, err := s.Create(context.Background(), "!room:example.org", "", "@alice:example.org", "???")
	assert.ErrorIs(t, err, ErrBadSchedule)
}

func TestCancelOne(t *testing.T) {
	store := newMemStore()
	at := time.Now().Add(time.Hour).UTC()
	s := newTestScheduler(store, &parseDecisions{
		spec: &decision.ScheduleSpec{Once: &at, Template: "x"},
	}, nil)

	entry, err := s.Create(context.Background(), "!room:example.org", "", "@alice:example.org", "x")
	require.NoError(t, err)

	n, err := s.Cancel(context.Background(), "!room:example.org", entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := s.List(context.Background(), "!room:example.org")
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Cancelled entries cannot be cancelled again.
	_, err = s.Cancel(context.Background(), "!room:example.org", entry.ID)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestCancelAll(t *testing.T) {
	store := newMemStore()
	at := time.Now().Add(time.Hour).UTC()
	s := newTestScheduler(store, &parseDecisions{
		spec: &decision.ScheduleSpec{Once: &at, Template: "x"},
	}, nil)

	for i := 0; i < 3; i++ {
		_, err := s.Create(context.Background(), "!room:example.org", "", "@alice:example.org", "x")
		require.NoError(t, err)
	}

	n, err := s.Cancel(context.Background(), "!room:example.org", "all")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRestoreSkipsPastOneTimeEntries(t *testing.T) {
	store := newMemStore()

	past := &Entry{
		ID: "past1", Room: "!room:example.org", Kind: KindOnce,
		Trigger: time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
		Status:  StatusPending, Template: "missed", CreatedAt: time.Now().Add(-2 * time.Hour),
	}
	future := &Entry{
		ID: "fut1", Room: "!room:example.org", Kind: KindOnce,
		Trigger: time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		Status:  StatusPending, Template: "upcoming", CreatedAt: time.Now(),
	}
	recurring := &Entry{
		ID: "cron1", Room: "!room:example.org", Kind: KindCron,
		Trigger: "0 9 * * *",
		Status:  StatusPending, Template: "daily", CreatedAt: time.Now(),
	}
	fired := &Entry{
		ID: "done1", Room: "!room:example.org", Kind: KindOnce,
		Trigger: time.Now().Add(-time.Minute).UTC().Format(time.RFC3339),
		Status:  StatusFired, Template: "done", CreatedAt: time.Now().Add(-time.Hour),
	}
	for _, e := range []*Entry{past, future, recurring, fired} {
		data, err := e.Marshal()
		require.NoError(t, err)
		require.NoError(t, store.Put(context.Background(), e.Room, e.StoreKey(), data))
	}

	var firedIDs []string
	var mu sync.Mutex
	s := newTestScheduler(store, &parseDecisions{}, func(_ context.Context, e *Entry) {
		mu.Lock()
		firedIDs = append(firedIDs, e.ID)
		mu.Unlock()
	})

	require.NoError(t, s.Restore(context.Background()))

	s.mu.Lock()
	_, pastArmed := s.armed["past1"]
	_, futureArmed := s.armed["fut1"]
	_, cronArmed := s.armed["cron1"]
	_, firedArmed := s.armed["done1"]
	cronAt := s.armed["cron1"].at
	s.mu.Unlock()

	assert.False(t, pastArmed, "past one-time entries are skipped, never fired")
	assert.True(t, futureArmed)
	assert.True(t, cronArmed)
	assert.False(t, firedArmed, "terminal entries are not restored")
	assert.True(t, cronAt.After(time.Now()), "recurring entries re-arm strictly in the future")

	// Nothing fires during restore itself.
	mu.Lock()
	assert.Empty(t, firedIDs)
	mu.Unlock()
}

func TestFireOnceBecomesTerminal(t *testing.T) {
	store := newMemStore()
	var injected []*Entry
	s := newTestScheduler(store, &parseDecisions{}, func(_ context.Context, e *Entry) {
		injected = append(injected, e)
	})

	entry := &Entry{
		ID: "e1", Room: "!room:example.org", Kind: KindOnce,
		Trigger: time.Now().Add(time.Minute).UTC().Format(time.RFC3339),
		Status:  StatusPending, Template: "go", Creator: "@alice:example.org",
		CreatedAt: time.Now(),
	}
	data, err := entry.Marshal()
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), entry.Room, entry.StoreKey(), data))
	require.NoError(t, s.arm(entry, time.Now()))

	s.fireDue(context.Background(), time.Now().Add(2*time.Minute))

	require.Len(t, injected, 1)
	assert.Equal(t, "e1", injected[0].ID)

	// The stored entry is now fired and disarmed.
	raw, err := store.Get(context.Background(), entry.Room, entry.StoreKey())
	require.NoError(t, err)
	stored, err := UnmarshalEntry(raw)
	require.NoError(t, err)
	assert.Equal(t, StatusFired, stored.Status)

	s.mu.Lock()
	_, armed := s.armed["e1"]
	s.mu.Unlock()
	assert.False(t, armed)
}

func TestFireCronRearms(t *testing.T) {
	store := newMemStore()
	count := 0
	s := newTestScheduler(store, &parseDecisions{}, func(context.Context, *Entry) { count++ })

	entry := &Entry{
		ID: "c1", Room: "!room:example.org", Kind: KindCron,
		Trigger: "* * * * *",
		Status:  StatusPending, Template: "tick", CreatedAt: time.Now(),
	}
	now := time.Now()
	require.NoError(t, s.arm(entry, now))

	s.fireDue(context.Background(), now.Add(2*time.Minute))
	assert.Equal(t, 1, count)

	s.mu.Lock()
	armed, ok := s.armed["c1"]
	s.mu.Unlock()
	require.True(t, ok, "recurring entries stay armed")
	assert.True(t, armed.at.After(now.Add(2*time.Minute)))
}

func TestHandleCommand(t *testing.T) {
	store := newMemStore()
	at := time.Now().Add(time.Hour).UTC()
	s := newTestScheduler(store, &parseDecisions{
		spec: &decision.ScheduleSpec{Once: &at, Template: "@finance report"},
	}, nil)

	ctx := context.Background()
	room := "!room:example.org"

	// Empty room.
	reply := s.HandleCommand(ctx, room, "", "@alice:example.org", "!list_schedules")
	assert.Equal(t, "No pending schedules in this room.", reply)

	// Create.
	reply = s.HandleCommand(ctx, room, "", "@alice:example.org", "!schedule tomorrow, @finance report")
	assert.Contains(t, reply, "Scheduled")

	// List shows it.
	reply = s.HandleCommand(ctx, room, "", "@alice:example.org", "!list_schedules")
	assert.Contains(t, reply, "@finance report")

	// Cancel all.
	reply = s.HandleCommand(ctx, room, "", "@alice:example.org", "!cancel_schedule all")
	assert.Contains(t, reply, "Cancelled 1")
}

func TestHandleCommandErrorsAreUserVisible(t *testing.T) {
	store := newMemStore()
	s := newTestScheduler(store, &parseDecisions{err: errors.New("no idea")}, nil)

	reply := s.HandleCommand(context.Background(), "!room:example.org", "", "@alice:example.org", "!schedule gibberish")
	assert.Contains(t, reply, "could not understand")

	reply = s.HandleCommand(context.Background(), "!room:example.org", "", "@alice:example.org", "!cancel_schedule nope")
	assert.Contains(t, reply, "No pending schedule")
}

func TestIsCommand(t *testing.T) {
	assert.True(t, IsCommand("!schedule every day at 9"))
	assert.True(t, IsCommand("  !list_schedules"))
	assert.True(t, IsCommand("!cancel_schedule all"))
	assert.False(t, IsCommand("!scheduler is neat"))
	assert.False(t, IsCommand("schedule a meeting"))
}
