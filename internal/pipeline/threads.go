// ABOUTME: In-memory thread tracking: root, latest event, participant set
// ABOUTME: Generational maps bound memory; protocol history is the real source of truth

package pipeline

import (
	"sync"

	"maunium.net/go/mautrix/id"
)

// maxThreads bounds each tracker generation. When the current generation
// fills up it becomes the previous one; lookups consult both.
const maxThreads = 2048

type threadKey struct {
	room id.RoomID
	root id.EventID
}

type eventKey struct {
	room  id.RoomID
	event id.EventID
}

// threadState is what the tracker remembers about one thread.
type threadState struct {
	latest       id.EventID
	participants map[id.UserID]bool
}

// threadTracker follows reply chains and thread participation. It exists
// for two reasons: resolving reply fallbacks to their thread root when the
// sending client lacks native thread support, and knowing which responder
// identities are active in a thread for team formation.
type threadTracker struct {
	mu sync.Mutex

	cur  map[threadKey]*threadState
	prev map[threadKey]*threadState

	// roots maps every known in-thread event to its thread root.
	curRoots  map[eventKey]id.EventID
	prevRoots map[eventKey]id.EventID
}

func newThreadTracker() *threadTracker {
	return &threadTracker{
		cur:       make(map[threadKey]*threadState),
		prev:      make(map[threadKey]*threadState),
		curRoots:  make(map[eventKey]id.EventID),
		prevRoots: make(map[eventKey]id.EventID),
	}
}

// Record notes that sender posted eventID in the thread rooted at root.
func (t *threadTracker) Record(room id.RoomID, root id.EventID, eventID id.EventID, sender id.UserID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.cur) >= maxThreads {
		t.prev = t.cur
		t.prevRoots = t.curRoots
		t.cur = make(map[threadKey]*threadState)
		t.curRoots = make(map[eventKey]id.EventID)
	}

	key := threadKey{room: room, root: root}
	state, ok := t.cur[key]
	if !ok {
		if old, inPrev := t.prev[key]; inPrev {
			state = old
		} else {
			state = &threadState{participants: make(map[id.UserID]bool)}
		}
		t.cur[key] = state
	}
	state.latest = eventID
	state.participants[sender] = true

	t.curRoots[eventKey{room: room, event: eventID}] = root
	t.curRoots[eventKey{room: room, event: root}] = root
}

// Participants returns the known participant ids of a thread.
func (t *threadTracker) Participants(room id.RoomID, root id.EventID) []id.UserID {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := threadKey{room: room, root: root}
	state, ok := t.cur[key]
	if !ok {
		state, ok = t.prev[key]
	}
	if !ok {
		return nil
	}

	out := make([]id.UserID, 0, len(state.participants))
	for uid := range state.participants {
		out = append(out, uid)
	}
	return out
}

// Latest returns the most recent known event in a thread, for reply
// fallbacks on outbound messages.
func (t *threadTracker) Latest(room id.RoomID, root id.EventID) (id.EventID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := threadKey{room: room, root: root}
	if state, ok := t.cur[key]; ok {
		return state.latest, true
	}
	if state, ok := t.prev[key]; ok {
		return state.latest, true
	}
	return "", false
}

// RootFor resolves any known in-thread event id to its thread root.
func (t *threadTracker) RootFor(room id.RoomID, eventID id.EventID) (id.EventID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := eventKey{room: room, event: eventID}
	if root, ok := t.curRoots[key]; ok {
		return root, true
	}
	if root, ok := t.prevRoots[key]; ok {
		return root, true
	}
	return "", false
}
