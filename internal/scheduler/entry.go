// ABOUTME: ScheduleEntry: the persisted record of a one-time or recurring future action
// ABOUTME: JSON-serialized into the room-scoped durable store, never physically deleted

package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// Kind distinguishes one-time from recurring entries.
type Kind string

const (
	KindOnce Kind = "once"
	KindCron Kind = "cron"
)

// Status is the entry lifecycle state. Entries move pending→fired (one-time,
// terminal), stay pending across fires (recurring), or move to cancelled.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFired     Status = "fired"
	StatusCancelled Status = "cancelled"
)

// keyPrefix scopes schedule entries inside the room state store.
const keyPrefix = "schedule/"

// Entry is one persisted schedule. Fired and cancelled entries are kept
// for audit and excluded from restoration.
type Entry struct {
	ID     string `json:"id"`
	Room   string `json:"room"`
	Thread string `json:"thread,omitempty"`
	Kind   Kind   `json:"kind"`
	// Trigger is an RFC 3339 instant for one-time entries, a five-field
	// cron expression for recurring ones.
	Trigger string `json:"trigger"`
	// Template is the message to deliver, including any agent mentions.
	Template  string    `json:"template"`
	Creator   string    `json:"creator"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// StoreKey is the durable key for this entry inside its room.
func (e *Entry) StoreKey() string {
	return keyPrefix + e.ID
}

// Marshal serializes the entry for the state store.
func (e *Entry) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEntry deserializes a stored entry.
func UnmarshalEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding schedule entry: %w", err)
	}
	return &e, nil
}

// NextFire computes the next trigger time strictly after now, in the
// deployment location. One-time entries in the past return ok=false.
func (e *Entry) NextFire(now time.Time, loc *time.Location) (time.Time, bool, error) {
	switch e.Kind {
	case KindOnce:
		at, err := time.Parse(time.RFC3339, e.Trigger)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("invalid trigger instant %q: %w", e.Trigger, err)
		}
		at = at.In(loc)
		if !at.After(now) {
			return time.Time{}, false, nil
		}
		return at, true, nil

	case KindCron:
		next, err := gronx.NextTickAfter(e.Trigger, now.In(loc), false)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("invalid cron expression %q: %w", e.Trigger, err)
		}
		return next, true, nil
	}
	return time.Time{}, false, fmt.Errorf("unknown schedule kind %q", e.Kind)
}

// Describe renders a human-readable one-line summary for command replies.
func (e *Entry) Describe(loc *time.Location) string {
	switch e.Kind {
	case KindCron:
		return fmt.Sprintf("%s  [recurring %s]  %s", e.ID, e.Trigger, e.Template)
	default:
		if at, err := time.Parse(time.RFC3339, e.Trigger); err == nil {
			return fmt.Sprintf("%s  [once %s]  %s", e.ID, at.In(loc).Format("2006-01-02 15:04"), e.Template)
		}
		return fmt.Sprintf("%s  [once %s]  %s", e.ID, e.Trigger, e.Template)
	}
}
