// ABOUTME: Durable scheduler: persists entries, restores them on startup, fires them on time
// ABOUTME: Fired entries re-enter the live dispatch pipeline as synthetic events

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/2389/conclave/internal/decision"
	"github.com/2389/conclave/internal/statestore"
)

// ErrBadSchedule is a user-visible parse failure: the request could not be
// resolved to a future instant or a cron expression. No state is mutated.
var ErrBadSchedule = errors.New("could not understand that schedule")

// ErrEntryNotFound indicates a cancel target that does not exist.
var ErrEntryNotFound = errors.New("schedule entry not found")

// tickInterval is the due-scan resolution. Seconds, deliberately not
// sub-second.
const tickInterval = time.Second

// Injector re-enters the dispatch pipeline with a synthetic message event
// built from a fired entry. The synthetic event goes through the identical
// authorization and routing logic as a live message.
type Injector func(ctx context.Context, entry *Entry)

// LocationFunc returns the current deployment timezone. Indirect because
// policy hot-reload can change it.
type LocationFunc func() *time.Location

// Scheduler owns every ScheduleEntry: parsing, persistence, restoration,
// and firing. It is the only component that mutates entries.
type Scheduler struct {
	store     statestore.Store
	decisions decision.Service
	inject    Injector
	location  LocationFunc
	logger    *slog.Logger
	validator *gronx.Gronx

	mu    sync.Mutex
	armed map[string]*armedEntry
}

// armedEntry is a pending entry with its next computed fire time.
type armedEntry struct {
	entry *Entry
	at    time.Time
}

// New creates a scheduler. Call Restore before Run.
func New(store statestore.Store, decisions decision.Service, inject Injector, location LocationFunc, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		decisions: decisions,
		inject:    inject,
		location:  location,
		logger:    logger.With("component", "scheduler"),
		validator: gronx.New(),
		armed:     make(map[string]*armedEntry),
	}
}

// Create parses a natural-language schedule request, persists the entry,
// and arms it. Parse failures are user-visible errors and mutate nothing;
// persistence failures fail the command and the entry is not created.
func (s *Scheduler) Create(ctx context.Context, room, thread, creator, text string) (*Entry, error) {
	loc := s.location()
	now := time.Now().In(loc)

	spec, err := s.decisions.ParseSchedule(ctx, text, now, loc)
	if err != nil {
		s.logger.Debug("schedule parse failed", "error", err)
		return nil, ErrBadSchedule
	}

	entry := &Entry{
		ID:        uuid.New().String()[:8],
		Room:      room,
		Thread:    thread,
		Template:  spec.Template,
		Creator:   creator,
		Status:    StatusPending,
		CreatedAt: now,
	}

	switch {
	case spec.Recurring():
		if !s.validator.IsValid(spec.Cron) {
			return nil, fmt.Errorf("%w: invalid cron expression %q", ErrBadSchedule, spec.Cron)
		}
		entry.Kind = KindCron
		entry.Trigger = spec.Cron

	case spec.Once != nil:
		if !spec.Once.After(now) {
			return nil, fmt.Errorf("%w: %s is in the past", ErrBadSchedule, spec.Once.Format(time.RFC3339))
		}
		entry.Kind = KindOnce
		entry.Trigger = spec.Once.Format(time.RFC3339)

	default:
		return nil, ErrBadSchedule
	}

	if entry.Template == "" {
		entry.Template = text
	}

	if err := s.persist(ctx, entry); err != nil {
		return nil, fmt.Errorf("saving schedule: %w", err)
	}

	if err := s.arm(entry, now); err != nil {
		// The entry is durable but unarmable; surface it rather than
		// leave a silent dead entry.
		return nil, err
	}

	s.logger.Info("schedule created",
		"id", entry.ID,
		"room", entry.Room,
		"kind", string(entry.Kind),
		"trigger", entry.Trigger,
	)
	return entry, nil
}

// List returns the pending entries for a room, oldest first.
func (s *Scheduler) List(ctx context.Context, room string) ([]*Entry, error) {
	stored, err := s.store.List(ctx, room, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}

	var out []*Entry
	for _, raw := range stored {
		entry, err := UnmarshalEntry(raw)
		if err != nil {
			s.logger.Warn("skipping undecodable schedule entry", "room", room, "error", err)
			continue
		}
		if entry.Status != StatusPending {
			continue
		}
		out = append(out, entry)
	}

	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.Before(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

// Cancel marks one entry (or all pending entries for the room) cancelled
// and disarms them. Returns how many entries were cancelled.
func (s *Scheduler) Cancel(ctx context.Context, room, target string) (int, error) {
	if target == "all" {
		entries, err := s.List(ctx, room)
		if err != nil {
			return 0, err
		}
		cancelled := 0
		for _, entry := range entries {
			if err := s.cancelOne(ctx, entry); err != nil {
				return cancelled, err
			}
			cancelled++
		}
		return cancelled, nil
	}

	raw, err := s.store.Get(ctx, room, keyPrefix+target)
	if errors.Is(err, statestore.ErrNotFound) {
		return 0, ErrEntryNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("loading schedule %s: %w", target, err)
	}
	entry, err := UnmarshalEntry(raw)
	if err != nil {
		return 0, err
	}
	if entry.Status != StatusPending {
		return 0, ErrEntryNotFound
	}
	if err := s.cancelOne(ctx, entry); err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *Scheduler) cancelOne(ctx context.Context, entry *Entry) error {
	entry.Status = StatusCancelled
	if err := s.persist(ctx, entry); err != nil {
		return fmt.Errorf("cancelling schedule %s: %w", entry.ID, err)
	}
	s.disarm(entry.ID)
	s.logger.Info("schedule cancelled", "id", entry.ID, "room", entry.Room)
	return nil
}

// Restore scans the durable store and re-arms surviving entries: pending
// cron entries are re-armed against current time, pending one-time entries
// in the past are skipped and never fired.
func (s *Scheduler) Restore(ctx context.Context) error {
	rooms, err := s.store.Rooms(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("scanning schedule rooms: %w", err)
	}

	now := time.Now().In(s.location())
	restored, skipped := 0, 0

	for _, room := range rooms {
		stored, err := s.store.List(ctx, room, keyPrefix)
		if err != nil {
			return fmt.Errorf("restoring schedules for %s: %w", room, err)
		}
		for _, raw := range stored {
			entry, err := UnmarshalEntry(raw)
			if err != nil {
				s.logger.Warn("skipping undecodable schedule entry", "room", room, "error", err)
				continue
			}
			if entry.Status != StatusPending {
				continue
			}
			if err := s.arm(entry, now); err != nil {
				if errors.Is(err, errPastEntry) {
					skipped++
					continue
				}
				s.logger.Warn("skipping unarmable schedule entry",
					"id", entry.ID, "room", room, "error", err)
				continue
			}
			restored++
		}
	}

	s.logger.Info("schedules restored", "restored", restored, "skipped_past", skipped)
	return nil
}

// errPastEntry marks one-time entries whose trigger already passed.
var errPastEntry = errors.New("trigger time is in the past")

// arm inserts the entry into the due index with its next fire time.
func (s *Scheduler) arm(entry *Entry, now time.Time) error {
	at, ok, err := entry.NextFire(now, s.location())
	if err != nil {
		return err
	}
	if !ok {
		return errPastEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed[entry.ID] = &armedEntry{entry: entry, at: at}
	return nil
}

// disarm removes an entry from the due index.
func (s *Scheduler) disarm(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.armed, id)
}

// Run scans the due index until the context is cancelled. Firing an entry
// injects a synthetic event into the live dispatch pipeline; recurring
// entries re-arm, one-time entries become fired.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.fireDue(ctx, time.Now().In(s.location()))
		}
	}
}

// fireDue fires every armed entry whose time has come.
func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*armedEntry
	for _, armed := range s.armed {
		if !armed.at.After(now) {
			due = append(due, armed)
		}
	}
	s.mu.Unlock()

	for _, armed := range due {
		s.fire(ctx, armed.entry, now)
	}
}

// fire delivers one entry and advances its lifecycle.
func (s *Scheduler) fire(ctx context.Context, entry *Entry, now time.Time) {
	s.logger.Info("firing schedule",
		"id", entry.ID,
		"room", entry.Room,
		"kind", string(entry.Kind),
	)

	s.inject(ctx, entry)

	switch entry.Kind {
	case KindOnce:
		entry.Status = StatusFired
		if err := s.persist(ctx, entry); err != nil {
			s.logger.Error("failed to persist fired entry", "id", entry.ID, "error", err)
		}
		s.disarm(entry.ID)

	case KindCron:
		if err := s.arm(entry, now); err != nil {
			s.logger.Error("failed to re-arm recurring entry", "id", entry.ID, "error", err)
			s.disarm(entry.ID)
		}
	}
}

// persist writes the entry to the durable store.
func (s *Scheduler) persist(ctx context.Context, entry *Entry) error {
	data, err := entry.Marshal()
	if err != nil {
		return err
	}
	return s.store.Put(ctx, entry.Room, entry.StoreKey(), data)
}
