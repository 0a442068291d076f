// ABOUTME: Chat command surface for the scheduler: !schedule, !list_schedules, !cancel_schedule
// ABOUTME: Produces human-readable confirmation or error text for the room

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Command names recognized in chat text.
const (
	cmdSchedule = "!schedule"
	cmdList     = "!list_schedules"
	cmdCancel   = "!cancel_schedule"
)

// IsCommand reports whether the body is a scheduler command.
func IsCommand(body string) bool {
	trimmed := strings.TrimSpace(body)
	for _, cmd := range []string{cmdSchedule, cmdList, cmdCancel} {
		if trimmed == cmd || strings.HasPrefix(trimmed, cmd+" ") {
			return true
		}
	}
	return false
}

// HandleCommand executes a scheduler command and returns the reply text to
// post back to the room. Parse and persistence failures surface as reply
// text; nothing else in the pipeline runs for command messages.
func (s *Scheduler) HandleCommand(ctx context.Context, room, thread, creator, body string) string {
	trimmed := strings.TrimSpace(body)

	switch {
	case strings.HasPrefix(trimmed, cmdSchedule):
		arg := strings.TrimSpace(strings.TrimPrefix(trimmed, cmdSchedule))
		if arg == "" {
			return "Usage: !schedule <when and what>, e.g. !schedule every day at 9am, @finance market report"
		}
		entry, err := s.Create(ctx, room, thread, creator, arg)
		if err != nil {
			if errors.Is(err, ErrBadSchedule) {
				return fmt.Sprintf("Sorry, %v. Try something like: !schedule tomorrow at 15:00, remind @finance about the report", err)
			}
			return fmt.Sprintf("Could not create the schedule: %v", err)
		}
		return fmt.Sprintf("Scheduled %s", entry.Describe(s.location()))

	case strings.HasPrefix(trimmed, cmdList):
		entries, err := s.List(ctx, room)
		if err != nil {
			return fmt.Sprintf("Could not list schedules: %v", err)
		}
		if len(entries) == 0 {
			return "No pending schedules in this room."
		}
		var b strings.Builder
		b.WriteString(fmt.Sprintf("%d pending schedule(s):\n", len(entries)))
		for _, entry := range entries {
			b.WriteString("• " + entry.Describe(s.location()) + "\n")
		}
		return strings.TrimRight(b.String(), "\n")

	case strings.HasPrefix(trimmed, cmdCancel):
		target := strings.TrimSpace(strings.TrimPrefix(trimmed, cmdCancel))
		if target == "" {
			return "Usage: !cancel_schedule <id|all>"
		}
		n, err := s.Cancel(ctx, room, target)
		if errors.Is(err, ErrEntryNotFound) {
			return fmt.Sprintf("No pending schedule with id %q in this room.", target)
		}
		if err != nil {
			return fmt.Sprintf("Could not cancel: %v", err)
		}
		if target == "all" {
			return fmt.Sprintf("Cancelled %d schedule(s).", n)
		}
		return fmt.Sprintf("Cancelled schedule %s.", target)
	}

	return ""
}
