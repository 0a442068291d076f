// ABOUTME: AI decision service interface for routing, team-mode, and schedule parsing
// ABOUTME: Every decision has a bounded timeout and a deterministic fallback at the call site

package decision

import (
	"context"
	"errors"
	"time"
)

// ErrNoDecision indicates the service answered but produced nothing usable.
// Callers treat it exactly like a timeout: the deterministic fallback fires.
var ErrNoDecision = errors.New("decision service returned no usable answer")

// TeamMode is the collaboration mode for a multi-agent response.
type TeamMode string

const (
	// ModeCoordinate has a designated leader decompose the task into
	// subtasks and synthesize the results.
	ModeCoordinate TeamMode = "coordinate"
	// ModeCollaborate has every member answer the same prompt
	// independently for diverse perspectives.
	ModeCollaborate TeamMode = "collaborate"
)

// ScheduleSpec is the parsed form of a natural-language schedule request.
// Exactly one of Once or Cron is set; there is no ambiguous third state.
type ScheduleSpec struct {
	Once     *time.Time
	Cron     string
	Template string
}

// Recurring reports whether the schedule repeats on a cron expression.
func (s *ScheduleSpec) Recurring() bool {
	return s.Cron != ""
}

// Service is the AI-assisted decision collaborator. Implementations must
// respect context deadlines; callers never treat a Service answer as the
// only valid path.
type Service interface {
	// ClassifyRoute picks the best single agent name from candidates for
	// an unmentioned message. Returns ErrNoDecision when no candidate fits.
	ClassifyRoute(ctx context.Context, message string, candidates []string) (string, error)

	// DecideTeamMode classifies a multi-agent task as coordinate or
	// collaborate.
	DecideTeamMode(ctx context.Context, message string, members []string) (TeamMode, error)

	// ParseSchedule turns a natural-language schedule request into a
	// one-time instant or a cron expression, in the given location.
	ParseSchedule(ctx context.Context, text string, now time.Time, loc *time.Location) (*ScheduleSpec, error)
}
