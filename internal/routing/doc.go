// Package routing decides who responds to a message: a single mentioned
// identity, a router-selected agent for unmentioned messages, or a team
// with a collaboration mode (coordinate vs collaborate).
//
// AI-assisted decisions are never the only path. Router selection falls
// back to the configured default agent, and the team-mode decision falls
// back to a deterministic heuristic over imperative verbs and member
// mentions, so a message that passed authorization always finds a
// responder while any responder is configured at all.
package routing
