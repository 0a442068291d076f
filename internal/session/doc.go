// Package session manages the per-identity protocol connections: one
// long-lived client per configured agent identity, a shared deduplication
// cache so federated redelivery spawns exactly one unit of work, and the
// injection point where fired schedules re-enter the live dispatch path.
package session
