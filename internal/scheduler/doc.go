// Package scheduler persists one-time and recurring schedule entries in
// the room-scoped durable store and fires them by injecting synthetic
// message events into the live dispatch pipeline, so scheduled tasks pass
// through the identical authorization and routing logic as live messages.
//
// Natural-language requests are parsed by the AI decision service into
// exactly one of two shapes — a future instant or a cron expression — with
// cron expressions validated by gronx. Entries survive restarts: pending
// recurring entries re-arm against current time, and pending one-time
// entries whose trigger has passed are skipped, never fired late.
package scheduler
