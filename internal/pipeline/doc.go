// Package pipeline processes one message event at a time: relation
// resolution, ordered authorization, scheduler commands, routing, and
// response delivery. Every event is an isolated unit of work; the pipeline
// resolves all failures locally and never lets one event's outcome affect
// another's.
package pipeline
