// Package relation turns raw Matrix events into typed relation information:
// whether an event is a thread message, an edit, or a reply, which
// configured identities it mentions, and whether it can start a new thread.
//
// Resolution is pure and total. Ambiguous or malformed relation metadata
// degrades to a fresh root-level message instead of failing; the pipeline
// never drops an event because its relations could not be understood.
//
// The package also owns large-message splitting: bodies above the transport
// size threshold travel out-of-band as blobs and are spliced back before
// any downstream component sees the event.
package relation
