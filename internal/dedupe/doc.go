// Package dedupe provides event-id deduplication using a bounded TTL cache
// so that redelivered sync events spawn exactly one unit of work.
package dedupe
