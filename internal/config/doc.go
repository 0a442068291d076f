// Package config loads conclave's two configuration layers: the TOML
// bootstrap file (homeserver, account credentials, service endpoints) and
// the YAML policy file (identities, rooms, aliases, permission lists).
//
// The policy file is hot-reloadable. A Provider compiles it into an
// immutable Snapshot and swaps the snapshot pointer atomically on change;
// every processing unit reads one snapshot for its whole lifetime, so a
// reload mid-flight never produces a mixed view.
package config
