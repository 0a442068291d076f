// Package authz decides whether a sender may trigger responses in a room.
//
// Evaluation is ordered and short-circuits on first match: internal
// identities, configured identities, alias canonicalization, the global
// allow list, the room permission list, then the global default. The room
// rule is deliberately non-fallthrough — once a room has any permission
// entry, membership in that list is the only way in.
//
// Denials are valid decisions, not errors. The caller drops denied events
// silently and logs the decision for audit.
package authz
