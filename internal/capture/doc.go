// Package capture defines the collaborators that feed the scene store: a
// state provider that snapshots live entity values, a resolver from the
// caller's scene entity to the scene record id, and a reloader that tells the
// host to pick up the rewritten file. File-backed and pass-through
// implementations live here; the Home Assistant ones live in homeassistant.
package capture
