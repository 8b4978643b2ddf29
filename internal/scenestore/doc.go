// Package scenestore owns the read-modify-write cycle of the scenes document.
//
// Lookups read the file without locking and see whichever complete version is
// on disk. Mutations (Update, Create, Migrate) run under a filelock.Manager and
// walk locking, loading, merging, writing and unlocking in order; the lock is
// released on every exit path, including a recovered panic. Failures never
// escape as errors: they come back as an Outcome naming the phase that failed,
// and the atomic writer guarantees the previous file is still intact.
package scenestore
