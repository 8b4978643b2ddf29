// Package journal keeps a SQLite history of scene mutations requested through
// the daemon, so operators can see which captures ran, which failed and why.
// The scenes file stays the only source of truth; the journal is advisory and
// may be deleted at any time.
package journal
