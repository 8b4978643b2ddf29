// Package fileutil provides whole-file replacement that never exposes a
// partially written target.
package fileutil
