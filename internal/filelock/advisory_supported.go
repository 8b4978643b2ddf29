//go:build unix || windows

package filelock

const advisorySupported = true
