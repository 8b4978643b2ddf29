// Package logging assembles structured slog loggers and formatting helpers used
// across Scene Plus services.
//
// It owns the console/JSON handlers, centralizes level and output plumbing, and
// exposes context-aware helpers so store and transport code can tag log lines
// with correlation IDs, scene IDs, and entity IDs. The package also provides a
// no-op logger for tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape as the rest of the system.
package logging
