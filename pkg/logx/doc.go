// Package logx provides the structured logging layer for bigben.
//
// It wraps zerolog behind a small Logger value type so components can hold
// loggers by value, derive them with fixed fields, and keep logging "live"
// across runtime config reloads. Trace-level output (per-fire diagnostics)
// is rate limited so a fast clock cannot flood the sinks.
package logx
