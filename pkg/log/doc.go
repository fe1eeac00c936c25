// Package log provides structured logging built on zerolog, with optional
// file rotation via lumberjack.
//
// Init must be called once at process startup before any other package
// logs. Component loggers (WithComponent, WithSourceID, WithKey,
// WithRequestID) attach context fields without needing to thread a logger
// through every call site.
package log
