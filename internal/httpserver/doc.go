// Package httpserver wraps http.Server with address validation, slog-backed
// error logging and graceful shutdown.
package httpserver
