package httpserver

import (
	"bytes"
	"log"
	"log/slog"
)

// errorLogWriter feeds http.Server's internal log lines into slog.
type errorLogWriter struct {
	logger *slog.Logger
}

func (w *errorLogWriter) Write(p []byte) (int, error) {
	// http.Server terminates every line with a newline.
	w.logger.Error(string(bytes.TrimSpace(p)))
	return len(p), nil
}

func newErrorLog(logger *slog.Logger) *log.Logger {
	return log.New(&errorLogWriter{logger: logger.With(slog.String("component", "http_server"))}, "", 0)
}
