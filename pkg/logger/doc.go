// Package logger builds the application's slog.Logger: text output outside
// production, JSON in production, with the environment attached to every
// record. The level is a slog.Leveler so a *slog.LevelVar can change it at
// runtime.
package logger
