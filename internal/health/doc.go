// Package health tracks per-backend outcome history and turns it into a
// scalar health score.
//
// A History keeps the last HistorySize status codes observed for a backend.
// Score combines the share of 5xx results in that window with how recently
// the backend last failed: a recent error suppresses the score in proportion
// to the error density, and the suppression fades out over ten seconds.
//
// Usage:
//
//	var h health.History
//	h.Record(200)
//	h.Record(503)
//	score := health.Score(h.Values(), lastErrorAt, time.Now())
package health
