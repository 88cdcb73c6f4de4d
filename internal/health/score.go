package health

import "time"

// Time-decay buckets for the error weight. An error older than the last
// bucket no longer affects the score.
var decayBuckets = []struct {
	within time.Duration
	weight float64
}{
	{1 * time.Second, 1.0},
	{3 * time.Second, 0.8},
	{5 * time.Second, 0.3},
	{10 * time.Second, 0.1},
}

// IsServerError reports whether status is in the 5xx range.
func IsServerError(status int) bool {
	return status >= 500 && status < 599
}

// TimeWeight returns how strongly an error observed at lastErrorAt still
// counts at now. A zero lastErrorAt means the backend never failed.
func TimeWeight(lastErrorAt, now time.Time) float64 {
	if lastErrorAt.IsZero() {
		return 0
	}

	elapsed := now.Sub(lastErrorAt)
	for _, bucket := range decayBuckets {
		if elapsed < bucket.within {
			return bucket.weight
		}
	}

	return 0
}

// Score computes a health score in [0, 1] from the recorded statuses and the
// time of the most recent 5xx result. An empty history scores 0 so that
// unknown backends start unfavored.
func Score(statuses []int, lastErrorAt, now time.Time) float64 {
	if len(statuses) == 0 {
		return 0
	}

	errors := 0
	for _, status := range statuses {
		if IsServerError(status) {
			errors++
		}
	}

	errorFraction := float64(errors) / float64(len(statuses))
	return 1 - TimeWeight(lastErrorAt, now)*errorFraction
}
