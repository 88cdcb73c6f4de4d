package strategy

import (
	"github.com/angeloszaimis/failover-lb/internal/backend"
)

type candidate struct {
	backend  *backend.Backend
	score    float64
	requests uint64
}

// better orders candidates by health first and load second.
func (c candidate) better(other candidate) bool {
	if c.score != other.score {
		return c.score > other.score
	}
	return c.requests < other.requests
}

// ChooseTop2 returns the best and second best backends whose host is not in
// excluded. Either result is nil when fewer eligible backends exist.
func ChooseTop2(backends []*backend.Backend, excluded map[string]struct{}) (first, second *backend.Backend) {
	var best, runnerUp candidate

	for _, b := range backends {
		if b == nil {
			continue
		}
		if _, skip := excluded[b.Host()]; skip {
			continue
		}

		score, requests := b.Rank()
		c := candidate{backend: b, score: score, requests: requests}

		switch {
		case best.backend == nil:
			best = c
		case c.better(best):
			runnerUp = best
			best = c
		case runnerUp.backend == nil || c.better(runnerUp):
			runnerUp = c
		}
	}

	return best.backend, runnerUp.backend
}
