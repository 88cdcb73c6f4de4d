package strategy

import (
	"math/rand"

	"github.com/angeloszaimis/failover-lb/internal/backend"
)

// Pick chooses between the two candidates returned by ChooseTop2: nil when
// there is none, the only one when there is one, otherwise either with equal
// probability. intN defaults to rand.Intn.
func Pick(first, second *backend.Backend, intN func(n int) int) *backend.Backend {
	switch {
	case first == nil:
		return second
	case second == nil:
		return first
	}

	if intN == nil {
		intN = rand.Intn
	}

	if intN(2) == 0 {
		return first
	}
	return second
}
