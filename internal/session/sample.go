package session

import (
	"math/rand"

	"github.com/ukprep/mocktest/internal/errors"
)

// samplePool draws a uniform random sample of n ids from pool, without
// replacement. Every eligible question is equally likely; the returned
// order is the shuffle order. Fails before drawing anything when the pool
// is smaller than n.
func samplePool(pool []int64, n int) ([]int64, error) {
	if len(pool) < n {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("question pool too small: want %d, have %d", n, len(pool)))
	}

	out := make([]int64, len(pool))
	copy(out, pool)
	rand.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})

	return out[:n], nil
}
