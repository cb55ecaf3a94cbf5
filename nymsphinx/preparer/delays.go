// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package preparer

import (
	"math/rand"
	"time"

	hrand "github.com/katzenpost/hpqc/rand"
)

// GenerateDelays samples one exponentially distributed delay per hop.
func GenerateDelays(rng *rand.Rand, hops int, average time.Duration) []time.Duration {
	delays := make([]time.Duration, hops)
	if average <= 0 {
		return delays
	}
	lambda := 1 / float64(average)
	for i := range delays {
		delays[i] = time.Duration(hrand.Exp(rng, lambda))
	}
	return delays
}

// SumDelays returns the sum of delays.
func SumDelays(delays []time.Duration) time.Duration {
	var total time.Duration
	for _, d := range delays {
		total += d
	}
	return total
}
