package main

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(1), percentile(samples, 0))
	assert.Equal(t, time.Duration(5), percentile(samples, 50))
	assert.Equal(t, time.Duration(10), percentile(samples, 100))
	assert.Zero(t, percentile(nil, 50))
}

func TestRunPhaseCountsEveryOp(t *testing.T) {
	stats := runPhase(100, 4, 13, func(_ *rand.Rand, i int) error {
		if i%10 == 0 {
			return assert.AnError
		}
		return nil
	})
	assert.Equal(t, 100, stats.ops)
	assert.Equal(t, int64(10), stats.failures)
}
