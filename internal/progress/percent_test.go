package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompletionPercentage(t *testing.T) {
	tests := map[string]struct {
		completed int
		total     int
		want      float64
	}{
		"2 of 5 practice questions is 40%": {completed: 2, total: 5, want: 40.0},
		"all items viewed is 100%":         {completed: 10, total: 10, want: 100.0},
		"nothing viewed is 0%":             {completed: 0, total: 7, want: 0.0},
		"empty collection completes to 0":  {completed: 0, total: 0, want: 0.0},
		"1 of 3 keeps the raw ratio":       {completed: 1, total: 3, want: 100.0 / 3},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.InDelta(t, tt.want, completionPercentage(tt.completed, tt.total), 1e-9)
		})
	}
}

// Idempotence of the recompute itself: the percentage is a pure function
// of the set sizes, so the same sizes always give the same answer.
func TestCompletionPercentage_Stable(t *testing.T) {
	first := completionPercentage(2, 5)
	second := completionPercentage(2, 5)
	assert.Equal(t, first, second)
}
