package session

import (
	"slices"

	"github.com/shopspring/decimal"
)

// normalize returns ids as a sorted set. Selections carry set semantics,
// so duplicates collapse before any comparison.
func normalize(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// subsetOf reports whether every id in sub appears in super.
// Both arguments must be normalized.
func subsetOf(sub, super []int64) bool {
	for _, id := range sub {
		if !slices.Contains(super, id) {
			return false
		}
	}
	return true
}

// grade scores a selection against the correct set by exact set equality:
// every correct option selected and nothing else. Partial credit is never
// given, even for multiple-answer questions.
func grade(selected, correct []int64) bool {
	return slices.Equal(normalize(selected), normalize(correct))
}

// scorePercent computes the session score as a 0-100 integer, rounded
// half-up. A session with no slots scores 0.
func scorePercent(correct, total int) int {
	if total == 0 {
		return 0
	}

	score := decimal.NewFromInt(int64(correct) * 100).
		Div(decimal.NewFromInt(int64(total))).
		Round(0)

	return int(score.IntPart())
}
