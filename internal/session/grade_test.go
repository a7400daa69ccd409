package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGrade(t *testing.T) {
	tests := map[string]struct {
		selected []int64
		correct  []int64
		want     bool
	}{
		"single answer question, correct option selected": {
			selected: []int64{7},
			correct:  []int64{7},
			want:     true,
		},
		"single answer question, wrong option selected": {
			selected: []int64{3},
			correct:  []int64{7},
			want:     false,
		},
		"multiple answer question, partial selection is wrong": {
			selected: []int64{3},
			correct:  []int64{3, 5},
			want:     false,
		},
		"multiple answer question, full selection is correct": {
			selected: []int64{3, 5},
			correct:  []int64{3, 5},
			want:     true,
		},
		"extra option on top of the correct set is wrong": {
			selected: []int64{3, 5, 9},
			correct:  []int64{3, 5},
			want:     false,
		},
		"order does not matter": {
			selected: []int64{5, 3},
			correct:  []int64{3, 5},
			want:     true,
		},
		"duplicate selections collapse": {
			selected: []int64{7, 7},
			correct:  []int64{7},
			want:     true,
		},
		"empty selection never matches a non-empty correct set": {
			selected: nil,
			correct:  []int64{7},
			want:     false,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, grade(tt.selected, tt.correct))
		})
	}
}

func TestSubsetOf(t *testing.T) {
	valid := normalize([]int64{1, 2, 3, 4})

	assert.True(t, subsetOf(normalize([]int64{2, 4}), valid))
	assert.True(t, subsetOf(nil, valid))
	assert.False(t, subsetOf(normalize([]int64{3, 5, 9}), valid), "option 9 does not belong to the question")
}

func TestScorePercent(t *testing.T) {
	tests := map[string]struct {
		correct int
		total   int
		want    int
	}{
		"3 of 4 correct scores 75":       {correct: 3, total: 4, want: 75},
		"all correct scores 100":         {correct: 24, total: 24, want: 100},
		"none correct scores 0":          {correct: 0, total: 24, want: 0},
		"half is rounded up":             {correct: 1, total: 8, want: 13}, // 12.5 -> 13
		"two thirds rounds to 67":        {correct: 2, total: 3, want: 67},
		"one third rounds to 33":         {correct: 1, total: 3, want: 33},
		"empty session scores 0, not NaN": {correct: 0, total: 0, want: 0},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, scorePercent(tt.correct, tt.total))
		})
	}
}
