package domain

import (
	"time"
)

// QuestionType partitions the question bank. A session samples only from
// questions carrying its own type tag.
type QuestionType string

const (
	TypePractice     QuestionType = "practice"
	TypeMockTest     QuestionType = "mockTest"
	TypeFreeMockTest QuestionType = "freeMockTest"
)

// Valid reports whether t is one of the known type tags.
func (t QuestionType) Valid() bool {
	switch t {
	case TypePractice, TypeMockTest, TypeFreeMockTest:
		return true
	}
	return false
}

// Question is one entry in the question bank. Options keep bank order.
type Question struct {
	QuestionID      int64
	ChapterID       int64
	Type            QuestionType
	QuestionText    string
	Explanation     string
	MultipleAnswers bool
	Options         []Option
	Glossary        []GlossaryTerm
}

// CorrectOptionIDs returns the correct set used for scoring.
func (q Question) CorrectOptionIDs() []int64 {
	var ids []int64
	for _, o := range q.Options {
		if o.IsCorrect {
			ids = append(ids, o.OptionID)
		}
	}
	return ids
}

// OptionIDs returns every option id of the question, correct or not.
func (q Question) OptionIDs() []int64 {
	ids := make([]int64, 0, len(q.Options))
	for _, o := range q.Options {
		ids = append(ids, o.OptionID)
	}
	return ids
}

type Option struct {
	OptionID   int64
	OptionText string
	IsCorrect  bool
}

type GlossaryTerm struct {
	GlossaryID int64
	Title      string
	Definition string
}

// PassMark is the minimum score a mock test needs to count as passed.
const PassMark = 70

// Session is one attempt at a quiz or mock test. Once FinishTime is set
// the session is terminal and its answers may no longer change.
type Session struct {
	SessionID       string
	UserID          string
	Type            QuestionType
	TotalQuestions  int
	DurationMinutes int
	StartTime       time.Time
	FinishTime      *time.Time
	Score           *int
}

// Finished reports whether the session reached its terminal state.
func (s Session) Finished() bool {
	return s.FinishTime != nil
}

// Passed reports whether the finished session meets the pass mark.
func (s Session) Passed() bool {
	return s.Score != nil && *s.Score >= PassMark
}

// AnswerSlot holds the learner's current selection for one question of one
// session. The selected set is replaced wholesale on every answer call.
type AnswerSlot struct {
	SessionID         string
	QuestionID        int64
	SelectedOptionIDs []int64
	IsCorrect         bool
}

// Result is the finished-session summary returned by finish and history.
type Result struct {
	SessionID  string
	Score      int
	Correct    int
	Wrong      int
	StartTime  time.Time
	FinishTime time.Time
}

// LessonProgress is the per-user completion state of one lesson,
// recomputed from the viewed-content set on every update.
type LessonProgress struct {
	UserID               string
	LessonID             int64
	CompletionPercentage float64
}

// ChapterProgress is the per-user completion state of one chapter's
// practice questions.
type ChapterProgress struct {
	UserID               string
	ChapterID            int64
	CompletionPercentage float64
}

// Evaluation is the lifetime ledger of a learner. Counters only ever grow.
type Evaluation struct {
	UserID            string
	MockTestsTaken    int64
	QuestionsAnswered int64
	CorrectAnswered   int64
	WrongAnswered     int64
}

// Leaderboard ranks learners by lifetime correct answers, best first.
type Leaderboard struct {
	Entries []LeaderboardEntry
}

type LeaderboardEntry struct {
	UserID  string
	Correct int64
}
