package domain

const (
	EventNameSessionFinished    = "session.finished"
	EventNameQuestionAnswered   = "question.answered"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

// EventSessionFinished fires after a session's score is finalized.
type EventSessionFinished struct {
	UserID string
	Type   QuestionType
	Result Result
}

func (EventSessionFinished) Name() string { return EventNameSessionFinished }

// EventQuestionAnswered fires after every successful answer call.
// Chapter progress only consumes it for practice questions.
type EventQuestionAnswered struct {
	UserID     string
	ChapterID  int64
	QuestionID int64
	Type       QuestionType
	Correct    bool
}

func (EventQuestionAnswered) Name() string { return EventNameQuestionAnswered }

type EventLeaderboardUpdated struct {
	UserID      string
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
