package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/ukprep/mocktest/internal/domain"
	"github.com/ukprep/mocktest/internal/errors"
	"github.com/ukprep/mocktest/internal/evaluation"
	"github.com/ukprep/mocktest/internal/event"
	"github.com/ukprep/mocktest/internal/progress"
	"github.com/ukprep/mocktest/internal/session"
)

type Config struct {
	Engine       *gin.Engine
	EventBus     *event.Bus
	Session      *session.Service
	Progress     *progress.Service
	Evaluation   *evaluation.Service
	Redis        Redis
	PubsubPrefix string
	JWTSecret    string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	session    *session.Service
	progress   *progress.Service
	evaluation *evaluation.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		session:    c.Session,
		progress:   c.Progress,
		evaluation: c.Evaluation,
		redis:      c.Redis,
		prefix:     c.PubsubPrefix,
	}

	v1 := c.Engine.Group("/v1", authenticate([]byte(c.JWTSecret)))

	v1.POST("/sessions", a.StartSession)
	v1.GET("/sessions", a.History)
	v1.GET("/sessions/:id", a.GetSession)
	v1.POST("/sessions/:id/answers", a.Answer)
	v1.POST("/sessions/:id/submit", a.SubmitAll)
	v1.POST("/sessions/:id/finish", a.Finish)

	v1.POST("/lessons/:id/contents/viewed", a.RecordContentViewed)
	v1.GET("/progress/lessons", a.ListLessonProgress)
	v1.GET("/progress/chapters", a.ListChapterProgress)

	v1.GET("/evaluation", a.GetEvaluation)
	v1.GET("/leaderboard", a.GetLeaderboard)

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameSessionFinished, func(ctx context.Context, e event.Event) error {
		return a.PublishSessionFinished(ctx, e.(domain.EventSessionFinished))
	})
	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})

	return a
}

type (
	StartSessionRequest struct {
		Type  string `json:"type" binding:"required"`
		Count int    `json:"count"`
		// IncludeAnswers switches on the practice-with-answers variant.
		// Only practice sessions may reveal the correct set.
		IncludeAnswers bool `json:"include_answers"`
	}

	StartSessionResponse struct {
		SessionID       string     `json:"session_id"`
		Type            string     `json:"type"`
		TotalQuestions  int        `json:"total_questions"`
		DurationMinutes int        `json:"duration_minutes"`
		StartedAt       time.Time  `json:"started_at"`
		Questions       []Question `json:"questions"`
	}

	Question struct {
		ID               int64          `json:"id"`
		Text             string         `json:"text"`
		MultipleAnswers  bool           `json:"multiple_answers"`
		Options          []Option       `json:"options"`
		Glossary         []GlossaryTerm `json:"glossary,omitempty"`
		CorrectOptionIDs []int64        `json:"correct_option_ids,omitempty"`
		Explanation      string         `json:"explanation,omitempty"`
	}

	Option struct {
		ID   int64  `json:"id"`
		Text string `json:"text"`
	}

	GlossaryTerm struct {
		ID         int64  `json:"id"`
		Title      string `json:"title"`
		Definition string `json:"definition"`
	}
)

func (a *API) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	qtype := domain.QuestionType(req.Type)
	if req.IncludeAnswers && qtype != domain.TypePractice {
		abortWithError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("answers can only be revealed for %s sessions", domain.TypePractice)))
		return
	}

	resp, err := a.session.StartSession(c.Request.Context(), session.StartSessionRequest{
		UserID: userFrom(c),
		Type:   qtype,
		Count:  req.Count,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	out := StartSessionResponse{
		SessionID:       resp.Session.SessionID,
		Type:            string(resp.Session.Type),
		TotalQuestions:  resp.Session.TotalQuestions,
		DurationMinutes: resp.Session.DurationMinutes,
		StartedAt:       resp.Session.StartTime,
		Questions:       make([]Question, 0, len(resp.Questions)),
	}
	for _, q := range resp.Questions {
		out.Questions = append(out.Questions, marshalQuestion(q, req.IncludeAnswers))
	}

	c.JSON(http.StatusCreated, out)
}

// marshalQuestion hides the correct set and explanation unless the
// practice-with-answers variant asked for them.
func marshalQuestion(q domain.Question, reveal bool) Question {
	out := Question{
		ID:              q.QuestionID,
		Text:            q.QuestionText,
		MultipleAnswers: q.MultipleAnswers,
		Options:         make([]Option, 0, len(q.Options)),
	}
	for _, o := range q.Options {
		out.Options = append(out.Options, Option{ID: o.OptionID, Text: o.OptionText})
	}
	for _, g := range q.Glossary {
		out.Glossary = append(out.Glossary, GlossaryTerm{ID: g.GlossaryID, Title: g.Title, Definition: g.Definition})
	}
	if reveal {
		out.CorrectOptionIDs = q.CorrectOptionIDs()
		out.Explanation = q.Explanation
	}
	return out
}

type (
	GetSessionResponse struct {
		SessionID       string          `json:"session_id"`
		Type            string          `json:"type"`
		TotalQuestions  int             `json:"total_questions"`
		DurationMinutes int             `json:"duration_minutes"`
		StartedAt       time.Time       `json:"started_at"`
		FinishedAt      *time.Time      `json:"finished_at,omitempty"`
		Score           *int            `json:"score,omitempty"`
		Answers         []SessionAnswer `json:"answers"`
	}

	SessionAnswer struct {
		Question        Question `json:"question"`
		SelectedChoices []int64  `json:"selected_choices"`
		IsCorrect       bool     `json:"is_correct"`
	}
)

func (a *API) GetSession(c *gin.Context) {
	resp, err := a.session.GetSession(c.Request.Context(), session.GetSessionRequest{
		SessionID: c.Param("id"),
		UserID:    userFrom(c),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	reveal := resp.Session.Type == domain.TypePractice

	out := GetSessionResponse{
		SessionID:       resp.Session.SessionID,
		Type:            string(resp.Session.Type),
		TotalQuestions:  resp.Session.TotalQuestions,
		DurationMinutes: resp.Session.DurationMinutes,
		StartedAt:       resp.Session.StartTime,
		FinishedAt:      resp.Session.FinishTime,
		Score:           resp.Session.Score,
		Answers:         make([]SessionAnswer, 0, len(resp.Answers)),
	}
	for _, ans := range resp.Answers {
		out.Answers = append(out.Answers, SessionAnswer{
			Question:        marshalQuestion(ans.Question, reveal),
			SelectedChoices: ans.SelectedOptionIDs,
			IsCorrect:       ans.IsCorrect,
		})
	}

	c.JSON(http.StatusOK, out)
}

type (
	AnswerRequest struct {
		QuestionID        int64    `json:"question_id" binding:"required"`
		SelectedOptionIDs *[]int64 `json:"selected_option_ids" binding:"required"`
	}

	AnswerResponse struct {
		Correct bool `json:"correct"`
	}
)

func (a *API) Answer(c *gin.Context) {
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	resp, err := a.session.Answer(c.Request.Context(), session.AnswerRequest{
		SessionID:         c.Param("id"),
		UserID:            userFrom(c),
		QuestionID:        req.QuestionID,
		SelectedOptionIDs: *req.SelectedOptionIDs,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, AnswerResponse{Correct: resp.Correct})
}

type (
	SubmitAllRequest struct {
		Answers []AnswerRequest `json:"answers" binding:"required"`
	}

	SubmitAllResponse struct {
		Score   int               `json:"score"`
		Total   int               `json:"total"`
		Correct int               `json:"correct"`
		Wrong   int               `json:"wrong"`
		Results []SubmittedAnswer `json:"results"`
	}

	SubmittedAnswer struct {
		QuestionID int64 `json:"question_id"`
		Accepted   bool  `json:"accepted"`
		Correct    bool  `json:"correct"`
	}
)

func (a *API) SubmitAll(c *gin.Context) {
	var req SubmitAllRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	in := session.SubmitAllRequest{
		SessionID: c.Param("id"),
		UserID:    userFrom(c),
		Answers:   make([]session.AnswerSubmission, 0, len(req.Answers)),
	}
	for _, ans := range req.Answers {
		sub := session.AnswerSubmission{QuestionID: ans.QuestionID}
		if ans.SelectedOptionIDs != nil {
			sub.SelectedOptionIDs = *ans.SelectedOptionIDs
		}
		in.Answers = append(in.Answers, sub)
	}

	resp, err := a.session.SubmitAll(c.Request.Context(), in)
	if err != nil {
		abortWithError(c, err)
		return
	}

	out := SubmitAllResponse{
		Score:   resp.Result.Score,
		Total:   resp.Result.Correct + resp.Result.Wrong,
		Correct: resp.Result.Correct,
		Wrong:   resp.Result.Wrong,
		Results: make([]SubmittedAnswer, 0, len(resp.Results)),
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, SubmittedAnswer{
			QuestionID: r.QuestionID,
			Accepted:   r.Accepted,
			Correct:    r.Correct,
		})
	}

	c.JSON(http.StatusOK, out)
}

type Result struct {
	SessionID  string    `json:"session_id"`
	Score      int       `json:"score"`
	Correct    int       `json:"correct"`
	Wrong      int       `json:"wrong"`
	Passed     bool      `json:"passed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func marshalResult(r domain.Result) Result {
	return Result{
		SessionID:  r.SessionID,
		Score:      r.Score,
		Correct:    r.Correct,
		Wrong:      r.Wrong,
		Passed:     r.Score >= domain.PassMark,
		StartedAt:  r.StartTime,
		FinishedAt: r.FinishTime,
	}
}

func (a *API) Finish(c *gin.Context) {
	resp, err := a.session.Finish(c.Request.Context(), session.FinishRequest{
		SessionID: c.Param("id"),
		UserID:    userFrom(c),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, marshalResult(resp.Result))
}

func (a *API) History(c *gin.Context) {
	var q struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	results, err := a.session.History(c.Request.Context(), session.HistoryRequest{
		UserID: userFrom(c),
		Limit:  q.Limit,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		out = append(out, marshalResult(r))
	}

	c.JSON(http.StatusOK, out)
}

type (
	RecordContentViewedRequest struct {
		ContentIDs []int64 `json:"content_ids" binding:"required"`
	}

	LessonProgress struct {
		LessonID             int64   `json:"lesson_id"`
		CompletionPercentage float64 `json:"completion_percentage"`
	}

	ChapterProgress struct {
		ChapterID            int64   `json:"chapter_id"`
		CompletionPercentage float64 `json:"completion_percentage"`
	}
)

func (a *API) RecordContentViewed(c *gin.Context) {
	lessonID, ok := paramInt64(c, "id")
	if !ok {
		return
	}

	var req RecordContentViewedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	p, err := a.progress.RecordContentViewed(c.Request.Context(), progress.RecordContentViewedRequest{
		UserID:     userFrom(c),
		LessonID:   lessonID,
		ContentIDs: req.ContentIDs,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, LessonProgress{
		LessonID:             p.LessonID,
		CompletionPercentage: p.CompletionPercentage,
	})
}

func (a *API) ListLessonProgress(c *gin.Context) {
	ps, err := a.progress.ListLessonProgress(c.Request.Context(), userFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	out := make([]LessonProgress, 0, len(ps))
	for _, p := range ps {
		out = append(out, LessonProgress{
			LessonID:             p.LessonID,
			CompletionPercentage: p.CompletionPercentage,
		})
	}

	c.JSON(http.StatusOK, out)
}

func (a *API) ListChapterProgress(c *gin.Context) {
	ps, err := a.progress.ListChapterProgress(c.Request.Context(), userFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	out := make([]ChapterProgress, 0, len(ps))
	for _, p := range ps {
		out = append(out, ChapterProgress{
			ChapterID:            p.ChapterID,
			CompletionPercentage: p.CompletionPercentage,
		})
	}

	c.JSON(http.StatusOK, out)
}

type Evaluation struct {
	MockTestsTaken    int64 `json:"mock_tests_taken"`
	QuestionsAnswered int64 `json:"questions_answered"`
	CorrectAnswered   int64 `json:"correct_answered"`
	WrongAnswered     int64 `json:"wrong_answered"`
}

func (a *API) GetEvaluation(c *gin.Context) {
	ev, err := a.evaluation.GetEvaluation(c.Request.Context(), evaluation.GetEvaluationRequest{
		UserID: userFrom(c),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, Evaluation{
		MockTestsTaken:    ev.MockTestsTaken,
		QuestionsAnswered: ev.QuestionsAnswered,
		CorrectAnswered:   ev.CorrectAnswered,
		WrongAnswered:     ev.WrongAnswered,
	})
}

func (a *API) GetLeaderboard(c *gin.Context) {
	l, err := a.evaluation.GetLeaderboard(c.Request.Context(), evaluation.GetLeaderboardRequest{})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, marshalLeaderboard(*l))
}

func paramInt64(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid %s: %q", name, c.Param(name))))
		return 0, false
	}
	return v, true
}

func abortWithError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
