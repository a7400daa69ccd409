package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ukprep/mocktest/internal/bank"
	"github.com/ukprep/mocktest/internal/domain"
	"github.com/ukprep/mocktest/internal/errors"
	"github.com/ukprep/mocktest/internal/event"
	"github.com/ukprep/mocktest/internal/telemetry"
)

const (
	// Defaults for a mock test attempt.
	DefaultTotalQuestions  = 24
	DefaultDurationMinutes = 45
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type Config struct {
	DB       *pgxpool.Pool
	Bank     *bank.Service
	EventBus *event.Bus
}

type Service struct {
	db   *pgxpool.Pool
	bank *bank.Service
	eb   *event.Bus
}

func NewService(c Config) *Service {
	return &Service{
		db:   c.DB,
		bank: c.Bank,
		eb:   c.EventBus,
	}
}

// StartSessionRequest represents a request to start a new quiz session.
type StartSessionRequest struct {
	UserID string
	// Type selects the question pool to sample from.
	Type domain.QuestionType
	// Count is the number of questions to sample. Zero means the default.
	Count int
}

type StartSessionResponse struct {
	Session   domain.Session
	Questions []domain.Question
}

// StartSession samples Count questions of the requested type and creates
// the session together with one answer slot per sampled question, all in
// one transaction. Partial session state is never observable: either every
// row lands or none do. The user's lifetime tests-taken counter is bumped
// in the same transaction.
func (s *Service) StartSession(ctx context.Context, req StartSessionRequest) (*StartSessionResponse, error) {
	if !req.Type.Valid() {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown question type: %q", req.Type))
	}

	count := req.Count
	if count <= 0 {
		count = DefaultTotalQuestions
	}

	pool, err := s.bank.ListIDsByType(ctx, req.Type)
	if err != nil {
		return nil, err
	}

	ids, err := samplePool(pool, count)
	if err != nil {
		return nil, err
	}

	qs, err := s.bank.GetQuestions(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(qs) != count {
		return nil, fmt.Errorf("session: sampled %d questions, loaded %d", count, len(qs))
	}

	ss := domain.Session{
		UserID:          req.UserID,
		Type:            req.Type,
		TotalQuestions:  count,
		DurationMinutes: DefaultDurationMinutes,
		StartTime:       time.Now().UTC(),
	}

	if err := s.insertSession(ctx, &ss, ids); err != nil {
		return nil, err
	}

	telemetry.SessionsStarted.WithLabelValues(string(req.Type)).Inc()

	return &StartSessionResponse{
		Session:   ss,
		Questions: qs,
	}, nil
}

func (s *Service) insertSession(ctx context.Context, ss *domain.Session, questionIDs []int64) (err error) {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate session ID: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insSessionStmt = `
INSERT INTO sessions (session_id, user_id, qtype, total_questions, duration_minutes, start_time)
VALUES ($1, $2, $3, $4, $5, $6);`
		insSlotStmt = `
INSERT INTO answer_slots (session_id, question_id, selected_option_ids, is_correct)
VALUES ($1, $2, '{}', FALSE);`
		bumpTakenStmt = `
INSERT INTO user_evaluations (user_id, mock_tests_taken)
VALUES ($1, 1)
ON CONFLICT (user_id) DO UPDATE SET mock_tests_taken = user_evaluations.mock_tests_taken + 1;`
	)

	_, err = tx.Exec(ctx, insSessionStmt, id, ss.UserID, string(ss.Type), ss.TotalQuestions, ss.DurationMinutes, ss.StartTime)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	ss.SessionID = id.String()

	for _, q := range questionIDs { // TODO: Batch insert
		_, err = tx.Exec(ctx, insSlotStmt, id, q)
		if err != nil {
			return fmt.Errorf("insert answer slot: %w", err)
		}
	}

	_, err = tx.Exec(ctx, bumpTakenStmt, ss.UserID)
	if err != nil {
		return fmt.Errorf("bump tests taken: %w", err)
	}

	return tx.Commit(ctx)
}

type GetSessionRequest struct {
	SessionID string
	UserID    string
}

type GetSessionResponse struct {
	Session domain.Session
	Answers []SessionAnswer
}

// SessionAnswer pairs a slot with its full question payload.
type SessionAnswer struct {
	Question          domain.Question
	SelectedOptionIDs []int64
	IsCorrect         bool
}

// GetSession returns session metadata plus, for each slot, the question,
// the currently selected option ids and current correctness. Sessions
// belonging to other users are indistinguishable from absent ones.
func (s *Service) GetSession(ctx context.Context, req GetSessionRequest) (*GetSessionResponse, error) {
	ss, err := s.getOwnedSession(ctx, s.db, req.SessionID, req.UserID)
	if err != nil {
		return nil, err
	}

	slots, err := s.listSlots(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(slots))
	for _, sl := range slots {
		ids = append(ids, sl.QuestionID)
	}

	qs, err := s.bank.GetQuestions(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]domain.Question, len(qs))
	for _, q := range qs {
		byID[q.QuestionID] = q
	}

	resp := &GetSessionResponse{Session: *ss}
	for _, sl := range slots {
		resp.Answers = append(resp.Answers, SessionAnswer{
			Question:          byID[sl.QuestionID],
			SelectedOptionIDs: sl.SelectedOptionIDs,
			IsCorrect:         sl.IsCorrect,
		})
	}

	return resp, nil
}

type AnswerRequest struct {
	SessionID         string
	UserID            string
	QuestionID        int64
	SelectedOptionIDs []int64
}

type AnswerResponse struct {
	Correct bool
}

// Answer replaces the slot's selection wholesale and recomputes
// correctness by exact set equality against the correct set. Strict form:
// a missing slot or any option id outside the question rejects the whole
// call with no mutation.
func (s *Service) Answer(ctx context.Context, req AnswerRequest) (*AnswerResponse, error) {
	ss, err := s.getOwnedSession(ctx, s.db, req.SessionID, req.UserID)
	if err != nil {
		return nil, err
	}
	if ss.Finished() {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session already finished: %s", req.SessionID))
	}

	correct, err := s.applyAnswer(ctx, ss, req.QuestionID, req.SelectedOptionIDs)
	if err != nil {
		return nil, err
	}

	return &AnswerResponse{Correct: correct}, nil
}

// applyAnswer validates and persists one selection. Callers must have
// resolved session ownership already.
func (s *Service) applyAnswer(ctx context.Context, ss *domain.Session, questionID int64, selected []int64) (bool, error) {
	exists, err := s.slotExists(ctx, ss.SessionID, questionID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("question %d is not part of session %s", questionID, ss.SessionID))
	}

	q, err := s.bank.GetQuestion(ctx, questionID)
	if err != nil {
		return false, err
	}
	if q == nil {
		return false, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question not found: %d", questionID))
	}

	sel := normalize(selected)
	if !subsetOf(sel, normalize(q.OptionIDs())) {
		return false, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("selection contains option ids outside question %d", questionID))
	}

	correct := grade(sel, q.CorrectOptionIDs())

	const stmt = `
UPDATE answer_slots SET selected_option_ids = $3, is_correct = $4
WHERE session_id = $1 AND question_id = $2;`

	if _, err := s.db.Exec(ctx, stmt, ss.SessionID, questionID, sel, correct); err != nil {
		return false, fmt.Errorf("update answer slot: %w", err)
	}

	result := "wrong"
	if correct {
		result = "correct"
	}
	telemetry.AnswersSubmitted.WithLabelValues(result).Inc()

	s.eb.Publish(ctx, domain.EventQuestionAnswered{
		UserID:     ss.UserID,
		ChapterID:  q.ChapterID,
		QuestionID: q.QuestionID,
		Type:       q.Type,
		Correct:    correct,
	})

	return correct, nil
}

type AnswerSubmission struct {
	QuestionID        int64
	SelectedOptionIDs []int64
}

type SubmitAllRequest struct {
	SessionID string
	UserID    string
	Answers   []AnswerSubmission
}

type SubmitAllResponse struct {
	Result  domain.Result
	Results []SubmittedAnswer
}

type SubmittedAnswer struct {
	QuestionID int64
	Accepted   bool
	Correct    bool
}

// SubmitAll is the best-effort batch form of Answer: entries referencing
// questions outside the session, or carrying invalid option ids, are
// skipped instead of failing the batch. The session is finished right
// after. The asymmetry with the strict single-answer call is deliberate
// and callers rely on it.
func (s *Service) SubmitAll(ctx context.Context, req SubmitAllRequest) (*SubmitAllResponse, error) {
	ss, err := s.getOwnedSession(ctx, s.db, req.SessionID, req.UserID)
	if err != nil {
		return nil, err
	}
	if ss.Finished() {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session already finished: %s", req.SessionID))
	}

	results := make([]SubmittedAnswer, 0, len(req.Answers))
	for _, a := range req.Answers {
		correct, err := s.applyAnswer(ctx, ss, a.QuestionID, a.SelectedOptionIDs)
		if errors.Is(err, errors.CodeInvalidArgument) || errors.Is(err, errors.CodeNotFound) {
			results = append(results, SubmittedAnswer{QuestionID: a.QuestionID})
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, SubmittedAnswer{QuestionID: a.QuestionID, Accepted: true, Correct: correct})
	}

	fin, err := s.Finish(ctx, FinishRequest{SessionID: req.SessionID, UserID: req.UserID})
	if err != nil {
		return nil, err
	}

	return &SubmitAllResponse{
		Result:  fin.Result,
		Results: results,
	}, nil
}

type FinishRequest struct {
	SessionID string
	UserID    string
}

type FinishResponse struct {
	Result domain.Result
}

// Finish tallies the slots, fixes the score and timestamps completion, and
// adds the attempt to the user's lifetime counters, all in one
// transaction. Finishing an already finished session is rejected so the
// lifetime ledger is never double-counted.
func (s *Service) Finish(ctx context.Context, req FinishRequest) (*FinishResponse, error) {
	var res domain.Result
	var qtype domain.QuestionType

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		ss, err := s.getOwnedSessionForUpdate(ctx, tx, req.SessionID, req.UserID)
		if err != nil {
			return err
		}
		if ss.Finished() {
			return errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("session already finished: %s", req.SessionID))
		}
		qtype = ss.Type

		const tallyStmt = `
SELECT COUNT(*), COUNT(*) FILTER (WHERE is_correct)
FROM answer_slots WHERE session_id = $1;`

		var total, correct int
		if err := tx.QueryRow(ctx, tallyStmt, req.SessionID).Scan(&total, &correct); err != nil {
			return fmt.Errorf("tally answer slots: %w", err)
		}

		score := scorePercent(correct, total)
		now := time.Now().UTC()

		const finishStmt = `
UPDATE sessions SET finish_time = $2, score = $3 WHERE session_id = $1;`

		if _, err := tx.Exec(ctx, finishStmt, req.SessionID, now, score); err != nil {
			return fmt.Errorf("finish session: %w", err)
		}

		const ledgerStmt = `
INSERT INTO user_evaluations (user_id, questions_answered, correct_answered, wrong_answered)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE SET
	questions_answered = user_evaluations.questions_answered + EXCLUDED.questions_answered,
	correct_answered   = user_evaluations.correct_answered + EXCLUDED.correct_answered,
	wrong_answered     = user_evaluations.wrong_answered + EXCLUDED.wrong_answered;`

		if _, err := tx.Exec(ctx, ledgerStmt, req.UserID, total, correct, total-correct); err != nil {
			return fmt.Errorf("update evaluation ledger: %w", err)
		}

		res = domain.Result{
			SessionID:  req.SessionID,
			Score:      score,
			Correct:    correct,
			Wrong:      total - correct,
			StartTime:  ss.StartTime,
			FinishTime: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.SessionsFinished.WithLabelValues(string(qtype)).Inc()

	s.eb.Publish(ctx, domain.EventSessionFinished{
		UserID: req.UserID,
		Type:   qtype,
		Result: res,
	})

	return &FinishResponse{Result: res}, nil
}

type HistoryRequest struct {
	UserID string
	// Limit bounds the page. Zero means the default; the cap is enforced.
	Limit int
}

// History returns the user's finished sessions, most recent first.
func (s *Service) History(ctx context.Context, req HistoryRequest) ([]domain.Result, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	const stmt = `
SELECT s.session_id, s.score, s.start_time, s.finish_time,
	(SELECT COUNT(*) FROM answer_slots a WHERE a.session_id = s.session_id AND a.is_correct),
	(SELECT COUNT(*) FROM answer_slots a WHERE a.session_id = s.session_id)
FROM sessions s
WHERE s.user_id = $1 AND s.finish_time IS NOT NULL
ORDER BY s.finish_time DESC
LIMIT $2;`

	rows, err := s.db.Query(ctx, stmt, req.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Result, error) {
		var res domain.Result
		var total int
		if err := r.Scan(&res.SessionID, &res.Score, &res.StartTime, &res.FinishTime, &res.Correct, &total); err != nil {
			return domain.Result{}, err
		}
		res.Wrong = total - res.Correct
		return res, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect history: %w", err)
	}

	return results, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const sessionColumns = `session_id, user_id, qtype, total_questions, duration_minutes, start_time, finish_time, score`

func scanSession(row pgx.Row) (*domain.Session, error) {
	var ss domain.Session
	var qtype string
	err := row.Scan(&ss.SessionID, &ss.UserID, &qtype, &ss.TotalQuestions, &ss.DurationMinutes, &ss.StartTime, &ss.FinishTime, &ss.Score)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	ss.Type = domain.QuestionType(qtype)
	return &ss, nil
}

func (s *Service) getOwnedSession(ctx context.Context, q querier, sessionID, userID string) (*domain.Session, error) {
	stmt := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = $1 AND user_id = $2;`

	ss, err := scanSession(q.QueryRow(ctx, stmt, sessionID, userID))
	if err != nil {
		return nil, err
	}
	if ss == nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", sessionID))
	}
	return ss, nil
}

func (s *Service) getOwnedSessionForUpdate(ctx context.Context, tx pgx.Tx, sessionID, userID string) (*domain.Session, error) {
	stmt := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = $1 AND user_id = $2 FOR UPDATE;`

	ss, err := scanSession(tx.QueryRow(ctx, stmt, sessionID, userID))
	if err != nil {
		return nil, err
	}
	if ss == nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", sessionID))
	}
	return ss, nil
}

func (s *Service) slotExists(ctx context.Context, sessionID string, questionID int64) (bool, error) {
	const stmt = `SELECT EXISTS (SELECT 1 FROM answer_slots WHERE session_id = $1 AND question_id = $2);`

	var exists bool
	if err := s.db.QueryRow(ctx, stmt, sessionID, questionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check answer slot: %w", err)
	}
	return exists, nil
}

func (s *Service) listSlots(ctx context.Context, sessionID string) ([]domain.AnswerSlot, error) {
	const stmt = `
SELECT question_id, selected_option_ids, is_correct
FROM answer_slots WHERE session_id = $1
ORDER BY question_id;`

	rows, err := s.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query answer slots: %w", err)
	}

	slots, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.AnswerSlot, error) {
		sl := domain.AnswerSlot{SessionID: sessionID}
		if err := r.Scan(&sl.QuestionID, &sl.SelectedOptionIDs, &sl.IsCorrect); err != nil {
			return domain.AnswerSlot{}, err
		}
		return sl, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect answer slots: %w", err)
	}

	return slots, nil
}

func (s *Service) withTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
