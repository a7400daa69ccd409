package progress

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ukprep/mocktest/internal/bank"
	"github.com/ukprep/mocktest/internal/domain"
	"github.com/ukprep/mocktest/internal/errors"
	"github.com/ukprep/mocktest/internal/event"
)

type Config struct {
	DB       *pgxpool.Pool
	Bank     *bank.Service
	EventBus *event.Bus
}

// Service maintains per-user completion state for lessons (content viewed)
// and chapters (practice questions answered). Chapter progress feeds off
// the question.answered event published by the session service.
type Service struct {
	db   *pgxpool.Pool
	bank *bank.Service
	eb   *event.Bus
}

func NewService(c Config) *Service {
	s := &Service{
		db:   c.DB,
		bank: c.Bank,
		eb:   c.EventBus,
	}

	s.eb.Subscribe(domain.EventNameQuestionAnswered, func(ctx context.Context, e event.Event) error {
		return s.HandleQuestionAnswered(ctx, e.(domain.EventQuestionAnswered))
	})

	return s
}

type RecordContentViewedRequest struct {
	UserID     string
	LessonID   int64
	ContentIDs []int64
}

// RecordContentViewed idempotently adds the content items to the user's
// viewed set for the lesson and recomputes the completion percentage from
// the live counts. Ids not belonging to the lesson are ignored; the
// percentage only ever counts the intersection with the lesson's contents.
func (s *Service) RecordContentViewed(ctx context.Context, req RecordContentViewedRequest) (*domain.LessonProgress, error) {
	exists, err := s.lessonExists(ctx, req.LessonID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("lesson not found: %d", req.LessonID))
	}

	var pct float64
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		const upsertStmt = `
INSERT INTO lesson_progress (user_id, lesson_id, completion_percentage)
VALUES ($1, $2, 0)
ON CONFLICT (user_id, lesson_id) DO NOTHING;`

		if _, err := tx.Exec(ctx, upsertStmt, req.UserID, req.LessonID); err != nil {
			return fmt.Errorf("upsert lesson progress: %w", err)
		}

		// Membership insert is restricted to content actually in the
		// lesson, and re-adding a viewed item is a no-op.
		const addStmt = `
INSERT INTO lesson_progress_contents (user_id, lesson_id, content_id)
SELECT $1, $2, content_id FROM lesson_contents
WHERE lesson_id = $2 AND content_id = ANY($3)
ON CONFLICT DO NOTHING;`

		if _, err := tx.Exec(ctx, addStmt, req.UserID, req.LessonID, req.ContentIDs); err != nil {
			return fmt.Errorf("add viewed contents: %w", err)
		}

		const countStmt = `
SELECT
	(SELECT COUNT(*) FROM lesson_progress_contents p
		JOIN lesson_contents c USING (content_id)
		WHERE p.user_id = $1 AND p.lesson_id = $2 AND c.lesson_id = $2),
	(SELECT COUNT(*) FROM lesson_contents WHERE lesson_id = $2);`

		var completed, total int
		if err := tx.QueryRow(ctx, countStmt, req.UserID, req.LessonID).Scan(&completed, &total); err != nil {
			return fmt.Errorf("count lesson contents: %w", err)
		}

		pct = completionPercentage(completed, total)

		const setStmt = `
UPDATE lesson_progress SET completion_percentage = $3
WHERE user_id = $1 AND lesson_id = $2;`

		if _, err := tx.Exec(ctx, setStmt, req.UserID, req.LessonID, pct); err != nil {
			return fmt.Errorf("set lesson completion: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &domain.LessonProgress{
		UserID:               req.UserID,
		LessonID:             req.LessonID,
		CompletionPercentage: pct,
	}, nil
}

// HandleQuestionAnswered records chapter progress for practice questions.
// Mock test answers carry no chapter progress.
func (s *Service) HandleQuestionAnswered(ctx context.Context, e domain.EventQuestionAnswered) error {
	if e.Type != domain.TypePractice {
		return nil
	}

	_, err := s.RecordQuestionAnswered(ctx, RecordQuestionAnsweredRequest{
		UserID:     e.UserID,
		ChapterID:  e.ChapterID,
		QuestionID: e.QuestionID,
	})
	return err
}

type RecordQuestionAnsweredRequest struct {
	UserID     string
	ChapterID  int64
	QuestionID int64
}

// RecordQuestionAnswered idempotently marks a practice question answered
// for the user and recomputes the chapter percentage against the chapter's
// live practice-question count. Non-practice questions are a no-op.
func (s *Service) RecordQuestionAnswered(ctx context.Context, req RecordQuestionAnsweredRequest) (*domain.ChapterProgress, error) {
	q, err := s.bank.GetQuestion(ctx, req.QuestionID)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question not found: %d", req.QuestionID))
	}
	if q.Type != domain.TypePractice || q.ChapterID != req.ChapterID {
		return nil, nil
	}

	var pct float64
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		const upsertStmt = `
INSERT INTO chapter_progress (user_id, chapter_id, completion_percentage)
VALUES ($1, $2, 0)
ON CONFLICT (user_id, chapter_id) DO NOTHING;`

		if _, err := tx.Exec(ctx, upsertStmt, req.UserID, req.ChapterID); err != nil {
			return fmt.Errorf("upsert chapter progress: %w", err)
		}

		const addStmt = `
INSERT INTO chapter_progress_questions (user_id, chapter_id, question_id)
VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING;`

		if _, err := tx.Exec(ctx, addStmt, req.UserID, req.ChapterID, req.QuestionID); err != nil {
			return fmt.Errorf("add answered question: %w", err)
		}

		const countStmt = `
SELECT
	(SELECT COUNT(*) FROM chapter_progress_questions p
		JOIN questions q ON q.question_id = p.question_id
		WHERE p.user_id = $1 AND p.chapter_id = $2 AND q.chapter_id = $2 AND q.qtype = $3),
	(SELECT COUNT(*) FROM questions WHERE chapter_id = $2 AND qtype = $3);`

		var completed, total int
		if err := tx.QueryRow(ctx, countStmt, req.UserID, req.ChapterID, string(domain.TypePractice)).Scan(&completed, &total); err != nil {
			return fmt.Errorf("count practice questions: %w", err)
		}

		pct = completionPercentage(completed, total)

		const setStmt = `
UPDATE chapter_progress SET completion_percentage = $3
WHERE user_id = $1 AND chapter_id = $2;`

		if _, err := tx.Exec(ctx, setStmt, req.UserID, req.ChapterID, pct); err != nil {
			return fmt.Errorf("set chapter completion: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &domain.ChapterProgress{
		UserID:               req.UserID,
		ChapterID:            req.ChapterID,
		CompletionPercentage: pct,
	}, nil
}

// ListLessonProgress returns the user's lesson percentages, lesson order.
func (s *Service) ListLessonProgress(ctx context.Context, userID string) ([]domain.LessonProgress, error) {
	const stmt = `
SELECT lesson_id, completion_percentage
FROM lesson_progress WHERE user_id = $1
ORDER BY lesson_id;`

	rows, err := s.db.Query(ctx, stmt, userID)
	if err != nil {
		return nil, fmt.Errorf("query lesson progress: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.LessonProgress, error) {
		p := domain.LessonProgress{UserID: userID}
		if err := r.Scan(&p.LessonID, &p.CompletionPercentage); err != nil {
			return domain.LessonProgress{}, err
		}
		return p, nil
	})
}

// ListChapterProgress returns the user's chapter percentages, chapter order.
func (s *Service) ListChapterProgress(ctx context.Context, userID string) ([]domain.ChapterProgress, error) {
	const stmt = `
SELECT chapter_id, completion_percentage
FROM chapter_progress WHERE user_id = $1
ORDER BY chapter_id;`

	rows, err := s.db.Query(ctx, stmt, userID)
	if err != nil {
		return nil, fmt.Errorf("query chapter progress: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.ChapterProgress, error) {
		p := domain.ChapterProgress{UserID: userID}
		if err := r.Scan(&p.ChapterID, &p.CompletionPercentage); err != nil {
			return domain.ChapterProgress{}, err
		}
		return p, nil
	})
}

func (s *Service) lessonExists(ctx context.Context, lessonID int64) (bool, error) {
	const stmt = `SELECT EXISTS (SELECT 1 FROM lessons WHERE lesson_id = $1);`

	var exists bool
	if err := s.db.QueryRow(ctx, stmt, lessonID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check lesson: %w", err)
	}
	return exists, nil
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
