package bank

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ukprep/mocktest/internal/domain"
)

// Service is read-only access to the question bank. Session operations
// never mutate it, so concurrent reads need no coordination.
type Service struct {
	db *pgxpool.Pool
}

type Config struct {
	DB *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{db: c.DB}
}

// ListIDsByType returns the ids of every question carrying the type tag.
// This is the sampling pool for new sessions.
func (s *Service) ListIDsByType(ctx context.Context, t domain.QuestionType) ([]int64, error) {
	const stmt = `SELECT question_id FROM questions WHERE qtype = $1;`

	rows, err := s.db.Query(ctx, stmt, string(t))
	if err != nil {
		return nil, fmt.Errorf("bank: list question ids: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("bank: collect question ids: %w", err)
	}

	return ids, nil
}

// GetQuestions loads full question payloads (options and glossary included)
// for the given ids, preserving the order of ids. Ids that do not resolve
// are silently absent from the result.
func (s *Service) GetQuestions(ctx context.Context, ids []int64) ([]domain.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	const qStmt = `
SELECT question_id, chapter_id, qtype, question_text, COALESCE(explanation, ''), multiple_answers
FROM questions
WHERE question_id = ANY($1);`

	rows, err := s.db.Query(ctx, qStmt, ids)
	if err != nil {
		return nil, fmt.Errorf("bank: query questions: %w", err)
	}

	byID := make(map[int64]*domain.Question, len(ids))
	_, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (struct{}, error) {
		var q domain.Question
		var qtype string
		if err := r.Scan(&q.QuestionID, &q.ChapterID, &qtype, &q.QuestionText, &q.Explanation, &q.MultipleAnswers); err != nil {
			return struct{}{}, err
		}
		q.Type = domain.QuestionType(qtype)
		byID[q.QuestionID] = &q
		return struct{}{}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("bank: collect questions: %w", err)
	}

	if err := s.loadOptions(ctx, ids, byID); err != nil {
		return nil, err
	}
	if err := s.loadGlossary(ctx, ids, byID); err != nil {
		return nil, err
	}

	qs := make([]domain.Question, 0, len(byID))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			qs = append(qs, *q)
		}
	}

	return qs, nil
}

// GetQuestion is the single-id form of GetQuestions.
func (s *Service) GetQuestion(ctx context.Context, id int64) (*domain.Question, error) {
	qs, err := s.GetQuestions(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, nil
	}
	return &qs[0], nil
}

func (s *Service) loadOptions(ctx context.Context, ids []int64, byID map[int64]*domain.Question) error {
	const stmt = `
SELECT question_id, option_id, option_text, is_correct
FROM question_options
WHERE question_id = ANY($1)
ORDER BY option_id;`

	rows, err := s.db.Query(ctx, stmt, ids)
	if err != nil {
		return fmt.Errorf("bank: query options: %w", err)
	}

	_, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (struct{}, error) {
		var qid int64
		var o domain.Option
		if err := r.Scan(&qid, &o.OptionID, &o.OptionText, &o.IsCorrect); err != nil {
			return struct{}{}, err
		}
		if q, ok := byID[qid]; ok {
			q.Options = append(q.Options, o)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("bank: collect options: %w", err)
	}

	return nil
}

func (s *Service) loadGlossary(ctx context.Context, ids []int64, byID map[int64]*domain.Question) error {
	const stmt = `
SELECT question_id, glossary_id, title, definition
FROM question_glossary
WHERE question_id = ANY($1)
ORDER BY glossary_id;`

	rows, err := s.db.Query(ctx, stmt, ids)
	if err != nil {
		return fmt.Errorf("bank: query glossary: %w", err)
	}

	_, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (struct{}, error) {
		var qid int64
		var g domain.GlossaryTerm
		if err := r.Scan(&qid, &g.GlossaryID, &g.Title, &g.Definition); err != nil {
			return struct{}{}, err
		}
		if q, ok := byID[qid]; ok {
			q.Glossary = append(q.Glossary, g)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("bank: collect glossary: %w", err)
	}

	return nil
}

// CountPractice returns how many practice questions a chapter has. Chapter
// progress percentages are always derived against this live count.
func (s *Service) CountPractice(ctx context.Context, chapterID int64) (int, error) {
	const stmt = `SELECT COUNT(*) FROM questions WHERE chapter_id = $1 AND qtype = $2;`

	var n int
	if err := s.db.QueryRow(ctx, stmt, chapterID, string(domain.TypePractice)).Scan(&n); err != nil {
		return 0, fmt.Errorf("bank: count practice questions: %w", err)
	}

	return n, nil
}
