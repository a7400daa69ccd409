package evaluation

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ukprep/mocktest/internal/domain"
	"github.com/ukprep/mocktest/internal/event"
)

const leaderboardSize = 20

type Config struct {
	DB       *pgxpool.Pool
	Redis    redis.UniversalClient
	Prefix   string
	EventBus *event.Bus
}

// Service reads the lifetime evaluation ledger and mirrors a correct-answer
// leaderboard in Redis. The ledger itself is written by the session service
// inside the finish transaction; this service only consumes the
// session.finished event to keep the mirror in step.
type Service struct {
	db     *pgxpool.Pool
	redis  redis.UniversalClient
	prefix string
	eb     *event.Bus
}

func NewService(c Config) *Service {
	s := &Service{
		db:     c.DB,
		redis:  c.Redis,
		prefix: c.Prefix,
		eb:     c.EventBus,
	}

	s.eb.Subscribe(domain.EventNameSessionFinished, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventSessionFinished))
	})

	return s
}

type GetEvaluationRequest struct {
	UserID string
}

// GetEvaluation returns the user's lifetime counters. A user who never
// touched the engine gets an all-zero ledger rather than a not-found.
func (s *Service) GetEvaluation(ctx context.Context, req GetEvaluationRequest) (*domain.Evaluation, error) {
	const stmt = `
SELECT mock_tests_taken, questions_answered, correct_answered, wrong_answered
FROM user_evaluations WHERE user_id = $1;`

	ev := domain.Evaluation{UserID: req.UserID}
	err := s.db.QueryRow(ctx, stmt, req.UserID).
		Scan(&ev.MockTestsTaken, &ev.QuestionsAnswered, &ev.CorrectAnswered, &ev.WrongAnswered)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return &ev, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query evaluation: %w", err)
	}

	return &ev, nil
}

// UpdateLeaderboard folds a finished session's correct count into the
// Redis ranking. Summing per-session increments keeps the mirror equal to
// the lifetime correct ledger without a storage round trip.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventSessionFinished) error {
	if err := s.redis.ZIncrBy(ctx, s.leaderboardKey(), float64(e.Result.Correct), e.UserID).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{})
	if err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		UserID:      e.UserID,
		Leaderboard: *l,
	})

	return nil
}

type GetLeaderboardRequest struct {
	// Limit bounds the ranking. Zero means the default size.
	Limit int
}

// GetLeaderboard returns the top users by lifetime correct answers.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = leaderboardSize
	}

	res, err := s.redis.ZRevRangeWithScores(ctx, s.leaderboardKey(), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			UserID:  z.Member.(string),
			Correct: int64(z.Score),
		})
	}

	return &domain.Leaderboard{Entries: entries}, nil
}

func (s *Service) leaderboardKey() string {
	return fmt.Sprintf("%s:leaderboard:correct", s.prefix)
}
