package evaluation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ukprep/mocktest/internal/domain"
	"github.com/ukprep/mocktest/internal/evaluation"
	"github.com/ukprep/mocktest/internal/event"
)

func TestService_UpdateLeaderboard(t *testing.T) {
	s := makeService(t)

	err := s.UpdateLeaderboard(context.Background(), domain.EventSessionFinished{
		UserID: "u1",
		Type:   domain.TypeMockTest,
		Result: domain.Result{SessionID: "s1", Score: 75, Correct: 18, Wrong: 6},
	})
	require.NoError(t, err)

	resp, err := s.GetLeaderboard(context.Background(), evaluation.GetLeaderboardRequest{})
	require.NoError(t, err)

	want := &domain.Leaderboard{
		Entries: []domain.LeaderboardEntry{
			{UserID: "u1", Correct: 18},
		},
	}
	require.Equal(t, want, resp)
}

func TestService_UpdateLeaderboard_Accumulates(t *testing.T) {
	s := makeService(t)

	finished := []domain.EventSessionFinished{
		{UserID: "u1", Result: domain.Result{Correct: 10}},
		{UserID: "u2", Result: domain.Result{Correct: 24}},
		{UserID: "u1", Result: domain.Result{Correct: 8}},
	}
	for _, e := range finished {
		require.NoError(t, s.UpdateLeaderboard(context.Background(), e))
	}

	resp, err := s.GetLeaderboard(context.Background(), evaluation.GetLeaderboardRequest{})
	require.NoError(t, err)

	want := []domain.LeaderboardEntry{
		{UserID: "u2", Correct: 24},
		{UserID: "u1", Correct: 18},
	}
	require.Equal(t, want, resp.Entries, "lifetime correct counts accumulate across sessions, best first")
}

func TestService_PublishesLeaderboardUpdated(t *testing.T) {
	eb := event.NewBus()

	var mu sync.Mutex
	var published []domain.EventLeaderboardUpdated
	eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		published = append(published, e.(domain.EventLeaderboardUpdated))
		mu.Unlock()
		return nil
	})

	s := makeService(t, withEventBus(eb))

	err := s.UpdateLeaderboard(context.Background(), domain.EventSessionFinished{
		UserID: "u1",
		Result: domain.Result{Correct: 12},
	})
	require.NoError(t, err)

	eb.Stop()

	require.Len(t, published, 1)
	require.Equal(t, "u1", published[0].UserID)
	require.Equal(t, []domain.LeaderboardEntry{{UserID: "u1", Correct: 12}}, published[0].Leaderboard.Entries)
}

func makeService(t *testing.T, opts ...options) *evaluation.Service {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := evaluation.Config{
		EventBus: event.NewBus(),
		Redis:    rc,
		Prefix:   "test",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return evaluation.NewService(c)
}

type options func(c *evaluation.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *evaluation.Config) {
		c.EventBus = eb
	}
}
