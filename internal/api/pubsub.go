package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ukprep/mocktest/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Leaderboard struct {
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		UserID  string `json:"user_id"`
		Correct int64  `json:"correct"`
	}
)

// PublishSessionFinished pushes the finished session's result to the
// owner's notification channel.
func (a *API) PublishSessionFinished(ctx context.Context, e domain.EventSessionFinished) error {
	return a.publishNotification(ctx, e.UserID, e.Name(), marshalResult(e.Result))
}

// PublishLeaderboardUpdated fans the fresh standings out to every ranked
// user's channel.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	data := marshalLeaderboard(e.Leaderboard)

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range data.Entries {
		entry := entry
		eg.Go(func() error {
			return a.publishNotification(ctx, entry.UserID, e.Name(), data)
		})
	}

	return eg.Wait()
}

func marshalLeaderboard(l domain.Leaderboard) Leaderboard {
	out := Leaderboard{
		Entries: make([]LeaderboardEntry, 0, len(l.Entries)),
	}
	for _, entry := range l.Entries {
		out.Entries = append(out.Entries, LeaderboardEntry{
			UserID:  entry.UserID,
			Correct: entry.Correct,
		})
	}
	return out
}

func (a *API) publishNotification(ctx context.Context, user, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:user:%s", a.prefix, user), b).Err()
}
