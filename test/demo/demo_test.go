//go:build integration_test

package demo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ukprep/mocktest/internal/api"
)

// The demo expects a running server with a seeded content database:
// enough mockTest and practice questions to start sessions, and lesson 1
// carrying contents 1 and 2.
//
//	CONFIG_PATH=config.yaml go run ./cmd
//	go test -tags integration_test ./test/demo
const (
	baseURL     = "http://localhost:8080"
	redisAddr   = "localhost:6379"
	redisPrefix = "mocktest"
	jwtSecret   = "local-dev-secret"
	lessonID    = 1
)

func TestMockTestFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		user = "demo-user"
		hc   = makeClient(t, user)
		wg   = new(sync.WaitGroup)
	)

	// Watch the user's notification channel for the finished result.
	notifications := subscribeAsUser(t, ctx, makeRedis(t), wg, user)

	// Start a mock test
	var started struct {
		SessionID string `json:"session_id"`
		Questions []struct {
			ID      int64 `json:"id"`
			Options []struct {
				ID int64 `json:"id"`
			} `json:"options"`
		} `json:"questions"`
	}
	hc.post(ctx, t, "/v1/sessions", map[string]any{"type": "mockTest", "count": 24}, &started)
	require.Len(t, started.Questions, 24)

	// Answer the first question on its own, then batch the rest.
	var answered struct {
		Correct bool `json:"correct"`
	}
	hc.post(ctx, t, fmt.Sprintf("/v1/sessions/%s/answers", started.SessionID), map[string]any{
		"question_id":         started.Questions[0].ID,
		"selected_option_ids": []int64{started.Questions[0].Options[0].ID},
	}, &answered)

	answers := make([]map[string]any, 0, len(started.Questions)-1)
	for _, q := range started.Questions[1:] {
		answers = append(answers, map[string]any{
			"question_id":         q.ID,
			"selected_option_ids": []int64{q.Options[0].ID},
		})
	}

	var submitted struct {
		Score   int `json:"score"`
		Total   int `json:"total"`
		Correct int `json:"correct"`
		Wrong   int `json:"wrong"`
	}
	hc.post(ctx, t, fmt.Sprintf("/v1/sessions/%s/submit", started.SessionID), map[string]any{
		"answers": answers,
	}, &submitted)
	require.Equal(t, 24, submitted.Total)
	require.Equal(t, submitted.Total, submitted.Correct+submitted.Wrong)

	// The finished session shows up in history, newest first.
	var history []struct {
		SessionID string `json:"session_id"`
		Score     int    `json:"score"`
	}
	hc.get(ctx, t, "/v1/sessions", &history)
	require.NotEmpty(t, history)
	require.Equal(t, started.SessionID, history[0].SessionID)
	require.Equal(t, submitted.Score, history[0].Score)

	// A finished session rejects a second finish and further answers,
	// and neither attempt moves the lifetime counters.
	var before, after struct {
		MockTestsTaken    int64 `json:"mock_tests_taken"`
		QuestionsAnswered int64 `json:"questions_answered"`
		CorrectAnswered   int64 `json:"correct_answered"`
		WrongAnswered     int64 `json:"wrong_answered"`
	}
	hc.get(ctx, t, "/v1/evaluation", &before)

	status := hc.postStatus(ctx, t, fmt.Sprintf("/v1/sessions/%s/finish", started.SessionID), nil)
	require.Equal(t, http.StatusUnprocessableEntity, status)

	status = hc.postStatus(ctx, t, fmt.Sprintf("/v1/sessions/%s/answers", started.SessionID), map[string]any{
		"question_id":         started.Questions[0].ID,
		"selected_option_ids": []int64{started.Questions[0].Options[0].ID},
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)

	hc.get(ctx, t, "/v1/evaluation", &after)
	require.Equal(t, before, after)

	// And the result notification arrives on the user's channel.
	select {
	case n := <-notifications:
		require.Equal(t, "session.finished", n.Event)
	case <-ctx.Done():
		t.Fatal("timed out waiting for session.finished notification")
	}

	wg.Wait()
}

// Chapter progress counts a practice question once, no matter how many
// times the user answers it.
func TestPracticeProgressIdempotence(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// A fresh user so the first progress row we see is ours.
	user := fmt.Sprintf("demo-practice-%d", time.Now().UnixNano())
	hc := makeClient(t, user)

	var started struct {
		SessionID string `json:"session_id"`
		Questions []struct {
			ID      int64 `json:"id"`
			Options []struct {
				ID int64 `json:"id"`
			} `json:"options"`
		} `json:"questions"`
	}
	hc.post(ctx, t, "/v1/sessions", map[string]any{"type": "practice", "count": 3}, &started)
	require.NotEmpty(t, started.Questions)

	q := started.Questions[0]
	answer := func(optionID int64) {
		hc.post(ctx, t, fmt.Sprintf("/v1/sessions/%s/answers", started.SessionID), map[string]any{
			"question_id":         q.ID,
			"selected_option_ids": []int64{optionID},
		}, nil)
	}
	answer(q.Options[0].ID)

	// Progress lands asynchronously.
	type chapterProgress struct {
		ChapterID            int64   `json:"chapter_id"`
		CompletionPercentage float64 `json:"completion_percentage"`
	}
	var first []chapterProgress
	require.Eventually(t, func() bool {
		hc.get(ctx, t, "/v1/progress/chapters", &first)
		return len(first) > 0
	}, 10*time.Second, 200*time.Millisecond)

	// Re-answering the same question, even with a different pick, must
	// not move the percentage.
	answer(q.Options[len(q.Options)-1].ID)
	time.Sleep(time.Second)

	var second []chapterProgress
	hc.get(ctx, t, "/v1/progress/chapters", &second)
	require.Equal(t, first, second)
}

// Viewing the same lesson contents twice leaves the completion
// percentage where the first call put it.
func TestLessonViewedIdempotence(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	user := fmt.Sprintf("demo-lesson-%d", time.Now().UnixNano())
	hc := makeClient(t, user)

	viewed := map[string]any{"content_ids": []int64{1, 2}}
	path := fmt.Sprintf("/v1/lessons/%d/contents/viewed", lessonID)

	var first, second struct {
		CompletionPercentage float64 `json:"completion_percentage"`
	}
	hc.post(ctx, t, path, viewed, &first)
	require.Greater(t, first.CompletionPercentage, 0.0)

	hc.post(ctx, t, path, viewed, &second)
	require.Equal(t, first.CompletionPercentage, second.CompletionPercentage)
}

type client struct {
	http  *http.Client
	token string
}

func makeClient(t *testing.T, user string) *client {
	claims := jwt.RegisteredClaims{
		Subject:   user,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(t, err)

	return &client{
		http:  &http.Client{Timeout: 10 * time.Second},
		token: token,
	}
}

func (c *client) post(ctx context.Context, t *testing.T, path string, body, out any) {
	t.Helper()

	b, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(b))
	require.NoError(t, err)
	c.do(t, req, out)
}

func (c *client) get(ctx context.Context, t *testing.T, path string, out any) {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	require.NoError(t, err)
	c.do(t, req, out)
}

func (c *client) do(t *testing.T, req *http.Request, out any) {
	t.Helper()

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Less(t, resp.StatusCode, 300, "unexpected status %d: %s", resp.StatusCode, raw)

	if out != nil {
		require.NoError(t, json.Unmarshal(raw, out))
	}
}

// postStatus sends the request and returns the response status without
// requiring success.
func (c *client) postStatus(ctx context.Context, t *testing.T, path string, body any) int {
	t.Helper()

	b, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode
}

func makeRedis(t *testing.T) redis.UniversalClient {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{redisAddr},
	})
	require.NoError(t, r.Ping(context.Background()).Err())
	return r
}

func subscribeAsUser(t *testing.T, ctx context.Context, r redis.UniversalClient, wg *sync.WaitGroup, user string) <-chan api.Notification {
	sub := r.Subscribe(ctx, fmt.Sprintf("%s:user:%s", redisPrefix, user))

	out := make(chan api.Notification, 16)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-sub.Channel():
				if !ok {
					return
				}
				var n api.Notification
				if err := json.Unmarshal([]byte(m.Payload), &n); err != nil {
					t.Logf("bad notification payload: %v", err)
					continue
				}
				select {
				case out <- n:
				default:
				}
				if n.Event == "session.finished" {
					return
				}
			}
		}
	}()

	return out
}
