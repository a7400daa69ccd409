package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mocktest_sessions_started_total",
		Help: "Sessions created, by question type.",
	}, []string{"type"})

	SessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mocktest_sessions_finished_total",
		Help: "Sessions finished, by question type.",
	}, []string{"type"})

	AnswersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mocktest_answers_submitted_total",
		Help: "Accepted answer submissions, by grading result.",
	}, []string{"result"})
)
