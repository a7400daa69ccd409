package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ukprep/mocktest/internal/api"
	"github.com/ukprep/mocktest/internal/bank"
	"github.com/ukprep/mocktest/internal/evaluation"
	"github.com/ukprep/mocktest/internal/event"
	"github.com/ukprep/mocktest/internal/progress"
	"github.com/ukprep/mocktest/internal/session"
	"github.com/ukprep/mocktest/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Auth struct {
		JWTSecret string
	}

	Redis struct {
		Addrs  []string
		Pass   string
		Prefix string
	}

	Postgres struct {
		// Content holds the question bank, lessons and progress tables.
		Content struct {
			Addr string
			User string
			Pass string
			Name string
		}

		// Session holds sessions, answer slots and evaluation ledgers.
		Session struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis redis.UniversalClient

		postgres struct {
			content *pgxpool.Pool
			session *pgxpool.Pool
		}
	}

	service struct {
		bank       *bank.Service
		session    *session.Service
		progress   *progress.Service
		evaluation *evaluation.Service
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(addr, user, pass, name string) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", user, pass, addr, name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			return nil, err
		}

		return db, nil
	}

	s.infra.postgres.content, err = connect(s.c.Postgres.Content.Addr, s.c.Postgres.Content.User, s.c.Postgres.Content.Pass, s.c.Postgres.Content.Name)
	if err != nil {
		return fmt.Errorf("postgres: content: %w", err)
	}

	s.infra.postgres.session, err = connect(s.c.Postgres.Session.Addr, s.c.Postgres.Session.User, s.c.Postgres.Session.Pass, s.c.Postgres.Session.Name)
	if err != nil {
		return fmt.Errorf("postgres: session: %w", err)
	}

	return nil
}

func (s *Server) initService() {
	s.service.bank = bank.NewService(bank.Config{
		DB: s.infra.postgres.content,
	})

	s.service.session = session.NewService(session.Config{
		DB:       s.infra.postgres.session,
		Bank:     s.service.bank,
		EventBus: s.eb,
	})

	s.service.progress = progress.NewService(progress.Config{
		DB:       s.infra.postgres.content,
		Bank:     s.service.bank,
		EventBus: s.eb,
	})

	s.service.evaluation = evaluation.NewService(evaluation.Config{
		DB:       s.infra.postgres.session,
		Redis:    s.infra.redis,
		Prefix:   s.c.Redis.Prefix,
		EventBus: s.eb,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Engine:       e,
		EventBus:     s.eb,
		Session:      s.service.session,
		Progress:     s.service.progress,
		Evaluation:   s.service.evaluation,
		Redis:        s.infra.redis,
		PubsubPrefix: s.c.Redis.Prefix,
		JWTSecret:    s.c.Auth.JWTSecret,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	s.infra.postgres.content.Close()
	s.infra.postgres.session.Close()

	slog.InfoContext(ctx, "server: shutdown completed")
}
