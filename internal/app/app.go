package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	httpapp "github.com/pollcast/pollcast/internal/app/http"
	"github.com/pollcast/pollcast/internal/broadcast"
	"github.com/pollcast/pollcast/internal/config"
	"github.com/pollcast/pollcast/internal/dirtyset"
	"github.com/pollcast/pollcast/internal/geo"
	"github.com/pollcast/pollcast/internal/handlers"
	"github.com/pollcast/pollcast/internal/middleware"
	"github.com/pollcast/pollcast/internal/repo/postgres"
	"github.com/pollcast/pollcast/internal/services"
	"github.com/pollcast/pollcast/internal/ws"
)

type App struct {
	HTTPServer *httpapp.App
	Voting     *services.Voting
	Scheduler  *broadcast.Scheduler
	Hub        *ws.Hub

	log     *slog.Logger
	fanout  *broadcast.RedisFanout
	rdb     *redis.Client
	storage *postgres.Storage
	maxmind *geo.MaxMind
}

func NewApp(log *slog.Logger, cfg *config.Config) (*App, error) {
	const op = "app.NewApp"

	storage, err := postgres.New(cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	app := &App{log: log, storage: storage}

	var resolver services.CountryResolver = geo.Noop{}
	if cfg.GeoIP.DBPath != "" {
		maxmind, err := geo.OpenMaxMind(cfg.GeoIP.DBPath)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		app.maxmind = maxmind
		resolver = maxmind
	}

	// With Redis configured the dirty set is shared across processes;
	// without it everything stays in-process.
	var dirty dirtyset.Tracker = dirtyset.NewMemory()
	if cfg.Redis.Addr != "" {
		app.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		dirty = dirtyset.NewRedis(app.rdb)
	}

	hub := ws.NewHub(log)
	app.Hub = hub

	var publisher broadcast.Publisher = broadcast.NewHubPublisher(hub)
	if cfg.Redis.FanOut && app.rdb != nil {
		fanout := broadcast.NewRedisFanout(log, app.rdb, hub)
		app.fanout = fanout
		publisher = fanout
	}

	votingService := services.NewVoting(log, storage, storage, storage, storage, resolver, dirty)
	app.Voting = votingService

	app.Scheduler = broadcast.NewScheduler(log, dirty, storage, publisher, cfg.Broadcast.Interval)

	auth := middleware.NewAuth(cfg.Auth.JWTSecret)
	votingHandler := handlers.NewVotingHandler(votingService)
	liveHandler := handlers.NewLiveHandler(log, votingService, hub)

	app.HTTPServer = httpapp.NewApp(
		log,
		cfg.HTTP.Port,
		cfg.HTTP.AllowedOrigins,
		votingHandler,
		liveHandler,
		auth.Require(),
		auth.Optional(),
	)

	return app, nil
}

// Start launches the background loops: the broadcast scheduler and,
// when enabled, the cross-process fan-out subscriber. They run until
// ctx is done.
func (a *App) Start(ctx context.Context) {
	go a.Scheduler.Run(ctx)
	if a.fanout != nil {
		go a.fanout.Run(ctx)
	}
}

func (a *App) Stop(ctx context.Context) error {
	if err := a.HTTPServer.Stop(ctx); err != nil {
		return err
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			return err
		}
	}
	if a.maxmind != nil {
		if err := a.maxmind.Close(); err != nil {
			return err
		}
	}
	return a.storage.Close()
}
