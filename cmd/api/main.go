package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-fittrack/internal/config"
	"backend-fittrack/internal/db"
	"backend-fittrack/internal/events"
	"backend-fittrack/internal/identity"
	"backend-fittrack/internal/logging"
	"backend-fittrack/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	connectMongo    func(config.Config) (*mongo.Client, *mongo.Database, error)
	dialEvents      func(config.Config) (*events.Publisher, error)
	newGoogle       func(context.Context, config.Config) (*identity.Google, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, server.Deps, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		connectMongo:    db.ConnectMongo,
		dialEvents:      dialEvents,
		newGoogle:       newGoogle,
		notify:          signal.Notify,
		run:             Run,
	}
}

func dialEvents(cfg config.Config) (*events.Publisher, error) {
	if cfg.AMQPURL == "" {
		return nil, nil
	}
	return events.Dial(cfg.AMQPURL, cfg.AMQPExchange)
}

func newGoogle(ctx context.Context, cfg config.Config) (*identity.Google, error) {
	return identity.NewGoogle(ctx, identity.Config{
		Issuer:       cfg.GoogleIssuer,
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURI:  cfg.GoogleRedirectURI,
	})
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()
	logging.Init(cfg.LogLevel, cfg.LogJSON)

	var sd server.Deps
	var err error

	sd.DB, err = deps.connectPostgres(cfg)
	if err != nil {
		logrus.WithError(err).Error("postgres connection failed")
	}

	sd.Redis = deps.connectRedis(cfg)

	mongoClient, mongoDB, err := deps.connectMongo(cfg)
	if err != nil {
		logrus.WithError(err).Error("mongo connection failed, profiles disabled")
	}
	sd.Mongo = mongoDB
	if mongoClient != nil {
		defer func() { _ = mongoClient.Disconnect(context.Background()) }()
	}

	sd.Publisher, err = deps.dialEvents(cfg)
	if err != nil {
		logrus.WithError(err).Error("rabbitmq connection failed, workout events disabled")
	}

	sd.Google, err = deps.newGoogle(context.Background(), cfg)
	if err != nil {
		logrus.WithError(err).Warn("google sign-in disabled")
		sd.Google = nil
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, sd, signals, nil); err != nil {
		logrus.WithError(err).Error("server exited with error")
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and waits for termination signals.
func Run(ctx context.Context, cfg config.Config, deps server.Deps, signals <-chan os.Signal, listen ListenFunc) error {
	srv := server.NewServer(cfg, deps)

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	if err := srv.Close(); err != nil {
		logrus.WithError(err).Warn("close stream hub")
	}
	if deps.Publisher != nil {
		_ = deps.Publisher.Close()
	}
	if deps.DB != nil {
		deps.DB.Close()
	}
	if deps.Redis != nil {
		_ = deps.Redis.Close()
	}
	return nil
}
