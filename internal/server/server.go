package server

import (
	"context"
	"time"

	"backend-fittrack/internal/auth"
	"backend-fittrack/internal/config"
	"backend-fittrack/internal/events"
	"backend-fittrack/internal/fit"
	"backend-fittrack/internal/identity"
	"backend-fittrack/internal/profile"
	"backend-fittrack/internal/stream"
	"backend-fittrack/internal/tracking"
	"backend-fittrack/internal/workout"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
)

// Deps are the connections the server runs on. Every field is optional;
// routes backed by a missing dependency answer 503.
type Deps struct {
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Mongo     *mongo.Database
	Google    *identity.Google
	Publisher *events.Publisher
}

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	Deps   Deps
	Stream *stream.Hub
}

func NewServer(cfg config.Config, deps Deps) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		Deps:   deps,
		Stream: stream.NewHub(deps.Redis),
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	var authOpts []auth.Option
	routes := auth.Routes{ClientURL: s.Cfg.ClientURL}
	if s.Deps.Google != nil {
		authOpts = append(authOpts, auth.WithGoogleVerifier(s.Deps.Google))
		routes.Google = s.Deps.Google
	}

	var fitSvc *fit.Service
	if s.Deps.Redis != nil {
		tokens := fit.NewTokenStore(s.Deps.Redis)
		routes.Tokens = tokens
		var sources fit.TokenSources
		if s.Deps.Google != nil {
			sources = s.Deps.Google
		}
		fitSvc = fit.NewService(tokens, sources, fit.WithCache(fit.NewCache(s.Deps.Redis, s.Cfg.FitCacheTTL)))
	}

	var profileSvc *profile.Service
	if s.Deps.Mongo != nil {
		collection := s.Deps.Mongo.Collection("profiles")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := profile.EnsureIndexes(ctx, collection); err != nil {
			logrus.WithError(err).Warn("create profile indexes")
		}
		cancel()
		profileSvc = profile.NewService(profile.NewMongoRepository(collection))
		routes.Profiles = profileSvc
	}

	authSvc := auth.NewService(s.Cfg.JWTSecret, s.Deps.DB, authOpts...)
	jwtMiddleware := auth.JWTMiddleware(authSvc)

	auth.RegisterRoutes(s.App.Group("/auth"), authSvc, routes)
	fit.RegisterRoutes(s.App, fitSvc, jwtMiddleware)
	profile.RegisterRoutes(s.App, profileSvc, jwtMiddleware)
	workout.RegisterRoutes(s.App)
	trackingSvc := tracking.NewService(s.Deps.DB, s.Stream, s.Deps.Publisher)
	tracking.RegisterRoutes(s.App.Group("/tracking"), trackingSvc, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, jwtMiddleware, tracking.RequireOwner(trackingSvc, "sessionID"))
}

// Close stops background work started by NewServer.
func (s *Server) Close() error {
	return s.Stream.Close()
}
