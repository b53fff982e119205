package auth

import (
	"context"
	"errors"
	"net/url"

	"backend-fittrack/internal/identity"
	"backend-fittrack/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const stateCookie = "oauth_state"

// GoogleAuth is the part of identity.Google the routes need.
type GoogleAuth interface {
	Verify(ctx context.Context, raw string) (identity.User, error)
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, identity.User, error)
}

// TokenSaver keeps the Google OAuth token of a user for later Fit requests.
type TokenSaver interface {
	Save(ctx context.Context, userID string, tok *oauth2.Token) error
}

// ProfileSeeder creates the profile document of a newly seen user.
type ProfileSeeder interface {
	Seed(ctx context.Context, who identity.User) error
}

type Routes struct {
	Google    GoogleAuth
	Tokens    TokenSaver
	Profiles  ProfileSeeder
	ClientURL string
}

func RegisterRoutes(r fiber.Router, svc *Service, routes Routes) {
	r.Post("/register", func(c *fiber.Ctx) error {
		var req RegisterRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		user, tokens, err := svc.Register(c.UserContext(), req)
		if err != nil {
			return registerError(c, err)
		}
		routes.seed(c.UserContext(), user.Identity())
		return c.Status(fiber.StatusCreated).JSON(SessionResponse{User: user.Identity(), Tokens: tokens})
	})

	r.Post("/login", func(c *fiber.Ctx) error {
		var req LoginRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		user, tokens, err := svc.Login(c.UserContext(), req)
		if err != nil {
			var invalid validation.Errors
			if errors.As(err, &invalid) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"errors": invalid})
			}
			if errors.Is(err, ErrInvalidCredentials) {
				return fiber.NewError(fiber.StatusUnauthorized, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(SessionResponse{User: user.Identity(), Tokens: tokens})
	})

	r.Post("/refresh", func(c *fiber.Ctx) error {
		var req RefreshRequest
		if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
			return fiber.NewError(fiber.StatusBadRequest, "refresh_token required")
		}

		who, err := svc.ValidateRefreshToken(c.UserContext(), req.RefreshToken)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		resp, err := svc.GenerateTokens(c.UserContext(), who)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(resp)
	})

	r.Get("/user", func(c *fiber.Ctx) error {
		token := bearerFromHeader(c.Get("Authorization"))
		if token == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Token is required"})
		}
		who, err := svc.Resolve(c.UserContext(), token)
		if err != nil {
			return googleAuthError(c, err)
		}
		return c.JSON(fiber.Map{"success": true, "user": who})
	})

	r.Post("/google", func(c *fiber.Ctx) error {
		var req GoogleLoginRequest
		if err := c.BodyParser(&req); err != nil || req.Token == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Token is required"})
		}
		if routes.Google == nil {
			return googleAuthError(c, identity.ErrNotConfigured)
		}
		who, err := routes.Google.Verify(c.UserContext(), req.Token)
		if err != nil {
			return googleAuthError(c, err)
		}
		routes.seed(c.UserContext(), who)
		return c.JSON(fiber.Map{"success": true, "user": who})
	})

	r.Get("/google/login", func(c *fiber.Ctx) error {
		if routes.Google == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, identity.ErrNotConfigured.Error())
		}
		state := uuid.NewString()
		c.Cookie(&fiber.Cookie{Name: stateCookie, Value: state, HTTPOnly: true, MaxAge: 600})
		return c.Redirect(routes.Google.AuthCodeURL(state), fiber.StatusFound)
	})

	r.Get("/google/callback", func(c *fiber.Ctx) error {
		log := logrus.WithField("route", "google_callback")
		code := c.Query("code")
		if routes.Google == nil || code == "" {
			return c.Redirect("/error", fiber.StatusFound)
		}
		if state := c.Cookies(stateCookie); state != "" && state != c.Query("state") {
			log.Warn("oauth state mismatch")
			return c.Redirect("/error", fiber.StatusFound)
		}

		tok, who, err := routes.Google.Exchange(c.UserContext(), code)
		if err != nil {
			log.WithError(err).Error("exchange authorization code")
			return c.Redirect("/error", fiber.StatusFound)
		}
		if routes.Tokens != nil {
			if err := routes.Tokens.Save(c.UserContext(), who.ID, tok); err != nil {
				log.WithError(err).Error("store google token")
				return c.Redirect("/error", fiber.StatusFound)
			}
		}
		routes.seed(c.UserContext(), who)

		jwtToken, err := svc.IssueAccessToken(who, CallbackTokenTTL)
		if err != nil {
			log.WithError(err).Error("issue access token")
			return c.Redirect("/error", fiber.StatusFound)
		}
		return c.Redirect(routes.ClientURL+"/dashboard?token="+url.QueryEscape(jwtToken), fiber.StatusFound)
	})
}

func (r Routes) seed(ctx context.Context, who identity.User) {
	if r.Profiles == nil {
		return
	}
	if err := r.Profiles.Seed(ctx, who); err != nil {
		logrus.WithError(err).WithField("user_id", who.ID).Warn("seed profile")
	}
}

func registerError(c *fiber.Ctx, err error) error {
	var invalid validation.Errors
	switch {
	case errors.As(err, &invalid):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"errors": invalid})
	case errors.Is(err, ErrEmailTaken):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}

func googleAuthError(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"error":   "Google Auth Error: " + err.Error(),
	})
}
