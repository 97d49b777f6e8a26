// Package httpserver exposes the public sign-in API over fiber.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/and161185/idcore/internal/model"
	"github.com/and161185/idcore/internal/service"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// OAuthProvider is one delegated identity provider.
type OAuthProvider interface {
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (model.ProviderProfile, error)
}

// Deps are the collaborators of the HTTP API.
type Deps struct {
	Auth  service.AuthService
	OAuth map[string]OAuthProvider
	Log   *zap.Logger
	// Health reports storage readiness for /healthz.
	Health func(ctx context.Context) error
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// PublicURL is the externally visible origin, used for LNURL callbacks.
	PublicURL    string
	ChallengeTTL time.Duration
	CookieSecure bool
}

// Server wraps the fiber application.
type Server struct {
	app *fiber.App
	h   *handler
}

// New builds the fiber app and registers routes.
func New(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	h := &handler{
		auth:    d.Auth,
		oauth:   d.OAuth,
		log:     d.Log,
		health:  d.Health,
		public:  d.PublicURL,
		cookies: cookieJar{secure: d.CookieSecure},

		challengeTTL: d.ChallengeTTL,
	}
	if h.challengeTTL <= 0 {
		h.challengeTTL = service.DefaultChallengeTTL
	}

	app := fiber.New(fiber.Config{
		AppName:               "idcore",
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(d.Log),
	})
	app.Use(recover.New())
	app.Use(requestLogger(d.Log))

	app.Get("/healthz", h.healthz)
	if d.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	a := app.Group("/auth")
	a.Post("/challenge", h.issueChallenge)
	a.Get("/lnurl/callback", h.lnurlCallback)
	a.Post("/slashtags/callback", h.slashtagsCallback)
	a.Post("/login/lightning", h.loginLightning)
	a.Post("/login/slashtags", h.loginSlashtags)
	a.Post("/email", h.startEmail)
	a.Get("/email/callback", h.emailCallback)
	a.Get("/oauth/:provider", h.oauthStart)
	a.Get("/oauth/:provider/callback", h.oauthCallback)
	a.Get("/session", h.session)
	a.Post("/session/renew", h.renew)
	a.Post("/logout", h.logout)
	a.Delete("/account", h.deleteAccount)

	return &Server{app: app, h: h}
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error { return s.app.ShutdownWithContext(ctx) }

// requestLogger logs one line per request after the error handler has set the status.
func requestLogger(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		if err := c.Next(); err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(http.StatusInternalServerError)
			}
		}
		log.Info("http request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("dur", time.Since(start)),
		)
		return nil
	}
}
