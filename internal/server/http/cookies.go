package httpserver

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	sessionCookie  = "session"
	referrerCookie = "sn_referrer"
	stateCookie    = "oauth_state"
	verifierCookie = "oauth_verifier"

	oauthCookieTTL = 10 * time.Minute
)

type cookieJar struct {
	secure bool
}

func (j cookieJar) setSession(c *fiber.Ctx, token string, exp time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		HTTPOnly: true,
		Secure:   j.secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (j cookieJar) clear(c *fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HTTPOnly: true,
		Secure:   j.secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (j cookieJar) setOAuth(c *fiber.Ctx, name, value string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/auth/oauth",
		MaxAge:   int(oauthCookieTTL.Seconds()),
		HTTPOnly: true,
		Secure:   j.secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// sessionToken returns the bearer token or the session cookie, in that order.
func sessionToken(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return c.Cookies(sessionCookie)
}
