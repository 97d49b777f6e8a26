package httpserver

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/and161185/idcore/internal/errs"
	"github.com/and161185/idcore/internal/model"
	"github.com/and161185/idcore/internal/service"
	"github.com/and161185/idcore/internal/verifier"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type handler struct {
	auth    service.AuthService
	oauth   map[string]OAuthProvider
	log     *zap.Logger
	health  func(ctx context.Context) error
	public  string
	cookies cookieJar

	challengeTTL time.Duration
}

type challengeResponse struct {
	K1        string    `json:"k1"`
	Callback  string    `json:"callback"`
	ExpiresAt time.Time `json:"expires_at"`
}

type pubkeyLoginRequest struct {
	K1     string `json:"k1"`
	Pubkey string `json:"pubkey"`
}

type slashtagsAnswer struct {
	K1     string `json:"k1"`
	Pubkey string `json:"pubkey"`
	Sig    string `json:"sig"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type sessionResponse struct {
	AccountID   string    `json:"account_id"`
	DisplayName string    `json:"display_name"`
	Outcome     string    `json:"outcome,omitempty"`
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type identityView struct {
	Kind       string    `json:"kind"`
	ExternalID string    `json:"external_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type accountView struct {
	AccountID   string         `json:"account_id"`
	DisplayName string         `json:"display_name"`
	CreatedAt   time.Time      `json:"created_at"`
	Identities  []identityView `json:"identities"`
}

// lnurlStatus is the LNURL wallet response body.
type lnurlStatus struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (h *handler) healthz(c *fiber.Ctx) error {
	if h.health != nil {
		if err := h.health(c.UserContext()); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *handler) issueChallenge(c *fiber.Ctx) error {
	ch, err := h.auth.IssueChallenge(c.UserContext(), c.IP())
	if err != nil {
		return err
	}
	cb := h.public + "/auth/lnurl/callback?" + url.Values{
		"tag":    {"login"},
		"k1":     {ch.K1},
		"action": {"login"},
	}.Encode()
	return c.Status(fiber.StatusCreated).JSON(challengeResponse{
		K1:        ch.K1,
		Callback:  cb,
		ExpiresAt: ch.CreatedAt.Add(h.challengeTTL),
	})
}

func (h *handler) lnurlCallback(c *fiber.Ctx) error {
	if c.Query("tag") != "login" {
		return c.JSON(lnurlStatus{Status: "ERROR", Reason: "unsupported tag"})
	}
	err := h.auth.AnswerChallenge(c.UserContext(), model.KindLightning, c.Query("k1"), c.Query("sig"), c.Query("key"))
	if err != nil {
		status := statusFor(err)
		if status >= fiber.StatusInternalServerError {
			h.log.Error("lnurl callback failed", zap.Error(err))
		}
		return c.JSON(lnurlStatus{Status: "ERROR", Reason: publicMessage(status, err)})
	}
	return c.JSON(lnurlStatus{Status: "OK"})
}

func (h *handler) slashtagsCallback(c *fiber.Ctx) error {
	var req slashtagsAnswer
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if err := h.auth.AnswerChallenge(c.UserContext(), model.KindSlashtags, req.K1, req.Sig, req.Pubkey); err != nil {
		return err
	}
	return c.JSON(lnurlStatus{Status: "OK"})
}

func (h *handler) loginLightning(c *fiber.Ctx) error {
	var req pubkeyLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	return h.signIn(c, verifier.LightningCredential{K1: req.K1, Pubkey: req.Pubkey})
}

func (h *handler) loginSlashtags(c *fiber.Ctx) error {
	var req pubkeyLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	return h.signIn(c, verifier.SlashtagsCredential{K1: req.K1, Pubkey: req.Pubkey})
}

func (h *handler) startEmail(c *fiber.Ctx) error {
	var req emailRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if err := h.auth.StartEmail(c.UserContext(), req.Email, c.IP(), sessionToken(c)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (h *handler) emailCallback(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return fiber.NewError(fiber.StatusBadRequest, "token is required")
	}
	return h.signIn(c, verifier.EmailCredential{Token: token})
}

func (h *handler) oauthStart(c *fiber.Ctx) error {
	p, ok := h.oauth[c.Params("provider")]
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "unknown provider")
	}
	state, err := randomState()
	if err != nil {
		return err
	}
	v := oauth2.GenerateVerifier()
	h.cookies.setOAuth(c, stateCookie, state)
	h.cookies.setOAuth(c, verifierCookie, v)
	return c.Redirect(p.AuthCodeURL(state, v), fiber.StatusFound)
}

func (h *handler) oauthCallback(c *fiber.Ctx) error {
	p, ok := h.oauth[c.Params("provider")]
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "unknown provider")
	}
	state, v := c.Cookies(stateCookie), c.Cookies(verifierCookie)
	h.cookies.clear(c, stateCookie)
	h.cookies.clear(c, verifierCookie)

	if e := c.Query("error"); e != "" {
		return fmt.Errorf("%w: provider returned %q", errs.ErrProviderVerificationFailed, e)
	}
	if state == "" || c.Query("state") != state || v == "" {
		return fiber.NewError(fiber.StatusBadRequest, "oauth state mismatch")
	}
	code := c.Query("code")
	if code == "" {
		return fiber.NewError(fiber.StatusBadRequest, "code is required")
	}
	profile, err := p.Exchange(c.UserContext(), code, v)
	if err != nil {
		return err
	}
	return h.signIn(c, verifier.OAuthCredential{Profile: profile})
}

// signIn authenticates cred, links to the current session if present and sets the cookie.
func (h *handler) signIn(c *fiber.Ctx, cred verifier.Credential) error {
	res, err := h.auth.Authenticate(c.UserContext(), service.AuthRequest{
		Credential:   cred,
		SessionToken: sessionToken(c),
		IP:           c.IP(),
		Referrer:     c.Cookies(referrerCookie),
	})
	if err != nil {
		return err
	}
	h.cookies.setSession(c, res.Tokens.AccessToken, res.Tokens.ExpiresAt)
	if res.Outcome == service.OutcomeCreated {
		h.cookies.clear(c, referrerCookie)
		c.Status(fiber.StatusCreated)
	}
	return c.JSON(sessionResponse{
		AccountID:   res.Account.ID.String(),
		DisplayName: res.Account.DisplayName,
		Outcome:     string(res.Outcome),
		Token:       res.Tokens.AccessToken,
		ExpiresAt:   res.Tokens.ExpiresAt,
	})
}

func (h *handler) session(c *fiber.Ctx) error {
	acc, ids, err := h.auth.WhoAmI(c.UserContext(), sessionToken(c))
	if err != nil {
		return err
	}
	view := accountView{
		AccountID:   acc.ID.String(),
		DisplayName: acc.DisplayName,
		CreatedAt:   acc.CreatedAt,
		Identities:  make([]identityView, 0, len(ids)),
	}
	for _, id := range ids {
		view.Identities = append(view.Identities, identityView{
			Kind:       string(id.Kind),
			ExternalID: id.ExternalID,
			CreatedAt:  id.CreatedAt,
		})
	}
	return c.JSON(view)
}

func (h *handler) renew(c *fiber.Ctx) error {
	token := sessionToken(c)
	tokens, err := h.auth.Renew(c.UserContext(), token)
	if err != nil {
		return err
	}
	claims, id, err := h.auth.Session(tokens.AccessToken)
	if err != nil {
		return err
	}
	h.cookies.setSession(c, tokens.AccessToken, tokens.ExpiresAt)
	return c.JSON(sessionResponse{
		AccountID:   id.String(),
		DisplayName: claims.Name,
		Token:       tokens.AccessToken,
		ExpiresAt:   tokens.ExpiresAt,
	})
}

func (h *handler) logout(c *fiber.Ctx) error {
	h.cookies.clear(c, sessionCookie)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handler) deleteAccount(c *fiber.Ctx) error {
	if err := h.auth.DeleteAccount(c.UserContext(), sessionToken(c)); err != nil {
		return err
	}
	h.cookies.clear(c, sessionCookie)
	return c.SendStatus(fiber.StatusNoContent)
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
