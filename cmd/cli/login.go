package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// authClient talks to the public HTTP API.
type authClient struct {
	base string
	hc   *http.Client
	// session, when set, links the new identity to the signed-in account.
	session string
}

type challengeResp struct {
	K1       string `json:"k1"`
	Callback string `json:"callback"`
}

type lnurlResp struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type loginResp struct {
	AccountID   string    `json:"account_id"`
	DisplayName string    `json:"display_name"`
	Outcome     string    `json:"outcome"`
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type apiError struct {
	Status int
	Msg    string
}

func (e *apiError) Error() string { return fmt.Sprintf("http %d: %s", e.Status, e.Msg) }

func (c *authClient) do(ctx context.Context, method, target string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = strings.TrimRight(c.base, "/") + target
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.session != "" {
		req.Header.Set("Authorization", "Bearer "+c.session)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return &apiError{Status: resp.StatusCode, Msg: e.Error}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// login runs the full pubkey flow: fetch k1, sign and answer it, then sign in.
func (c *authClient) login(ctx context.Context, kind string, s signer) (loginResp, error) {
	var ch challengeResp
	if err := c.do(ctx, http.MethodPost, "/auth/challenge", nil, &ch); err != nil {
		return loginResp{}, fmt.Errorf("challenge: %w", err)
	}
	k1, err := hex.DecodeString(ch.K1)
	if err != nil {
		return loginResp{}, fmt.Errorf("server sent non-hex k1: %w", err)
	}
	sig := s.SignHex(k1)

	switch kind {
	case kindLightning:
		if err := c.answerLNURL(ctx, ch.Callback, sig, s.PubkeyHex()); err != nil {
			return loginResp{}, err
		}
	case kindSlashtags:
		body := map[string]string{"k1": ch.K1, "pubkey": s.PubkeyHex(), "sig": sig}
		if err := c.do(ctx, http.MethodPost, "/auth/slashtags/callback", body, nil); err != nil {
			return loginResp{}, fmt.Errorf("slashtags callback: %w", err)
		}
	default:
		return loginResp{}, fmt.Errorf("unknown kind %q", kind)
	}

	var out loginResp
	body := map[string]string{"k1": ch.K1, "pubkey": s.PubkeyHex()}
	if err := c.do(ctx, http.MethodPost, "/auth/login/"+kind, body, &out); err != nil {
		return loginResp{}, fmt.Errorf("login: %w", err)
	}
	return out, nil
}

func (c *authClient) answerLNURL(ctx context.Context, callback, sig, key string) error {
	u, err := url.Parse(callback)
	if err != nil {
		return fmt.Errorf("bad callback url: %w", err)
	}
	q := u.Query()
	q.Set("sig", sig)
	q.Set("key", key)
	u.RawQuery = q.Encode()

	var st lnurlResp
	if err := c.do(ctx, http.MethodGet, u.String(), nil, &st); err != nil {
		return fmt.Errorf("lnurl callback: %w", err)
	}
	if st.Status != "OK" {
		return errors.New("lnurl callback rejected: " + st.Reason)
	}
	return nil
}
