// Package oauth wires delegated identity providers on top of golang.org/x/oauth2.
// The handshake (state, PKCE, code exchange) is left to x/oauth2; this package
// only fetches the user profile and normalizes it.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/and161185/idcore/internal/errs"
	"github.com/and161185/idcore/internal/model"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// Credentials are the registered client settings for one provider.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Provider is one configured identity provider.
type Provider struct {
	Name        string
	Config      *oauth2.Config
	UserInfoURL string
	// HTTPClient is used for token exchange and profile fetch. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	decode func([]byte) (model.ProviderProfile, error)
}

// GitHub returns a GitHub provider.
func GitHub(c Credentials) *Provider {
	return &Provider{
		Name: "github",
		Config: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Endpoint:     github.Endpoint,
			Scopes:       []string{"read:user", "user:email"},
		},
		UserInfoURL: "https://api.github.com/user",
		decode:      decodeGitHub,
	}
}

// Twitter returns a Twitter (X) OAuth 2.0 provider.
func Twitter(c Credentials) *Provider {
	return &Provider{
		Name: "twitter",
		Config: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://twitter.com/i/oauth2/authorize",
				TokenURL:  "https://api.twitter.com/2/oauth2/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
			Scopes: []string{"users.read", "tweet.read"},
		},
		UserInfoURL: "https://api.twitter.com/2/users/me",
		decode:      decodeTwitter,
	}
}

// AuthCodeURL returns the provider consent URL for state, with an S256 PKCE challenge.
func (p *Provider) AuthCodeURL(state, verifier string) string {
	return p.Config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange trades code for a token and fetches the signed-in user's profile.
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (model.ProviderProfile, error) {
	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)

	tok, err := p.Config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return model.ProviderProfile{}, fmt.Errorf("%w: %s exchange: %v", errs.ErrProviderVerificationFailed, p.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return model.ProviderProfile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return model.ProviderProfile{}, fmt.Errorf("%w: %s profile: %v", errs.ErrProviderVerificationFailed, p.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return model.ProviderProfile{}, fmt.Errorf("read %s profile: %w", p.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return model.ProviderProfile{}, fmt.Errorf("%w: %s profile status %d", errs.ErrProviderVerificationFailed, p.Name, resp.StatusCode)
	}

	prof, err := p.decode(body)
	if err != nil {
		return model.ProviderProfile{}, fmt.Errorf("%w: %s profile: %v", errs.ErrProviderVerificationFailed, p.Name, err)
	}
	prof.Provider = p.Name
	return prof, nil
}

func decodeGitHub(body []byte) (model.ProviderProfile, error) {
	var u struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &u); err != nil {
		return model.ProviderProfile{}, err
	}
	var id string
	if u.ID != 0 {
		id = strconv.FormatInt(u.ID, 10)
	}
	return model.ProviderProfile{ID: id, Login: u.Login, Name: u.Name, Email: u.Email}, nil
}

func decodeTwitter(body []byte) (model.ProviderProfile, error) {
	var u struct {
		Data struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &u); err != nil {
		return model.ProviderProfile{}, err
	}
	return model.ProviderProfile{ID: u.Data.ID, Login: u.Data.Username, Name: u.Data.Name}, nil
}

// Registry looks providers up by name.
type Registry map[string]*Provider

// NewRegistry indexes providers by Name.
func NewRegistry(ps ...*Provider) Registry {
	r := make(Registry, len(ps))
	for _, p := range ps {
		r[p.Name] = p
	}
	return r
}

// Get returns the named provider.
func (r Registry) Get(name string) (*Provider, bool) {
	p, ok := r[name]
	return p, ok
}

// Names returns the configured provider names, sorted.
func (r Registry) Names() []string {
	out := make([]string, 0, len(r))
	for n := range r {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
