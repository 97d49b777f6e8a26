package service

import (
	"context"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/and161185/idcore/internal/errs"
	"github.com/and161185/idcore/internal/events"
	"github.com/and161185/idcore/internal/model"
	"github.com/and161185/idcore/internal/session"
	"github.com/and161185/idcore/internal/verifier"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"
)

const pk02aa = "02aa0f1e2d3c4b5a69788796a5b4c3d2e1f00112233445566778899aabbccddee"

type recordPublisher struct {
	mu  sync.Mutex
	got []events.AccountCreated
}

func (p *recordPublisher) Publish(ev events.AccountCreated) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, ev)
}

type authFixture struct {
	svc        *AuthServiceImpl
	accounts   *fakeAccounts
	challenges *fakeChallengeRepo
	lim        *fakeLimiter
	pub        *recordPublisher
	mailer     *fakeMailer
}

func newAuth(t *testing.T) *authFixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	accounts := newFakeAccounts()
	chRepo := newFakeChallengeRepo()
	kr, err := session.NewKeyring([]byte("unit-test-session-secret"))
	if err != nil {
		t.Fatal(err)
	}
	f := &authFixture{
		accounts:   accounts,
		challenges: chRepo,
		lim:        &fakeLimiter{allowOK: true},
		pub:        &recordPublisher{},
		mailer:     &fakeMailer{},
	}
	f.svc = NewAuthService(AuthDeps{
		Challenges:     NewChallengeStore(chRepo, time.Minute, time.Second, log),
		Emails:         NewEmailTokens(newFakeEmailRepo(), time.Minute, time.Second),
		Mailer:         f.mailer,
		Accounts:       accounts,
		Sessions:       session.NewIssuer(kr, time.Hour, accounts),
		Limiter:        f.lim,
		Events:         f.pub,
		Log:            log,
		EmailBaseURL:   "https://example.test",
		StorageTimeout: time.Second,
	})
	f.svc.backoff = time.Millisecond
	return f
}

func (f *authFixture) lightning(t *testing.T, k1, token string) (AuthResult, error) {
	t.Helper()
	f.challenges.put(k1, model.KindLightning, pk02aa)
	return f.svc.Authenticate(context.Background(), AuthRequest{
		Credential:   verifier.LightningCredential{K1: k1, Pubkey: pk02aa},
		SessionToken: token,
		IP:           "10.0.0.1",
		Referrer:     "satoshi",
	})
}

func TestAuthenticate_FreshPubkey_CreatesAccount(t *testing.T) {
	f := newAuth(t)

	res, err := f.lightning(t, "abc123", "")
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	if res.Outcome != OutcomeCreated || res.Account.DisplayName != "02aa0f1e2d" {
		t.Fatalf("res=%+v", res)
	}
	ids, _ := f.accounts.ListIdentities(context.Background(), res.Account.ID)
	if len(ids) != 1 || ids[0].Kind != model.KindLightning || ids[0].ExternalID != pk02aa {
		t.Fatalf("identities: %+v", ids)
	}
	got, err := f.svc.sessions.Verify(res.Tokens.AccessToken)
	if err != nil || got != res.Account.ID {
		t.Fatalf("session: %v %v", got, err)
	}
	if len(f.pub.got) != 1 || f.pub.got[0].Referrer != "satoshi" || f.pub.got[0].Kind != "lightning" {
		t.Fatalf("events: %+v", f.pub.got)
	}
	if f.lim.success != 1 {
		t.Fatalf("limiter success not recorded")
	}
}

func TestAuthenticate_SamePubkeyAgain_SameAccount(t *testing.T) {
	f := newAuth(t)
	first, err := f.lightning(t, "abc123", "")
	if err != nil {
		t.Fatal(err)
	}

	second, err := f.lightning(t, "def456", "")
	if err != nil {
		t.Fatalf("second auth: %v", err)
	}
	if second.Account.ID != first.Account.ID || second.Outcome != OutcomeAuthenticated {
		t.Fatalf("want same account, got %+v", second)
	}
	if f.accounts.count() != 1 || len(f.pub.got) != 1 {
		t.Fatalf("duplicate account or event: accounts=%d events=%d", f.accounts.count(), len(f.pub.got))
	}
}

func TestAuthenticate_OwnedByOther_NotLinked(t *testing.T) {
	f := newAuth(t)
	a, err := f.lightning(t, "abc123", "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := f.svc.Authenticate(context.Background(), AuthRequest{
		Credential: verifier.OAuthCredential{Profile: model.ProviderProfile{Provider: "github", ID: "1", Login: "bob"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.lightning(t, "ghi789", b.Tokens.AccessToken)
	if !errors.Is(err, errs.ErrAccountNotLinked) {
		t.Fatalf("want not linked, got %v", err)
	}
	if f.accounts.identities(a.Account.ID) != 1 || f.accounts.identities(b.Account.ID) != 1 {
		t.Fatalf("identity sets changed")
	}
}

func TestAuthenticate_LinkWithSession(t *testing.T) {
	f := newAuth(t)
	b, err := f.svc.Authenticate(context.Background(), AuthRequest{
		Credential: verifier.OAuthCredential{Profile: model.ProviderProfile{Provider: "twitter", ID: "42", Login: "bob"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := f.lightning(t, "abc123", b.Tokens.AccessToken)
	if err != nil || res.Outcome != OutcomeLinked || res.Account.ID != b.Account.ID {
		t.Fatalf("link: %+v %v", res, err)
	}

	// the same request replayed is a no-op for the same session
	res, err = f.lightning(t, "abc124", b.Tokens.AccessToken)
	if err != nil || res.Outcome != OutcomeNoop {
		t.Fatalf("idempotent relink: %+v %v", res, err)
	}
}

func TestAuthenticate_InvalidSessionIgnored(t *testing.T) {
	f := newAuth(t)
	res, err := f.lightning(t, "abc123", "garbage")
	if err != nil || res.Outcome != OutcomeCreated {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestAuthenticate_ReplayedK1(t *testing.T) {
	f := newAuth(t)
	if _, err := f.lightning(t, "abc123", ""); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Authenticate(context.Background(), AuthRequest{
		Credential: verifier.LightningCredential{K1: "abc123", Pubkey: pk02aa},
	})
	if !errors.Is(err, errs.ErrChallengeExpiredOrReused) {
		t.Fatalf("want expired, got %v", err)
	}
	if f.lim.failures != 1 {
		t.Fatalf("failure must be recorded, got %d", f.lim.failures)
	}
}

func TestAuthenticate_RateLimited(t *testing.T) {
	f := newAuth(t)
	f.lim.allowOK = false
	if _, err := f.lightning(t, "abc123", ""); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want rate limited, got %v", err)
	}
	// challenge untouched when rejected before verification
	if _, ok := f.challenges.m["abc123"]; !ok {
		t.Fatalf("rate-limited attempt consumed the challenge")
	}
}

func TestAuthenticate_LimiterErrorFailsOpen(t *testing.T) {
	f := newAuth(t)
	f.lim.allowErr = errors.New("limiter down")
	if _, err := f.lightning(t, "abc123", ""); err != nil {
		t.Fatalf("limiter outage must not block sign-in: %v", err)
	}
}

func TestAuthenticate_ResolveRetriedOnTimeout(t *testing.T) {
	f := newAuth(t)
	f.accounts.findErr = func(call int) error {
		if call == 1 {
			return errs.ErrStorageTimeout
		}
		return nil
	}
	res, err := f.lightning(t, "abc123", "")
	if err != nil || res.Outcome != OutcomeCreated {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestAuthenticate_ResolveGivesUpAfterAttempts(t *testing.T) {
	f := newAuth(t)
	f.accounts.findErr = func(int) error { return errs.ErrStorageTimeout }
	_, err := f.lightning(t, "abc123", "")
	if !errors.Is(err, errs.ErrStorageTimeout) {
		t.Fatalf("want storage timeout, got %v", err)
	}
	if f.accounts.findCalls != 3 {
		t.Fatalf("want 3 attempts, got %d", f.accounts.findCalls)
	}
}

func TestAnswerChallenge_LNURL(t *testing.T) {
	f := newAuth(t)
	ctx := context.Background()
	c, err := f.svc.IssueChallenge(ctx, "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}

	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	k1, _ := hex.DecodeString(c.K1)
	sig := hex.EncodeToString(ecdsa.Sign(priv, k1).Serialize())
	key := hex.EncodeToString(priv.PubKey().SerializeCompressed())

	if err := f.svc.AnswerChallenge(ctx, model.KindLightning, c.K1, sig, strings.ToUpper(key)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	res, err := f.svc.Authenticate(ctx, AuthRequest{Credential: verifier.LightningCredential{K1: c.K1, Pubkey: key}})
	if err != nil || res.Outcome != OutcomeCreated {
		t.Fatalf("login after answer: %+v %v", res, err)
	}

	if err := f.svc.AnswerChallenge(ctx, model.KindEmail, c.K1, sig, key); !errors.Is(err, errs.ErrMalformedCredential) {
		t.Fatalf("non-pubkey kind: %v", err)
	}
}

func TestEmailFlow(t *testing.T) {
	f := newAuth(t)
	ctx := context.Background()
	if err := f.svc.StartEmail(ctx, "Alice@Example.com", "10.0.0.1", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if f.mailer.to != "alice@example.com" || len(f.mailer.links) != 1 {
		t.Fatalf("mailer: %+v", f.mailer)
	}
	u, err := url.Parse(f.mailer.links[0])
	if err != nil || u.Host != "example.test" || u.Path != "/auth/email/callback" {
		t.Fatalf("link: %q", f.mailer.links[0])
	}

	res, err := f.svc.Authenticate(ctx, AuthRequest{Credential: verifier.EmailCredential{Token: u.Query().Get("token")}})
	if err != nil || res.Account.DisplayName != "alice" {
		t.Fatalf("email auth: %+v %v", res, err)
	}
	if f.pub.got[0].Email != "alice@example.com" {
		t.Fatalf("event email: %+v", f.pub.got[0])
	}
}

// lastMagicToken returns the token of the most recently mailed link.
func (f *authFixture) lastMagicToken(t *testing.T) string {
	t.Helper()
	f.mailer.mu.Lock()
	defer f.mailer.mu.Unlock()
	if len(f.mailer.links) == 0 {
		t.Fatal("no magic link sent")
	}
	u, err := url.Parse(f.mailer.links[len(f.mailer.links)-1])
	if err != nil {
		t.Fatal(err)
	}
	return u.Query().Get("token")
}

func TestEmailLink_OnlyRequestingSessionLinks(t *testing.T) {
	f := newAuth(t)
	ctx := context.Background()
	victim, err := f.lightning(t, "abc123", "")
	if err != nil {
		t.Fatal(err)
	}

	// link requested without a session, opened inside the victim's session
	if err := f.svc.StartEmail(ctx, "mallory@evil.test", "10.0.0.9", ""); err != nil {
		t.Fatal(err)
	}
	res, err := f.svc.Authenticate(ctx, AuthRequest{
		Credential:   verifier.EmailCredential{Token: f.lastMagicToken(t)},
		SessionToken: victim.Tokens.AccessToken,
	})
	if err != nil || res.Outcome != OutcomeCreated || res.Account.ID == victim.Account.ID {
		t.Fatalf("foreign link must not attach to the open session: %+v %v", res, err)
	}
	if n := f.accounts.identities(victim.Account.ID); n != 1 {
		t.Fatalf("victim identities = %d", n)
	}

	// link requested by the signed-in account itself
	if err := f.svc.StartEmail(ctx, "alice@example.com", "10.0.0.1", victim.Tokens.AccessToken); err != nil {
		t.Fatal(err)
	}
	res, err = f.svc.Authenticate(ctx, AuthRequest{
		Credential:   verifier.EmailCredential{Token: f.lastMagicToken(t)},
		SessionToken: victim.Tokens.AccessToken,
	})
	if err != nil || res.Outcome != OutcomeLinked || res.Account.ID != victim.Account.ID {
		t.Fatalf("own link: %+v %v", res, err)
	}
}

func TestAuthenticate_CommittedCreateTimedOut_StillCreated(t *testing.T) {
	f := newAuth(t)
	var once sync.Once
	f.accounts.afterCreate = func() error {
		var err error
		once.Do(func() { err = errs.ErrStorageTimeout })
		return err
	}

	res, err := f.lightning(t, "abc123", "")
	if err != nil || res.Outcome != OutcomeCreated {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if f.accounts.count() != 1 || len(f.pub.got) != 1 || f.pub.got[0].AccountID != res.Account.ID.String() {
		t.Fatalf("accounts=%d events=%+v", f.accounts.count(), f.pub.got)
	}
}

func TestAnswerChallenge_OneAccountPerWalletKey(t *testing.T) {
	f := newAuth(t)
	ctx := context.Background()
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	compressed := hex.EncodeToString(priv.PubKey().SerializeCompressed())
	uncompressed := hex.EncodeToString(priv.PubKey().SerializeUncompressed())

	signIn := func(key string) (AuthResult, error) {
		c, err := f.svc.IssueChallenge(ctx, "10.0.0.1")
		if err != nil {
			t.Fatal(err)
		}
		k1, _ := hex.DecodeString(c.K1)
		sig := hex.EncodeToString(ecdsa.Sign(priv, k1).Serialize())
		if err := f.svc.AnswerChallenge(ctx, model.KindLightning, c.K1, sig, key); err != nil {
			return AuthResult{}, err
		}
		return f.svc.Authenticate(ctx, AuthRequest{Credential: verifier.LightningCredential{K1: c.K1, Pubkey: key}})
	}

	first, err := signIn(compressed)
	if err != nil || first.Outcome != OutcomeCreated {
		t.Fatalf("compressed: %+v %v", first, err)
	}
	if _, err := signIn(uncompressed); !errors.Is(err, errs.ErrMalformedCredential) {
		t.Fatalf("uncompressed key must be rejected, got %v", err)
	}
	if f.accounts.count() != 1 {
		t.Fatalf("accounts = %d", f.accounts.count())
	}
}

func TestWhoAmI_Renew_Delete(t *testing.T) {
	f := newAuth(t)
	ctx := context.Background()
	res, err := f.lightning(t, "abc123", "")
	if err != nil {
		t.Fatal(err)
	}

	acc, ids, err := f.svc.WhoAmI(ctx, res.Tokens.AccessToken)
	if err != nil || acc.ID != res.Account.ID || len(ids) != 1 {
		t.Fatalf("whoami: %+v %+v %v", acc, ids, err)
	}
	renewed, err := f.svc.Renew(ctx, res.Tokens.AccessToken)
	if err != nil || renewed.AccessToken == "" {
		t.Fatalf("renew: %v", err)
	}
	if _, id, err := f.svc.Session(renewed.AccessToken); err != nil || id != res.Account.ID {
		t.Fatalf("session: %v %v", id, err)
	}

	if err := f.svc.DeleteAccount(ctx, res.Tokens.AccessToken); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := f.svc.WhoAmI(ctx, res.Tokens.AccessToken); !errors.Is(err, errs.ErrInvalidSession) {
		t.Fatalf("whoami after delete: %v", err)
	}
	// stateless verification still accepts the token
	if _, err := f.svc.sessions.Verify(res.Tokens.AccessToken); err != nil {
		t.Fatalf("verify after delete: %v", err)
	}
	if _, err := f.svc.Renew(ctx, res.Tokens.AccessToken); !errors.Is(err, errs.ErrInvalidSession) {
		t.Fatalf("renew after delete: %v", err)
	}
}

func TestAuthenticate_ConcurrentSameIdentity(t *testing.T) {
	f := newAuth(t)
	const n = 8
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, n)
	for i := 0; i < n; i++ {
		k1 := "k1-" + string(rune('a'+i))
		f.challenges.put(k1, model.KindLightning, pk02aa)
		wg.Add(1)
		go func(i int, k1 string) {
			defer wg.Done()
			res, err := f.svc.Authenticate(context.Background(), AuthRequest{
				Credential: verifier.LightningCredential{K1: k1, Pubkey: pk02aa},
			})
			if err != nil {
				t.Errorf("auth %d: %v", i, err)
				return
			}
			ids[i] = res.Account.ID
		}(i, k1)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("accounts diverged: %v vs %v", ids[i], ids[0])
		}
	}
	if f.accounts.count() != 1 || len(f.pub.got) != 1 {
		t.Fatalf("accounts=%d events=%d", f.accounts.count(), len(f.pub.got))
	}
}
