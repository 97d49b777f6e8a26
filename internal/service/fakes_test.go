package service

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/idcore/internal/errs"
	"github.com/and161185/idcore/internal/model"
	"github.com/and161185/idcore/internal/repository"
	"github.com/gofrs/uuid/v5"
)

type idKey struct {
	kind model.Kind
	ext  string
}

// fakeAccounts enforces the same uniqueness rules as the SQL schema.
type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*model.Account
	owners   map[idKey]uuid.UUID

	// hooks
	findErr     func(call int) error
	findCalls   int
	beforeAdd   func()
	afterCreate func() error
}

var _ repository.AccountRepository = (*fakeAccounts)(nil)

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{accounts: map[uuid.UUID]*model.Account{}, owners: map[idKey]uuid.UUID{}}
}

func (f *fakeAccounts) FindAccountByIdentity(_ context.Context, kind model.Kind, ext string) (*model.Account, error) {
	f.mu.Lock()
	f.findCalls++
	call := f.findCalls
	hook := f.findErr
	f.mu.Unlock()
	if hook != nil {
		if err := hook(call); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.owners[idKey{kind, ext}]
	if !ok {
		return nil, errs.ErrNotFound
	}
	a := *f.accounts[id]
	return &a, nil
}

func (f *fakeAccounts) CreateAccountWithIdentity(_ context.Context, p model.Profile, kind model.Kind, ext string) (*model.Account, error) {
	if f.beforeAdd != nil {
		f.beforeAdd()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, taken := f.owners[idKey{kind, ext}]; taken {
		return nil, errs.ErrUniquenessViolation
	}
	a := &model.Account{ID: uuid.Must(uuid.NewV4()), DisplayName: p.DisplayName, CreatedAt: time.Now()}
	f.accounts[a.ID] = a
	f.owners[idKey{kind, ext}] = a.ID
	if f.afterCreate != nil {
		if err := f.afterCreate(); err != nil {
			return nil, err
		}
	}
	c := *a
	return &c, nil
}

func (f *fakeAccounts) AttachIdentity(_ context.Context, accountID uuid.UUID, kind model.Kind, ext string) error {
	if f.beforeAdd != nil {
		f.beforeAdd()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[accountID]; !ok {
		return errs.ErrNotFound
	}
	if owner, taken := f.owners[idKey{kind, ext}]; taken && owner != accountID {
		return errs.ErrUniquenessViolation
	}
	for k, owner := range f.owners {
		if owner == accountID && k.kind == kind {
			delete(f.owners, k)
		}
	}
	f.owners[idKey{kind, ext}] = accountID
	return nil
}

func (f *fakeAccounts) GetAccount(_ context.Context, id uuid.UUID) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (f *fakeAccounts) ListIdentities(_ context.Context, id uuid.UUID) ([]model.ExternalIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ExternalIdentity
	for k, owner := range f.owners {
		if owner == id {
			out = append(out, model.ExternalIdentity{Kind: k.kind, ExternalID: k.ext, AccountID: id})
		}
	}
	return out, nil
}

func (f *fakeAccounts) DeleteAccount(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[id]; !ok {
		return errs.ErrNotFound
	}
	delete(f.accounts, id)
	for k, owner := range f.owners {
		if owner == id {
			delete(f.owners, k)
		}
	}
	return nil
}

func (f *fakeAccounts) identities(id uuid.UUID) int {
	ids, _ := f.ListIdentities(context.Background(), id)
	return len(ids)
}

func (f *fakeAccounts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.accounts)
}

type fakeChallengeRepo struct {
	mu sync.Mutex
	m  map[string]model.Challenge

	block bool
}

var _ repository.ChallengeRepository = (*fakeChallengeRepo)(nil)

func newFakeChallengeRepo() *fakeChallengeRepo {
	return &fakeChallengeRepo{m: map[string]model.Challenge{}}
}

func (f *fakeChallengeRepo) Create(ctx context.Context, c model.Challenge) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[c.K1] = c
	return nil
}

func (f *fakeChallengeRepo) Bind(_ context.Context, k1 string, kind model.Kind, pubkey string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.m[k1]
	if !ok || time.Since(c.CreatedAt) >= ttl || (c.Bound() && (c.Pubkey != pubkey || c.Kind != kind)) {
		return errs.ErrNotFound
	}
	c.Kind, c.Pubkey = kind, pubkey
	f.m[k1] = c
	return nil
}

func (f *fakeChallengeRepo) Consume(ctx context.Context, k1 string, ttl time.Duration) (model.Challenge, bool, error) {
	if f.block {
		<-ctx.Done()
		return model.Challenge{}, false, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.m[k1]
	if !ok {
		return model.Challenge{}, false, nil
	}
	delete(f.m, k1)
	if time.Since(c.CreatedAt) >= ttl {
		return model.Challenge{}, false, nil
	}
	return c, true, nil
}

func (f *fakeChallengeRepo) DeleteExpired(_ context.Context, ttl time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, c := range f.m {
		if time.Since(c.CreatedAt) >= ttl {
			delete(f.m, k)
			n++
		}
	}
	return n, nil
}

// put stores a challenge already bound to a signer key.
func (f *fakeChallengeRepo) put(k1 string, kind model.Kind, pubkey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[k1] = model.Challenge{K1: k1, Kind: kind, Pubkey: pubkey, CreatedAt: time.Now()}
}

type fakeEmailRepo struct {
	mu sync.Mutex
	m  map[string]model.EmailToken
}

func newFakeEmailRepo() *fakeEmailRepo { return &fakeEmailRepo{m: map[string]model.EmailToken{}} }

func (f *fakeEmailRepo) Create(_ context.Context, t model.EmailToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[t.TokenHash] = t
	return nil
}

func (f *fakeEmailRepo) Consume(_ context.Context, hash string) (model.EmailToken, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.m[hash]
	delete(f.m, hash)
	if !ok || !time.Now().Before(t.ExpiresAt) {
		return model.EmailToken{}, false, nil
	}
	return t, true, nil
}

func (f *fakeEmailRepo) DeleteExpired(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, t := range f.m {
		if !time.Now().Before(t.ExpiresAt) {
			delete(f.m, k)
			n++
		}
	}
	return n, nil
}

type fakeLimiter struct {
	mu       sync.Mutex
	allowOK  bool
	allowErr error
	failures int
	success  int
}

func (f *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	return f.allowOK, time.Minute, f.allowErr
}

func (f *fakeLimiter) Success(context.Context, string, []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.success++
	return nil
}

func (f *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
	return false, 0, nil
}

type fakeMailer struct {
	mu    sync.Mutex
	to    string
	links []string
}

func (m *fakeMailer) SendMagicLink(_ context.Context, to, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.to = to
	m.links = append(m.links, link)
	return nil
}
