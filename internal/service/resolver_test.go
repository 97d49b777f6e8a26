package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/and161185/idcore/internal/errs"
	"github.com/and161185/idcore/internal/model"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

var lnID = model.VerifiedIdentity{Kind: model.KindLightning, ExternalID: "02aa0f1e2d3c4b5a69788796a5b4c3d2e1f00112233445566778899aabbccddee"}

func seed(t *testing.T, f *fakeAccounts, id model.VerifiedIdentity) model.Account {
	t.Helper()
	a, err := f.CreateAccountWithIdentity(context.Background(), model.Profile{DisplayName: "seed"}, id.Kind, id.ExternalID)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return *a
}

func blank(t *testing.T, f *fakeAccounts) model.Account {
	t.Helper()
	return seed(t, f, model.VerifiedIdentity{Kind: model.KindEmail, ExternalID: uuid.Must(uuid.NewV4()).String() + "@x.io"})
}

func TestResolve_Claimed_NoSession_Authenticates(t *testing.T) {
	f := newFakeAccounts()
	owner := seed(t, f, lnID)
	r := NewResolver(f, zap.NewNop())

	res, err := r.Resolve(context.Background(), lnID, nil)
	if err != nil || res.Outcome != OutcomeAuthenticated || res.Account.ID != owner.ID {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestResolve_Claimed_SameSession_Noop(t *testing.T) {
	f := newFakeAccounts()
	owner := seed(t, f, lnID)
	r := NewResolver(f, zap.NewNop())

	res, err := r.Resolve(context.Background(), lnID, &owner.ID)
	if err != nil || res.Outcome != OutcomeNoop || res.Account.ID != owner.ID {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if f.identities(owner.ID) != 1 {
		t.Fatalf("noop must not mutate identities")
	}
}

func TestResolve_Claimed_OtherSession_NotLinked(t *testing.T) {
	f := newFakeAccounts()
	a := seed(t, f, lnID)
	b := blank(t, f)
	r := NewResolver(f, zap.NewNop())

	_, err := r.Resolve(context.Background(), lnID, &b.ID)
	if !errors.Is(err, errs.ErrAccountNotLinked) {
		t.Fatalf("want not linked, got %v", err)
	}
	if f.identities(a.ID) != 1 || f.identities(b.ID) != 1 {
		t.Fatalf("conflict must not change identity sets")
	}
}

func TestResolve_Unclaimed_NoSession_Creates(t *testing.T) {
	f := newFakeAccounts()
	r := NewResolver(f, zap.NewNop())

	res, err := r.Resolve(context.Background(), lnID, nil)
	if err != nil || res.Outcome != OutcomeCreated {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if res.Account.DisplayName != "02aa0f1e2d" {
		t.Fatalf("display name: %q", res.Account.DisplayName)
	}
	if f.count() != 1 {
		t.Fatalf("want exactly one account, got %d", f.count())
	}
}

func TestResolve_Unclaimed_Session_Links(t *testing.T) {
	f := newFakeAccounts()
	b := blank(t, f)
	r := NewResolver(f, zap.NewNop())

	res, err := r.Resolve(context.Background(), lnID, &b.ID)
	if err != nil || res.Outcome != OutcomeLinked || res.Account.ID != b.ID {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if f.identities(b.ID) != 2 {
		t.Fatalf("identity not linked")
	}

	// relinking the same kind replaces instead of duplicating
	other := model.VerifiedIdentity{Kind: model.KindLightning, ExternalID: "03bbcc"}
	if _, err := r.Resolve(context.Background(), other, &b.ID); err != nil {
		t.Fatalf("relink: %v", err)
	}
	if f.identities(b.ID) != 2 {
		t.Fatalf("relink must replace, have %d identities", f.identities(b.ID))
	}
}

func TestResolve_Unclaimed_SessionAccountGone(t *testing.T) {
	f := newFakeAccounts()
	r := NewResolver(f, zap.NewNop())
	ghost := uuid.Must(uuid.NewV4())

	if _, err := r.Resolve(context.Background(), lnID, &ghost); !errors.Is(err, errs.ErrInvalidSession) {
		t.Fatalf("want invalid session, got %v", err)
	}
}

func TestResolve_UniquenessRace_RetriesAsLookup(t *testing.T) {
	f := newFakeAccounts()
	r := NewResolver(f, zap.NewNop())

	// another request claims the identity between our lookup and create
	var winner model.Account
	once := sync.Once{}
	f.beforeAdd = func() {
		once.Do(func() {
			f.beforeAdd = nil
			winner = seed(t, f, lnID)
		})
	}

	res, err := r.Resolve(context.Background(), lnID, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Outcome != OutcomeAuthenticated || res.Account.ID != winner.ID {
		t.Fatalf("want winner's account, got %+v", res)
	}
	if f.count() != 1 {
		t.Fatalf("race produced %d accounts", f.count())
	}
}

func TestResolve_ConcurrentCreate_SingleAccount(t *testing.T) {
	f := newFakeAccounts()
	r := NewResolver(f, zap.NewNop())

	const n = 8
	ids := make(chan uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), lnID, nil)
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			ids <- res.Account.ID
		}()
	}
	wg.Wait()
	close(ids)

	var first uuid.UUID
	for id := range ids {
		if first == uuid.Nil {
			first = id
		}
		if id != first {
			t.Fatalf("two accounts for one identity: %v vs %v", first, id)
		}
	}
	if f.count() != 1 {
		t.Fatalf("want 1 account, got %d", f.count())
	}
}

func TestResolve_LookupErrorPropagates(t *testing.T) {
	f := newFakeAccounts()
	boom := errors.New("boom")
	f.findErr = func(int) error { return boom }
	r := NewResolver(f, zap.NewNop())

	if _, err := r.Resolve(context.Background(), lnID, nil); !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
}

func TestDisplayName(t *testing.T) {
	cases := []struct {
		id   model.VerifiedIdentity
		want string
	}{
		{lnID, "02aa0f1e2d"},
		{model.VerifiedIdentity{Kind: model.KindSlashtags, ExternalID: "abc"}, "abc"},
		{model.VerifiedIdentity{Kind: model.KindOAuthGitHub, ExternalID: "583231", DisplayNameHint: "octocat"}, "octocat"},
		{model.VerifiedIdentity{Kind: model.KindOAuthTwitter, ExternalID: "12345678901234"}, "1234567890"},
		{model.VerifiedIdentity{Kind: model.KindEmail, ExternalID: "alice@example.com"}, "alice"},
	}
	for _, tc := range cases {
		if got := DisplayName(tc.id); got != tc.want {
			t.Fatalf("DisplayName(%+v)=%q want %q", tc.id, got, tc.want)
		}
	}
}
