package main

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/and161185/idcore/internal/sigcheck"
)

func TestSigners_ProduceVerifiableSignatures(t *testing.T) {
	k1 := make([]byte, 32)
	if _, err := rand.Read(k1); err != nil {
		t.Fatal(err)
	}
	checkers := map[string]sigcheck.Checker{
		kindLightning: sigcheck.LNURL{},
		kindSlashtags: sigcheck.Slashtags{},
	}
	for kind, checker := range checkers {
		raw, err := generateKey(kind)
		if err != nil {
			t.Fatalf("%s keygen: %v", kind, err)
		}
		s, err := newSigner(kind, raw)
		if err != nil {
			t.Fatalf("%s signer: %v", kind, err)
		}
		sig := s.SignHex(k1)
		if err := checker.Check(hex.EncodeToString(k1), sig, s.PubkeyHex()); err != nil {
			t.Fatalf("%s: signature rejected: %v", kind, err)
		}

		other := make([]byte, 32)
		if err := checker.Check(hex.EncodeToString(other), sig, s.PubkeyHex()); err == nil {
			t.Fatalf("%s: signature over another k1 accepted", kind)
		}

		again, err := newSigner(kind, raw)
		if err != nil || again.PubkeyHex() != s.PubkeyHex() {
			t.Fatalf("%s: key does not round-trip: %v", kind, err)
		}
	}
}

func TestLightningPubkeyIsCompressed(t *testing.T) {
	raw, err := generateKey(kindLightning)
	if err != nil {
		t.Fatal(err)
	}
	s, _ := newSigner(kindLightning, raw)
	pk := s.PubkeyHex()
	if len(pk) != 66 || (pk[:2] != "02" && pk[:2] != "03") {
		t.Fatalf("unexpected pubkey %q", pk)
	}
}

func TestNewSigner_Errors(t *testing.T) {
	if _, err := newSigner(kindLightning, []byte{1, 2}); err == nil {
		t.Fatalf("want error on short lightning key")
	}
	if _, err := newSigner(kindSlashtags, []byte{1, 2}); err == nil {
		t.Fatalf("want error on short slashtags key")
	}
	if _, err := newSigner("nostr", make([]byte, 32)); err == nil {
		t.Fatalf("want error on unknown kind")
	}
	if _, err := generateKey("nostr"); err == nil {
		t.Fatalf("want error on unknown kind")
	}
}
