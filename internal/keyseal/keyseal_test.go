package keyseal

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpen_RoundTrip(t *testing.T) {
	t.Parallel()
	secret := []byte("0123456789abcdef0123456789abcdef")

	sealed, err := Seal([]byte("pw"), []byte("lightning"), secret)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !IsSealed(sealed) {
		t.Fatalf("sealed value lacks magic")
	}
	if bytes.Contains(sealed, secret) {
		t.Fatalf("secret leaked into sealed value")
	}

	out, err := Open([]byte("pw"), []byte("lightning"), sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(out, secret) {
		t.Fatalf("round-trip mismatch")
	}

	again, _ := Seal([]byte("pw"), []byte("lightning"), secret)
	if bytes.Equal(again, sealed) {
		t.Fatalf("two seals must differ (random salt and nonce)")
	}
}

func TestOpen_Rejects(t *testing.T) {
	t.Parallel()
	sealed, err := Seal([]byte("pw"), []byte("lightning"), []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := Open([]byte("other"), []byte("lightning"), sealed); !errors.Is(err, ErrBadPassphrase) {
		t.Fatalf("wrong passphrase: %v", err)
	}
	if _, err := Open([]byte("pw"), []byte("slashtags"), sealed); !errors.Is(err, ErrBadPassphrase) {
		t.Fatalf("wrong label: %v", err)
	}

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0x01
	if _, err := Open([]byte("pw"), []byte("lightning"), tampered); !errors.Is(err, ErrBadPassphrase) {
		t.Fatalf("tampered: %v", err)
	}

	if _, err := Open([]byte("pw"), nil, []byte("plain")); err == nil {
		t.Fatalf("want error on unsealed input")
	}
	if _, err := Open([]byte("pw"), nil, append([]byte("idks1:"), 1, 2, 3)); err == nil {
		t.Fatalf("want error on short input")
	}
	if _, err := Seal(nil, nil, []byte("x")); err == nil {
		t.Fatalf("want error on empty passphrase")
	}
}
