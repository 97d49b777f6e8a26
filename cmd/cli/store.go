package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/and161185/idcore/internal/keyseal"
)

// passphraseEnv holds the passphrase that seals key files at rest. Keys are
// stored in the clear when it is unset.
const passphraseEnv = "IDCORE_WALLET_PASSPHRASE"

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	AccountID   string    `json:"account_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "idcore")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "idcore")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func keyPath(kind string) string { return filepath.Join(cfgDir(), kind+".key") }

func saveToken(t tokenFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid session (login required)")
	}
	return tf.AccessToken, nil
}

func saveKey(kind string, raw []byte) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	if pass := os.Getenv(passphraseEnv); pass != "" {
		sealed, err := keyseal.Seal([]byte(pass), []byte(kind), raw)
		if err != nil {
			return err
		}
		raw = sealed
	}
	return os.WriteFile(keyPath(kind), raw, 0o600)
}

func loadKey(kind string) ([]byte, error) {
	b, err := os.ReadFile(keyPath(kind))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.New("no " + kind + " key; run keygen first")
	}
	if err != nil || !keyseal.IsSealed(b) {
		return b, err
	}
	pass := os.Getenv(passphraseEnv)
	if pass == "" {
		return nil, errors.New(kind + " key is sealed; set " + passphraseEnv)
	}
	return keyseal.Open([]byte(pass), []byte(kind), b)
}
