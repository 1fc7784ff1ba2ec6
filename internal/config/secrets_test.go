package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSecretStoreRoundTripsEncrypted(t *testing.T) {
	dir := t.TempDir()
	store := newSecretStore(dir)

	got, err := store.resolve("dense_embedding_api_key", "sk-test-12345")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "sk-test-12345" {
		t.Errorf("resolve returned %q, want the plaintext value back", got)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "secrets.json"))
	if err != nil {
		t.Fatalf("read secrets file: %v", err)
	}
	if strings.Contains(string(raw), "sk-test-12345") {
		t.Errorf("secrets file stores the API key in plaintext: %s", raw)
	}

	// A fresh store (process restart, no env var set this time) should
	// recover the same value from the encrypted file on disk.
	restarted := newSecretStore(dir)
	recovered, err := restarted.resolve("dense_embedding_api_key", "")
	if err != nil {
		t.Fatalf("resolve after restart: %v", err)
	}
	if recovered != "sk-test-12345" {
		t.Errorf("recovered %q after restart, want sk-test-12345", recovered)
	}
}

func TestSecretStoreNoDiskTouchWithoutSecrets(t *testing.T) {
	dir := t.TempDir()
	store := newSecretStore(dir)

	got, err := store.resolve("dense_embedding_api_key", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty secret, got %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "encryption.key")); !os.IsNotExist(err) {
		t.Errorf("expected no encryption key to be created when no secret was ever set, stat err = %v", err)
	}
}

func TestSecretStoreEnvOverridesPersisted(t *testing.T) {
	dir := t.TempDir()
	store := newSecretStore(dir)
	if _, err := store.resolve("dense_embedding_api_key", "old-key"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	restarted := newSecretStore(dir)
	got, err := restarted.resolve("dense_embedding_api_key", "new-key")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "new-key" {
		t.Errorf("got %q, want new env value to win over the persisted one", got)
	}
}

