package ssh

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateEd25519Keypair(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "keys", "id_ed25519")
	pub, err := GenerateEd25519Keypair(priv)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	st, err := os.Stat(priv)
	if err != nil {
		t.Fatalf("private key not written: %v", err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Fatalf("private key mode = %v", st.Mode().Perm())
	}
	if !strings.HasPrefix(pub, "ssh-ed25519 ") {
		t.Fatalf("unexpected public key %q", pub)
	}
	onDisk, err := os.ReadFile(priv + ".pub")
	if err != nil || string(onDisk) != pub {
		t.Fatalf("public key file mismatch: %v", err)
	}
}

func TestGeneratedKeyLoadsAsSigner(t *testing.T) {
	priv := filepath.Join(t.TempDir(), "id_ed25519")
	pub, err := GenerateEd25519Keypair(priv)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := LoadPrivateKeySigner(priv); err != nil {
		t.Fatalf("load signer: %v", err)
	}
	got, err := AuthorizedKey(priv)
	if err != nil {
		t.Fatalf("authorized key: %v", err)
	}
	if got != pub {
		t.Fatalf("authorized key = %q, want %q", got, pub)
	}
}

func TestLoadPrivateKeySignerRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad")
	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPrivateKeySigner(path); err == nil {
		t.Fatal("expected parse error")
	}
}
