package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	xssh "golang.org/x/crypto/ssh"
)

// GenerateEd25519Keypair creates an ed25519 keypair, writes the private key
// in OpenSSH format to privateKeyPath and the authorized_keys line to
// privateKeyPath + ".pub". It returns the authorized_keys line.
func GenerateEd25519Keypair(privateKeyPath string) (publicAuthorized string, err error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	block, err := xssh.MarshalPrivateKey(priv, "shardfleet")
	if err != nil {
		return "", fmt.Errorf("marshal private key: %w", err)
	}
	signer, err := xssh.NewSignerFromKey(priv)
	if err != nil {
		return "", fmt.Errorf("signer: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(privateKeyPath), 0o700); err != nil {
		return "", fmt.Errorf("mkdir key dir: %w", err)
	}
	if err := os.WriteFile(privateKeyPath, pem.EncodeToMemory(block), 0o600); err != nil {
		return "", fmt.Errorf("write private key: %w", err)
	}
	pub := xssh.MarshalAuthorizedKey(signer.PublicKey())
	if err := os.WriteFile(privateKeyPath+".pub", pub, 0o644); err != nil {
		return "", fmt.Errorf("write public key: %w", err)
	}
	return string(pub), nil
}

// LoadPrivateKeySigner reads an unencrypted OpenSSH/PEM private key file.
func LoadPrivateKeySigner(privateKeyPath string) (xssh.Signer, error) {
	data, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := xssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// AuthorizedKey returns the authorized_keys line for a private key file.
func AuthorizedKey(privateKeyPath string) (string, error) {
	signer, err := LoadPrivateKeySigner(privateKeyPath)
	if err != nil {
		return "", err
	}
	return string(xssh.MarshalAuthorizedKey(signer.PublicKey())), nil
}
