package provision

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// sshMetadata returns the value for the instance's ssh-keys metadata entry,
// generating an ed25519 keypair at SSHKeyPath on first use. Empty SSHKeyPath
// disables key injection (the operator relies on OS Login instead).
func (p *Provisioner) sshMetadata() (string, error) {
	if p.SSHKeyPath == "" {
		return "", nil
	}

	user := p.SSHUser
	if user == "" {
		user = "iapgw"
	}

	pub, err := loadOrCreateKeypair(p.SSHKeyPath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s", user, strings.TrimSpace(string(pub))), nil
}

// loadOrCreateKeypair returns the authorized_keys form of the public key,
// generating the keypair if the private key file does not exist.
func loadOrCreateKeypair(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		key, err := ssh.ParseRawPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parsing existing key %s: %w", path, err)
		}
		priv, ok := key.(*ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key %s is not ed25519", path)
		}
		return marshalAuthorized(priv.Public().(ed25519.PublicKey))
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading key %s: %w", path, err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating keypair: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		return nil, fmt.Errorf("encoding private key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("writing private key: %w", err)
	}

	authorized, err := marshalAuthorized(pub)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path+".pub", authorized, 0644); err != nil {
		return nil, fmt.Errorf("writing public key: %w", err)
	}
	return authorized, nil
}

func marshalAuthorized(pub ed25519.PublicKey) ([]byte, error) {
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("converting public key: %w", err)
	}
	return ssh.MarshalAuthorizedKey(sshPub), nil
}
