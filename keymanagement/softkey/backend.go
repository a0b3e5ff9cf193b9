// Package softkey is a software-only keymanagement.Backend: RSA key
// pairs held in memory (optionally persisted as PEM on disk), used for
// CMS bootstrap and local development where no PKCS#11 token is present,
// and for CCR requesters generating their own ephemeral key pair client
// side. Grounded on the self-signed-backend idiom in
// thc1006-nephoran-intent-operator/pkg/security/ca/self_signed_backend.go
// (an in-process map of issued material guarded by one mutex), narrowed
// here to just key custody.
package softkey

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const defaultKeyBits = 2048

// Backend implements keymanagement.Backend.
type Backend struct {
	mu   sync.RWMutex
	keys map[string]*rsa.PrivateKey
	dir  string // optional PEM persistence directory; empty means memory-only
}

// New builds a Backend. If dir is non-empty, generated keys are written
// there as PKCS#1 PEM files named "<label>.key" and existing ones are
// loaded lazily from there on first Signer() miss.
func New(dir string) *Backend {
	return &Backend{keys: make(map[string]*rsa.PrivateKey), dir: dir}
}

func (b *Backend) Generate(label string) (crypto.Signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, defaultKeyBits)
	if err != nil {
		return nil, fmt.Errorf("softkey: generate %s: %w", label, err)
	}
	b.mu.Lock()
	b.keys[label] = key
	b.mu.Unlock()

	if b.dir != "" {
		if err := b.persist(label, key); err != nil {
			return nil, err
		}
	}
	return key, nil
}

func (b *Backend) Signer(label string) (crypto.Signer, error) {
	b.mu.RLock()
	key, ok := b.keys[label]
	b.mu.RUnlock()
	if ok {
		return key, nil
	}

	if b.dir == "" {
		return nil, fmt.Errorf("softkey: no key for label %q", label)
	}

	key, err := b.load(label)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.keys[label] = key
	b.mu.Unlock()
	return key, nil
}

func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = nil
}

func (b *Backend) persist(label string, key *rsa.PrivateKey) error {
	path := filepath.Join(b.dir, label+".key")
	der := x509.MarshalPKCS1PrivateKey(key)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("softkey: persist %s: %w", label, err)
	}
	return nil
}

func (b *Backend) load(label string) (*rsa.PrivateKey, error) {
	path := filepath.Join(b.dir, label+".key")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("softkey: no key for label %q: %w", label, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("softkey: %s: not PEM", path)
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("softkey: %s: %w", path, err)
	}
	return key, nil
}
