package chain

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mr-tron/base58"
)

const keyPrefix = "ed25519:"

// ParsePublicKey decodes an "ed25519:<base58>" public key. The prefix is optional.
func ParsePublicKey(value string) (ed25519.PublicKey, error) {
	raw, err := decodeKey(value)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("chain: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// ParsePrivateKey decodes an "ed25519:<base58>" secret key holding either the 64-byte key or its 32-byte seed.
func ParsePrivateKey(value string) (ed25519.PrivateKey, error) {
	raw, err := decodeKey(value)
	if err != nil {
		return nil, err
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("chain: secret key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

// FormatPublicKey encodes a public key in the chain's text form.
func FormatPublicKey(key ed25519.PublicKey) string {
	return keyPrefix + base58.Encode(key)
}

// FormatPrivateKey encodes a secret key in the chain's text form.
func FormatPrivateKey(key ed25519.PrivateKey) string {
	return keyPrefix + base58.Encode(key)
}

func decodeKey(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("chain: key is empty")
	}
	if idx := strings.Index(value, ":"); idx >= 0 {
		if value[:idx] != strings.TrimSuffix(keyPrefix, ":") {
			return nil, fmt.Errorf("chain: unsupported key type %q", value[:idx])
		}
		value = value[idx+1:]
	}
	raw, err := base58.Decode(value)
	if err != nil {
		return nil, fmt.Errorf("chain: decode key: %w", err)
	}
	return raw, nil
}

// KeyDeriver derives the per-account key this service uses to confirm multisig requests.
type KeyDeriver struct {
	seed string
}

// NewKeyDeriver builds a deriver from the server-held seed.
func NewKeyDeriver(seed string) (*KeyDeriver, error) {
	if strings.TrimSpace(seed) == "" {
		return nil, errors.New("chain: 2fa key seed is required")
	}
	return &KeyDeriver{seed: seed}, nil
}

// PrivateKey returns the deterministic confirm key for the account.
func (d *KeyDeriver) PrivateKey(accountID string) ed25519.PrivateKey {
	sum := sha256.Sum256([]byte(accountID + d.seed))
	return ed25519.NewKeyFromSeed(sum[:])
}

// PublicKey returns the formatted public half of the account's confirm key.
func (d *KeyDeriver) PublicKey(accountID string) string {
	return FormatPublicKey(d.PrivateKey(accountID).Public().(ed25519.PublicKey))
}

// KeyRing hands out signing keys in round-robin order.
type KeyRing struct {
	mu   sync.Mutex
	keys []ed25519.PrivateKey
	next int
}

// NewKeyRing parses the given secret keys.
func NewKeyRing(secretKeys []string) (*KeyRing, error) {
	ring := &KeyRing{}
	for i, value := range secretKeys {
		key, err := ParsePrivateKey(value)
		if err != nil {
			return nil, fmt.Errorf("chain: key ring entry %d: %w", i, err)
		}
		ring.keys = append(ring.keys, key)
	}
	return ring, nil
}

// Len reports how many keys the ring holds.
func (r *KeyRing) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

// Next returns the next key, wrapping around at the end.
func (r *KeyRing) Next() (ed25519.PrivateKey, error) {
	if r == nil {
		return nil, errors.New("chain: key ring is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.keys) == 0 {
		return nil, errors.New("chain: key ring is empty")
	}
	key := r.keys[r.next%len(r.keys)]
	r.next = (r.next + 1) % len(r.keys)
	return key, nil
}
