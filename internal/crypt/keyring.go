// Package crypt seals config payloads with XChaCha20-Poly1305.
//
// Each owner has a keyring of 32-byte base keys. The key actually used for
// a namespace is BLAKE2b-256 keyed by the base key over the namespace's
// encryption domain, so one base key never encrypts two namespaces under
// the same AEAD key. Plaintexts are padded to fixed size buckets before
// sealing.
package crypt

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the length of a base key.
const KeySize = 32

var (
	// ErrNoKeys is returned when sealing with an empty keyring.
	ErrNoKeys = errors.New("keyring is empty")
	// ErrBadKey is returned for keys that are not KeySize bytes.
	ErrBadKey = errors.New("key must be 32 bytes")
	// ErrDecrypt is returned when no key in the ring opens a payload.
	ErrDecrypt = errors.New("no key could decrypt the payload")
)

// Keyring is an ordered set of base keys. The first key seals; every key
// is tried, in order, to open. It is safe for concurrent use.
type Keyring struct {
	mu   sync.RWMutex
	keys [][KeySize]byte
}

// NewKeyring returns a keyring holding keys in the given order.
func NewKeyring(keys ...[]byte) (*Keyring, error) {
	kr := &Keyring{}
	for _, k := range keys {
		if err := kr.Add(k, false); err != nil {
			return nil, err
		}
	}
	return kr, nil
}

// Add inserts key. A high priority key goes to the front and becomes the
// sealing key; otherwise it is appended. Adding a key already present
// moves it to the front when high is set and is otherwise a no-op.
func (kr *Keyring) Add(key []byte, high bool) error {
	if len(key) != KeySize {
		return fmt.Errorf("%w: got %d", ErrBadKey, len(key))
	}
	var k [KeySize]byte
	copy(k[:], key)

	kr.mu.Lock()
	defer kr.mu.Unlock()
	if i := kr.index(k); i >= 0 {
		if !high || i == 0 {
			return nil
		}
		kr.keys = append(kr.keys[:i], kr.keys[i+1:]...)
	}
	if high {
		kr.keys = append([][KeySize]byte{k}, kr.keys...)
	} else {
		kr.keys = append(kr.keys, k)
	}
	return nil
}

// Remove drops key and reports whether it was present.
func (kr *Keyring) Remove(key []byte) bool {
	if len(key) != KeySize {
		return false
	}
	var k [KeySize]byte
	copy(k[:], key)

	kr.mu.Lock()
	defer kr.mu.Unlock()
	i := kr.index(k)
	if i < 0 {
		return false
	}
	kr.keys = append(kr.keys[:i], kr.keys[i+1:]...)
	return true
}

// Clear removes every key.
func (kr *Keyring) Clear() {
	kr.mu.Lock()
	kr.keys = nil
	kr.mu.Unlock()
}

// Keys returns copies of the keys in priority order.
func (kr *Keyring) Keys() [][]byte {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	out := make([][]byte, len(kr.keys))
	for i, k := range kr.keys {
		out[i] = append([]byte(nil), k[:]...)
	}
	return out
}

// Len returns the number of keys.
func (kr *Keyring) Len() int {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	return len(kr.keys)
}

func (kr *Keyring) index(k [KeySize]byte) int {
	for i := range kr.keys {
		if bytes.Equal(kr.keys[i][:], k[:]) {
			return i
		}
	}
	return -1
}

// Seal pads plaintext and encrypts it with the first key. The output is
// nonce || ciphertext.
func (kr *Keyring) Seal(domain string, plaintext, ad []byte) ([]byte, error) {
	kr.mu.RLock()
	if len(kr.keys) == 0 {
		kr.mu.RUnlock()
		return nil, ErrNoKeys
	}
	base := kr.keys[0]
	kr.mu.RUnlock()

	aead, err := newAEAD(base, domain)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+aead.Overhead()+padSize(len(plaintext)))
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, pad(plaintext), ad), nil
}

// Open tries each key in order and returns the unpadded plaintext from the
// first that authenticates.
func (kr *Keyring) Open(domain string, sealed, ad []byte) ([]byte, error) {
	if len(sealed) < chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: payload too short", ErrDecrypt)
	}
	nonce, ct := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]

	kr.mu.RLock()
	keys := append([][KeySize]byte(nil), kr.keys...)
	kr.mu.RUnlock()

	for _, base := range keys {
		aead, err := newAEAD(base, domain)
		if err != nil {
			return nil, err
		}
		padded, err := aead.Open(nil, nonce, ct, ad)
		if err != nil {
			continue
		}
		return unpad(padded)
	}
	return nil, ErrDecrypt
}

func newAEAD(base [KeySize]byte, domain string) (cipher.AEAD, error) {
	key, err := DeriveKey(base[:], domain)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("aead: %w", err)
	}
	return aead, nil
}

// DeriveKey returns the namespace key for base and domain.
func DeriveKey(base []byte, domain string) ([]byte, error) {
	h, err := blake2b.New256(base)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	h.Write([]byte("confsync:"))
	h.Write([]byte(domain))
	return h.Sum(nil), nil
}

// GenerateKey returns a random base key.
func GenerateKey() ([]byte, error) {
	k := make([]byte, KeySize)
	if _, err := rand.Read(k); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return k, nil
}
