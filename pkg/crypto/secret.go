// Package crypto implements AEAD protection for secrets at rest: secrets
// are stored wrapped, never in the clear.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"flora-consensus/pkg/utils"
)

const (
	wrapPrefix   = "enc:v1:"
	pbkdf2Iters  = 100_000
	keyLen       = 32 // AES-256
	nonceLen     = 12
	pbkdf2Salt   = "flora-consensus-petal-key-secret-v1" // fixed salt: the secret itself is per-deployment
)

// Box derives an AES-256-GCM key from a deployment secret and wraps/unwraps
// values for storage.
type Box struct {
	aead cipher.AEAD
}

// NewBox derives the AEAD key from secret. When secret is exactly 32 raw
// bytes it is used directly; otherwise a key is derived via PBKDF2-SHA256
// since PETAL_KEY_SECRET may be configured as either a raw key or a
// passphrase.
func NewBox(secret []byte) (*Box, error) {
	var key []byte
	if len(secret) == keyLen {
		key = secret
	} else {
		key = pbkdf2.Key(secret, []byte(pbkdf2Salt), pbkdf2Iters, keyLen, sha256.New)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, utils.Wrap(err, "constructing aes cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, utils.Wrap(err, "constructing gcm aead")
	}
	return &Box{aead: aead}, nil
}

// Wrap encrypts plaintext and returns it in the
// "enc:v1:<iv_b64>:<ct_b64>:<tag_b64>" wire form, with the GCM tag encoded
// separately from the ciphertext.
func (b *Box) Wrap(plaintext []byte) (string, error) {
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", utils.Wrap(err, "generating nonce")
	}
	sealed := b.aead.Seal(nil, nonce, plaintext, nil)
	tagSize := b.aead.Overhead()
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	return fmt.Sprintf("%s%s:%s:%s", wrapPrefix,
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(ciphertext),
		base64.StdEncoding.EncodeToString(tag)), nil
}

// Unwrap reverses Wrap. It returns an error if wrapped is not in the
// expected form or fails authentication.
func (b *Box) Unwrap(wrapped string) ([]byte, error) {
	if !strings.HasPrefix(wrapped, wrapPrefix) {
		return nil, fmt.Errorf("crypto: not a wrapped secret")
	}
	rest := strings.TrimPrefix(wrapped, wrapPrefix)
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("crypto: malformed wrapped secret")
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, utils.Wrap(err, "decoding nonce")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, utils.Wrap(err, "decoding ciphertext")
	}
	tag, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, utils.Wrap(err, "decoding tag")
	}
	plaintext, err := b.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, utils.Wrap(err, "authenticating wrapped secret")
	}
	return plaintext, nil
}

// IsWrapped reports whether s is in the wrapped wire form.
func IsWrapped(s string) bool {
	return strings.HasPrefix(s, wrapPrefix)
}
