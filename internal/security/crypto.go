package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/box"
)

// ErrDecryptFailed is the single failure signal for every crypto error on the
// decrypt path. Callers never learn which check failed.
var ErrDecryptFailed = errors.New("decryption failed")

const (
	// MessageKeySize is the per-message symmetric key length.
	MessageKeySize = chacha20poly1305.KeySize
	// NonceSize is the XChaCha20-Poly1305 nonce length.
	NonceSize = chacha20poly1305.NonceSizeX
	// TagSize is the Poly1305 authentication tag length.
	TagSize = chacha20poly1305.Overhead
)

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// SealMessage AEAD-encrypts plaintext under key with a fresh nonce and returns
// ciphertext and tag separately, matching the stored message layout.
func SealMessage(key, plaintext []byte) (ciphertext, nonce, tag []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, nil, err
	}
	nonce, err = RandomBytes(NonceSize)
	if err != nil {
		return nil, nil, nil, err
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - TagSize
	return sealed[:split], nonce, sealed[split:], nil
}

// OpenMessage reverses SealMessage. Any failure is ErrDecryptFailed.
func OpenMessage(key, ciphertext, nonce, tag []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	if len(nonce) != NonceSize || len(tag) != TagSize {
		return nil, ErrDecryptFailed
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// GenerateKeyPair produces a curve25519 box pair for key wrapping.
func GenerateKeyPair() (publicKey, privateKey []byte, err error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return pub[:], priv[:], nil
}

// WrapKey seals a symmetric key to a recipient's public key. Only the holder
// of the matching private key can unwrap it.
func WrapKey(symmetricKey, recipientPublicKey []byte) ([]byte, error) {
	if len(recipientPublicKey) != 32 {
		return nil, errors.New("invalid public key length")
	}
	var pub [32]byte
	copy(pub[:], recipientPublicKey)
	return box.SealAnonymous(nil, symmetricKey, &pub, rand.Reader)
}

// UnwrapKey opens a wrapped symmetric key with the recipient pair.
func UnwrapKey(wrapped, publicKey, privateKey []byte) ([]byte, error) {
	if len(publicKey) != 32 || len(privateKey) != 32 {
		return nil, ErrDecryptFailed
	}
	var pub, priv [32]byte
	copy(pub[:], publicKey)
	copy(priv[:], privateKey)
	key, ok := box.OpenAnonymous(nil, wrapped, &pub, &priv)
	if !ok {
		return nil, ErrDecryptFailed
	}
	return key, nil
}

// DeriveWrapKey derives the at-rest private-key wrapping key for one user from
// the service pepper via HKDF-SHA256.
func DeriveWrapKey(pepper, userID string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(pepper), []byte(userID), []byte("trustcore/private-key-wrap"))
	key := make([]byte, MessageKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// WrapPrivateKey seals a private key at rest under the identity-derived key.
func WrapPrivateKey(wrapKey, privateKey []byte) (wrapped, nonce []byte, err error) {
	aead, err := chacha20poly1305.NewX(wrapKey)
	if err != nil {
		return nil, nil, err
	}
	nonce, err = RandomBytes(NonceSize)
	if err != nil {
		return nil, nil, err
	}
	return aead.Seal(nil, nonce, privateKey, nil), nonce, nil
}

func UnwrapPrivateKey(wrapKey, wrapped, nonce []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(wrapKey)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	if len(nonce) != NonceSize {
		return nil, ErrDecryptFailed
	}
	key, err := aead.Open(nil, nonce, wrapped, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return key, nil
}

// IntegrityHash commits to the stored ciphertext, nonce and tag. Decrypt
// recomputes and compares it before touching the AEAD.
func IntegrityHash(ciphertext, nonce, tag []byte) string {
	h := sha256.New()
	h.Write(ciphertext)
	h.Write(nonce)
	h.Write(tag)
	return hex.EncodeToString(h.Sum(nil))
}

func IntegrityMatch(stored string, ciphertext, nonce, tag []byte) bool {
	computed := IntegrityHash(ciphertext, nonce, tag)
	return hmac.Equal([]byte(stored), []byte(computed))
}

// KeyFingerprint identifies a public key in message records.
func KeyFingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:8])
}
