// Package cryptoutil implements the ledger's single symmetric-crypto
// primitive: AES-256-GCM with a PBKDF2-HMAC-SHA512 derived key, behind
// one small capability surface so no crypto leaks into caller code.
// AES-GCM itself is taken from the standard library (crypto/aes,
// crypto/cipher) — the idiomatic choice for AEAD encryption in Go.
// Key derivation uses golang.org/x/crypto/pbkdf2.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"

	"github.com/cogledger/ledger/internal/ledgererr"
	"golang.org/x/crypto/pbkdf2"
)

const (
	ivLen      = 12
	saltLen    = 16
	tagLen     = 16
	keyLen     = 32
	kdfRounds  = 100_000
)

// DeriveKey runs PBKDF2-HMAC-SHA512 over password with salt, producing a
// 32-byte AES-256 key.
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, kdfRounds, keyLen, sha512.New)
}

// Encrypt seals plaintext under password, returning the base64
// envelope IV‖SALT‖TAG‖CT. Seal returns the ciphertext followed by the
// 16-byte tag, so the two are split and reassembled explicitly in
// envelope order.
func Encrypt(plaintext []byte, password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", ledgererr.Wrap(ledgererr.CodeKdfFailed, "", err)
	}
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return "", ledgererr.Wrap(ledgererr.CodeKdfFailed, "", err)
	}
	key := DeriveKey(password, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", ledgererr.Wrap(ledgererr.CodeKdfFailed, "", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagLen)
	if err != nil {
		return "", ledgererr.Wrap(ledgererr.CodeKdfFailed, "", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ct := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]

	envelope := make([]byte, 0, ivLen+saltLen+tagLen+len(ct))
	envelope = append(envelope, iv...)
	envelope = append(envelope, salt...)
	envelope = append(envelope, tag...)
	envelope = append(envelope, ct...)
	return base64.StdEncoding.EncodeToString(envelope), nil
}

// Decrypt opens an envelope produced by Encrypt. A tag mismatch or
// wrong password both surface as ledgererr.CodeAuthFail,
// indistinguishable to the caller.
func Decrypt(envelopeB64 string, password string) ([]byte, error) {
	envelope, err := base64.StdEncoding.DecodeString(envelopeB64)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.CodeAuthFail, "check the vault entry is not corrupted", err)
	}
	if len(envelope) < ivLen+saltLen+tagLen {
		return nil, ledgererr.New(ledgererr.CodeAuthFail, "envelope too short")
	}
	iv := envelope[:ivLen]
	salt := envelope[ivLen : ivLen+saltLen]
	tag := envelope[ivLen+saltLen : ivLen+saltLen+tagLen]
	ct := envelope[ivLen+saltLen+tagLen:]

	key := DeriveKey(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.CodeAuthFail, "", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagLen)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.CodeAuthFail, "", err)
	}

	sealed := make([]byte, 0, len(ct)+tagLen)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ledgererr.WithSuggestion(
			ledgererr.New(ledgererr.CodeAuthFail, "authentication failed"),
			"re-enter the vault password",
		)
	}
	return plaintext, nil
}

// PasswordHash returns SHA-256(pw) for the local UX-gating record; it
// is never used for vault key derivation.
func PasswordHash(password string) string {
	sum := sha256.Sum256([]byte(password))
	return fmt.Sprintf("%x", sum)
}

// Zeroize overwrites a password buffer's backing bytes. Go strings are
// immutable, so callers that need this guarantee should carry passwords
// as []byte; Zeroize is provided for that path.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
