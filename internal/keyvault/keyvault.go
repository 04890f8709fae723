// Copyright 2025 nbari
// SPDX-License-Identifier: Apache-2.0

// Package keyvault implements the backup catalog's key hierarchy:
// recovery phrase -> long-term recipient key -> per-file content key ->
// per-file wrapped key.
//
// The cryptographic contract is fixed by the catalog format and MUST NOT
// change without breaking compatibility with existing catalogs:
//
//   - derive_recipient: BIP-39 (English, 12 words) -> 64-byte seed (empty
//     passphrase) -> first 32 bytes as an X25519 secret scalar.
//   - wrap: ephemeral X25519 keypair + ECDH with the recipient public key,
//     HKDF-SHA256(info="backup wrap") for the KEK, HKDF-SHA256(info="backup
//     nonce") over the content hash string for the deterministic nonce,
//     ChaCha20-Poly1305 to seal the 32-byte content key.
package keyvault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// MnemonicWords is the number of BIP-39 words in a recovery phrase.
	MnemonicWords = 12

	wrapInfo  = "backup wrap"
	nonceInfo = "backup nonce"
)

// ErrAuth is returned by Unwrap when the AEAD authentication tag does not
// verify (wrong recipient secret, corrupted ciphertext, or mismatched
// ephemeral key / hash).
var ErrAuth = errors.New("keyvault: authentication failed")

// ErrMalformedKey is returned when key material has the wrong length or
// cannot be decoded.
var ErrMalformedKey = errors.New("keyvault: malformed key material")

// PublicKey is a 32-byte X25519 public key.
type PublicKey [32]byte

// SecretKey is a 32-byte X25519 secret scalar.
type SecretKey [32]byte

// ContentKey is the 32-byte symmetric key used (conceptually, outside this
// catalog's scope) to protect a file's plaintext contents.
type ContentKey [32]byte

// NewMnemonic generates a fresh 12-word English BIP-39 recovery phrase from
// a cryptographically strong source.
func NewMnemonic() (string, error) {
	// 12 words <=> 128 bits of entropy.
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", fmt.Errorf("keyvault: generate entropy: %w", err)
	}
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("keyvault: generate mnemonic: %w", err)
	}
	return phrase, nil
}

// DeriveRecipient derives the long-term X25519 recipient key pair from a
// BIP-39 recovery phrase. The same phrase always yields the same pair.
func DeriveRecipient(phrase string) (SecretKey, PublicKey, error) {
	seed := bip39.NewSeed(phrase, "")
	if len(seed) < 32 {
		return SecretKey{}, PublicKey{}, fmt.Errorf("%w: bip39 seed shorter than 32 bytes", ErrMalformedKey)
	}

	var secret SecretKey
	copy(secret[:], seed[:32])

	public, err := publicFromSecret(secret)
	if err != nil {
		return SecretKey{}, PublicKey{}, err
	}

	return secret, public, nil
}

func publicFromSecret(secret SecretKey) (PublicKey, error) {
	pub, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		return PublicKey{}, fmt.Errorf("keyvault: derive public key: %w", err)
	}
	var public PublicKey
	copy(public[:], pub)
	return public, nil
}

// GenerateContentKey returns a fresh 32-byte content key from a
// cryptographically strong source.
func GenerateContentKey() (ContentKey, error) {
	var key ContentKey
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return ContentKey{}, fmt.Errorf("keyvault: generate content key: %w", err)
	}
	return key, nil
}

// Wrap seals contentKey under a KEK derived from a fresh ephemeral X25519
// key pair and recipientPublic, using a nonce deterministically derived
// from hash. Returns the ciphertext (48 bytes: 32 plaintext + 16-byte tag)
// and the ephemeral public key used to wrap it.
func Wrap(contentKey ContentKey, hash string, recipientPublic PublicKey) (ciphertext []byte, ephemeralPublic PublicKey, err error) {
	var ephemeralSecret SecretKey
	if _, err := io.ReadFull(rand.Reader, ephemeralSecret[:]); err != nil {
		return nil, PublicKey{}, fmt.Errorf("keyvault: generate ephemeral key: %w", err)
	}

	ephemeralPublic, err = publicFromSecret(ephemeralSecret)
	if err != nil {
		return nil, PublicKey{}, err
	}

	kek, err := deriveKEK(ephemeralSecret, recipientPublic)
	if err != nil {
		return nil, PublicKey{}, err
	}

	nonce, err := deriveNonce(hash)
	if err != nil {
		return nil, PublicKey{}, err
	}

	aead, err := chacha20poly1305.New(kek[:])
	if err != nil {
		return nil, PublicKey{}, fmt.Errorf("keyvault: init aead: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce[:], contentKey[:], nil)
	return ciphertext, ephemeralPublic, nil
}

// Unwrap reverses Wrap: it recomputes the KEK from recipientSecret and
// ephemeralPublic, recomputes the nonce from hash, and opens ciphertext.
// Returns ErrAuth if the AEAD tag does not verify.
func Unwrap(ciphertext []byte, ephemeralPublic PublicKey, recipientSecret SecretKey, hash string) (ContentKey, error) {
	ss, err := curve25519.X25519(recipientSecret[:], ephemeralPublic[:])
	if err != nil {
		return ContentKey{}, fmt.Errorf("keyvault: ecdh: %w", err)
	}

	kek, err := expand(ss, wrapInfo, 32)
	if err != nil {
		return ContentKey{}, err
	}

	nonce, err := deriveNonce(hash)
	if err != nil {
		return ContentKey{}, err
	}

	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return ContentKey{}, fmt.Errorf("keyvault: init aead: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return ContentKey{}, ErrAuth
	}
	if len(plaintext) != 32 {
		return ContentKey{}, fmt.Errorf("%w: unwrapped key is %d bytes, want 32", ErrMalformedKey, len(plaintext))
	}

	var key ContentKey
	copy(key[:], plaintext)
	return key, nil
}

func deriveKEK(ephemeralSecret SecretKey, recipientPublic PublicKey) ([32]byte, error) {
	ss, err := curve25519.X25519(ephemeralSecret[:], recipientPublic[:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("keyvault: ecdh: %w", err)
	}
	kek, err := expand(ss, wrapInfo, 32)
	if err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], kek)
	return out, nil
}

func deriveNonce(hash string) ([chacha20poly1305.NonceSize]byte, error) {
	raw, err := expand([]byte(hash), nonceInfo, chacha20poly1305.NonceSize)
	if err != nil {
		return [chacha20poly1305.NonceSize]byte{}, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	copy(nonce[:], raw)
	return nonce, nil
}

func expand(ikm []byte, info string, length int) ([]byte, error) {
	kdf := hkdf.New(sha256.New, ikm, nil, []byte(info))
	out := make([]byte, length)
	if _, err := io.ReadFull(kdf, out); err != nil {
		return nil, fmt.Errorf("keyvault: hkdf expand (%s): %w", info, err)
	}
	return out, nil
}

// EncodePublicKey renders a public key as the base64 string stored in the
// catalog's Config table (44 characters for a 32-byte key).
func EncodePublicKey(pk PublicKey) string {
	return base64.StdEncoding.EncodeToString(pk[:])
}

// DecodePublicKey parses the base64 form stored in the catalog, verifying
// the decoded length is exactly 32 bytes.
func DecodePublicKey(encoded string) (PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	if len(raw) != 32 {
		return PublicKey{}, fmt.Errorf("%w: public key is %d bytes, want 32", ErrMalformedKey, len(raw))
	}
	var pk PublicKey
	copy(pk[:], raw)
	return pk, nil
}
