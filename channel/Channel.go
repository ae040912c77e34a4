/*
File Name:  Channel.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Password-derived symmetric cipher for channels (L4'). Grounded on the
x/crypto family already used elsewhere in the stack (curve25519,
chacha20poly1305) generalized here to PBKDF2 + AES-GCM for the
password-channel case, where a human-memorable secret rather than a
Diffie-Hellman exchange is the key source.
*/

package channel

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// KeySize is the derived key length in bytes (256 bits).
const KeySize = 32

// Iterations is the PBKDF2 round count.
const Iterations = 100000

// ivSize is the AES-GCM nonce length.
const ivSize = 12

// ErrCiphertextTooShort is returned when decrypting a buffer shorter
// than the prepended IV.
var ErrCiphertextTooShort = errors.New("channel: ciphertext shorter than IV")

// DeriveKey computes the channel's symmetric key from its password,
// salted with the channel tag (including the leading '#').
func DeriveKey(password, channelTag string) []byte {
	return pbkdf2.Key([]byte(password), []byte(channelTag), Iterations, KeySize, sha256.New)
}

// Commitment returns SHA-256 of the derived key. It is advertised over
// CHANNEL_METADATA so a joiner can verify their derived key matches the
// channel's without ever exposing the password on the wire.
func Commitment(key []byte) [32]byte {
	return sha256.Sum256(key)
}

// VerifyCommitment reports whether key matches a previously advertised
// commitment.
func VerifyCommitment(key []byte, commitment [32]byte) bool {
	got := Commitment(key)
	return got == commitment
}

// Cipher encrypts and decrypts channel payloads with a key derived by
// DeriveKey.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds an AES-GCM cipher from a 32-byte derived key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, errors.New("channel: key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext, returning a random 12-byte IV prepended to
// the ciphertext and authentication tag.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}
	out := make([]byte, 0, ivSize+len(plaintext)+c.aead.Overhead())
	out = append(out, iv...)
	return c.aead.Seal(out, iv, plaintext, nil), nil
}

// Open strips the prepended IV and decrypts/authenticates the remainder.
func (c *Cipher) Open(data []byte) ([]byte, error) {
	if len(data) < ivSize {
		return nil, ErrCiphertextTooShort
	}
	iv, ciphertext := data[:ivSize], data[ivSize:]
	return c.aead.Open(nil, iv, ciphertext, nil)
}
