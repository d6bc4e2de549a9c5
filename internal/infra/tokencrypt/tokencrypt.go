// Package tokencrypt encrypts OAuth tokens before they are written to the
// database. Values are AES-256-CBC with PKCS#7 padding and a random IV,
// serialised as hex(iv) + ":" + hex(ciphertext).
package tokencrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize  = 32
	hkdfInfo = "jetsuite/oauth-tokens"
)

var (
	// ErrMalformed is returned for input that is not a value produced by Encrypt.
	ErrMalformed = errors.New("tokencrypt: malformed ciphertext")
	// ErrEmptyKey is returned when no key material is configured.
	ErrEmptyKey = errors.New("tokencrypt: empty key")
)

// Cipher encrypts and decrypts token strings with a single 256-bit key.
type Cipher struct {
	block cipher.Block
	rand  io.Reader
}

// New builds a Cipher from ENCRYPTION_KEY. A 64 character hex string is used
// as the raw key; anything else is stretched to 32 bytes with HKDF-SHA256.
func New(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrEmptyKey
	}

	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("tokencrypt: %w", err)
	}
	return &Cipher{block: block, rand: rand.Reader}, nil
}

func deriveKey(secret string) ([]byte, error) {
	if len(secret) == keySize*2 {
		if raw, err := hex.DecodeString(secret); err == nil {
			return raw, nil
		}
	}

	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("tokencrypt: derive key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext. The empty string encrypts to the empty string so
// optional tokens (e.g. a missing refresh token) stay empty in storage.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return "", fmt.Errorf("tokencrypt: read iv: %w", err)
	}

	padded := pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *Cipher) Decrypt(value string) (string, error) {
	if value == "" {
		return "", nil
	}

	ivHex, ctHex, ok := strings.Cut(value, ":")
	if !ok {
		return "", ErrMalformed
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrMalformed
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", ErrMalformed
	}

	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(out, ct)

	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, ErrMalformed
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrMalformed
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, ErrMalformed
		}
	}
	return b[:len(b)-n], nil
}
