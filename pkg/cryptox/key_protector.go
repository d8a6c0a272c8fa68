// Package cryptox protects the token signing secret at rest.
package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
)

// KeySize is the fixed AES-128 key length derived from the configured secret.
const KeySize = 16

// ErrKeyProtection is returned for every encryption or decryption failure.
var ErrKeyProtection = errors.New("key protection failure")

// KeyProtector encrypts and decrypts the signing secret with a key copied
// from the configured secret: truncated past 16 bytes, zero padded below.
// Ciphertext is AES-128-ECB with PKCS#7 padding, base64 encoded.
//
// The derivation has no salt and no iterations. Changing it changes the
// stored ciphertext format, so existing rows would stop decrypting.
type KeyProtector struct {
	block cipher.Block
}

// NewKeyProtector builds a protector for the given secret.
func NewKeyProtector(secret string) (*KeyProtector, error) {
	block, err := aes.NewCipher(DeriveKey(secret))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyProtection, err)
	}
	return &KeyProtector{block: block}, nil
}

// DeriveKey copies the raw secret bytes into a 16-byte key.
func DeriveKey(secret string) []byte {
	key := make([]byte, KeySize)
	copy(key, secret)
	return key
}

// Encrypt returns the base64 ciphertext of plaintext.
func (p *KeyProtector) Encrypt(plaintext string) (string, error) {
	if p == nil || p.block == nil {
		return "", fmt.Errorf("%w: protector not configured", ErrKeyProtection)
	}
	padded := pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += aes.BlockSize {
		p.block.Encrypt(out[i:i+aes.BlockSize], padded[i:i+aes.BlockSize])
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt.
func (p *KeyProtector) Decrypt(ciphertext string) (string, error) {
	if p == nil || p.block == nil {
		return "", fmt.Errorf("%w: protector not configured", ErrKeyProtection)
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %v", ErrKeyProtection, err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d is not a multiple of the block size", ErrKeyProtection, len(raw))
	}
	out := make([]byte, len(raw))
	for i := 0; i < len(raw); i += aes.BlockSize {
		p.block.Decrypt(out[i:i+aes.BlockSize], raw[i:i+aes.BlockSize])
	}
	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("%w: bad padding", ErrKeyProtection)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrKeyProtection)
		}
	}
	return data[:len(data)-n], nil
}
