// Package cryptoframe implements the bench's wire-level cryptography: the
// AES-256-CBC + HMAC-SHA256 authenticated encryption primitives (C1) and the
// frame codec and fragmenter built on top of them (C2, C3).
package cryptoframe

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"io"

	"github.com/acmis/benchcontroller/internal/benchrors"
	"golang.org/x/crypto/hkdf"
)

const (
	keySize  = 32 // AES-256 and HMAC-SHA256 keys are both 32 bytes
	ivSize   = aes.BlockSize
	macSize  = sha256.Size
)

// Encrypt prefixes a fresh random IV and encrypts plaintext with
// AES-256-CBC and PKCS#7 padding. key must be 32 bytes.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	if len(key) != keySize {
		return nil, benchrors.Crypto("encrypt", nil).WithDetail("reason", "key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, benchrors.Crypto("new cipher", err)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, benchrors.Crypto("read iv", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, padded)

	out := make([]byte, 0, ivSize+len(ciphertext))
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt reverses Encrypt. encrypted is iv(16) || ciphertext.
func Decrypt(encrypted, key []byte) ([]byte, error) {
	if len(key) != keySize {
		return nil, benchrors.Crypto("decrypt", nil).WithDetail("reason", "key must be 32 bytes")
	}
	if len(encrypted) < ivSize+aes.BlockSize || (len(encrypted)-ivSize)%aes.BlockSize != 0 {
		return nil, benchrors.Crypto("decrypt", nil).WithDetail("reason", "malformed ciphertext length")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, benchrors.Crypto("new cipher", err)
	}

	iv := encrypted[:ivSize]
	ciphertext := encrypted[ivSize:]
	plaintext := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext)
}

// MAC returns a 32-byte HMAC-SHA256 tag over data.
func MAC(data, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// Verify reports whether tag is the correct HMAC-SHA256 of data under key,
// using a constant-time comparison.
func Verify(data, tag, key []byte) bool {
	expected := MAC(data, key)
	return subtle.ConstantTimeCompare(expected, tag) == 1
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, benchrors.Crypto("unpad", nil).WithDetail("reason", "empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(data) {
		return nil, benchrors.Crypto("unpad", nil).WithDetail("reason", "invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, benchrors.Crypto("unpad", nil).WithDetail("reason", "invalid padding bytes")
		}
	}
	return data[:len(data)-padLen], nil
}

// DeriveKeyPair spreads a single provisioned master secret into the
// distinct AES and HMAC keys a device needs, keyed by device id, using
// HKDF-SHA256. This lets a lab provision one secret per bench rather than
// two raw keys; it is an addition beyond the wire format, used only at
// provisioning time, never on the wire.
func DeriveKeyPair(masterSecret []byte, deviceID uint32) (aesKey, hmacKey []byte, err error) {
	info := []byte{byte(deviceID >> 24), byte(deviceID >> 16), byte(deviceID >> 8), byte(deviceID)}
	reader := hkdf.New(sha256.New, masterSecret, nil, info)

	both := make([]byte, keySize*2)
	if _, err := io.ReadFull(reader, both); err != nil {
		return nil, nil, benchrors.Crypto("derive key pair", err)
	}
	return both[:keySize], both[keySize:], nil
}
