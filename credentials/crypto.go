package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation.
	scryptN = 32768

	// scryptR is the block size parameter for scrypt key derivation.
	scryptR = 8

	// scryptP is the parallelization parameter for scrypt key derivation.
	scryptP = 1

	// scryptKeyLen is the derived key length in bytes.
	scryptKeyLen = 32

	// saltLen is the length of the random per-store salt in bytes.
	saltLen = 16
)

// deriveKey derives a 32-byte encryption key from passphrase and salt
// using scrypt. The passphrase is normalized to NFKC first so the same
// passphrase typed on different platforms derives the same key.
func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	passphrase = norm.NFKC.String(passphrase)

	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	return key, nil
}

// newSalt returns a fresh random salt for key derivation.
func newSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	return salt, nil
}

// sealedBox encrypts and decrypts the session record with AES-GCM.
// Sealed data is stored as [12-byte nonce][ciphertext+GCM tag].
type sealedBox struct {
	gcm cipher.AEAD
}

// newSealedBox creates a sealedBox from a passphrase and salt.
func newSealedBox(passphrase string, salt []byte) (*sealedBox, error) {
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &sealedBox{gcm: gcm}, nil
}

// Seal encrypts plaintext with a random nonce.
func (b *sealedBox) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, b.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return b.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts sealed data produced by Seal. It fails on truncated
// input, a wrong key, or any tampering with the ciphertext.
func (b *sealedBox) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < b.gcm.NonceSize() {
		return nil, fmt.Errorf("sealed data too short: %d bytes", len(sealed))
	}

	nonce, ciphertext := sealed[:b.gcm.NonceSize()], sealed[b.gcm.NonceSize():]

	plaintext, err := b.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("opening sealed data: %w", err)
	}

	return plaintext, nil
}
