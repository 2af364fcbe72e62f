// Package keyvault encrypts venue credentials at rest with AES-256-GCM
// under a process-wide key derived by scrypt from the configured password
// and salt.
package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/scrypt"

	"tritex/internal/apperr"
	"tritex/internal/venue"
)

// scrypt parameters; interactive-grade, derivation happens once at startup.
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	keyLen       = 32
	gcmNonceSize = 12
)

// Cipher is one AEAD-sealed value with its nonce and tag hex-encoded
// separately.
type Cipher struct {
	CipherHex string
	IVHex     string
	TagHex    string
}

// Credential is the stored form of a venue key pair: separate ciphers with
// the nonces and tags joined as "access:secret".
type Credential struct {
	Venue        venue.Name
	AccessCipher string
	SecretCipher string
	IV           string
	Tag          string
}

// MaskedCredential is the safe-to-display form of a stored key pair.
type MaskedCredential struct {
	Venue       venue.Name `json:"exchange"`
	AccessKey   string     `json:"accessKey"`
	SecretKey   string     `json:"secretKey"`
	Permissions string     `json:"permissions,omitempty"`
}

// Vault seals and opens venue credentials.
type Vault struct {
	aead cipher.AEAD
}

// New derives the vault key from password and salt and prepares the AEAD.
func New(password, salt string) (*Vault, error) {
	key, err := scrypt.Key([]byte(password), []byte(salt), scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCryptographic, err, "derive vault key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCryptographic, err, "init vault cipher")
	}
	aead, err := cipher.NewGCMWithNonceSize(block, gcmNonceSize)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCryptographic, err, "init vault gcm")
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals one plaintext under a fresh random nonce.
func (v *Vault) Encrypt(plaintext string) (Cipher, error) {
	iv := make([]byte, gcmNonceSize)
	if _, err := rand.Read(iv); err != nil {
		return Cipher{}, apperr.Wrap(apperr.KindCryptographic, err, "generate nonce")
	}
	sealed := v.aead.Seal(nil, iv, []byte(plaintext), nil)
	tagStart := len(sealed) - v.aead.Overhead()
	return Cipher{
		CipherHex: hex.EncodeToString(sealed[:tagStart]),
		IVHex:     hex.EncodeToString(iv),
		TagHex:    hex.EncodeToString(sealed[tagStart:]),
	}, nil
}

// Decrypt opens one sealed value.
func (v *Vault) Decrypt(c Cipher) (string, error) {
	body, err := hex.DecodeString(c.CipherHex)
	if err != nil {
		return "", apperr.Wrap(apperr.KindCryptographic, err, "decode cipher")
	}
	iv, err := hex.DecodeString(c.IVHex)
	if err != nil {
		return "", apperr.Wrap(apperr.KindCryptographic, err, "decode nonce")
	}
	tag, err := hex.DecodeString(c.TagHex)
	if err != nil {
		return "", apperr.Wrap(apperr.KindCryptographic, err, "decode tag")
	}
	if len(iv) != gcmNonceSize {
		return "", apperr.New(apperr.KindCryptographic, "bad nonce length %d", len(iv))
	}
	plaintext, err := v.aead.Open(nil, iv, append(body, tag...), nil)
	if err != nil {
		return "", apperr.Wrap(apperr.KindCryptographic, err, "open cipher")
	}
	return string(plaintext), nil
}

// EncryptPair seals a venue key pair into its stored form.
func (v *Vault) EncryptPair(name venue.Name, accessKey, secretKey string) (*Credential, error) {
	access, err := v.Encrypt(accessKey)
	if err != nil {
		return nil, err
	}
	secret, err := v.Encrypt(secretKey)
	if err != nil {
		return nil, err
	}
	return &Credential{
		Venue:        name,
		AccessCipher: access.CipherHex,
		SecretCipher: secret.CipherHex,
		IV:           access.IVHex + ":" + secret.IVHex,
		Tag:          access.TagHex + ":" + secret.TagHex,
	}, nil
}

// DecryptPair opens a stored key pair. Any failure, including tampered or
// foreign ciphertext, surfaces as a missing key so cryptographic detail
// never reaches callers.
func (v *Vault) DecryptPair(c *Credential) (accessKey, secretKey string, err error) {
	ivs := strings.SplitN(c.IV, ":", 2)
	tags := strings.SplitN(c.Tag, ":", 2)
	if len(ivs) != 2 || len(tags) != 2 {
		return "", "", errNoSuchKey(c.Venue)
	}
	accessKey, err = v.Decrypt(Cipher{CipherHex: c.AccessCipher, IVHex: ivs[0], TagHex: tags[0]})
	if err != nil {
		return "", "", errNoSuchKey(c.Venue)
	}
	secretKey, err = v.Decrypt(Cipher{CipherHex: c.SecretCipher, IVHex: ivs[1], TagHex: tags[1]})
	if err != nil {
		return "", "", errNoSuchKey(c.Venue)
	}
	return accessKey, secretKey, nil
}

// Masked opens a stored pair and returns only display-safe fragments.
func (v *Vault) Masked(c *Credential) (*MaskedCredential, error) {
	accessKey, secretKey, err := v.DecryptPair(c)
	if err != nil {
		return nil, err
	}
	return &MaskedCredential{
		Venue:     c.Venue,
		AccessKey: MaskAccessKey(accessKey),
		SecretKey: MaskSecretKey(secretKey),
	}, nil
}

// MaskAccessKey keeps the first eight and last four characters.
func MaskAccessKey(key string) string {
	if len(key) <= 12 {
		return strings.Repeat("*", len(key))
	}
	return key[:8] + strings.Repeat("*", len(key)-12) + key[len(key)-4:]
}

// MaskSecretKey keeps only the last four characters.
func MaskSecretKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

func errNoSuchKey(name venue.Name) error {
	return apperr.New(apperr.KindNotFound, "no such key for %s", name)
}
