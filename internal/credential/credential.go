// Package credential implements the X25519 + XChaCha20-Poly1305 credential
// cipher used to hand short secrets (SSH keys, contract payment details) to
// a recipient identified only by their Ed25519 verifying key.
package credential

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// Version identifies the envelope's domain-separation and AAD binding.
type Version int

const (
	// V1 has no AAD binding.
	V1 Version = 1
	// V2 binds caller-supplied additional authenticated data (e.g. a
	// contract id) into the AEAD tag.
	V2 Version = 2
)

const (
	domainV1 = "credential-encryption-v1"
	domainV2 = "credential-encryption-v2-aad"
)

var (
	// ErrInvalidPublicKey is returned for a recipient key of the wrong length
	// or one that does not decompress to a valid Edwards point.
	ErrInvalidPublicKey = errors.New("credential: invalid ed25519 public key")
	// ErrInvalidSecretKey is returned for a secret of the wrong length.
	ErrInvalidSecretKey = errors.New("credential: secret key must be 32 or 64 bytes")
	// ErrUnsupportedVersion is returned for an envelope with an unknown version tag.
	ErrUnsupportedVersion = errors.New("credential: unsupported envelope version")
	// ErrDecryptionFailed covers any AEAD authentication failure: wrong key,
	// wrong AAD, or tampered ciphertext. The cause is deliberately ambiguous.
	ErrDecryptionFailed = errors.New("credential: decryption failed")
)

// Envelope is the JSON-serialisable output of Encrypt/EncryptWithAAD.
type Envelope struct {
	Version         Version `json:"version"`
	EphemeralPubKey string  `json:"ephemeral_pubkey"`
	Nonce           string  `json:"nonce"`
	Ciphertext      string  `json:"ciphertext"`
	AAD             string  `json:"aad,omitempty"`
}

// The struct tags above define the JSON form; Bytes and ParseEnvelope
// convert it to and from an opaque blob for storage.

// Bytes serialises the envelope to JSON.
func (e *Envelope) Bytes() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope deserialises a JSON-encoded Envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("credential: parse envelope: %w", err)
	}
	return &env, nil
}

// Encrypt encrypts plaintext for recipientEdPub using version v1 (no AAD).
func Encrypt(recipientEdPub ed25519.PublicKey, plaintext []byte) (*Envelope, error) {
	return encrypt(recipientEdPub, plaintext, nil, V1)
}

// EncryptWithAAD encrypts plaintext for recipientEdPub using version v2,
// binding aad into the authentication tag without encrypting it.
func EncryptWithAAD(recipientEdPub ed25519.PublicKey, plaintext, aad []byte) (*Envelope, error) {
	return encrypt(recipientEdPub, plaintext, aad, V2)
}

func encrypt(recipientEdPub ed25519.PublicKey, plaintext, aad []byte, version Version) (*Envelope, error) {
	recipientX, err := ed25519PublicToX25519(recipientEdPub)
	if err != nil {
		return nil, err
	}

	ephemeralSecret := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(ephemeralSecret); err != nil {
		return nil, fmt.Errorf("credential: generate ephemeral secret: %w", err)
	}
	clamp(ephemeralSecret)

	ephemeralPub, err := curve25519.X25519(ephemeralSecret, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("credential: derive ephemeral public key: %w", err)
	}

	shared, err := curve25519.X25519(ephemeralSecret, recipientX)
	if err != nil {
		return nil, fmt.Errorf("credential: ecdh: %w", err)
	}

	key := deriveSymmetricKey(shared, version)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("credential: new aead: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("credential: generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, aad)

	env := &Envelope{
		Version:         version,
		EphemeralPubKey: base64.StdEncoding.EncodeToString(ephemeralPub),
		Nonce:           base64.StdEncoding.EncodeToString(nonce),
		Ciphertext:      base64.StdEncoding.EncodeToString(ciphertext),
	}
	if aad != nil {
		env.AAD = base64.StdEncoding.EncodeToString(aad)
	}
	return env, nil
}

// Decrypt decrypts an Envelope produced by Encrypt/EncryptWithAAD using the
// recipient's 32- or 64-byte Ed25519 secret (seed or expanded key). aad must
// match exactly what was supplied at encryption time for V2 envelopes; pass
// nil for V1.
func Decrypt(recipientEdSecret []byte, env *Envelope, aad []byte) ([]byte, error) {
	var domain string
	switch env.Version {
	case V1:
		domain = domainV1
	case V2:
		domain = domainV2
	default:
		return nil, ErrUnsupportedVersion
	}

	secretX, err := ed25519SecretToX25519(recipientEdSecret)
	if err != nil {
		return nil, err
	}

	ephemeralPub, err := base64.StdEncoding.DecodeString(env.EphemeralPubKey)
	if err != nil {
		return nil, fmt.Errorf("credential: decode ephemeral pubkey: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("credential: decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("credential: decode ciphertext: %w", err)
	}

	shared, err := curve25519.X25519(secretX, ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("credential: ecdh: %w", err)
	}

	key := deriveSymmetricKeyWithDomain(shared, domain)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("credential: new aead: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func deriveSymmetricKey(shared []byte, version Version) []byte {
	domain := domainV1
	if version == V2 {
		domain = domainV2
	}
	return deriveSymmetricKeyWithDomain(shared, domain)
}

func deriveSymmetricKeyWithDomain(shared []byte, domain string) []byte {
	h := sha512.New()
	h.Write([]byte(domain))
	h.Write(shared)
	sum := h.Sum(nil)
	return sum[:chacha20poly1305.KeySize]
}

func clamp(scalar []byte) {
	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64
}

// ed25519PublicToX25519 converts an Ed25519 verifying key to its Montgomery
// (X25519) form by decompressing the Edwards point and mapping it through
// u = (1+y)/(1-y).
func ed25519PublicToX25519(edPub ed25519.PublicKey) ([]byte, error) {
	if len(edPub) != ed25519.PublicKeySize {
		return nil, ErrInvalidPublicKey
	}

	point, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return point.BytesMontgomery(), nil
}

// ed25519SecretToX25519 converts an Ed25519 secret (32-byte seed or 64-byte
// expanded private key) to an X25519 secret scalar: SHA-512 the 32-byte seed
// and clamp the first 32 bytes.
func ed25519SecretToX25519(secret []byte) ([]byte, error) {
	var seed []byte
	switch len(secret) {
	case ed25519.SeedSize:
		seed = secret
	case ed25519.PrivateKeySize:
		seed = ed25519.PrivateKey(secret).Seed()
	default:
		return nil, ErrInvalidSecretKey
	}

	h := sha512.Sum512(seed)
	x := make([]byte, curve25519.ScalarSize)
	copy(x, h[:32])
	clamp(x)
	return x, nil
}
