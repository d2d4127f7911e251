// Package identity implements Ed25519 key handling and principal derivation
// for Decent Cloud participants.
package identity

import (
	"crypto"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base32"
	"encoding/pem"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"

	"filippo.io/edwards25519"
)

// domainSeparationContext is mixed into every signed payload so that
// signatures produced for this protocol can never be replayed against an
// unrelated Ed25519ph consumer.
const domainSeparationContext = "decent-cloud-v1"

var (
	// ErrInvalidPublicKey is returned when a verifying key is not a
	// canonical 32-byte Ed25519 point.
	ErrInvalidPublicKey = errors.New("identity: invalid ed25519 public key")
	// ErrInvalidSeed is returned when a seed is not exactly 32 bytes.
	ErrInvalidSeed = errors.New("identity: seed must be 32 bytes")
	// ErrNoSigningKey is returned when Sign is called on a verify-only identity.
	ErrNoSigningKey = errors.New("identity: no signing key available")
	// ErrVerificationFailed is returned by Verify on signature mismatch.
	ErrVerificationFailed = errors.New("identity: signature verification failed")
)

// Identity wraps an Ed25519 verifying key and, optionally, the matching
// signing key. The signing key is held only as long as the process needs
// it to sign; the core never persists it.
type Identity struct {
	signing   ed25519.PrivateKey // nil for verify-only identities
	verifying ed25519.PublicKey
}

// FromSeed derives a signing Identity from a 32-byte seed using HMAC-SHA-512
// with the literal key "ed25519 seed"; the first 32 bytes of the MAC output
// become the Ed25519 private seed. This mirrors the reference derivation
// bit-for-bit and must not be changed.
func FromSeed(seed []byte) (*Identity, error) {
	if len(seed) != 32 {
		return nil, ErrInvalidSeed
	}
	mac := hmac.New(sha512.New, []byte("ed25519 seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)

	priv := ed25519.NewKeyFromSeed(sum[:32])
	return &Identity{
		signing:   priv,
		verifying: priv.Public().(ed25519.PublicKey),
	}, nil
}

// VerifyingFromBytes builds a verify-only Identity from a 32-byte Ed25519
// public key. It rejects keys that are not the canonical length, keys that
// do not decode to a curve point at all (edwards25519.Point.SetBytes fails),
// and non-canonical encodings (the decoded point re-encodes to different
// bytes), rather than deferring that check to Verify.
func VerifyingFromBytes(pub []byte) (*Identity, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, ErrInvalidPublicKey
	}
	pt, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	if string(pt.Bytes()) != string(pub) {
		return nil, ErrInvalidPublicKey
	}
	cp := make([]byte, ed25519.PublicKeySize)
	copy(cp, pub)
	return &Identity{verifying: cp}, nil
}

// PublicKeyBytes returns the raw 32-byte Ed25519 verifying key.
func (id *Identity) PublicKeyBytes() []byte {
	cp := make([]byte, len(id.verifying))
	copy(cp, id.verifying)
	return cp
}

// HasSigningKey reports whether this identity can produce signatures.
func (id *Identity) HasSigningKey() bool {
	return id.signing != nil
}

// Sign produces an Ed25519ph (prehashed SHA-512) signature over data, bound
// to the fixed domain-separation context. It fails if the identity has no
// signing key.
func (id *Identity) Sign(data []byte) ([]byte, error) {
	if id.signing == nil {
		return nil, ErrNoSigningKey
	}
	digest := sha512.Sum512(data)
	opts := &ed25519.Options{Hash: crypto.SHA512, Context: domainSeparationContext}
	sig, err := id.signing.Sign(nil, digest[:], opts)
	if err != nil {
		return nil, fmt.Errorf("identity: sign: %w", err)
	}
	return sig, nil
}

// Verify checks an Ed25519ph signature produced by Sign.
func (id *Identity) Verify(data, sig []byte) error {
	digest := sha512.Sum512(data)
	opts := &ed25519.Options{Hash: crypto.SHA512, Context: domainSeparationContext}
	if err := ed25519.VerifyWithOptions(id.verifying, digest[:], sig, opts); err != nil {
		return ErrVerificationFailed
	}
	return nil
}

// selfAuthenticatingTag marks a principal as derived from a public key
// rather than an opaque or anonymous identifier.
const selfAuthenticatingTag = 0x02

// Principal returns the self-authenticating principal derived from the
// DER-encoded public key, using the same self-authenticating-id scheme the
// Internet Computer uses for principals: SHA-224(der) with a trailing 0x02
// tag byte, then a CRC32 checksum-prefixed base32 textual encoding grouped
// in dashed 5-character blocks.
func (id *Identity) Principal() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(id.verifying)
	if err != nil {
		return "", fmt.Errorf("identity: marshal public key: %w", err)
	}
	return derivePrincipal(der), nil
}

// PrincipalBytes returns the raw (non-textual) principal bytes: the
// SHA-224 digest of the DER-encoded public key followed by the
// self-authenticating tag byte.
func (id *Identity) PrincipalBytes() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(id.verifying)
	if err != nil {
		return nil, fmt.Errorf("identity: marshal public key: %w", err)
	}
	return principalBytes(der), nil
}

func principalBytes(der []byte) []byte {
	sum := sha256.Sum224(der)
	out := make([]byte, 0, len(sum)+1)
	out = append(out, sum[:]...)
	out = append(out, selfAuthenticatingTag)
	return out
}

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

// PrincipalText renders raw principal bytes in the dashed, lowercase,
// checksum-prefixed textual form.
func PrincipalText(raw []byte) string {
	checksum := crc32.ChecksumIEEE(raw)
	buf := make([]byte, 4+len(raw))
	buf[0] = byte(checksum >> 24)
	buf[1] = byte(checksum >> 16)
	buf[2] = byte(checksum >> 8)
	buf[3] = byte(checksum)
	copy(buf[4:], raw)

	encoded := strings.ToLower(base32NoPad.EncodeToString(buf))
	var sb strings.Builder
	for i := 0; i < len(encoded); i += 5 {
		if i > 0 {
			sb.WriteByte('-')
		}
		end := i + 5
		if end > len(encoded) {
			end = len(encoded)
		}
		sb.WriteString(encoded[i:end])
	}
	return sb.String()
}

// PEM encodes the verifying key as a PEM-armored PKIX public key block.
func (id *Identity) PEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(id.verifying)
	if err != nil {
		return "", fmt.Errorf("identity: marshal public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// FromPEM parses a PEM-armored PKIX Ed25519 public key into a verify-only
// Identity.
func FromPEM(data string) (*Identity, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, fmt.Errorf("identity: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("identity: parse public key: %w", err)
	}
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("identity: not an Ed25519 public key")
	}
	return VerifyingFromBytes(edPub)
}

func derivePrincipal(der []byte) string {
	return PrincipalText(principalBytes(der))
}
