package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/glogos/glogos/internal/protocol"
)

const (
	SeedSize      = ed25519.SeedSize
	PublicKeySize = ed25519.PublicKeySize
)

var (
	ErrInvalidSeedLength = errors.New("seed must be exactly 32 bytes")
	ErrInvalidPrivateKey = errors.New("invalid ed25519 private key")
	ErrInvalidPublicKey  = errors.New("invalid ed25519 public key")
	ErrKeyPairMismatch   = errors.New("public key does not match private key")
	errKeyNotBase64OrHex = errors.New("key is not valid hex or base64")
)

// Zone is a protocol identity: a public key and the hash that names it.
type Zone struct {
	ID        protocol.ZoneID
	PublicKey ed25519.PublicKey
}

// Signer is a zone together with its private key.
type Signer struct {
	Zone
	private ed25519.PrivateKey
}

// DeriveZoneID hashes a public key into its zone id.
func DeriveZoneID(pub []byte) protocol.ZoneID {
	return protocol.ZoneID{Hash: protocol.Digest(pub)}
}

// ValidateZone reports whether id names pub.
func ValidateZone(id protocol.ZoneID, pub []byte) bool {
	derived := DeriveZoneID(pub)
	return subtle.ConstantTimeCompare(derived.Hash[:], id.Hash[:]) == 1
}

// GenerateZone draws a fresh seed from crypto/rand.
func GenerateZone() (*Signer, error) {
	return GenerateZoneFrom(rand.Reader)
}

// GenerateZoneFrom draws a seed from r.
func GenerateZoneFrom(r io.Reader) (*Signer, error) {
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("read zone seed: %w", err)
	}
	return ZoneFromSeed(seed)
}

// ZoneFromSeed deterministically derives a zone from a 32-byte seed.
func ZoneFromSeed(seed []byte) (*Signer, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSeedLength, len(seed))
	}
	return NewSigner(ed25519.NewKeyFromSeed(seed))
}

// NewSigner wraps a 64-byte ed25519 private key.
func NewSigner(priv ed25519.PrivateKey) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidPrivateKey, len(priv))
	}
	pub := priv.Public().(ed25519.PublicKey)
	key := make(ed25519.PrivateKey, len(priv))
	copy(key, priv)
	return &Signer{
		Zone:    Zone{ID: DeriveZoneID(pub), PublicKey: pub},
		private: key,
	}, nil
}

func (s *Signer) Sign(msg []byte) protocol.Signature {
	var sig protocol.Signature
	copy(sig[:], ed25519.Sign(s.private, msg))
	return sig
}

// Seed returns the 32-byte seed of the private key.
func (s *Signer) Seed() []byte {
	return s.private.Seed()
}

// PrivateKey returns a copy of the private key.
func (s *Signer) PrivateKey() ed25519.PrivateKey {
	out := make(ed25519.PrivateKey, len(s.private))
	copy(out, s.private)
	return out
}

// Sign signs msg with a private key given either as a 32-byte seed or a
// 64-byte ed25519 private key.
func Sign(msg, secret []byte) (protocol.Signature, error) {
	var priv ed25519.PrivateKey
	switch len(secret) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(secret)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(secret)
	default:
		return protocol.Signature{}, fmt.Errorf("%w: length %d", ErrInvalidPrivateKey, len(secret))
	}
	var sig protocol.Signature
	copy(sig[:], ed25519.Sign(priv, msg))
	return sig, nil
}

// Verify never panics: malformed keys yield false.
func Verify(pub []byte, msg []byte, sig protocol.Signature) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig[:])
}

// LoadSigner reads a private key file and, when publicPath is set, checks it
// against a public key file.
func LoadSigner(privatePath, publicPath string) (*Signer, error) {
	priv, err := loadPrivateKey(privatePath)
	if err != nil {
		return nil, err
	}
	signer, err := NewSigner(priv)
	if err != nil {
		return nil, err
	}
	if publicPath == "" {
		return signer, nil
	}
	pub, err := loadPublicKey(publicPath)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(signer.PublicKey, pub) != 1 {
		return nil, ErrKeyPairMismatch
	}
	return signer, nil
}

// ParsePublicKey accepts PKIX PEM, 64-character hex, or base64.
func ParsePublicKey(encoded string) (ed25519.PublicKey, error) {
	buf := strings.TrimSpace(encoded)
	if strings.HasPrefix(buf, "-----BEGIN") {
		block, _ := pem.Decode([]byte(buf))
		if block == nil {
			return nil, fmt.Errorf("%w: invalid pem", ErrInvalidPublicKey)
		}
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse public key pem: %w", err)
		}
		pk, ok := parsed.(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not ed25519", ErrInvalidPublicKey)
		}
		return pk, nil
	}
	b, err := decodeKeyText(buf)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(b))
	}
	return ed25519.PublicKey(b), nil
}

// ParsePrivateKey accepts PKCS#8 PEM, or a hex/base64 seed or full private key.
func ParsePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	data := strings.TrimSpace(encoded)
	if strings.HasPrefix(data, "-----BEGIN") {
		block, _ := pem.Decode([]byte(data))
		if block == nil {
			return nil, fmt.Errorf("%w: invalid pem", ErrInvalidPrivateKey)
		}
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse pkcs8 private key: %w", err)
		}
		pk, ok := parsed.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not ed25519", ErrInvalidPrivateKey)
		}
		return pk, nil
	}
	b, err := decodeKeyText(data)
	if err != nil {
		return nil, err
	}
	switch len(b) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(b), nil
	default:
		return nil, fmt.Errorf("%w: length %d", ErrInvalidPrivateKey, len(b))
	}
}

// EncodePrivateKeyPEM renders priv as PKCS#8 PEM.
func EncodePrivateKeyPEM(priv ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal pkcs8 private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// EncodePublicKeyPEM renders pub as PKIX PEM.
func EncodePublicKeyPEM(pub ed25519.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal pkix public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func loadPrivateKey(path string) (ed25519.PrivateKey, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return ParsePrivateKey(string(buf))
}

func loadPublicKey(path string) (ed25519.PublicKey, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return ParsePublicKey(string(buf))
}

// decodeKeyText tries lowercase or uppercase hex first, then the base64 variants.
func decodeKeyText(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s)%2 == 0 {
		if b, err := hex.DecodeString(s); err == nil {
			return b, nil
		}
	}
	candidates := []func(string) ([]byte, error){
		base64.RawURLEncoding.DecodeString,
		base64.URLEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		base64.StdEncoding.DecodeString,
	}
	for _, fn := range candidates {
		if b, err := fn(s); err == nil {
			return b, nil
		}
	}
	return nil, errKeyNotBase64OrHex
}
