package protocol

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	HashSize      = 32
	SignatureSize = 64
)

var (
	ErrInvalidHash      = errors.New("invalid hash")
	ErrInvalidSignature = errors.New("invalid signature encoding")
)

// Hash is a 32-byte SHA-256 digest. Its canonical text form is 64 lowercase hex characters.
type Hash [HashSize]byte

// GLR is the universal root: the digest of the empty byte string.
var GLR = Digest(nil)

// Digest hashes in with SHA-256.
func Digest(in []byte) Hash {
	return Hash(sha256.Sum256(in))
}

// DigestString hashes the UTF-8 bytes of s.
func DigestString(s string) Hash {
	return Digest([]byte(s))
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) IsRoot() bool {
	return h == GLR
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash accepts exactly 64 lowercase hex characters.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if err := decodeLowerHex(s, h[:]); err != nil {
		return Hash{}, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return h, nil
}

// HashFromBytes copies a 32-byte slice into a Hash.
func HashFromBytes(b []byte) (Hash, error) {
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("%w: length %d, want %d", ErrInvalidHash, len(b), HashSize)
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// MustHashFromBytes panics unless b is exactly 32 bytes. Use it where a wrong
// length is a programming error rather than untrusted input.
func MustHashFromBytes(b []byte) Hash {
	h, err := HashFromBytes(b)
	if err != nil {
		panic(err)
	}
	return h
}

// Signature is a raw 64-byte Ed25519 signature.
type Signature [SignatureSize]byte

func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

func (s Signature) Bytes() []byte {
	out := make([]byte, SignatureSize)
	copy(out, s[:])
	return out
}

func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Signature) UnmarshalText(text []byte) error {
	parsed, err := ParseSignature(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSignature accepts exactly 128 lowercase hex characters.
func ParseSignature(s string) (Signature, error) {
	var sig Signature
	if err := decodeLowerHex(s, sig[:]); err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return sig, nil
}

// SignatureFromBytes copies a 64-byte slice into a Signature.
func SignatureFromBytes(b []byte) (Signature, error) {
	if len(b) != SignatureSize {
		return Signature{}, fmt.Errorf("%w: length %d, want %d", ErrInvalidSignature, len(b), SignatureSize)
	}
	var sig Signature
	copy(sig[:], b)
	return sig, nil
}

// ZoneID identifies a signer: the hash of its public key.
type ZoneID struct{ Hash }

// CanonID identifies an interpretation namespace: the hash of its name.
type CanonID struct{ Hash }

// AttestationID identifies an attestation: hash(zone || subject || canon || BE64(time)).
type AttestationID struct{ Hash }

// RootRef is GLR used as a reference.
var RootRef = AttestationID{GLR}

func ParseZoneID(s string) (ZoneID, error) {
	h, err := ParseHash(s)
	return ZoneID{h}, err
}

func ParseCanonID(s string) (CanonID, error) {
	h, err := ParseHash(s)
	return CanonID{h}, err
}

func ParseAttestationID(s string) (AttestationID, error) {
	h, err := ParseHash(s)
	return AttestationID{h}, err
}

// EncodeTime returns the 8-byte big-endian form of a timestamp.
func EncodeTime(t uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, t)
	return b
}

// Concat joins byte slices into a freshly allocated buffer.
func Concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func decodeLowerHex(s string, dst []byte) error {
	if len(s) != hex.EncodedLen(len(dst)) {
		return fmt.Errorf("length %d, want %d hex characters", len(s), hex.EncodedLen(len(dst)))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("character %q at offset %d is not lowercase hex", c, i)
		}
	}
	_, err := hex.Decode(dst, []byte(s))
	return err
}
