package crypto

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/glogos/glogos/internal/protocol"
)

func counterSeed() []byte {
	seed := make([]byte, SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	return seed
}

func TestZoneFromSeedVector(t *testing.T) {
	signer, err := ZoneFromSeed(counterSeed())
	if err != nil {
		t.Fatalf("ZoneFromSeed: %v", err)
	}
	if got := hex.EncodeToString(signer.PublicKey); got != "03a107bff3ce10be1d70dd18e74bc09967e4d6309ba50d5f1ddc8664125531b8" {
		t.Fatalf("unexpected public key %s", got)
	}
	if got := signer.ID.String(); got != "56475aa75463474c0285df5dbf2bcab73da651358839e9b77481b2eab107708c" {
		t.Fatalf("unexpected zone id %s", got)
	}
	if !bytes.Equal(signer.Seed(), counterSeed()) {
		t.Fatalf("seed round trip mismatch")
	}
}

func TestZoneFromSeedGenesisVector(t *testing.T) {
	seed, _ := hex.DecodeString("ae958e20ef38261f13a52590ee631ca83d718ea62d03f22774affd43c01bb902")
	signer, err := ZoneFromSeed(seed)
	if err != nil {
		t.Fatalf("ZoneFromSeed: %v", err)
	}
	if got := hex.EncodeToString(signer.PublicKey); got != "c70b1f7e4ce8cb7f6f8f3984ff6fe8260469b6cf8f8f839f047ba64d894d4be8" {
		t.Fatalf("unexpected genesis public key %s", got)
	}
	if got := signer.ID.String(); got != "db1756c17220873bcb831c2f9c197081ab0d83acf2226b819880d62ce906c010" {
		t.Fatalf("unexpected genesis zone %s", got)
	}
}

func TestZoneFromSeedRejectsWrongLength(t *testing.T) {
	for _, n := range []int{0, 31, 33, 64} {
		if _, err := ZoneFromSeed(make([]byte, n)); !errors.Is(err, ErrInvalidSeedLength) {
			t.Fatalf("seed length %d: expected ErrInvalidSeedLength, got %v", n, err)
		}
	}
}

func TestGenerateZoneIsRandomAndValid(t *testing.T) {
	a, err := GenerateZone()
	if err != nil {
		t.Fatalf("GenerateZone: %v", err)
	}
	b, err := GenerateZone()
	if err != nil {
		t.Fatalf("GenerateZone: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("expected distinct zones from fresh randomness")
	}
	if !ValidateZone(a.ID, a.PublicKey) {
		t.Fatalf("generated zone does not validate")
	}
	if ValidateZone(a.ID, b.PublicKey) {
		t.Fatalf("zone validated against a foreign key")
	}
}

func TestGenerateZoneFromShortReader(t *testing.T) {
	if _, err := GenerateZoneFrom(bytes.NewReader(make([]byte, 10))); err == nil {
		t.Fatalf("expected error from exhausted entropy source")
	}
}

func TestSignVerify(t *testing.T) {
	signer, err := ZoneFromSeed(counterSeed())
	if err != nil {
		t.Fatalf("ZoneFromSeed: %v", err)
	}
	msg := []byte("payload")
	sig := signer.Sign(msg)
	if !Verify(signer.PublicKey, msg, sig) {
		t.Fatalf("expected signature to verify")
	}
	viaSeed, err := Sign(msg, signer.Seed())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if viaSeed != sig {
		t.Fatalf("seed and full-key signatures differ")
	}
	sig[0] ^= 0x01
	if Verify(signer.PublicKey, msg, sig) {
		t.Fatalf("expected tampered signature to fail")
	}
}

func TestVerifyNeverPanicsOnMalformedKey(t *testing.T) {
	var sig protocol.Signature
	for _, pub := range [][]byte{nil, make([]byte, 31), make([]byte, 33)} {
		if Verify(pub, []byte("m"), sig) {
			t.Fatalf("expected malformed key of length %d to fail", len(pub))
		}
	}
}

func TestSignRejectsMalformedSecret(t *testing.T) {
	if _, err := Sign([]byte("m"), make([]byte, 10)); !errors.Is(err, ErrInvalidPrivateKey) {
		t.Fatalf("expected ErrInvalidPrivateKey, got %v", err)
	}
}

func TestParsePublicKeyEncodings(t *testing.T) {
	signer, err := ZoneFromSeed(counterSeed())
	if err != nil {
		t.Fatalf("ZoneFromSeed: %v", err)
	}
	pemBytes, err := EncodePublicKeyPEM(signer.PublicKey)
	if err != nil {
		t.Fatalf("EncodePublicKeyPEM: %v", err)
	}
	for name, encoded := range map[string]string{
		"hex":    hex.EncodeToString(signer.PublicKey),
		"base64": base64.StdEncoding.EncodeToString(signer.PublicKey),
		"pem":    string(pemBytes),
	} {
		pub, err := ParsePublicKey(encoded)
		if err != nil {
			t.Fatalf("%s: ParsePublicKey: %v", name, err)
		}
		if !bytes.Equal(pub, signer.PublicKey) {
			t.Fatalf("%s: parsed key mismatch", name)
		}
	}
	if _, err := ParsePublicKey(hex.EncodeToString(make([]byte, 16))); !errors.Is(err, ErrInvalidPublicKey) {
		t.Fatalf("expected ErrInvalidPublicKey for short key, got %v", err)
	}
}

func TestLoadSignerFromFiles(t *testing.T) {
	dir := t.TempDir()
	signer, err := ZoneFromSeed(counterSeed())
	if err != nil {
		t.Fatalf("ZoneFromSeed: %v", err)
	}
	privPEM, err := EncodePrivateKeyPEM(signer.PrivateKey())
	if err != nil {
		t.Fatalf("EncodePrivateKeyPEM: %v", err)
	}
	pubPEM, err := EncodePublicKeyPEM(signer.PublicKey)
	if err != nil {
		t.Fatalf("EncodePublicKeyPEM: %v", err)
	}
	privPath := filepath.Join(dir, "zone.key")
	pubPath := filepath.Join(dir, "zone.pub")
	seedPath := filepath.Join(dir, "zone.seed")
	mustWrite(t, privPath, privPEM)
	mustWrite(t, pubPath, pubPEM)
	mustWrite(t, seedPath, []byte(hex.EncodeToString(counterSeed())+"\n"))

	loaded, err := LoadSigner(privPath, pubPath)
	if err != nil {
		t.Fatalf("LoadSigner: %v", err)
	}
	if loaded.ID != signer.ID {
		t.Fatalf("loaded zone %s, want %s", loaded.ID, signer.ID)
	}
	fromSeed, err := LoadSigner(seedPath, "")
	if err != nil {
		t.Fatalf("LoadSigner(seed): %v", err)
	}
	if fromSeed.ID != signer.ID {
		t.Fatalf("seed file zone %s, want %s", fromSeed.ID, signer.ID)
	}

	other, _ := GenerateZone()
	otherPub, _ := EncodePublicKeyPEM(other.PublicKey)
	otherPath := filepath.Join(dir, "other.pub")
	mustWrite(t, otherPath, otherPub)
	if _, err := LoadSigner(privPath, otherPath); !errors.Is(err, ErrKeyPairMismatch) {
		t.Fatalf("expected ErrKeyPairMismatch, got %v", err)
	}
}

func TestNewSignerRejectsShortKey(t *testing.T) {
	if _, err := NewSigner(ed25519.PrivateKey(make([]byte, 10))); !errors.Is(err, ErrInvalidPrivateKey) {
		t.Fatalf("expected ErrInvalidPrivateKey, got %v", err)
	}
}

func mustWrite(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
