// Package attestation creates and verifies signed attestations.
package attestation

import (
	"crypto/ed25519"
	"fmt"

	"github.com/glogos/glogos/internal/crypto"
	"github.com/glogos/glogos/internal/protocol"
)

// Verification step names, in the order they run.
const (
	StepZone      = "zone"
	StepID        = "id"
	StepRefsHash  = "refs_hash"
	StepSignInput = "sign_input"
	StepSignature = "signature"
)

var Steps = []string{StepZone, StepID, StepRefsHash, StepSignInput, StepSignature}

// Create derives the id, refs hash and signing input for in and signs it. The
// secret is a 32-byte seed or a 64-byte ed25519 private key; anything else is
// rejected before hashing.
func Create(in protocol.Input, secret []byte) (protocol.Attestation, error) {
	if len(secret) != ed25519.SeedSize && len(secret) != ed25519.PrivateKeySize {
		return protocol.Attestation{}, fmt.Errorf("%w: length %d", crypto.ErrInvalidPrivateKey, len(secret))
	}
	a := unsigned(in)
	proof, err := crypto.Sign(a.SignInput(), secret)
	if err != nil {
		return protocol.Attestation{}, err
	}
	a.Proof = proof
	return a, nil
}

// Issue creates an attestation signed by s, filling in its zone.
func Issue(s *crypto.Signer, in protocol.Input) protocol.Attestation {
	in.Zone = s.ID
	a := unsigned(in)
	a.Proof = s.Sign(a.SignInput())
	return a
}

func unsigned(in protocol.Input) protocol.Attestation {
	refs := make([]protocol.AttestationID, len(in.Refs))
	copy(refs, in.Refs)
	return protocol.Attestation{
		ID:      protocol.ComputeAttestationID(in.Zone, in.Subject, in.Canon, in.Time),
		Zone:    in.Zone,
		Subject: in.Subject,
		Canon:   in.Canon,
		Time:    in.Time,
		Refs:    refs,
	}
}

// Verify checks a against pub and stops at the first failing step.
func Verify(a protocol.Attestation, pub []byte) protocol.VerificationResult {
	res := protocol.VerificationResult{Checks: make([]protocol.VerifyCheck, 0, len(Steps))}

	if len(pub) != ed25519.PublicKeySize {
		return failed(res, failCheck(StepZone, a.Zone.String(), "", fmt.Sprintf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))))
	}
	derived := crypto.DeriveZoneID(pub)
	if derived != a.Zone {
		return failed(res, failCheck(StepZone, a.Zone.String(), derived.String(), "zone does not match public key"))
	}
	res.Checks = append(res.Checks, okCheck(StepZone, a.Zone.String(), derived.String()))

	id := a.ComputeID()
	if id != a.ID {
		return failed(res, failCheck(StepID, a.ID.String(), id.String(), "id does not recompute from fields"))
	}
	res.Checks = append(res.Checks, okCheck(StepID, a.ID.String(), id.String()))

	refsHash := protocol.ComputeRefsHash(a.Refs)
	res.Checks = append(res.Checks, protocol.VerifyCheck{
		Name:    StepRefsHash,
		Status:  protocol.CheckOK,
		Actual:  refsHash.String(),
		Details: fmt.Sprintf("refs=%d", len(a.Refs)),
	})

	msg := protocol.BuildSignInput(a.ID, a.Subject, a.Time, refsHash, a.Canon)
	res.Checks = append(res.Checks, protocol.VerifyCheck{
		Name:    StepSignInput,
		Status:  protocol.CheckOK,
		Actual:  protocol.Digest(msg).String(),
		Details: fmt.Sprintf("bytes=%d", len(msg)),
	})

	if !crypto.Verify(pub, msg, a.Proof) {
		return failed(res, failCheck(StepSignature, "", "", "ed25519 signature invalid"))
	}
	res.Checks = append(res.Checks, protocol.VerifyCheck{Name: StepSignature, Status: protocol.CheckOK})
	res.Valid = true
	return res
}

func failed(res protocol.VerificationResult, c protocol.VerifyCheck) protocol.VerificationResult {
	res.Checks = append(res.Checks, c)
	res.Valid = false
	res.FailedStep = c.Name
	return res
}

func okCheck(name, expected, actual string) protocol.VerifyCheck {
	return protocol.VerifyCheck{Name: name, Status: protocol.CheckOK, Expected: expected, Actual: actual}
}

func failCheck(name, expected, actual, details string) protocol.VerifyCheck {
	return protocol.VerifyCheck{Name: name, Status: protocol.CheckFail, Expected: expected, Actual: actual, Details: details}
}
