package attestation

import (
	"fmt"

	"github.com/glogos/glogos/internal/canon"
	"github.com/glogos/glogos/internal/crypto"
	"github.com/glogos/glogos/internal/protocol"
)

const (
	GenesisDomain  = "glogos-genesis"
	GenesisMessage = "From nothing, truth emerges"
	// GenesisTime is 2025-12-21T15:03:00Z.
	GenesisTime uint64 = 1766329380
)

// GenesisSeed is SHA-256(GLR || "glogos-genesis"). Anyone can rederive the
// genesis key from it, so the genesis zone carries no private authority.
func GenesisSeed() []byte {
	seed := protocol.Digest(protocol.Concat(protocol.GLR[:], []byte(GenesisDomain)))
	return seed.Bytes()
}

// GenesisZone derives the publicly known genesis signer.
func GenesisZone() *crypto.Signer {
	s, err := crypto.ZoneFromSeed(GenesisSeed())
	if err != nil {
		panic(fmt.Sprintf("derive genesis zone: %v", err))
	}
	return s
}

// Genesis returns the genesis zone and the attestation it signs.
func Genesis() (*crypto.Signer, protocol.Attestation) {
	zone := GenesisZone()
	a := Issue(zone, protocol.Input{
		Subject: protocol.DigestString(GenesisMessage),
		Canon:   canon.ComputeID(canon.RawSHA256),
		Time:    GenesisTime,
		Refs:    []protocol.AttestationID{protocol.RootRef},
	})
	return zone, a
}

// VerifyGenesis checks a candidate genesis attestation against the ceremony
// derivation. Unlike Verify it runs every check.
func VerifyGenesis(a protocol.Attestation) protocol.VerificationResult {
	zone := GenesisZone()
	checks := make([]protocol.VerifyCheck, 0, 7)

	glr := protocol.DigestString("")
	checks = append(checks, compare("glr", protocol.GLR.String(), glr.String()))

	rootRef := len(a.Refs) == 1 && a.Refs[0].IsRoot()
	if rootRef {
		checks = append(checks, protocol.VerifyCheck{Name: "refs", Status: protocol.CheckOK, Expected: protocol.GLR.String()})
	} else {
		checks = append(checks, protocol.VerifyCheck{Name: "refs", Status: protocol.CheckFail, Expected: protocol.GLR.String(), Details: "genesis must reference only GLR"})
	}

	checks = append(checks,
		compare("zone", zone.ID.String(), a.Zone.String()),
		compare("subject", protocol.DigestString(GenesisMessage).String(), a.Subject.String()),
		compare("canon", canon.ComputeID(canon.RawSHA256).String(), a.Canon.String()),
		compare("time", fmt.Sprint(GenesisTime), fmt.Sprint(a.Time)),
	)

	sig := Verify(a, zone.PublicKey)
	if sig.Valid {
		checks = append(checks, protocol.VerifyCheck{Name: StepSignature, Status: protocol.CheckOK, Actual: a.Proof.String()})
	} else {
		checks = append(checks, protocol.VerifyCheck{Name: StepSignature, Status: protocol.CheckFail, Details: "failed at " + sig.FailedStep})
	}

	res := protocol.VerificationResult{Valid: true, Checks: checks}
	for _, c := range checks {
		if !c.Passed() {
			res.Valid = false
			res.FailedStep = c.Name
			break
		}
	}
	return res
}

func compare(name, expected, actual string) protocol.VerifyCheck {
	if expected == actual {
		return okCheck(name, expected, actual)
	}
	return failCheck(name, expected, actual, name+" mismatch")
}
