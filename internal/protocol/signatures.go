package protocol

import (
	"bytes"
	"sort"
)

const (
	// AttestationIDInputSize is zone(32) + subject(32) + canon(32) + BE64(time)(8).
	AttestationIDInputSize = 3*HashSize + 8
	// SignInputSize is id(32) + subject(32) + BE64(time)(8) + refs_hash(32) + canon(32).
	SignInputSize = 4*HashSize + 8

	RefsDelimiter = '|'
)

// AttestationIDInput returns the 104 bytes hashed into an attestation id.
func AttestationIDInput(zone ZoneID, subject Hash, canon CanonID, t uint64) []byte {
	return Concat(zone.Hash[:], subject[:], canon.Hash[:], EncodeTime(t))
}

func ComputeAttestationID(zone ZoneID, subject Hash, canon CanonID, t uint64) AttestationID {
	return AttestationID{Digest(AttestationIDInput(zone, subject, canon, t))}
}

// ComputeRefsHash canonicalizes a reference set: GLR when empty, otherwise the
// hash of the lowercase hex ids sorted ascending and joined with '|'.
// Lowercase hex sorts in the same order as the raw bytes it encodes.
func ComputeRefsHash(refs []AttestationID) Hash {
	if len(refs) == 0 {
		return GLR
	}
	return Digest(RefsHashInput(refs))
}

// RefsHashInput is the UTF-8 byte string hashed by ComputeRefsHash for a non-empty ref list.
func RefsHashInput(refs []AttestationID) []byte {
	sorted := make([]AttestationID, len(refs))
	copy(sorted, refs)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Hash[:], sorted[j].Hash[:]) < 0
	})
	buf := make([]byte, 0, len(sorted)*(2*HashSize+1))
	for i, r := range sorted {
		if i > 0 {
			buf = append(buf, RefsDelimiter)
		}
		buf = append(buf, r.String()...)
	}
	return buf
}

// BuildSignInput is the 136-byte message covered by an attestation proof.
func BuildSignInput(id AttestationID, subject Hash, t uint64, refsHash Hash, canon CanonID) []byte {
	return Concat(id.Hash[:], subject[:], EncodeTime(t), refsHash[:], canon.Hash[:])
}

// SignInput derives the signing message from an attestation's own fields.
func (a Attestation) SignInput() []byte {
	return BuildSignInput(a.ID, a.Subject, a.Time, ComputeRefsHash(a.Refs), a.Canon)
}

// ComputeID recomputes the id from the attestation's fields.
func (a Attestation) ComputeID() AttestationID {
	return ComputeAttestationID(a.Zone, a.Subject, a.Canon, a.Time)
}
