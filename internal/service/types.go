package service

import (
	"time"

	"github.com/glogos/glogos/internal/dag"
	"github.com/glogos/glogos/internal/protocol"
)

const (
	PolicyReject  = "reject"
	PolicyPending = "pending"
)

const (
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
	StatusPending   = "pending"
	StatusRejected  = "rejected"
)

// Rejection reasons.
const (
	ReasonVerification = "verification_failed"
	ReasonCausality    = "causality_violation"
	ReasonDangling     = "dangling_reference"
	ReasonFutureTime   = "future_time"
)

type SubmitRequest struct {
	Attestation protocol.Attestation `json:"attestation"`
	// PublicKey is the zone key in hex, base64 or PEM. It may be omitted when
	// the zone is in the registry or was seen before.
	PublicKey string `json:"public_key,omitempty"`
}

type SubmitResponse struct {
	Status       string                      `json:"status"`
	ID           protocol.AttestationID      `json:"id"`
	Reason       string                      `json:"reason,omitempty"`
	Verification protocol.VerificationResult `json:"verification"`
	Links        []dag.Link                  `json:"links"`
	Missing      []protocol.AttestationID    `json:"missing,omitempty"`
	Promoted     []protocol.AttestationID    `json:"promoted,omitempty"`
}

type VerifyResponse struct {
	Valid        bool                        `json:"valid"`
	Reason       string                      `json:"reason,omitempty"`
	Verification protocol.VerificationResult `json:"verification"`
	Links        []dag.Link                  `json:"links"`
}

type Record struct {
	Status      string                   `json:"status"`
	Attestation protocol.Attestation     `json:"attestation"`
	Missing     []protocol.AttestationID `json:"missing,omitempty"`
}

type AncestorsResponse struct {
	ID     protocol.AttestationID `json:"id"`
	Result dag.WalkResult         `json:"result"`
}

type ValidateSetRequest struct {
	Attestations []protocol.Attestation `json:"attestations"`
	// PublicKeys optionally maps zone id (hex) to public key for signature checks.
	PublicKeys map[string]string `json:"public_keys,omitempty"`
}

type SignatureResult struct {
	ID         protocol.AttestationID `json:"id"`
	KeyKnown   bool                   `json:"key_known"`
	Valid      bool                   `json:"valid"`
	FailedStep string                 `json:"failed_step,omitempty"`
}

type ValidateSetResponse struct {
	Valid      bool              `json:"valid"`
	Report     dag.Report        `json:"report"`
	Signatures []SignatureResult `json:"signatures"`
}

type HealthResponse struct {
	Service        string    `json:"service"`
	Version        string    `json:"version"`
	Status         string    `json:"status"`
	NodeID         string    `json:"node_id,omitempty"`
	Attestations   int       `json:"attestations"`
	Pending        int       `json:"pending"`
	DanglingPolicy string    `json:"dangling_policy"`
	TrustedZones   int       `json:"trusted_zones"`
	Time           time.Time `json:"time"`
}
