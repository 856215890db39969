package protocol

// Input carries the caller-chosen fields of a new attestation.
type Input struct {
	Zone    ZoneID
	Subject Hash
	Canon   CanonID
	Time    uint64
	Refs    []AttestationID
}

// Attestation is a signed, content-addressed claim. It is never mutated after creation.
type Attestation struct {
	ID      AttestationID
	Zone    ZoneID
	Subject Hash
	Canon   CanonID
	Time    uint64
	Refs    []AttestationID
	Proof   Signature
}

// Input returns the caller-chosen fields of a.
func (a Attestation) Input() Input {
	return Input{Zone: a.Zone, Subject: a.Subject, Canon: a.Canon, Time: a.Time, Refs: a.Refs}
}

// Equal compares every field, including ref order.
func (a Attestation) Equal(b Attestation) bool {
	if a.ID != b.ID || a.Zone != b.Zone || a.Subject != b.Subject || a.Canon != b.Canon ||
		a.Time != b.Time || a.Proof != b.Proof || len(a.Refs) != len(b.Refs) {
		return false
	}
	for i := range a.Refs {
		if a.Refs[i] != b.Refs[i] {
			return false
		}
	}
	return true
}

const (
	CheckOK   = "ok"
	CheckFail = "fail"
)

type VerifyCheck struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Details  string `json:"details,omitempty"`
}

func (c VerifyCheck) Passed() bool {
	return c.Status == CheckOK
}

// VerificationResult records each verification step in order. Verification
// stops at the first failing step, which is named by FailedStep.
type VerificationResult struct {
	Valid      bool          `json:"valid"`
	FailedStep string        `json:"failed_step,omitempty"`
	Checks     []VerifyCheck `json:"checks"`
}

// Passed reports whether the named step ran and succeeded.
func (r VerificationResult) Passed(step string) bool {
	for _, c := range r.Checks {
		if c.Name == step {
			return c.Passed()
		}
	}
	return false
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}
