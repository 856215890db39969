package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// DecodeError names the wire field that failed validation. Field is empty when
// the document itself is not a JSON object.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return "decode attestation: " + e.Reason
	}
	return fmt.Sprintf("decode attestation: field %q: %s", e.Field, e.Reason)
}

// WireFields is the closed field set of the JSON representation, in encoding order.
var WireFields = []string{"id", "zone", "subject", "canon", "time", "refs", "proof"}

type wireAttestation struct {
	ID      AttestationID   `json:"id"`
	Zone    ZoneID          `json:"zone"`
	Subject Hash            `json:"subject"`
	Canon   CanonID         `json:"canon"`
	Time    uint64          `json:"time"`
	Refs    []AttestationID `json:"refs"`
	Proof   Signature       `json:"proof"`
}

func (a Attestation) MarshalJSON() ([]byte, error) {
	refs := a.Refs
	if refs == nil {
		refs = []AttestationID{}
	}
	return json.Marshal(wireAttestation{
		ID:      a.ID,
		Zone:    a.Zone,
		Subject: a.Subject,
		Canon:   a.Canon,
		Time:    a.Time,
		Refs:    refs,
		Proof:   a.Proof,
	})
}

func (a *Attestation) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeAttestation(data)
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// EncodeAttestation returns the canonical wire JSON of a.
func EncodeAttestation(a Attestation) ([]byte, error) {
	return a.MarshalJSON()
}

// DecodeAttestation parses and structurally validates the wire JSON. It does
// not recompute the id or check the proof.
func DecodeAttestation(data []byte) (Attestation, error) {
	fields, err := readObject(data)
	if err != nil {
		return Attestation{}, err
	}
	for _, name := range WireFields {
		if _, ok := fields[name]; !ok {
			return Attestation{}, &DecodeError{Field: name, Reason: "missing field"}
		}
	}

	var out Attestation
	if out.ID.Hash, err = decodeHashField("id", fields["id"]); err != nil {
		return Attestation{}, err
	}
	if out.Zone.Hash, err = decodeHashField("zone", fields["zone"]); err != nil {
		return Attestation{}, err
	}
	if out.Subject, err = decodeHashField("subject", fields["subject"]); err != nil {
		return Attestation{}, err
	}
	if out.Canon.Hash, err = decodeHashField("canon", fields["canon"]); err != nil {
		return Attestation{}, err
	}
	if out.Time, err = decodeTimeField(fields["time"]); err != nil {
		return Attestation{}, err
	}
	if out.Refs, err = decodeRefsField(fields["refs"]); err != nil {
		return Attestation{}, err
	}
	proofText, err := decodeStringField("proof", fields["proof"])
	if err != nil {
		return Attestation{}, err
	}
	if out.Proof, err = ParseSignature(proofText); err != nil {
		return Attestation{}, &DecodeError{Field: "proof", Reason: err.Error()}
	}
	return out, nil
}

// readObject splits a single top-level JSON object into raw members, rejecting
// duplicate and unknown keys and trailing data.
func readObject(data []byte) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, &DecodeError{Reason: "invalid JSON: " + err.Error()}
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, &DecodeError{Reason: "document must be a JSON object"}
	}
	known := make(map[string]struct{}, len(WireFields))
	for _, name := range WireFields {
		known[name] = struct{}{}
	}
	fields := make(map[string]json.RawMessage, len(WireFields))
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, &DecodeError{Reason: "invalid JSON: " + err.Error()}
		}
		key, ok := tok.(string)
		if !ok {
			return nil, &DecodeError{Reason: "object key is not a string"}
		}
		if _, ok := known[key]; !ok {
			return nil, &DecodeError{Field: key, Reason: "unknown field"}
		}
		if _, dup := fields[key]; dup {
			return nil, &DecodeError{Field: key, Reason: "duplicate field"}
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, &DecodeError{Field: key, Reason: "invalid JSON value: " + err.Error()}
		}
		fields[key] = raw
	}
	if _, err := dec.Token(); err != nil {
		return nil, &DecodeError{Reason: "invalid JSON: " + err.Error()}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &DecodeError{Reason: "trailing data after JSON object"}
	}
	return fields, nil
}

func decodeStringField(name string, raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", &DecodeError{Field: name, Reason: "must be a string"}
	}
	if bytes.IndexByte(raw, '\\') >= 0 {
		return "", &DecodeError{Field: name, Reason: "escape sequences are not allowed"}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", &DecodeError{Field: name, Reason: "must be a string"}
	}
	return s, nil
}

func decodeHashField(name string, raw json.RawMessage) (Hash, error) {
	s, err := decodeStringField(name, raw)
	if err != nil {
		return Hash{}, err
	}
	h, err := ParseHash(s)
	if err != nil {
		return Hash{}, &DecodeError{Field: name, Reason: err.Error()}
	}
	return h, nil
}

func decodeTimeField(raw json.RawMessage) (uint64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, &DecodeError{Field: "time", Reason: "must be a non-negative integer"}
	}
	if raw[0] == '-' {
		return 0, &DecodeError{Field: "time", Reason: "must not be negative"}
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0, &DecodeError{Field: "time", Reason: "must be a non-negative integer"}
		}
	}
	if len(raw) > 1 && raw[0] == '0' {
		return 0, &DecodeError{Field: "time", Reason: "must not have leading zeros"}
	}
	t, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, &DecodeError{Field: "time", Reason: "out of range for unsigned 64-bit seconds"}
	}
	return t, nil
}

func decodeRefsField(raw json.RawMessage) ([]AttestationID, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, &DecodeError{Field: "refs", Reason: "must be an array"}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &DecodeError{Field: "refs", Reason: "must be an array"}
	}
	refs := make([]AttestationID, 0, len(items))
	for i, item := range items {
		field := fmt.Sprintf("refs[%d]", i)
		h, err := decodeHashField(field, item)
		if err != nil {
			return nil, err
		}
		refs = append(refs, AttestationID{h})
	}
	return refs, nil
}
