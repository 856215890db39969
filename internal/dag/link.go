package dag

import (
	"context"
	"fmt"

	"github.com/glogos/glogos/internal/protocol"
)

type LinkClass string

const (
	LinkRoot            LinkClass = "ROOT"
	LinkResolvedValid   LinkClass = "RESOLVED-VALID"
	LinkResolvedInvalid LinkClass = "RESOLVED-INVALID"
	LinkDangling        LinkClass = "DANGLING"
)

// Valid reports whether the class satisfies causal ordering.
func (c LinkClass) Valid() bool {
	return c == LinkRoot || c == LinkResolvedValid
}

// Link is one classified (attestation, ref) edge.
type Link struct {
	From       protocol.AttestationID `json:"from"`
	Ref        protocol.AttestationID `json:"ref"`
	Class      LinkClass              `json:"class"`
	ChildTime  uint64                 `json:"child_time"`
	ParentTime *uint64                `json:"parent_time,omitempty"`
}

func (l Link) String() string {
	switch l.Class {
	case LinkResolvedInvalid:
		return fmt.Sprintf("%s -> %s: time %d is not after parent time %d", l.From, l.Ref, l.ChildTime, *l.ParentTime)
	case LinkDangling:
		return fmt.Sprintf("%s -> %s: parent not found", l.From, l.Ref)
	default:
		return fmt.Sprintf("%s -> %s: %s", l.From, l.Ref, l.Class)
	}
}

// ClassifyLink places the edge a -> ref in exactly one class against src.
// GLR is never looked up.
func ClassifyLink(ctx context.Context, src Source, a protocol.Attestation, ref protocol.AttestationID) (Link, error) {
	link := Link{From: a.ID, Ref: ref, ChildTime: a.Time}
	if ref.IsRoot() {
		link.Class = LinkRoot
		return link, nil
	}
	parent, ok, err := src.Get(ctx, ref)
	if err != nil {
		return Link{}, fmt.Errorf("resolve ref %s: %w", ref, err)
	}
	if !ok {
		link.Class = LinkDangling
		return link, nil
	}
	pt := parent.Time
	link.ParentTime = &pt
	if a.Time > parent.Time {
		link.Class = LinkResolvedValid
	} else {
		link.Class = LinkResolvedInvalid
	}
	return link, nil
}

func IsValidLink(ctx context.Context, src Source, a protocol.Attestation, ref protocol.AttestationID) (bool, error) {
	link, err := ClassifyLink(ctx, src, a, ref)
	if err != nil {
		return false, err
	}
	return link.Class.Valid(), nil
}

// Verdict is the local validity of one attestation.
type Verdict struct {
	ID    protocol.AttestationID `json:"id"`
	Valid bool                   `json:"valid"`
	Links []Link                 `json:"links"`
}

// Dangling lists refs that did not resolve.
func (v Verdict) Dangling() []protocol.AttestationID {
	var out []protocol.AttestationID
	for _, l := range v.Links {
		if l.Class == LinkDangling {
			out = append(out, l.Ref)
		}
	}
	return out
}

// OnlyDangling reports whether every invalid link is dangling, i.e. the
// attestation could still become valid once its parents arrive.
func (v Verdict) OnlyDangling() bool {
	dangling := false
	for _, l := range v.Links {
		switch l.Class {
		case LinkResolvedInvalid:
			return false
		case LinkDangling:
			dangling = true
		}
	}
	return dangling
}

// CheckAttestation classifies every ref of a. An attestation with no refs is
// locally valid.
func CheckAttestation(ctx context.Context, src Source, a protocol.Attestation) (Verdict, error) {
	v := Verdict{ID: a.ID, Valid: true, Links: make([]Link, 0, len(a.Refs))}
	for _, ref := range a.Refs {
		link, err := ClassifyLink(ctx, src, a, ref)
		if err != nil {
			return Verdict{}, err
		}
		if !link.Class.Valid() {
			v.Valid = false
		}
		v.Links = append(v.Links, link)
	}
	return v, nil
}
