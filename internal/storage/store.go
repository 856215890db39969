package storage

import (
	"context"
	"errors"

	"github.com/glogos/glogos/internal/protocol"
)

var (
	ErrConflict = errors.New("a different attestation is already stored under this id")
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store closed")
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

type ListFilter struct {
	Zone  *protocol.ZoneID
	Limit int
}

// Store persists accepted attestations and the zone keys that verified them.
// Attestations are never updated or deleted.
type Store interface {
	Close()
	Ping(ctx context.Context) error

	// Put stores a. existed is true when an identical attestation was already
	// present; a different attestation under the same id yields ErrConflict.
	Put(ctx context.Context, a protocol.Attestation) (existed bool, err error)
	Get(ctx context.Context, id protocol.AttestationID) (protocol.Attestation, bool, error)
	// Children returns ids of stored attestations that reference id.
	Children(ctx context.Context, id protocol.AttestationID) ([]protocol.AttestationID, error)
	// List returns attestations ordered by time, then id.
	List(ctx context.Context, filter ListFilter) ([]protocol.Attestation, error)
	Count(ctx context.Context) (int, error)

	PutZoneKey(ctx context.Context, zone protocol.ZoneID, publicKey []byte) error
	ZoneKey(ctx context.Context, zone protocol.ZoneID) ([]byte, bool, error)
}

func (f ListFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}
