// Package memory is a process-local Store for tests and ephemeral nodes.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/glogos/glogos/internal/protocol"
	"github.com/glogos/glogos/internal/storage"
)

type Store struct {
	mu       sync.RWMutex
	byID     map[protocol.AttestationID]protocol.Attestation
	children map[protocol.AttestationID][]protocol.AttestationID
	keys     map[protocol.ZoneID][]byte
	closed   bool
}

func New() *Store {
	return &Store{
		byID:     make(map[protocol.AttestationID]protocol.Attestation),
		children: make(map[protocol.AttestationID][]protocol.AttestationID),
		keys:     make(map[protocol.ZoneID][]byte),
	}
}

func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	return nil
}

func (s *Store) Put(_ context.Context, a protocol.Attestation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, storage.ErrClosed
	}
	if existing, ok := s.byID[a.ID]; ok {
		if existing.Equal(a) {
			return true, nil
		}
		return false, storage.ErrConflict
	}
	a = clone(a)
	s.byID[a.ID] = a
	for _, ref := range uniqueRefs(a.Refs) {
		s.children[ref] = append(s.children[ref], a.ID)
	}
	return false, nil
}

func (s *Store) Get(_ context.Context, id protocol.AttestationID) (protocol.Attestation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return protocol.Attestation{}, false, storage.ErrClosed
	}
	a, ok := s.byID[id]
	if !ok {
		return protocol.Attestation{}, false, nil
	}
	return clone(a), true, nil
}

func (s *Store) Children(_ context.Context, id protocol.AttestationID) ([]protocol.AttestationID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	out := append([]protocol.AttestationID(nil), s.children[id]...)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Hash[:], out[j].Hash[:]) < 0 })
	return out, nil
}

func (s *Store) List(_ context.Context, filter storage.ListFilter) ([]protocol.Attestation, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, storage.ErrClosed
	}
	out := make([]protocol.Attestation, 0, len(s.byID))
	for _, a := range s.byID {
		if filter.Zone != nil && a.Zone != *filter.Zone {
			continue
		}
		out = append(out, clone(a))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return bytes.Compare(out[i].ID.Hash[:], out[j].ID.Hash[:]) < 0
	})
	if limit := filter.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, storage.ErrClosed
	}
	return len(s.byID), nil
}

func (s *Store) PutZoneKey(_ context.Context, zone protocol.ZoneID, publicKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	if _, ok := s.keys[zone]; ok {
		return nil
	}
	s.keys[zone] = append([]byte(nil), publicKey...)
	return nil
}

func (s *Store) ZoneKey(_ context.Context, zone protocol.ZoneID) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, storage.ErrClosed
	}
	key, ok := s.keys[zone]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), key...), true, nil
}

func clone(a protocol.Attestation) protocol.Attestation {
	a.Refs = append([]protocol.AttestationID(nil), a.Refs...)
	return a
}

func uniqueRefs(refs []protocol.AttestationID) []protocol.AttestationID {
	seen := make(map[protocol.AttestationID]struct{}, len(refs))
	out := make([]protocol.AttestationID, 0, len(refs))
	for _, r := range refs {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
