package service

import (
	"errors"
	"sync"
	"time"

	"github.com/glogos/glogos/internal/protocol"
)

var (
	errPendingFull     = errors.New("pending pool full")
	errPendingConflict = errors.New("different attestation pending under this id")
)

type pendingEntry struct {
	attestation protocol.Attestation
	publicKey   []byte
	missing     map[protocol.AttestationID]struct{}
	added       time.Time
}

type pendingArrival struct {
	id    protocol.AttestationID
	added time.Time
}

// pendingPool holds verified attestations whose refs have not all arrived.
// It is bounded. Entries leave by promotion or once they are older than ttl.
type pendingPool struct {
	mu      sync.Mutex
	limit   int
	ttl     time.Duration
	now     func() time.Time
	entries map[protocol.AttestationID]*pendingEntry
	waiting map[protocol.AttestationID][]protocol.AttestationID
	order   []pendingArrival
}

func newPendingPool(limit int, ttl time.Duration, now func() time.Time) *pendingPool {
	return &pendingPool{
		limit:   limit,
		ttl:     ttl,
		now:     now,
		entries: make(map[protocol.AttestationID]*pendingEntry),
		waiting: make(map[protocol.AttestationID][]protocol.AttestationID),
	}
}

// expireLocked drops entries parked for ttl or longer, oldest first.
func (p *pendingPool) expireLocked() int {
	if p.ttl <= 0 {
		return 0
	}
	now := p.now()
	expired := 0
	for len(p.order) > 0 {
		head := p.order[0]
		if now.Sub(head.added) < p.ttl {
			break
		}
		p.order = p.order[1:]
		entry, ok := p.entries[head.id]
		if !ok || !entry.added.Equal(head.added) {
			continue
		}
		p.removeLocked(head.id, entry)
		expired++
	}
	return expired
}

func (p *pendingPool) removeLocked(id protocol.AttestationID, entry *pendingEntry) {
	delete(p.entries, id)
	for ref := range entry.missing {
		waiters := p.waiting[ref]
		kept := waiters[:0]
		for _, wid := range waiters {
			if wid != id {
				kept = append(kept, wid)
			}
		}
		if len(kept) == 0 {
			delete(p.waiting, ref)
		} else {
			p.waiting[ref] = kept
		}
	}
}

// add parks a until every id in missing is resolved. existed reports an
// identical entry already parked; expired counts entries dropped for age.
func (p *pendingPool) add(a protocol.Attestation, pub []byte, missing []protocol.AttestationID) (existed bool, expired int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	expired = p.expireLocked()
	if cur, ok := p.entries[a.ID]; ok {
		if cur.attestation.Equal(a) {
			return true, expired, nil
		}
		return false, expired, errPendingConflict
	}
	if len(p.entries) >= p.limit {
		return false, expired, errPendingFull
	}
	entry := &pendingEntry{
		attestation: a,
		publicKey:   append([]byte(nil), pub...),
		missing:     make(map[protocol.AttestationID]struct{}, len(missing)),
		added:       p.now(),
	}
	for _, ref := range missing {
		if _, dup := entry.missing[ref]; dup {
			continue
		}
		entry.missing[ref] = struct{}{}
		p.waiting[ref] = append(p.waiting[ref], a.ID)
	}
	p.entries[a.ID] = entry
	p.order = append(p.order, pendingArrival{id: a.ID, added: entry.added})
	if len(p.order) > 2*p.limit {
		p.compactLocked()
	}
	return false, expired, nil
}

// compactLocked forgets arrivals whose entry was already promoted.
func (p *pendingPool) compactLocked() {
	kept := p.order[:0]
	for _, arrival := range p.order {
		if entry, ok := p.entries[arrival.id]; ok && entry.added.Equal(arrival.added) {
			kept = append(kept, arrival)
		}
	}
	p.order = kept
}

// resolve marks id as available and removes and returns the entries that no
// longer miss anything.
func (p *pendingPool) resolve(id protocol.AttestationID) []pendingEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expireLocked()
	waiters := p.waiting[id]
	delete(p.waiting, id)
	var ready []pendingEntry
	for _, wid := range waiters {
		entry, ok := p.entries[wid]
		if !ok {
			continue
		}
		delete(entry.missing, id)
		if len(entry.missing) == 0 {
			delete(p.entries, wid)
			ready = append(ready, *entry)
		}
	}
	return ready
}

func (p *pendingPool) get(id protocol.AttestationID) (protocol.Attestation, []protocol.AttestationID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expireLocked()
	entry, ok := p.entries[id]
	if !ok {
		return protocol.Attestation{}, nil, false
	}
	missing := make([]protocol.AttestationID, 0, len(entry.missing))
	for ref := range entry.missing {
		missing = append(missing, ref)
	}
	return entry.attestation, missing, true
}

func (p *pendingPool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expireLocked()
	return len(p.entries)
}
