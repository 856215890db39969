// Package dag classifies reference links between attestations and walks the
// graph they form.
package dag

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/glogos/glogos/internal/protocol"
)

var ErrConflict = errors.New("different attestation already known under this id")

// Source resolves attestations by id. found=false means the id is unknown;
// err is reserved for lookup failures.
type Source interface {
	Get(ctx context.Context, id protocol.AttestationID) (protocol.Attestation, bool, error)
}

// Graph is an in-memory attestation set safe for concurrent use.
type Graph struct {
	mu    sync.RWMutex
	nodes map[protocol.AttestationID]protocol.Attestation
}

func NewGraph() *Graph {
	return &Graph{nodes: make(map[protocol.AttestationID]protocol.Attestation)}
}

// Add inserts a. Re-adding an identical attestation is a no-op.
func (g *Graph) Add(a protocol.Attestation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.nodes[a.ID]; ok {
		if existing.Equal(a) {
			return nil
		}
		return ErrConflict
	}
	g.nodes[a.ID] = a
	return nil
}

func (g *Graph) Get(_ context.Context, id protocol.AttestationID) (protocol.Attestation, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.nodes[id]
	return a, ok, nil
}

func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// IDs returns every id in byte order.
func (g *Graph) IDs() []protocol.AttestationID {
	g.mu.RLock()
	ids := make([]protocol.AttestationID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	g.mu.RUnlock()
	sortIDs(ids)
	return ids
}

func sortIDs(ids []protocol.AttestationID) {
	sort.Slice(ids, func(i, j int) bool {
		return string(ids[i].Hash[:]) < string(ids[j].Hash[:])
	})
}

// Layered consults each source in order and returns the first hit.
type Layered []Source

func (l Layered) Get(ctx context.Context, id protocol.AttestationID) (protocol.Attestation, bool, error) {
	for _, src := range l {
		if src == nil {
			continue
		}
		a, ok, err := src.Get(ctx, id)
		if err != nil {
			return protocol.Attestation{}, false, err
		}
		if ok {
			return a, true, nil
		}
	}
	return protocol.Attestation{}, false, nil
}
