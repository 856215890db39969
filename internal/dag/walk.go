package dag

import (
	"context"

	"github.com/glogos/glogos/internal/protocol"
)

const (
	DefaultMaxDepth = 1000
	DefaultMaxNodes = 100000
)

type WalkOptions struct {
	MaxDepth int
	MaxNodes int
}

func (o WalkOptions) withDefaults() WalkOptions {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MaxNodes <= 0 {
		o.MaxNodes = DefaultMaxNodes
	}
	return o
}

type Visit struct {
	Attestation protocol.Attestation `json:"attestation"`
	Depth       int                  `json:"depth"`
}

// WalkResult holds what a bounded traversal reached. Bounded is set when the
// depth or node cap cut the walk short; the visits are then partial.
type WalkResult struct {
	Visits      []Visit                  `json:"visits"`
	Missing     []protocol.AttestationID `json:"missing"`
	ReachedRoot bool                     `json:"reached_root"`
	Bounded     bool                     `json:"bounded"`
}

type queued struct {
	id    protocol.AttestationID
	depth int
}

// Walk runs a breadth-first traversal over refs from start, which is visited
// at depth 0. Each id is visited at most once and GLR stops descent. fn may be
// nil; a non-nil error from it aborts the walk.
func Walk(ctx context.Context, src Source, start protocol.AttestationID, opts WalkOptions, fn func(Visit) error) (WalkResult, error) {
	opts = opts.withDefaults()
	res := WalkResult{Visits: []Visit{}, Missing: []protocol.AttestationID{}}
	if start.IsRoot() {
		res.ReachedRoot = true
		return res, nil
	}

	seen := map[protocol.AttestationID]struct{}{start: {}}
	queue := []queued{{id: start}}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if len(res.Visits) >= opts.MaxNodes {
			res.Bounded = true
			break
		}
		cur := queue[0]
		queue = queue[1:]

		a, ok, err := src.Get(ctx, cur.id)
		if err != nil {
			return res, err
		}
		if !ok {
			res.Missing = append(res.Missing, cur.id)
			continue
		}
		visit := Visit{Attestation: a, Depth: cur.depth}
		res.Visits = append(res.Visits, visit)
		if fn != nil {
			if err := fn(visit); err != nil {
				return res, err
			}
		}

		for _, ref := range a.Refs {
			if ref.IsRoot() {
				res.ReachedRoot = true
				continue
			}
			if _, dup := seen[ref]; dup {
				continue
			}
			if cur.depth >= opts.MaxDepth {
				res.Bounded = true
				continue
			}
			seen[ref] = struct{}{}
			queue = append(queue, queued{id: ref, depth: cur.depth + 1})
		}
	}
	return res, nil
}

// Ancestors returns every attestation reachable from start, excluding start.
func Ancestors(ctx context.Context, src Source, start protocol.AttestationID, opts WalkOptions) (WalkResult, error) {
	res, err := Walk(ctx, src, start, opts, nil)
	if err != nil {
		return res, err
	}
	if len(res.Visits) > 0 && res.Visits[0].Depth == 0 {
		res.Visits = res.Visits[1:]
	}
	return res, nil
}
