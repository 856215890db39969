package dag

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/glogos/glogos/internal/protocol"
)

const (
	ViolationConflict = "CONFLICT"
	ViolationCycle    = "CYCLE"
)

// Violation is one reason a set fails validation. Kind is a LinkClass for
// link failures, or ViolationConflict / ViolationCycle.
type Violation struct {
	Attestation protocol.AttestationID  `json:"attestation"`
	Ref         *protocol.AttestationID `json:"ref,omitempty"`
	Kind        string                  `json:"kind"`
	Details     string                  `json:"details"`
}

// Report is the aggregate verdict on an attestation set.
type Report struct {
	Valid      bool                     `json:"valid"`
	Checked    int                      `json:"checked"`
	Invalid    int                      `json:"invalid"`
	Violations []Violation              `json:"violations"`
	Cycle      []protocol.AttestationID `json:"cycle,omitempty"`
}

type Options struct {
	// Known resolves refs outside the set, e.g. a store. The set itself is
	// always consulted first.
	Known   Source
	Workers int
}

// Validate checks every attestation in set for local validity and runs an
// explicit cycle search over the set. Violations are data; the error is only
// for lookup failures and cancellation.
func Validate(ctx context.Context, set []protocol.Attestation, opts Options) (Report, error) {
	g := NewGraph()
	report := Report{Violations: []Violation{}}
	unique := make([]protocol.Attestation, 0, len(set))
	for _, a := range set {
		_, seen, _ := g.Get(ctx, a.ID)
		if err := g.Add(a); err != nil {
			report.Violations = append(report.Violations, Violation{
				Attestation: a.ID,
				Kind:        ViolationConflict,
				Details:     "set contains different attestations with this id",
			})
			continue
		}
		if !seen {
			unique = append(unique, a)
		}
	}

	var src Source = g
	if opts.Known != nil {
		src = Layered{g, opts.Known}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	verdicts := make([]Verdict, len(unique))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i := range unique {
		i := i
		eg.Go(func() error {
			if err := egctx.Err(); err != nil {
				return err
			}
			v, err := CheckAttestation(egctx, src, unique[i])
			if err != nil {
				return err
			}
			verdicts[i] = v
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Report{}, err
	}

	report.Checked = len(unique)
	for _, v := range verdicts {
		if !v.Valid {
			report.Invalid++
		}
		for _, l := range v.Links {
			if l.Class.Valid() {
				continue
			}
			ref := l.Ref
			report.Violations = append(report.Violations, Violation{
				Attestation: l.From,
				Ref:         &ref,
				Kind:        string(l.Class),
				Details:     l.String(),
			})
		}
	}

	if cycle := FindCycle(g); cycle != nil {
		report.Cycle = cycle
		report.Violations = append(report.Violations, Violation{
			Attestation: cycle[0],
			Kind:        ViolationCycle,
			Details:     "reference cycle detected",
		})
	}
	report.Valid = len(report.Violations) == 0
	return report, nil
}
