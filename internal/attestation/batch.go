package attestation

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/glogos/glogos/internal/protocol"
)

// Item pairs an attestation with the public key claimed for its zone.
type Item struct {
	Attestation protocol.Attestation
	PublicKey   []byte
}

// VerifyBatch verifies items on up to workers goroutines. A failing item never
// stops the others; the only error is ctx cancellation. results[i] belongs to items[i].
func VerifyBatch(ctx context.Context, items []Item, workers int) ([]protocol.VerificationResult, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]protocol.VerificationResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range items {
		i := i
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = Verify(items[i].Attestation, items[i].PublicKey)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
