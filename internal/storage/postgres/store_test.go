package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/glogos/glogos/internal/storage"
	"github.com/glogos/glogos/internal/storage/storagetest"
)

// Set GLOGOS_TEST_POSTGRES_DSN to a scratch database; tables are truncated.
func TestStoreContract(t *testing.T) {
	dsn := os.Getenv("GLOGOS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GLOGOS_TEST_POSTGRES_DSN not set")
	}
	storagetest.Run(t, func(t *testing.T) storage.Store {
		ctx := context.Background()
		s, err := Open(ctx, dsn, 4, 0)
		require.NoError(t, err)
		_, err = s.pool.Exec(ctx, `TRUNCATE attestation_refs, attestations, zone_keys`)
		require.NoError(t, err)
		t.Cleanup(s.Close)
		return s
	})
}
