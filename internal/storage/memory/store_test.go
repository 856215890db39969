package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glogos/glogos/internal/protocol"
	"github.com/glogos/glogos/internal/storage"
	"github.com/glogos/glogos/internal/storage/storagetest"
)

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s := New()
		t.Cleanup(s.Close)
		return s
	})
}

func TestClosedStore(t *testing.T) {
	s := New()
	s.Close()
	ctx := context.Background()
	_, err := s.Put(ctx, storagetest.Attestation("z", "a", 1))
	assert.ErrorIs(t, err, storage.ErrClosed)
	_, _, err = s.Get(ctx, protocol.RootRef)
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, s.Ping(ctx), storage.ErrClosed)
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := storagetest.Attestation("z", "a", 1, protocol.RootRef)
	_, err := s.Put(ctx, a)
	require.NoError(t, err)

	got, _, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	got.Refs[0] = protocol.AttestationID{}

	again, _, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, again.Refs[0].IsRoot())
}
