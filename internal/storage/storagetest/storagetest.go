// Package storagetest holds the behaviour every storage backend must share.
package storagetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glogos/glogos/internal/protocol"
	"github.com/glogos/glogos/internal/storage"
)

// Attestation builds an unsigned attestation; stores do not verify proofs.
func Attestation(zone, label string, t uint64, refs ...protocol.AttestationID) protocol.Attestation {
	a := protocol.Attestation{
		Zone:    protocol.ZoneID{Hash: protocol.DigestString(zone)},
		Subject: protocol.DigestString(label),
		Canon:   protocol.CanonID{Hash: protocol.DigestString("raw:sha256:1.0")},
		Time:    t,
		Refs:    refs,
	}
	for i := range a.Proof {
		a.Proof[i] = byte(t) + byte(i)
	}
	a.ID = a.ComputeID()
	return a
}

// Run exercises open() against the Store contract. open must return an
// empty store.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Run("PutGet", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		a := Attestation("z1", "a", 10, protocol.RootRef)

		existed, err := s.Put(ctx, a)
		require.NoError(t, err)
		assert.False(t, existed)

		got, ok, err := s.Get(ctx, a.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, got.Equal(a), "round trip mismatch: %+v", got)

		_, ok, err = s.Get(ctx, protocol.AttestationID{Hash: protocol.DigestString("missing")})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("IdempotentAndConflict", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		a := Attestation("z1", "a", 10)
		_, err := s.Put(ctx, a)
		require.NoError(t, err)

		existed, err := s.Put(ctx, a)
		require.NoError(t, err)
		assert.True(t, existed)

		variant := a
		variant.Proof[0] ^= 0xff
		_, err = s.Put(ctx, variant)
		assert.ErrorIs(t, err, storage.ErrConflict)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("ChildrenAndList", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		parent := Attestation("z1", "parent", 100, protocol.RootRef)
		c1 := Attestation("z1", "c1", 200, parent.ID)
		c2 := Attestation("z2", "c2", 150, parent.ID, parent.ID)
		for _, a := range []protocol.Attestation{c1, parent, c2} {
			_, err := s.Put(ctx, a)
			require.NoError(t, err)
		}

		children, err := s.Children(ctx, parent.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []protocol.AttestationID{c1.ID, c2.ID}, children)

		all, err := s.List(ctx, storage.ListFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []uint64{100, 150, 200}, []uint64{all[0].Time, all[1].Time, all[2].Time})
		assert.Len(t, all[1].Refs, 2, "duplicate refs are preserved")

		zone := c2.Zone
		byZone, err := s.List(ctx, storage.ListFilter{Zone: &zone})
		require.NoError(t, err)
		require.Len(t, byZone, 1)
		assert.Equal(t, c2.ID, byZone[0].ID)

		limited, err := s.List(ctx, storage.ListFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("LargeTime", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		a := Attestation("z1", "max", ^uint64(0))
		b := Attestation("z1", "mid", 1<<63)
		for _, x := range []protocol.Attestation{a, b} {
			_, err := s.Put(ctx, x)
			require.NoError(t, err)
		}
		got, ok, err := s.Get(ctx, a.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, ^uint64(0), got.Time)

		all, err := s.List(ctx, storage.ListFilter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, b.ID, all[0].ID, "ordering must be unsigned")
	})

	t.Run("ZoneKeys", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		zone := protocol.ZoneID{Hash: protocol.DigestString("pub")}
		pub := []byte(fmt.Sprintf("%032d", 7))

		_, ok, err := s.ZoneKey(ctx, zone)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.PutZoneKey(ctx, zone, pub))
		require.NoError(t, s.PutZoneKey(ctx, zone, pub))
		got, ok, err := s.ZoneKey(ctx, zone)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, pub, got)
	})

	t.Run("Ping", func(t *testing.T) {
		s := open(t)
		assert.NoError(t, s.Ping(context.Background()))
	})
}
