// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"testing"

	"github.com/scythe504/dejavu-backend/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises st against the store.Store contract. st must be empty.
func Run(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, err := st.Get(ctx, "NOROOM", store.KeyState)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		require.NoError(t, st.Put(ctx, "ROOMA1", store.KeyState, []byte(`{"v":1}`)))
		got, err := st.Get(ctx, "ROOMA1", store.KeyState)
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":1}`, string(got))
	})

	t.Run("put overwrites", func(t *testing.T) {
		require.NoError(t, st.Put(ctx, "ROOMA1", store.KeyState, []byte(`{"v":2}`)))
		got, err := st.Get(ctx, "ROOMA1", store.KeyState)
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":2}`, string(got))
	})

	t.Run("keys are scoped by room", func(t *testing.T) {
		_, err := st.Get(ctx, "ROOMB2", store.KeyState)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("scan", func(t *testing.T) {
		require.NoError(t, st.Put(ctx, "ROOMA1", store.KeyAlarm, []byte(`{"at":1}`)))
		require.NoError(t, st.Put(ctx, "ROOMB2", store.KeyAlarm, []byte(`{"at":2}`)))

		alarms, err := st.Scan(ctx, store.KeyAlarm)
		require.NoError(t, err)
		require.Len(t, alarms, 2)
		assert.JSONEq(t, `{"at":1}`, string(alarms["ROOMA1"]))
		assert.JSONEq(t, `{"at":2}`, string(alarms["ROOMB2"]))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, st.Delete(ctx, "ROOMB2", store.KeyAlarm))
		_, err := st.Get(ctx, "ROOMB2", store.KeyAlarm)
		assert.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, st.Delete(ctx, "ROOMB2", store.KeyAlarm), "deleting a missing key is not an error")

		alarms, err := st.Scan(ctx, store.KeyAlarm)
		require.NoError(t, err)
		assert.Len(t, alarms, 1)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.Error(t, st.Put(cctx, "ROOMA1", store.KeyState, []byte(`{}`)))
	})
}
