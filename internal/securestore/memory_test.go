package securestore

import (
	"context"
	"testing"

	"github.com/shopease/sessionkeeper/internal/errs"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGetDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Get(ctx, "k")
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, m.Set(ctx, "k", []byte("v1")))
	require.NoError(t, m.Set(ctx, "k", []byte("v2"), RequireAuth("confirm")))

	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v)
	require.True(t, m.RequiresAuth("k"))

	require.NoError(t, m.Delete(ctx, "k"))
	require.NoError(t, m.Delete(ctx, "k"))
	require.Equal(t, 0, m.Len())
}

func TestMemory_ReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	in := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", in))
	in[0] = 'x'

	out, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), out)
	out[0] = 'y'

	again, _ := m.Get(ctx, "k")
	require.Equal(t, []byte("abc"), again)
}

func TestMemory_CanceledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, m.Set(ctx, "k", []byte("v")))
	_, err := m.Get(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
}

func TestApply(t *testing.T) {
	o := Apply()
	require.False(t, o.RequireAuth)
	o = Apply(RequireAuth("p"))
	require.True(t, o.RequireAuth)
	require.Equal(t, "p", o.Prompt)
}
