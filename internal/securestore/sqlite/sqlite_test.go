package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopease/sessionkeeper/internal/errs"
	"github.com/shopease/sessionkeeper/internal/securestore"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "session.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestSetAndGet_InsertThenGet(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", []byte{0x01, 0x02}))

	v, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02}, v)
}

func TestGet_NotExists_ReturnsNotFound(t *testing.T) {
	s, _ := openStore(t)

	v, err := s.Get(context.Background(), "absent")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Nil(t, v)
}

func TestSet_UpsertOverwritesValueAndGate(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("old"), securestore.RequireAuth("confirm")))
	gated, err := s.RequiresAuth(ctx, "k")
	require.NoError(t, err)
	require.True(t, gated)

	require.NoError(t, s.Set(ctx, "k", []byte("new")))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("new"), v)

	gated, err = s.RequiresAuth(ctx, "k")
	require.NoError(t, err)
	require.False(t, gated)
}

func TestDelete_RemovesKey_AndIsIdempotent(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "x", []byte{0x01}))
	require.NoError(t, s.Delete(ctx, "x"))

	_, err := s.Get(ctx, "x")
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, s.Delete(ctx, "x"))
}

func TestOpen_ReopenKeepsDataAndRestrictsPermissions(t *testing.T) {
	s, path := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "token_salt", []byte("abc")))
	require.NoError(t, s.Close())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer s2.Close()

	v, err := s2.Get(ctx, "token_salt")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), v)
}

func TestClosedDB_ErrorsWrapped(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Close())

	_, err := s.Get(ctx, "k")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to get secure item[k]")

	err = s.Set(ctx, "k", []byte("v"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to set secure item[k]")

	err = s.Delete(ctx, "k")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to delete secure item[k]")
}
