package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScoped_RoutesByScope(t *testing.T) {
	ctx := context.Background()
	s, user, doc := NewMemoryStore()

	require.NoError(t, s.Set(ctx, ScopeUser, "k", "u"))
	require.NoError(t, s.Set(ctx, ScopeDocument, "k", "d"))

	require.Equal(t, []string{"k"}, user.Keys())
	require.Equal(t, []string{"k"}, doc.Keys())

	v, ok, err := s.Get(ctx, ScopeUser, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "u", v)

	v, _, err = s.Get(ctx, ScopeDocument, "k")
	require.NoError(t, err)
	require.Equal(t, "d", v)

	require.NoError(t, s.Delete(ctx, ScopeUser, "k"))
	_, ok, err = s.Get(ctx, ScopeUser, "k")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, _ = s.Get(ctx, ScopeDocument, "k")
	require.True(t, ok, "deleting in user scope must not touch document scope")
}

func TestScoped_MissingBackend(t *testing.T) {
	s := NewScoped(NewMemory(), nil)

	_, _, err := s.Get(context.Background(), ScopeDocument, "k")
	require.Error(t, err)
	require.Error(t, s.Set(context.Background(), ScopeDocument, "k", "v"))
}

func TestMemory_SetErr(t *testing.T) {
	m := NewMemory()
	m.SetErr = errors.New("quota exceeded")

	err := m.Set(context.Background(), "k", "v")
	require.EqualError(t, err, "quota exceeded")
	require.Empty(t, m.Keys())
}
