package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetGetDel(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v"))
	value, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v", value)

	removed, err := s.Del(ctx, "k", "missing")
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, found, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, found)
}

func TestSetExExpires(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	require.NoError(t, s.SetEx(ctx, "k", "v", 10*time.Millisecond))
	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)

	time.Sleep(20 * time.Millisecond)
	_, found, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, found)
}

func TestSetSemantics(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	added, err := s.SAdd(ctx, "set", "a", "b")
	require.NoError(t, err)
	require.Equal(t, 2, added)

	added, err = s.SAdd(ctx, "set", "b", "c")
	require.NoError(t, err)
	require.Equal(t, 1, added)

	members, err := s.SMembers(ctx, "set")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b", "c"}, members)

	members, err = s.SMembers(ctx, "empty")
	require.NoError(t, err)
	require.Empty(t, members)
}
