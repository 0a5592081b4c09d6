package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/tgrelay/internal/store"
)

const sampleRoutes = `{
	// comments are allowed
	routes: [
		{group_id: -1001, topic_id: 0, endpoint: "https://hook.example/a"},
		{group_id: -1001, topic_id: -1, endpoint: "https://hook.example/any"},
		{group_id: -1002, topic_id: 9, endpoint: "https://hook.example/b"},
	],
}`

func writeRoutes(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRouteStore_Lookups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json5")
	writeRoutes(t, path, sampleRoutes)

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	got, err := s.FindRoute(ctx, -1001, 0)
	require.NoError(t, err)
	assert.Equal(t, "https://hook.example/a", got)

	got, err = s.FindWildcard(ctx, -1001)
	require.NoError(t, err)
	assert.Equal(t, "https://hook.example/any", got)

	_, err = s.FindRoute(ctx, -1002, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)

	groups, err := s.ListGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{-1002, -1001}, groups)

	routes, err := s.ListRoutes(ctx, -1001)
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, store.WildcardTopic, routes[0].TopicID)
}

func TestRouteStore_RejectsEmptyEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json5")
	writeRoutes(t, path, `{routes: [{group_id: 1, topic_id: 0, endpoint: ""}]}`)

	_, err := Open(path)
	assert.Error(t, err)
}

func TestRouteStore_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json5")
	writeRoutes(t, path, sampleRoutes)

	s, err := Open(path)
	require.NoError(t, err)

	writeRoutes(t, path, `{routes: [`)
	assert.Error(t, s.Reload())

	got, err := s.FindRoute(context.Background(), -1002, 9)
	require.NoError(t, err)
	assert.Equal(t, "https://hook.example/b", got)
}

func TestRouteStore_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json5")
	writeRoutes(t, path, sampleRoutes)

	s, err := Open(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 4)
	require.NoError(t, s.Watch(ctx, func() { changed <- struct{}{} }))
	defer s.Close()

	writeRoutes(t, path, `{routes: [{group_id: -1003, topic_id: 0, endpoint: "https://hook.example/c"}]}`)

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("routes file change not observed")
	}

	got, err := s.FindRoute(ctx, -1003, 0)
	require.NoError(t, err)
	assert.Equal(t, "https://hook.example/c", got)

	_, err = s.FindRoute(ctx, -1001, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
