// Package file serves routes from a JSON5 file and reloads it when it
// changes on disk.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/tgrelay/internal/store"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 200 * time.Millisecond

type routeKey struct {
	group, topic int64
}

type routesFile struct {
	Routes []store.Route `json:"routes"`
}

// RouteStore implements store.RouteStore from a routes file:
//
//	{ routes: [ { group_id: -1001234567890, topic_id: 0, endpoint: "https://..." } ] }
type RouteStore struct {
	path string

	mu     sync.RWMutex
	routes map[routeKey]string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Open loads the routes file at path.
func Open(path string) (*RouteStore, error) {
	s := &RouteStore{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the routes file. On error the previous table is kept.
func (s *RouteStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read routes file: %w", err)
	}
	var f routesFile
	if err := json5.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse routes file: %w", err)
	}

	routes := make(map[routeKey]string, len(f.Routes))
	for i, r := range f.Routes {
		if r.Endpoint == "" {
			return fmt.Errorf("route %d (group %d, topic %d): empty endpoint", i, r.GroupID, r.TopicID)
		}
		routes[routeKey{r.GroupID, r.TopicID}] = r.Endpoint
	}

	s.mu.Lock()
	s.routes = routes
	s.mu.Unlock()
	return nil
}

// Watch reloads the file whenever it changes and calls onChange after each
// successful reload. It returns once the watcher is installed; Close stops it.
func (s *RouteStore) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors replace files via rename.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	s.watcher = w
	s.done = make(chan struct{})

	go s.watchLoop(ctx, onChange)
	return nil
}

func (s *RouteStore) watchLoop(ctx context.Context, onChange func()) {
	defer close(s.done)

	target := filepath.Clean(s.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := s.Reload(); err != nil {
				slog.Warn("routes file reload failed, keeping previous routes", "path", s.path, "error", err)
				continue
			}
			slog.Info("routes file reloaded", "path", s.path, "routes", s.count())
			if onChange != nil {
				onChange()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("routes file watcher error", "error", err)
		}
	}
}

func (s *RouteStore) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.routes)
}

func (s *RouteStore) FindRoute(_ context.Context, groupID, topicID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if endpoint, ok := s.routes[routeKey{groupID, topicID}]; ok {
		return endpoint, nil
	}
	return "", store.ErrNotFound
}

func (s *RouteStore) FindWildcard(ctx context.Context, groupID int64) (string, error) {
	return s.FindRoute(ctx, groupID, store.WildcardTopic)
}

func (s *RouteStore) ListGroups(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	seen := make(map[int64]struct{})
	for k := range s.routes {
		seen[k.group] = struct{}{}
	}
	s.mu.RUnlock()

	groups := make([]int64, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })
	return groups, nil
}

func (s *RouteStore) ListRoutes(_ context.Context, groupID int64) ([]store.Route, error) {
	s.mu.RLock()
	var routes []store.Route
	for k, endpoint := range s.routes {
		if k.group == groupID {
			routes = append(routes, store.Route{GroupID: k.group, TopicID: k.topic, Endpoint: endpoint})
		}
	}
	s.mu.RUnlock()

	sort.Slice(routes, func(i, j int) bool { return routes[i].TopicID < routes[j].TopicID })
	return routes, nil
}

// Close stops the watcher, if any.
func (s *RouteStore) Close() error {
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	<-s.done
	return err
}
