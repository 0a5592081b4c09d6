// Package sqlite is a single-file route store for standalone deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/tgrelay/internal/store"
)

const schema = `CREATE TABLE IF NOT EXISTS webhook_routes (
	group_id    INTEGER NOT NULL,
	topic_id    INTEGER NOT NULL DEFAULT 0,
	webhook_url TEXT    NOT NULL,
	PRIMARY KEY (group_id, topic_id)
)`

// RouteStore implements store.RouteStore on top of modernc.org/sqlite.
type RouteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// route table exists.
func Open(ctx context.Context, path string) (*RouteStore, error) {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	if !strings.Contains(dsn, "_pragma=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := store.PingWithRetry(ctx, db, 1, 0); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &RouteStore{db: db}, nil
}

// Put inserts or replaces a route. Used by tooling and tests; the relay
// itself never writes routes.
func (s *RouteStore) Put(ctx context.Context, r store.Route) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_routes (group_id, topic_id, webhook_url) VALUES (?, ?, ?)
		 ON CONFLICT (group_id, topic_id) DO UPDATE SET webhook_url = excluded.webhook_url`,
		r.GroupID, r.TopicID, r.Endpoint)
	if err != nil {
		return fmt.Errorf("put route %d/%d: %w", r.GroupID, r.TopicID, err)
	}
	return nil
}

func (s *RouteStore) FindRoute(ctx context.Context, groupID, topicID int64) (string, error) {
	var endpoint string
	err := s.db.QueryRowContext(ctx,
		`SELECT webhook_url FROM webhook_routes WHERE group_id = ? AND topic_id = ?`,
		groupID, topicID).Scan(&endpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find route %d/%d: %w", groupID, topicID, err)
	}
	return endpoint, nil
}

func (s *RouteStore) FindWildcard(ctx context.Context, groupID int64) (string, error) {
	return s.FindRoute(ctx, groupID, store.WildcardTopic)
}

func (s *RouteStore) ListGroups(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT group_id FROM webhook_routes ORDER BY group_id`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		groups = append(groups, id)
	}
	return groups, rows.Err()
}

func (s *RouteStore) ListRoutes(ctx context.Context, groupID int64) ([]store.Route, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id, topic_id, webhook_url FROM webhook_routes WHERE group_id = ? ORDER BY topic_id`,
		groupID)
	if err != nil {
		return nil, fmt.Errorf("list routes %d: %w", groupID, err)
	}
	defer rows.Close()

	var routes []store.Route
	for rows.Next() {
		var r store.Route
		if err := rows.Scan(&r.GroupID, &r.TopicID, &r.Endpoint); err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

func (s *RouteStore) Close() error { return s.db.Close() }
