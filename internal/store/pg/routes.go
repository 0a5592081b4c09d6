package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/tgrelay/internal/store"
)

// PGRouteStore implements store.RouteStore backed by Postgres.
type PGRouteStore struct {
	db *sql.DB
}

func NewPGRouteStore(db *sql.DB) *PGRouteStore {
	return &PGRouteStore{db: db}
}

func (s *PGRouteStore) FindRoute(ctx context.Context, groupID, topicID int64) (string, error) {
	var endpoint string
	err := s.db.QueryRowContext(ctx,
		`SELECT webhook_url FROM webhook_routes WHERE group_id = $1 AND topic_id = $2`,
		groupID, topicID).Scan(&endpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find route %d/%d: %w", groupID, topicID, err)
	}
	return endpoint, nil
}

func (s *PGRouteStore) FindWildcard(ctx context.Context, groupID int64) (string, error) {
	return s.FindRoute(ctx, groupID, store.WildcardTopic)
}

func (s *PGRouteStore) ListGroups(ctx context.Context) ([]int64, error) {
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

func (s *PGRouteStore) ListRoutes(ctx context.Context, groupID int64) ([]store.Route, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id, topic_id, webhook_url FROM webhook_routes WHERE group_id = $1 ORDER BY topic_id`,
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

func (s *PGRouteStore) Close() error { return s.db.Close() }
