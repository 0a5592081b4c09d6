package store

import (
	"context"
	"errors"
)

const (
	// WildcardTopic matches any topic of a group that has no exact route.
	WildcardTopic int64 = -1
	// NoTopic marks groups without sub-threads and messages outside one.
	NoTopic int64 = 0
)

// ErrNotFound is returned when no route matches a lookup.
var ErrNotFound = errors.New("route not found")

// Route maps a (group, topic) pair to a destination webhook endpoint.
// Routes are administered outside the relay and are read-only here.
type Route struct {
	GroupID  int64  `json:"group_id"`
	TopicID  int64  `json:"topic_id"`
	Endpoint string `json:"endpoint"`
}

// RouteStore is the persistent route table.
// Lookups return ErrNotFound when no row matches; any other error means the
// store itself is unavailable.
type RouteStore interface {
	// FindRoute returns the endpoint of the exact (groupID, topicID) route.
	FindRoute(ctx context.Context, groupID, topicID int64) (string, error)
	// FindWildcard returns the endpoint of the (groupID, WildcardTopic) route.
	FindWildcard(ctx context.Context, groupID int64) (string, error)
	// ListGroups returns every group id that has at least one route.
	ListGroups(ctx context.Context) ([]int64, error)
	// ListRoutes returns all routes of a group ordered by topic.
	ListRoutes(ctx context.Context, groupID int64) ([]Route, error)
	Close() error
}
