// Package topic determines which forum topic a message belongs to.
//
// Reply metadata reported by the source is ambiguous: the "top" id of a reply
// may name the topic header or merely an earlier message of a reply chain. The
// resolver applies a fixed priority of rules and, when needed, traces one or
// more hops up the chain through a MessageFetcher.
package topic

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/tgrelay/internal/bus"
)

// Resolver defaults.
const (
	DefaultLookbackTimeout = 3 * time.Second
	DefaultMaxTraceHops    = 1
)

// MessageFetcher fetches an earlier message of a chat.
type MessageFetcher interface {
	Message(ctx context.Context, chatID, messageID int64) (*bus.Message, error)
}

// Resolver maps a message to a topic id (0 = no topic).
type Resolver struct {
	fetcher  MessageFetcher
	lookback time.Duration
	maxHops  int
}

// NewResolver creates a resolver. fetcher may be nil, in which case reply
// candidates are taken as-is.
func NewResolver(fetcher MessageFetcher, lookback time.Duration, maxHops int) *Resolver {
	if lookback <= 0 {
		lookback = DefaultLookbackTimeout
	}
	if maxHops <= 0 {
		maxHops = DefaultMaxTraceHops
	}
	return &Resolver{fetcher: fetcher, lookback: lookback, maxHops: maxHops}
}

// Resolve returns the topic id of msg. The result is never negative.
func (r *Resolver) Resolve(ctx context.Context, msg *bus.Message) int64 {
	if msg == nil || msg.Reply == nil {
		return 0
	}
	reply := msg.Reply
	if reply.TopicHeader && reply.ToMsgID != 0 {
		return nonNegative(reply.ToMsgID)
	}
	if reply.ToTopID != 0 {
		return nonNegative(r.trace(ctx, msg.ChatID, reply.ToTopID))
	}
	return 0
}

// trace follows reply metadata upward from candidate. Every hop shares one
// lookback deadline; any failure keeps the best candidate found so far.
func (r *Resolver) trace(ctx context.Context, chatID, candidate int64) int64 {
	if r.fetcher == nil {
		return candidate
	}
	ctx, cancel := context.WithTimeout(ctx, r.lookback)
	defer cancel()

	visited := map[int64]bool{candidate: true}
	for hop := 0; hop < r.maxHops; hop++ {
		m, err := r.fetcher.Message(ctx, chatID, candidate)
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				slog.Debug("topic lookback failed", "chat_id", chatID, "message_id", candidate, "error", err)
			}
			return candidate
		}
		next := parentOf(m)
		if next == 0 || visited[next] {
			return candidate
		}
		visited[next] = true
		candidate = next
	}
	return candidate
}

// parentOf returns the id a fetched message points up to, or 0 when it is a
// chain root.
func parentOf(m *bus.Message) int64 {
	if m == nil || m.Reply == nil {
		return 0
	}
	switch {
	case m.Reply.TopicHeader && m.Reply.ToMsgID != 0:
		return m.Reply.ToMsgID
	case m.Reply.ToTopID != 0:
		return m.Reply.ToTopID
	default:
		return m.Reply.ToMsgID
	}
}

func nonNegative(id int64) int64 {
	if id < 0 {
		return 0
	}
	return id
}
