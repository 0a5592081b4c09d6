// Package relay runs the forwarding pipeline: each dequeued message is
// resolved to a (group, topic) route, enriched with sender identity and
// media, and delivered to its webhook endpoint.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/tgrelay/internal/bus"
	"github.com/nextlevelbuilder/tgrelay/internal/channels"
	"github.com/nextlevelbuilder/tgrelay/internal/delivery"
	"github.com/nextlevelbuilder/tgrelay/internal/routing"
	"github.com/nextlevelbuilder/tgrelay/internal/stats"
	"github.com/nextlevelbuilder/tgrelay/internal/tracing"
)

// TopicResolver maps a message to its topic id.
type TopicResolver interface {
	Resolve(ctx context.Context, msg *bus.Message) int64
}

// Router looks up the webhook endpoint of a (group, topic) pair.
type Router interface {
	Lookup(ctx context.Context, groupID, topicID int64) (string, bool)
}

// MediaFetcher materializes attachments and avatars.
type MediaFetcher interface {
	FetchMessageMedia(ctx context.Context, msg *bus.Message) (string, error)
	FetchAvatar(ctx context.Context, sender *bus.SenderRef) (string, bool)
}

// SenderFetcher resolves the full author of a message.
type SenderFetcher interface {
	Sender(ctx context.Context, msg *bus.Message) (*bus.SenderRef, error)
}

// Deliverer posts a payload with retry.
type Deliverer interface {
	SendWithRetry(ctx context.Context, endpoint string, p delivery.Payload, maxAttempts int) error
}

// PipelineConfig wires the pipeline collaborators.
type PipelineConfig struct {
	Resolver    TopicResolver
	Router      Router
	Media       MediaFetcher  // optional
	Senders     SenderFetcher // optional; msg.Sender is used as-is when nil
	Delivery    Deliverer
	Counters    *stats.Counters
	MaxAttempts int
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeSkipped
	outcomeFailed
)

// Pipeline processes one message at a time; it is safe to share between
// workers.
type Pipeline struct {
	cfg   PipelineConfig
	sleep func(ctx context.Context, d time.Duration)
}

// NewPipeline creates a pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Counters == nil {
		cfg.Counters = &stats.Counters{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = delivery.DefaultMaxAttempts
	}
	return &Pipeline{cfg: cfg, sleep: sleepCtx}
}

// Process relays msg and records the outcome in the counters. Panics, in
// this goroutine or in the fetch stage, are recovered and counted as failures.
func (p *Pipeline) Process(ctx context.Context, msg *bus.Message) {
	relayID := uuid.NewString()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while relaying message",
				"relay_id", relayID, "panic", r, "stack", string(debug.Stack()))
			p.cfg.Counters.IncFailed()
		}
	}()
	if msg == nil {
		return
	}

	ctx, span := tracing.StartSpan(ctx, "relay.process",
		attribute.String("relay.id", relayID),
		attribute.Int64("chat.id", msg.ChatID),
		attribute.Int64("message.id", msg.ID))
	defer span.End()

	out, err := p.relay(ctx, msg, relayID)
	switch out {
	case outcomeDelivered:
		p.cfg.Counters.IncProcessed()
	case outcomeSkipped:
		p.cfg.Counters.IncSkipped()
	case outcomeFailed:
		p.cfg.Counters.IncFailed()
		slog.Error("message relay failed", "relay_id", relayID, "chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
	}
}

func (p *Pipeline) relay(ctx context.Context, msg *bus.Message, relayID string) (outcome, error) {
	groupID := routing.NormalizeGroupID(msg.ChatID)
	topicID := p.cfg.Resolver.Resolve(ctx, msg)

	endpoint, ok := p.cfg.Router.Lookup(ctx, groupID, topicID)
	if !ok {
		slog.Debug("no route for message, skipping", "group_id", groupID, "topic_id", topicID, "message_id", msg.ID)
		return outcomeSkipped, nil
	}

	var (
		sender    *bus.SenderRef
		avatarURL string
		mediaURL  string
		g         errgroup.Group
	)
	g.Go(recovered(relayID, func() error {
		s, err := p.sender(ctx, msg)
		if err != nil {
			return err
		}
		sender = s
		if p.cfg.Media != nil && s != nil {
			avatarURL, _ = p.cfg.Media.FetchAvatar(ctx, s)
		}
		return nil
	}))
	if p.cfg.Media != nil && msg.Media != nil {
		g.Go(recovered(relayID, func() error {
			u, err := p.cfg.Media.FetchMessageMedia(ctx, msg)
			if _, ok := channels.AsFloodWait(err); ok {
				return err
			}
			if err != nil {
				slog.Warn("media unavailable, relaying without it",
					"relay_id", relayID, "message_id", msg.ID, "kind", msg.Media.Kind, "error", err)
				return nil
			}
			mediaURL = u
			return nil
		}))
	}
	if err := g.Wait(); err != nil {
		if fw, ok := channels.AsFloodWait(err); ok {
			slog.Warn("source rate limited, pausing worker", "relay_id", relayID, "wait", fw.RetryAfter)
			p.sleep(ctx, fw.RetryAfter)
		}
		return outcomeFailed, err
	}

	name := sender.DisplayName()
	payload := delivery.BuildPayload(name, avatarURL, msg.Text, mediaURL)
	if payload.Empty() {
		slog.Debug("nothing to relay, skipping", "message_id", msg.ID, "kind", mediaKind(msg))
		return outcomeSkipped, nil
	}

	if err := p.cfg.Delivery.SendWithRetry(ctx, endpoint, payload, p.cfg.MaxAttempts); err != nil {
		return outcomeFailed, fmt.Errorf("deliver to group %d topic %d: %w", groupID, topicID, err)
	}
	slog.Info("message forwarded",
		"relay_id", relayID, "sender", name, "chat", msg.ChatTitle, "group_id", groupID, "topic_id", topicID)
	return outcomeDelivered, nil
}

// errPanic marks a fetch goroutine that panicked.
var errPanic = errors.New("panic in fetch stage")

// recovered turns a panic in fn into an error, so it surfaces through the
// errgroup instead of crashing the process.
func recovered(relayID string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in fetch stage",
					"relay_id", relayID, "panic", r, "stack", string(debug.Stack()))
				err = fmt.Errorf("%w: %v", errPanic, r)
			}
		}()
		return fn()
	}
}

// sender returns the fetched author, falling back to the partial one carried
// by the message on ordinary errors. Rate-limit signals are propagated.
func (p *Pipeline) sender(ctx context.Context, msg *bus.Message) (*bus.SenderRef, error) {
	if p.cfg.Senders == nil {
		return msg.Sender, nil
	}
	s, err := p.cfg.Senders.Sender(ctx, msg)
	if err == nil {
		return s, nil
	}
	if _, ok := channels.AsFloodWait(err); ok {
		return nil, err
	}
	slog.Warn("sender lookup failed", "message_id", msg.ID, "error", err)
	return msg.Sender, nil
}

func mediaKind(msg *bus.Message) string {
	if msg.Media == nil {
		return ""
	}
	return string(msg.Media.Kind)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
