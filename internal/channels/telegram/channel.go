// Package telegram implements channels.Source on the Telegram Bot API using
// long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"

	"github.com/nextlevelbuilder/tgrelay/internal/bus"
	"github.com/nextlevelbuilder/tgrelay/internal/channels"
	"github.com/nextlevelbuilder/tgrelay/internal/config"
)

const (
	defaultPollTimeout    = 30
	defaultRecentMessages = 10000
)

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	bot        *telego.Bot
	config     config.TelegramConfig
	httpClient *http.Client
	maxBytes   int64
	recent     *recentMessages
}

// New creates a new Telegram channel from config. maxBytes bounds every file
// download.
func New(cfg config.TelegramConfig, maxBytes int64) (*Channel, error) {
	var opts []telego.BotOption

	httpClient := &http.Client{}
	if cfg.Proxy != "" {
		proxyURL, parseErr := url.Parse(cfg.Proxy)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, parseErr)
		}
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			},
		}
		opts = append(opts, telego.WithHTTPClient(httpClient))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.RecentMessages <= 0 {
		cfg.RecentMessages = defaultRecentMessages
	}
	if maxBytes <= 0 {
		maxBytes = defaultMediaMaxBytes
	}

	return &Channel{
		bot:        bot,
		config:     cfg,
		httpClient: httpClient,
		maxBytes:   maxBytes,
		recent:     newRecentMessages(cfg.RecentMessages),
	}, nil
}

// Name returns the platform identifier.
func (c *Channel) Name() string { return "telegram" }

// Self describes the bot account.
func (c *Channel) Self(ctx context.Context) (string, error) {
	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return "", mapAPIError(err)
	}
	return fmt.Sprintf("@%s (id %d)", me.Username, me.ID), nil
}

// Run long-polls for updates and hands every relayable message to handler.
// It returns when ctx is done or the update stream closes.
func (c *Channel) Run(ctx context.Context, handler channels.Handler) error {
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout: c.config.PollTimeout,
		AllowedUpdates: []string{
			"message",
			"channel_post",
		},
	})
	if err != nil {
		return fmt.Errorf("start long polling: %w", mapAPIError(err))
	}
	slog.Info("telegram bot connected (polling mode)", "username", c.bot.Username())

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}
			c.handleUpdate(update, handler)
		}
	}
}

// Sender returns the author of msg. Bot API updates already carry the full
// user; chat senders without a title are completed with getChat.
func (c *Channel) Sender(ctx context.Context, msg *bus.Message) (*bus.SenderRef, error) {
	if msg.Sender == nil {
		return nil, fmt.Errorf("message %d has no sender: %w", msg.ID, channels.ErrMessageUnavailable)
	}
	s := *msg.Sender
	if s.IsChat && s.Title == "" {
		chat, err := c.bot.GetChat(ctx, &telego.GetChatParams{ChatID: telego.ChatID{ID: s.ID}})
		if err != nil {
			return nil, mapAPIError(err)
		}
		s.Title = chat.Title
		s.Username = chat.Username
	}
	return &s, nil
}

// Message returns a previously seen message. The Bot API has no history
// endpoint, so lookups are served from the recent-message cache.
func (c *Channel) Message(_ context.Context, chatID, messageID int64) (*bus.Message, error) {
	if m, ok := c.recent.get(chatID, messageID); ok {
		return m, nil
	}
	return nil, channels.ErrMessageUnavailable
}

// mapAPIError turns Bot API rate limiting into a channels.FloodWaitError.
func mapAPIError(err error) error {
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) && apiErr.ErrorCode == http.StatusTooManyRequests &&
		apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
		return &channels.FloodWaitError{
			RetryAfter: time.Duration(apiErr.Parameters.RetryAfter) * time.Second,
			Err:        err,
		}
	}
	return err
}
