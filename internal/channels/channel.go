// Package channels defines the source-platform abstraction the relay reads
// from. A Source is a reconnecting transport that emits inbound messages and
// answers on-demand sender, message and media fetches.
package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nextlevelbuilder/tgrelay/internal/bus"
)

// ErrMessageUnavailable is returned when a message cannot be fetched.
var ErrMessageUnavailable = errors.New("message unavailable")

// ErrNoPhoto is returned by DownloadAvatar when the sender has no profile photo.
var ErrNoPhoto = errors.New("no profile photo")

// FloodWaitError is the upstream signal to back off for a fixed duration.
type FloodWaitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait %s: %v", e.RetryAfter, e.Err)
}

func (e *FloodWaitError) Unwrap() error { return e.Err }

// AsFloodWait reports whether err carries an upstream rate-limit signal.
func AsFloodWait(err error) (*FloodWaitError, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw, true
	}
	return nil, false
}

// Handler receives each inbound message. It must not block.
type Handler func(*bus.Message)

// Source is the source-platform client.
type Source interface {
	// Name returns the platform identifier (e.g. "telegram").
	Name() string

	// Run delivers messages to handler until the connection drops or ctx is
	// done. A nil return after ctx is done means a clean stop.
	Run(ctx context.Context, handler Handler) error

	// Sender returns the fully populated author of msg.
	Sender(ctx context.Context, msg *bus.Message) (*bus.SenderRef, error)

	// Message fetches a message of a chat by id.
	// Returns ErrMessageUnavailable when the source cannot provide it.
	Message(ctx context.Context, chatID, messageID int64) (*bus.Message, error)

	// DownloadMedia writes the original rendition of media to w.
	DownloadMedia(ctx context.Context, media *bus.MediaRef, w io.Writer) error

	// DownloadAvatar writes the sender's current profile photo to w.
	// Returns ErrNoPhoto when there is none.
	DownloadAvatar(ctx context.Context, sender *bus.SenderRef, w io.Writer) error
}

// Identity is implemented by sources that can describe the logged-in account.
type Identity interface {
	Self(ctx context.Context) (string, error)
}
