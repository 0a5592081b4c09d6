// Package media materializes message attachments and sender avatars as files
// under a directory served by a static file server, and hands out their
// public URLs.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tgrelay/internal/bus"
	"github.com/nextlevelbuilder/tgrelay/internal/channels"
)

const (
	// DefaultMaxBytes matches the Bot API download limit.
	DefaultMaxBytes int64 = 20 * 1024 * 1024

	// DefaultAvatarMaxAge is how long a cached avatar is served without refresh.
	DefaultAvatarMaxAge = 24 * time.Hour

	avatarDir         = "ava"
	mediaDir          = "media"
	avatarSize        = 256
	avatarTimeout     = 30 * time.Second
	avatarJPEGQuality = 85
)

// Downloader is the part of the source client the fetcher needs.
type Downloader interface {
	DownloadMedia(ctx context.Context, media *bus.MediaRef, w io.Writer) error
	DownloadAvatar(ctx context.Context, sender *bus.SenderRef, w io.Writer) error
}

// Config configures a Fetcher.
type Config struct {
	Dir          string // root of the served tree; ava/ and media/ live below it
	BaseURL      string // public URL of Dir
	MaxBytes     int64
	AvatarMaxAge time.Duration
}

// Fetcher downloads attachments and avatars. Failures are logged and reported
// as "no URL"; they never abort the caller.
type Fetcher struct {
	src Downloader
	cfg Config
	now func() time.Time

	inflight sync.Map // avatar filename -> struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	noPhoto map[string]time.Time // avatar filename -> when the source said "no photo"
}

// NewFetcher creates the media directories and returns a fetcher.
func NewFetcher(src Downloader, cfg Config) (*Fetcher, error) {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.AvatarMaxAge <= 0 {
		cfg.AvatarMaxAge = DefaultAvatarMaxAge
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	for _, sub := range []string{avatarDir, mediaDir} {
		if err := os.MkdirAll(filepath.Join(cfg.Dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create media dir: %w", err)
		}
	}
	return &Fetcher{
		src:     src,
		cfg:     cfg,
		now:     time.Now,
		noPhoto: make(map[string]time.Time),
	}, nil
}

// FetchMessageMedia downloads the attachment of msg and returns its URL. A
// message without media yields "" and no error. Errors from the source, rate
// limits included, are returned unchanged so callers can tell them apart.
func (f *Fetcher) FetchMessageMedia(ctx context.Context, msg *bus.Message) (string, error) {
	if msg == nil || msg.Media == nil {
		return "", nil
	}
	m := msg.Media
	if m.FileSize > f.cfg.MaxBytes {
		return "", fmt.Errorf("declared size %d: %w", m.FileSize, ErrTooLarge)
	}

	name := MediaFileName(f.now(), msg.ID, ExtensionFor(m))
	err := writeAtomic(filepath.Join(f.cfg.Dir, mediaDir, name), func(w io.Writer) error {
		return f.src.DownloadMedia(ctx, m, &limitedWriter{w: w, remaining: f.cfg.MaxBytes})
	})
	if err != nil {
		return "", fmt.Errorf("download %s media: %w", m.Kind, err)
	}
	return f.url(mediaDir, name), nil
}

// FetchAvatar returns the avatar URL of sender. A fresh local copy is served
// as-is; otherwise the URL is returned at once and the file is refreshed in
// the background, so the first message of a sender may show no image.
func (f *Fetcher) FetchAvatar(ctx context.Context, sender *bus.SenderRef) (string, bool) {
	if sender == nil {
		return "", false
	}
	name := AvatarFileName(sender)
	if f.knownNoPhoto(name) {
		return "", false
	}

	path := filepath.Join(f.cfg.Dir, avatarDir, name)
	if fi, err := os.Stat(path); err == nil && f.now().Sub(fi.ModTime()) < f.cfg.AvatarMaxAge {
		return f.url(avatarDir, name), true
	}

	if _, busy := f.inflight.LoadOrStore(name, struct{}{}); !busy {
		f.wg.Add(1)
		go f.refreshAvatar(context.WithoutCancel(ctx), sender, name, path)
	}
	return f.url(avatarDir, name), true
}

// Wait blocks until background avatar downloads finish.
func (f *Fetcher) Wait() { f.wg.Wait() }

func (f *Fetcher) refreshAvatar(ctx context.Context, sender *bus.SenderRef, name, path string) {
	defer f.wg.Done()
	defer f.inflight.Delete(name)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while refreshing avatar",
				"sender_id", sender.ID, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, avatarTimeout)
	defer cancel()

	var buf bytes.Buffer
	err := f.src.DownloadAvatar(ctx, sender, &limitedWriter{w: &buf, remaining: f.cfg.MaxBytes})
	if errors.Is(err, channels.ErrNoPhoto) {
		f.mu.Lock()
		f.noPhoto[name] = f.now()
		f.mu.Unlock()
		slog.Debug("sender has no profile photo", "sender_id", sender.ID)
		return
	}
	if err != nil {
		slog.Warn("avatar download failed", "sender_id", sender.ID, "error", err)
		return
	}

	img, err := imaging.Decode(&buf, imaging.AutoOrientation(true))
	if err != nil {
		slog.Warn("avatar decode failed", "sender_id", sender.ID, "error", err)
		return
	}
	img = imaging.Fit(img, avatarSize, avatarSize, imaging.Lanczos)
	err = writeAtomic(path, func(w io.Writer) error {
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(avatarJPEGQuality))
	})
	if err != nil {
		slog.Warn("avatar save failed", "sender_id", sender.ID, "error", err)
		return
	}
	slog.Debug("avatar refreshed", "sender_id", sender.ID, "file", name)
}

func (f *Fetcher) knownNoPhoto(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.noPhoto[name]
	if !ok {
		return false
	}
	if f.now().Sub(at) >= f.cfg.AvatarMaxAge {
		delete(f.noPhoto, name)
		return false
	}
	return true
}

func (f *Fetcher) url(sub, name string) string {
	return f.cfg.BaseURL + "/" + sub + "/" + url.PathEscape(name)
}

// MediaFileName builds "<YYYYmmdd_HHMMSS>_<micro>_<msgid><ext>".
func MediaFileName(at time.Time, messageID int64, ext string) string {
	return fmt.Sprintf("%s_%06d_%d%s", at.Format("20060102_150405"), at.Nanosecond()/1000, messageID, ext)
}

// ExtensionFor picks the file extension of an attachment.
func ExtensionFor(m *bus.MediaRef) string {
	if m.Kind == bus.MediaPhoto {
		return ".jpg"
	}
	mime := strings.ToLower(m.MimeType)
	switch {
	case mime == "image/jpeg":
		return ".jpg"
	case mime == "image/png":
		return ".png"
	case strings.Contains(mime, "gif"):
		return ".gif"
	case strings.HasPrefix(mime, "video/"):
		return ".mp4"
	}
	if ext := strings.ToLower(filepath.Ext(m.FileName)); len(ext) > 1 && isSafeExt(ext[1:]) {
		return ext
	}
	return ".file"
}

func isSafeExt(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return len(s) <= 10
}

// AvatarFileName derives a stable file name from the sender's display name:
// only letters, digits, spaces and underscores survive, spaces become
// underscores. Senders whose name sanitizes to nothing use their id.
func AvatarFileName(s *bus.SenderRef) string {
	var b strings.Builder
	for _, r := range s.DisplayName() {
		if r < 128 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == ' ' || r == '_') {
			b.WriteRune(r)
		}
	}
	name := strings.ReplaceAll(strings.TrimSpace(b.String()), " ", "_")
	if name == "" {
		name = "user_" + strconv.FormatInt(s.ID, 10)
	}
	return name + ".jpg"
}

// writeAtomic writes through a temp file in the target directory and renames
// it into place, so readers never observe a partial file.
func writeAtomic(path string, write func(io.Writer) error) error {
	tmp := filepath.Join(filepath.Dir(path), "."+uuid.NewString()+".tmp")
	fh, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(fh); err != nil {
		fh.Close()
		os.Remove(tmp)
		return err
	}
	if err := fh.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// ErrTooLarge is returned when a download exceeds the configured size limit.
var ErrTooLarge = errors.New("download exceeds size limit")

type limitedWriter struct {
	w         io.Writer
	remaining int64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > l.remaining {
		return 0, ErrTooLarge
	}
	n, err := l.w.Write(p)
	l.remaining -= int64(n)
	return n, err
}
