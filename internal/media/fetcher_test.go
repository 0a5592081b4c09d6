package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/tgrelay/internal/bus"
	"github.com/nextlevelbuilder/tgrelay/internal/channels"
)

type fakeDownloader struct {
	media       []byte
	mediaErr    error
	avatar      []byte
	avatarErr   error
	avatarPanic bool
	avatarCalls atomic.Int32
}

func (d *fakeDownloader) DownloadMedia(_ context.Context, _ *bus.MediaRef, w io.Writer) error {
	if d.mediaErr != nil {
		return d.mediaErr
	}
	_, err := w.Write(d.media)
	return err
}

func (d *fakeDownloader) DownloadAvatar(_ context.Context, _ *bus.SenderRef, w io.Writer) error {
	d.avatarCalls.Add(1)
	if d.avatarPanic {
		panic("corrupt image state")
	}
	if d.avatarErr != nil {
		return d.avatarErr
	}
	_, err := w.Write(d.avatar)
	return err
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(w, h, color.NRGBA{R: 200, A: 255}), imaging.PNG))
	return buf.Bytes()
}

func newTestFetcher(t *testing.T, d Downloader) (*Fetcher, string) {
	t.Helper()
	dir := t.TempDir()
	f, err := NewFetcher(d, Config{Dir: dir, BaseURL: "https://cdn.example.com/"})
	require.NoError(t, err)
	f.now = func() time.Time { return time.Date(2024, 3, 5, 14, 7, 9, 123456000, time.UTC) }
	return f, dir
}

func TestFetchMessageMedia_WritesFile(t *testing.T) {
	f, dir := newTestFetcher(t, &fakeDownloader{media: []byte("jpegdata")})
	msg := &bus.Message{ID: 42, Media: &bus.MediaRef{Kind: bus.MediaPhoto, FileID: "abc"}}

	u, err := f.FetchMessageMedia(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/media/20240305_140709_123456_42.jpg", u)

	data, err := os.ReadFile(filepath.Join(dir, "media", "20240305_140709_123456_42.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpegdata", string(data))
}

func TestFetchMessageMedia_FailureLeavesNoFile(t *testing.T) {
	f, dir := newTestFetcher(t, &fakeDownloader{mediaErr: errors.New("network down")})
	msg := &bus.Message{ID: 1, Media: &bus.MediaRef{Kind: bus.MediaDocument, FileName: "a.pdf"}}

	u, err := f.FetchMessageMedia(context.Background(), msg)
	assert.Error(t, err)
	assert.Empty(t, u)

	entries, err := os.ReadDir(filepath.Join(dir, "media"))
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must be removed")
}

func TestFetchMessageMedia_SizeLimit(t *testing.T) {
	d := &fakeDownloader{media: make([]byte, 64)}
	f, _ := newTestFetcher(t, d)
	f.cfg.MaxBytes = 32

	_, err := f.FetchMessageMedia(context.Background(), &bus.Message{ID: 1, Media: &bus.MediaRef{Kind: bus.MediaVideo}})
	assert.ErrorIs(t, err, ErrTooLarge, "stream over the limit")

	_, err = f.FetchMessageMedia(context.Background(), &bus.Message{ID: 2, Media: &bus.MediaRef{Kind: bus.MediaVideo, FileSize: 1000}})
	assert.ErrorIs(t, err, ErrTooLarge, "declared size over the limit")
}

func TestFetchMessageMedia_NoMedia(t *testing.T) {
	f, _ := newTestFetcher(t, &fakeDownloader{})
	u, err := f.FetchMessageMedia(context.Background(), &bus.Message{ID: 1, Text: "hi"})
	assert.NoError(t, err)
	assert.Empty(t, u)
}

func TestFetchMessageMedia_FloodWaitPassesThrough(t *testing.T) {
	f, _ := newTestFetcher(t, &fakeDownloader{mediaErr: &channels.FloodWaitError{RetryAfter: 9 * time.Second}})

	_, err := f.FetchMessageMedia(context.Background(), &bus.Message{ID: 1, Media: &bus.MediaRef{Kind: bus.MediaPhoto}})
	fw, ok := channels.AsFloodWait(err)
	require.True(t, ok)
	assert.Equal(t, 9*time.Second, fw.RetryAfter)
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		ref  bus.MediaRef
		want string
	}{
		{bus.MediaRef{Kind: bus.MediaPhoto}, ".jpg"},
		{bus.MediaRef{Kind: bus.MediaDocument, MimeType: "image/jpeg"}, ".jpg"},
		{bus.MediaRef{Kind: bus.MediaDocument, MimeType: "image/png"}, ".png"},
		{bus.MediaRef{Kind: bus.MediaAnimation, MimeType: "image/gif"}, ".gif"},
		{bus.MediaRef{Kind: bus.MediaVideo, MimeType: "video/quicktime"}, ".mp4"},
		{bus.MediaRef{Kind: bus.MediaDocument, MimeType: "application/pdf", FileName: "Report.PDF"}, ".pdf"},
		{bus.MediaRef{Kind: bus.MediaDocument, FileName: "evil.p/h"}, ".file"},
		{bus.MediaRef{Kind: bus.MediaDocument}, ".file"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtensionFor(&tt.ref), "%+v", tt.ref)
	}
}

func TestAvatarFileName(t *testing.T) {
	assert.Equal(t, "Ana_Lee.jpg", AvatarFileName(&bus.SenderRef{FirstName: "Ana", LastName: "Lee"}))
	assert.Equal(t, "Jos_Maria.jpg", AvatarFileName(&bus.SenderRef{FirstName: "José!", LastName: "Maria"}))
	assert.Equal(t, "user_77.jpg", AvatarFileName(&bus.SenderRef{ID: 77, FirstName: "日本"}))
	assert.Equal(t, "Unknown_User.jpg", AvatarFileName(&bus.SenderRef{ID: 5}))
}

func TestFetchAvatar_OptimisticThenCached(t *testing.T) {
	d := &fakeDownloader{avatar: pngBytes(t, 640, 320)}
	f, dir := newTestFetcher(t, d)
	f.now = time.Now
	sender := &bus.SenderRef{ID: 1, FirstName: "Ana"}

	u, ok := f.FetchAvatar(context.Background(), sender)
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/ava/Ana.jpg", u)
	f.Wait()

	img, err := imaging.Open(filepath.Join(dir, "ava", "Ana.jpg"))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 256, 128), img.Bounds())

	u2, ok := f.FetchAvatar(context.Background(), sender)
	require.True(t, ok)
	assert.Equal(t, u, u2)
	f.Wait()
	assert.Equal(t, int32(1), d.avatarCalls.Load(), "fresh avatar must not be re-downloaded")
}

func TestFetchAvatar_StaleIsRefreshed(t *testing.T) {
	d := &fakeDownloader{avatar: pngBytes(t, 32, 32)}
	f, dir := newTestFetcher(t, d)
	f.now = time.Now

	path := filepath.Join(dir, "ava", "Ana.jpg")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	_, ok := f.FetchAvatar(context.Background(), &bus.SenderRef{ID: 1, FirstName: "Ana"})
	require.True(t, ok)
	f.Wait()
	assert.Equal(t, int32(1), d.avatarCalls.Load())

	_, err := imaging.Open(path)
	assert.NoError(t, err, "stale file replaced by a decodable JPEG")
}

func TestFetchAvatar_NoPhotoRemembered(t *testing.T) {
	d := &fakeDownloader{avatarErr: channels.ErrNoPhoto}
	f, _ := newTestFetcher(t, d)
	f.now = time.Now
	sender := &bus.SenderRef{ID: 9, FirstName: "Bob"}

	_, ok := f.FetchAvatar(context.Background(), sender)
	assert.True(t, ok, "first call is optimistic")
	f.Wait()

	_, ok = f.FetchAvatar(context.Background(), sender)
	assert.False(t, ok)
	assert.Equal(t, int32(1), d.avatarCalls.Load())
}

func TestFetchAvatar_RefreshPanicIsContained(t *testing.T) {
	d := &fakeDownloader{avatarPanic: true}
	f, dir := newTestFetcher(t, d)
	sender := &bus.SenderRef{ID: 5, FirstName: "Ana"}

	_, ok := f.FetchAvatar(context.Background(), sender)
	assert.True(t, ok)
	assert.NotPanics(t, f.Wait)

	_, err := os.Stat(filepath.Join(dir, "ava", "Ana.jpg"))
	assert.True(t, os.IsNotExist(err))

	f.FetchAvatar(context.Background(), sender)
	f.Wait()
	assert.Equal(t, int32(2), d.avatarCalls.Load(), "a crashed refresh must not block later attempts")
}
