package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/tgrelay/internal/bus"
	"github.com/nextlevelbuilder/tgrelay/internal/channels"
)

const (
	// defaultMediaMaxBytes is the default max download size (20MB, Telegram Bot API limit).
	defaultMediaMaxBytes int64 = 20 * 1024 * 1024

	// downloadMaxRetries is the number of getFile attempts.
	downloadMaxRetries = 3

	fileURLFormat = "https://api.telegram.org/file/bot%s/%s"
)

// DownloadMedia writes the attachment to w.
func (c *Channel) DownloadMedia(ctx context.Context, media *bus.MediaRef, w io.Writer) error {
	return c.download(ctx, media.FileID, w)
}

// DownloadAvatar writes the sender's current profile photo (largest size) to w.
func (c *Channel) DownloadAvatar(ctx context.Context, sender *bus.SenderRef, w io.Writer) error {
	fileID, err := c.avatarFileID(ctx, sender)
	if err != nil {
		return err
	}
	return c.download(ctx, fileID, w)
}

func (c *Channel) avatarFileID(ctx context.Context, sender *bus.SenderRef) (string, error) {
	if sender.IsChat {
		chat, err := c.bot.GetChat(ctx, &telego.GetChatParams{ChatID: telego.ChatID{ID: sender.ID}})
		if err != nil {
			return "", mapAPIError(err)
		}
		if chat.Photo == nil || chat.Photo.BigFileID == "" {
			return "", channels.ErrNoPhoto
		}
		return chat.Photo.BigFileID, nil
	}

	photos, err := c.bot.GetUserProfilePhotos(ctx, &telego.GetUserProfilePhotosParams{
		UserID: sender.ID,
		Limit:  1,
	})
	if err != nil {
		return "", mapAPIError(err)
	}
	if photos.TotalCount == 0 || len(photos.Photos) == 0 || len(photos.Photos[0]) == 0 {
		return "", channels.ErrNoPhoto
	}
	sizes := photos.Photos[0]
	return sizes[len(sizes)-1].FileID, nil
}

// download fetches a file by file_id with retry on the getFile step.
func (c *Channel) download(ctx context.Context, fileID string, w io.Writer) error {
	var file *telego.File
	var err error

	for attempt := 1; attempt <= downloadMaxRetries; attempt++ {
		file, err = c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
		if err == nil {
			break
		}
		err = mapAPIError(err)
		if _, flood := channels.AsFloodWait(err); flood {
			return err
		}
		if attempt < downloadMaxRetries {
			slog.Debug("retrying file download", "file_id", fileID, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	if err != nil {
		return fmt.Errorf("get file info after %d attempts: %w", downloadMaxRetries, err)
	}

	if file.FilePath == "" {
		return fmt.Errorf("empty file path for file_id %s", fileID)
	}

	// Check file size before downloading
	if int64(file.FileSize) > c.maxBytes {
		return fmt.Errorf("file too large: %d bytes (max %d)", file.FileSize, c.maxBytes)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(fileURLFormat, c.config.Token, file.FilePath), nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	// Copy with size limit
	written, err := io.Copy(w, io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return fmt.Errorf("save file: %w", err)
	}
	if written > c.maxBytes {
		return fmt.Errorf("file exceeds max size during download: %d bytes", written)
	}
	return nil
}
