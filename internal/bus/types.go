package bus

import (
	"strings"
	"time"
)

// Message is an inbound event received from the source platform.
// It is owned by exactly one worker for the duration of its processing.
type Message struct {
	ChatID    int64      `json:"chat_id"`
	ChatTitle string     `json:"chat_title,omitempty"`
	ID        int64      `json:"message_id"`
	Date      time.Time  `json:"date"`
	Sender    *SenderRef `json:"sender,omitempty"`
	Text      string     `json:"text,omitempty"`
	Media     *MediaRef  `json:"media,omitempty"`
	Reply     *ReplyInfo `json:"reply,omitempty"`
}

// ReplyInfo carries the reply metadata of a message as reported upstream.
// The fields are optional and frequently ambiguous: ToTopID may point at a
// real topic header or at an arbitrary earlier message of a reply chain.
type ReplyInfo struct {
	ToMsgID     int64 `json:"reply_to_msg_id,omitempty"`
	ToTopID     int64 `json:"reply_to_top_id,omitempty"`
	TopicHeader bool  `json:"forum_topic,omitempty"` // the reply targets the topic header itself
}

// SenderRef identifies the author of a message. Display fields may be empty
// until the sender is fetched from the source.
type SenderRef struct {
	ID        int64  `json:"id"`
	IsChat    bool   `json:"is_chat,omitempty"` // message sent on behalf of a channel/group
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Title     string `json:"title,omitempty"`
	Username  string `json:"username,omitempty"`
}

// MediaKind classifies an attachment.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaDocument  MediaKind = "document"
	MediaVideo     MediaKind = "video"
	MediaAnimation MediaKind = "animation"
)

// MediaRef points at the original (largest) rendition of an attachment.
type MediaRef struct {
	Kind     MediaKind `json:"kind"`
	FileID   string    `json:"file_id"`
	MimeType string    `json:"mime_type,omitempty"`
	FileName string    `json:"file_name,omitempty"`
	FileSize int64     `json:"file_size,omitempty"`
}

// DisplayName returns "first last", the chat title for chat senders, or
// "Unknown User".
func (s *SenderRef) DisplayName() string {
	if s == nil {
		return UnknownUser
	}
	if !s.IsChat {
		name := s.FirstName
		if s.LastName != "" {
			name += " " + s.LastName
		}
		if name = strings.TrimSpace(name); name != "" {
			return name
		}
	}
	if s.Title != "" {
		return s.Title
	}
	return UnknownUser
}

// UnknownUser is the display name used when a sender cannot be resolved.
const UnknownUser = "Unknown User"
