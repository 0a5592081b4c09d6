package telegram

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/tgrelay/internal/bus"
	"github.com/nextlevelbuilder/tgrelay/internal/channels"
)

// handleUpdate converts an update and passes it on. Replied-to messages
// embedded in the update are remembered for topic lookback.
func (c *Channel) handleUpdate(update telego.Update, handler channels.Handler) {
	msg := update.Message
	if msg == nil {
		msg = update.ChannelPost
	}
	if msg == nil {
		slog.Debug("telegram update skipped (no message)", "update_id", update.UpdateID)
		return
	}
	if !isGroupChat(msg.Chat) {
		slog.Debug("telegram message skipped (not a group)", "chat_id", msg.Chat.ID, "type", msg.Chat.Type)
		return
	}

	if msg.ReplyToMessage != nil {
		c.recent.put(toBusMessage(msg.ReplyToMessage))
	}
	m := toBusMessage(msg)
	c.recent.put(m)

	if isServiceMessage(msg) {
		slog.Debug("telegram service message skipped", "chat_id", msg.Chat.ID, "message_id", msg.MessageID)
		return
	}
	handler(m)
}

// isGroupChat reports whether a chat can carry routes. Private chats are
// excluded: their positive ids would collide with group ids after
// normalization.
func isGroupChat(chat telego.Chat) bool {
	switch chat.Type {
	case telego.ChatTypeGroup, telego.ChatTypeSupergroup, telego.ChatTypeChannel:
		return true
	}
	return false
}

func toBusMessage(msg *telego.Message) *bus.Message {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	return &bus.Message{
		ChatID:    msg.Chat.ID,
		ChatTitle: msg.Chat.Title,
		ID:        int64(msg.MessageID),
		Date:      time.Unix(int64(msg.Date), 0),
		Sender:    senderOf(msg),
		Text:      text,
		Media:     mediaOf(msg),
		Reply:     replyOf(msg),
	}
}

func senderOf(msg *telego.Message) *bus.SenderRef {
	if msg.SenderChat != nil {
		return &bus.SenderRef{
			ID:       msg.SenderChat.ID,
			IsChat:   true,
			Title:    msg.SenderChat.Title,
			Username: msg.SenderChat.Username,
		}
	}
	if msg.From != nil {
		return &bus.SenderRef{
			ID:        msg.From.ID,
			FirstName: msg.From.FirstName,
			LastName:  msg.From.LastName,
			Username:  msg.From.Username,
		}
	}
	// Channel posts without signature: the channel itself is the author.
	return &bus.SenderRef{ID: msg.Chat.ID, IsChat: true, Title: msg.Chat.Title, Username: msg.Chat.Username}
}

// replyOf maps Bot API thread metadata onto reply info:
//   - a reply to the topic-created service message names the topic directly;
//   - a message inside a forum topic carries the thread id as its top id;
//   - any other reply only carries the replied-to id.
func replyOf(msg *telego.Message) *bus.ReplyInfo {
	reply := msg.ReplyToMessage
	switch {
	case reply != nil && reply.ForumTopicCreated != nil:
		return &bus.ReplyInfo{ToMsgID: int64(reply.MessageID), TopicHeader: true}
	case msg.IsTopicMessage && msg.MessageThreadID != 0:
		r := &bus.ReplyInfo{ToTopID: int64(msg.MessageThreadID)}
		if reply != nil {
			r.ToMsgID = int64(reply.MessageID)
		}
		return r
	case reply != nil:
		return &bus.ReplyInfo{ToMsgID: int64(reply.MessageID)}
	}
	return nil
}

// mediaOf picks the attachment to relay; for photos the largest size.
func mediaOf(msg *telego.Message) *bus.MediaRef {
	switch {
	case len(msg.Photo) > 0:
		p := msg.Photo[len(msg.Photo)-1]
		return &bus.MediaRef{Kind: bus.MediaPhoto, FileID: p.FileID, MimeType: "image/jpeg", FileSize: int64(p.FileSize)}
	case msg.Animation != nil:
		a := msg.Animation
		return &bus.MediaRef{Kind: bus.MediaAnimation, FileID: a.FileID, MimeType: a.MimeType, FileName: a.FileName, FileSize: int64(a.FileSize)}
	case msg.Video != nil:
		v := msg.Video
		return &bus.MediaRef{Kind: bus.MediaVideo, FileID: v.FileID, MimeType: v.MimeType, FileName: v.FileName, FileSize: int64(v.FileSize)}
	case msg.Document != nil:
		d := msg.Document
		return &bus.MediaRef{Kind: bus.MediaDocument, FileID: d.FileID, MimeType: d.MimeType, FileName: d.FileName, FileSize: int64(d.FileSize)}
	}
	return nil
}

// isServiceMessage returns true if the message has no user content.
func isServiceMessage(msg *telego.Message) bool {
	// Has text or caption → user message
	if msg.Text != "" || msg.Caption != "" {
		return false
	}

	// Has media → user message (photo, audio, video, document, sticker, etc.)
	if msg.Photo != nil || msg.Audio != nil || msg.Video != nil ||
		msg.Document != nil || msg.Voice != nil || msg.VideoNote != nil ||
		msg.Sticker != nil || msg.Animation != nil || msg.Contact != nil ||
		msg.Location != nil || msg.Venue != nil || msg.Poll != nil {
		return false
	}

	// No user content; likely a service message (new_chat_members, left_chat_member,
	// forum_topic_created, pinned_message, etc.)
	return true
}

type msgKey struct {
	chatID, msgID int64
}

// recentMessages is a bounded FIFO of seen messages, the only history the
// Bot API offers for topic lookback.
type recentMessages struct {
	mu    sync.Mutex
	max   int
	items map[msgKey]*bus.Message
	order []msgKey
}

func newRecentMessages(max int) *recentMessages {
	return &recentMessages{max: max, items: make(map[msgKey]*bus.Message, max)}
}

func (r *recentMessages) put(m *bus.Message) {
	k := msgKey{m.ChatID, m.ID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[k]; ok {
		r.items[k] = m
		return
	}
	for len(r.order) >= r.max {
		delete(r.items, r.order[0])
		r.order = r.order[1:]
	}
	r.items[k] = m
	r.order = append(r.order, k)
}

func (r *recentMessages) get(chatID, msgID int64) (*bus.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.items[msgKey{chatID, msgID}]
	return m, ok
}

func (r *recentMessages) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
