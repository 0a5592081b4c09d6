package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/tgrelay/internal/stats"
)

func TestQueue_DropsWhenFull(t *testing.T) {
	counters := &stats.Counters{}
	q := NewQueue(3, counters)

	for i := 1; i <= 3; i++ {
		assert.True(t, q.Offer(&Message{ID: int64(i)}))
	}
	assert.False(t, q.Offer(&Message{ID: 4}), "fourth offer must be dropped")

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, int64(4), counters.Received())
	assert.Equal(t, int64(1), counters.Skipped())
}

func TestQueue_RejectsNil(t *testing.T) {
	counters := &stats.Counters{}
	q := NewQueue(2, counters)

	assert.False(t, q.Offer(nil))
	assert.Zero(t, q.Len())
	assert.Zero(t, counters.Received())
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(10, nil)
	for i := 1; i <= 3; i++ {
		q.Offer(&Message{ID: int64(i)})
	}

	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		msg, ok := q.Next(ctx)
		require.True(t, ok)
		assert.Equal(t, want, msg.ID)
	}
	assert.Zero(t, q.Len())
}

func TestQueue_NextStopsOnCancel(t *testing.T) {
	q := NewQueue(1, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	msg, ok := q.Next(ctx)
	assert.False(t, ok)
	assert.Nil(t, msg)
}

func TestQueue_DefaultSize(t *testing.T) {
	q := NewQueue(0, nil)
	assert.Equal(t, DefaultQueueSize, q.Cap())
}

func TestSenderRef_DisplayName(t *testing.T) {
	tests := []struct {
		name   string
		sender *SenderRef
		want   string
	}{
		{"nil", nil, UnknownUser},
		{"first only", &SenderRef{FirstName: "Ana"}, "Ana"},
		{"first and last", &SenderRef{FirstName: "Ana", LastName: "Lee"}, "Ana Lee"},
		{"blank names", &SenderRef{FirstName: "  "}, UnknownUser},
		{"chat title", &SenderRef{IsChat: true, Title: "News"}, "News"},
		{"user without name falls back to title", &SenderRef{Title: "Group"}, "Group"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sender.DisplayName())
		})
	}
}
