package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/tgrelay/internal/bus"
	"github.com/nextlevelbuilder/tgrelay/internal/channels"
	"github.com/nextlevelbuilder/tgrelay/internal/delivery"
	"github.com/nextlevelbuilder/tgrelay/internal/media"
	"github.com/nextlevelbuilder/tgrelay/internal/routing"
	"github.com/nextlevelbuilder/tgrelay/internal/stats"
	"github.com/nextlevelbuilder/tgrelay/internal/store"
	"github.com/nextlevelbuilder/tgrelay/internal/topic"
)

type memStore struct {
	routes map[[2]int64]string
}

func (s *memStore) FindRoute(_ context.Context, g, t int64) (string, error) {
	if e, ok := s.routes[[2]int64{g, t}]; ok {
		return e, nil
	}
	return "", store.ErrNotFound
}

func (s *memStore) FindWildcard(ctx context.Context, g int64) (string, error) {
	return s.FindRoute(ctx, g, store.WildcardTopic)
}

func (s *memStore) ListGroups(context.Context) ([]int64, error)              { return nil, nil }
func (s *memStore) ListRoutes(context.Context, int64) ([]store.Route, error) { return nil, nil }
func (s *memStore) Close() error                                             { return nil }

type fakeSource struct {
	sender   *bus.SenderRef
	err      error
	mediaErr error
}

func (f *fakeSource) Sender(context.Context, *bus.Message) (*bus.SenderRef, error) {
	return f.sender, f.err
}

func (f *fakeSource) DownloadMedia(_ context.Context, _ *bus.MediaRef, w io.Writer) error {
	if f.mediaErr != nil {
		return f.mediaErr
	}
	_, err := w.Write([]byte("image-bytes"))
	return err
}

func (f *fakeSource) DownloadAvatar(context.Context, *bus.SenderRef, io.Writer) error {
	return channels.ErrNoPhoto
}

type recordingServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies []map[string]any
	got    chan struct{}
}

func newRecordingServer(t *testing.T, status int) *recordingServer {
	rs := &recordingServer{got: make(chan struct{}, 16)}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		rs.mu.Lock()
		rs.bodies = append(rs.bodies, body)
		rs.mu.Unlock()
		w.WriteHeader(status)
		rs.got <- struct{}{}
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) Bodies() []map[string]any {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]map[string]any(nil), rs.bodies...)
}

type fixture struct {
	counters *stats.Counters
	pipeline *Pipeline
	src      *fakeSource
	routes   *memStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	src := &fakeSource{sender: &bus.SenderRef{ID: 1, FirstName: "Ana", LastName: "Lee"}}
	fetcher, err := media.NewFetcher(src, media.Config{Dir: t.TempDir(), BaseURL: "https://relay.example.com"})
	require.NoError(t, err)
	t.Cleanup(fetcher.Wait)

	routes := &memStore{routes: map[[2]int64]string{}}
	counters := &stats.Counters{}
	client := delivery.NewClient(delivery.Options{BackoffUnit: time.Millisecond, EndpointRate: rate.Inf})

	p := NewPipeline(PipelineConfig{
		Resolver:    topic.NewResolver(nil, 0, 0),
		Router:      routing.NewCache(routes, time.Minute),
		Media:       fetcher,
		Senders:     src,
		Delivery:    client,
		Counters:    counters,
		MaxAttempts: 2,
	})
	p.sleep = func(context.Context, time.Duration) {}
	return &fixture{counters: counters, pipeline: p, src: src, routes: routes}
}

func TestPool_EndToEndTextMessage(t *testing.T) {
	f := newFixture(t)
	srv := newRecordingServer(t, http.StatusNoContent)
	f.routes.routes[[2]int64{-100123456789, 0}] = srv.URL

	q := bus.NewQueue(10, f.counters)
	pool := NewPool(q, f.pipeline, 2, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.True(t, q.Offer(&bus.Message{ChatID: 123456789, ID: 5, Date: time.Now(), Text: "hello"}))

	select {
	case <-srv.got:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not called")
	}
	require.Eventually(t, func() bool { return f.counters.Processed() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	bodies := srv.Bodies()
	require.Len(t, bodies, 1)
	assert.Equal(t, "hello", bodies[0]["content"])
	assert.Equal(t, "Ana Lee", bodies[0]["username"])
	assert.NotContains(t, bodies[0], "embeds")

	s := f.counters.Snapshot()
	assert.Equal(t, int64(1), s.Received)
	assert.Zero(t, s.Failed)
	assert.Zero(t, s.Skipped)
}

func TestProcess_MediaMovesTextIntoEmbed(t *testing.T) {
	f := newFixture(t)
	srv := newRecordingServer(t, http.StatusOK)
	f.routes.routes[[2]int64{-100555, store.WildcardTopic}] = srv.URL

	f.pipeline.Process(context.Background(), &bus.Message{
		ChatID: -100555, ID: 77, Text: "caption",
		Media: &bus.MediaRef{Kind: bus.MediaPhoto, FileID: "f1"},
		Reply: &bus.ReplyInfo{ToMsgID: 12, TopicHeader: true},
	})

	bodies := srv.Bodies()
	require.Len(t, bodies, 1)
	assert.NotContains(t, bodies[0], "content")
	embeds := bodies[0]["embeds"].([]any)
	require.Len(t, embeds, 1)
	embed := embeds[0].(map[string]any)
	assert.Equal(t, "caption", embed["description"])
	assert.Contains(t, embed["image"].(map[string]any)["url"], "https://relay.example.com/media/")
	assert.Equal(t, "https://relay.example.com/ava/Ana_Lee.jpg", bodies[0]["avatar_url"])
	assert.Equal(t, int64(1), f.counters.Processed())
}

func TestProcess_NoRouteIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.pipeline.Process(context.Background(), &bus.Message{ChatID: -100999, ID: 1, Text: "hi"})

	assert.Equal(t, int64(1), f.counters.Skipped())
	assert.Zero(t, f.counters.Processed())
}

func TestProcess_DeliveryFailureCounted(t *testing.T) {
	f := newFixture(t)
	srv := newRecordingServer(t, http.StatusBadRequest)
	f.routes.routes[[2]int64{-100777, 0}] = srv.URL

	f.pipeline.Process(context.Background(), &bus.Message{ChatID: -100777, ID: 1, Text: "hi"})

	assert.Len(t, srv.Bodies(), 2, "retried up to max attempts")
	assert.Equal(t, int64(1), f.counters.Failed())
}

func TestProcess_SenderErrorFallsBack(t *testing.T) {
	f := newFixture(t)
	f.src.err = errors.New("lookup failed")
	srv := newRecordingServer(t, http.StatusNoContent)
	f.routes.routes[[2]int64{-100777, 0}] = srv.URL

	f.pipeline.Process(context.Background(), &bus.Message{
		ChatID: -100777, ID: 1, Text: "hi", Sender: &bus.SenderRef{ID: 3, FirstName: "Partial"},
	})

	bodies := srv.Bodies()
	require.Len(t, bodies, 1)
	assert.Equal(t, "Partial", bodies[0]["username"])
}

func TestProcess_FloodWaitPausesAndFails(t *testing.T) {
	f := newFixture(t)
	f.src.err = &channels.FloodWaitError{RetryAfter: 7 * time.Second}
	var slept time.Duration
	f.pipeline.sleep = func(_ context.Context, d time.Duration) { slept = d }
	srv := newRecordingServer(t, http.StatusNoContent)
	f.routes.routes[[2]int64{-100777, 0}] = srv.URL

	f.pipeline.Process(context.Background(), &bus.Message{ChatID: -100777, ID: 1, Text: "hi"})

	assert.Equal(t, 7*time.Second, slept)
	assert.Equal(t, int64(1), f.counters.Failed())
	assert.Empty(t, srv.Bodies())
}

func TestProcess_MediaFloodWaitPausesAndFails(t *testing.T) {
	f := newFixture(t)
	f.src.mediaErr = &channels.FloodWaitError{RetryAfter: 9 * time.Second}
	var slept time.Duration
	f.pipeline.sleep = func(_ context.Context, d time.Duration) { slept = d }
	srv := newRecordingServer(t, http.StatusNoContent)
	f.routes.routes[[2]int64{-100777, 0}] = srv.URL

	f.pipeline.Process(context.Background(), &bus.Message{
		ChatID: -100777, ID: 1, Text: "look", Media: &bus.MediaRef{Kind: bus.MediaPhoto, FileID: "f1"},
	})

	assert.Equal(t, 9*time.Second, slept)
	assert.Equal(t, int64(1), f.counters.Failed())
	assert.Zero(t, f.counters.Processed())
	assert.Empty(t, srv.Bodies())
}

func TestProcess_MediaErrorRelaysWithoutAttachment(t *testing.T) {
	f := newFixture(t)
	f.src.mediaErr = errors.New("file expired")
	srv := newRecordingServer(t, http.StatusNoContent)
	f.routes.routes[[2]int64{-100777, 0}] = srv.URL

	f.pipeline.Process(context.Background(), &bus.Message{
		ChatID: -100777, ID: 1, Text: "look", Media: &bus.MediaRef{Kind: bus.MediaPhoto, FileID: "f1"},
	})

	bodies := srv.Bodies()
	require.Len(t, bodies, 1)
	assert.Equal(t, "look", bodies[0]["content"])
	assert.NotContains(t, bodies[0], "embeds")
	assert.Equal(t, int64(1), f.counters.Processed())
}

type panickyMedia struct{}

func (panickyMedia) FetchMessageMedia(context.Context, *bus.Message) (string, error) {
	panic("media boom")
}

func (panickyMedia) FetchAvatar(context.Context, *bus.SenderRef) (string, bool) {
	panic("avatar boom")
}

func TestProcess_FetchStagePanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	f.pipeline.cfg.Media = panickyMedia{}
	srv := newRecordingServer(t, http.StatusNoContent)
	f.routes.routes[[2]int64{-100777, 0}] = srv.URL

	msg := &bus.Message{ChatID: -100777, ID: 1, Text: "hi", Media: &bus.MediaRef{Kind: bus.MediaPhoto}}
	assert.NotPanics(t, func() { f.pipeline.Process(context.Background(), msg) })
	assert.NotPanics(t, func() { f.pipeline.Process(context.Background(), msg) })

	assert.Equal(t, int64(2), f.counters.Failed())
	assert.Empty(t, srv.Bodies())
}

func TestProcess_NilMessageIgnored(t *testing.T) {
	f := newFixture(t)
	assert.NotPanics(t, func() { f.pipeline.Process(context.Background(), nil) })
	assert.Zero(t, f.counters.Failed())
	assert.Zero(t, f.counters.Skipped())
}

type panickyResolver struct{}

func (panickyResolver) Resolve(context.Context, *bus.Message) int64 { panic("boom") }

func TestProcess_PanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	f.pipeline.cfg.Resolver = panickyResolver{}

	assert.NotPanics(t, func() {
		f.pipeline.Process(context.Background(), &bus.Message{ChatID: 1, ID: 1, Text: "hi"})
	})
	assert.Equal(t, int64(1), f.counters.Failed())
}

func TestProcess_EmptyMessageSkipped(t *testing.T) {
	f := newFixture(t)
	srv := newRecordingServer(t, http.StatusNoContent)
	f.routes.routes[[2]int64{-100777, 0}] = srv.URL

	f.pipeline.Process(context.Background(), &bus.Message{ChatID: -100777, ID: 1})
	assert.Equal(t, int64(1), f.counters.Skipped())
	assert.Empty(t, srv.Bodies())
}
