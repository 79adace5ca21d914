package download_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lbj9527/tgrelay/internal/download"
	"github.com/lbj9527/tgrelay/internal/model"
	"github.com/lbj9527/tgrelay/internal/ratelimit"
	"github.com/lbj9527/tgrelay/internal/transport"
)

// fakeClient lets each test script DownloadMediaSmall's outcome per call
// without a real remote connection.
type fakeClient struct {
	mu          sync.Mutex
	calls       int
	smallCalls  int
	streamCalls int
	plan        func(call int) ([]byte, error)
	stream      func(ref model.MediaRef) (transport.MediaStream, error)
}

// fakeStream is a minimal transport.MediaStream backed by an in-memory
// byte slice, for tests that must confirm StreamMedia was used rather
// than DownloadMediaSmall.
type fakeStream struct {
	*bytes.Reader
}

func (s *fakeStream) Close() error { return nil }
func (s *fakeStream) Size() int64  { return s.Reader.Size() }

func (f *fakeClient) Connect(ctx context.Context) error    { return nil }
func (f *fakeClient) Disconnect(ctx context.Context) error { return nil }
func (f *fakeClient) SelfIdentity(ctx context.Context) (transport.Identity, error) {
	return transport.Identity{}, nil
}
func (f *fakeClient) FetchMessages(ctx context.Context, channel model.ChannelID, startID, endID model.MessageID) ([]model.Message, error) {
	return nil, nil
}
func (f *fakeClient) DownloadMediaSmall(ctx context.Context, ref model.MediaRef) ([]byte, error) {
	f.mu.Lock()
	f.smallCalls++
	call := f.calls
	f.calls++
	f.mu.Unlock()
	return f.plan(call)
}
func (f *fakeClient) StreamMedia(ctx context.Context, ref model.MediaRef) (transport.MediaStream, error) {
	f.mu.Lock()
	f.streamCalls++
	f.mu.Unlock()
	if f.stream != nil {
		return f.stream(ref)
	}
	return nil, nil
}
func (f *fakeClient) SendMedia(ctx context.Context, destination model.ChannelID, msg model.Message) (transport.UploadedMedia, error) {
	return transport.UploadedMedia{}, nil
}
func (f *fakeClient) SendMediaGroup(ctx context.Context, destination model.ChannelID, handles []transport.UploadedMedia, caption string) ([]model.MessageID, error) {
	return nil, nil
}
func (f *fakeClient) DeleteMessages(ctx context.Context, chat model.ChannelID, ids []model.MessageID) error {
	return nil
}

var _ transport.Client = (*fakeClient)(nil)

func singletonUnit(id model.MessageID) model.AtomicUnit {
	return model.Singleton{Message: model.Message{
		ID:    id,
		Media: &model.MediaRef{FileName: "f.bin", Size: 10},
	}}
}

func videoUnit(id model.MessageID) model.AtomicUnit {
	return model.Singleton{Message: model.Message{
		ID:    id,
		Media: &model.MediaRef{FileName: "clip.mp4", Size: 10, Kind: model.MediaVideo},
	}}
}

func TestWorkflow_Run_AbsorbsShortFloodWaitThenSucceeds(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	client := &fakeClient{plan: func(call int) ([]byte, error) {
		if call == 0 {
			return nil, &transport.RateLimited{Wait: 10 * time.Millisecond}
		}
		return []byte("data"), nil
	}}

	limiter := ratelimit.New(ratelimit.DefaultConfig())
	wf := download.New(func(model.SessionName) (transport.Client, error) { return client, nil }, limiter, "")

	assignment := model.Assignment{"a": {singletonUnit(1)}}
	results, err := wf.Run(context.Background(), assignment, dir, "ch", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("Run() = %#v, want one successful result", results)
	}
}

func TestWorkflow_Run_BuildsFilenameFromPattern(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	client := &fakeClient{plan: func(call int) ([]byte, error) { return []byte("data"), nil }}

	limiter := ratelimit.New(ratelimit.DefaultConfig())
	wf := download.New(func(model.SessionName) (transport.Client, error) { return client, nil }, limiter, "{date}_{id}_{channel}_{filename}")

	unit := model.Singleton{Message: model.Message{
		ID:         42,
		AuthorDate: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		Media:      &model.MediaRef{FileName: "photo.jpg", Size: 10},
	}}
	assignment := model.Assignment{"a": {unit}}
	if _, err := wf.Run(context.Background(), assignment, dir, "100200300", nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := "20260305_42_100200300_photo.jpg"
	if _, err := os.Stat(filepath.Join(dir, want)); err != nil {
		entries, _ := os.ReadDir(dir)
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected file %q on disk, got %v (stat err: %v)", want, names, err)
	}
}

func TestWorkflow_Run_SmallVideoStillStreamsInsteadOfDownloadingSmall(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	client := &fakeClient{
		plan: func(call int) ([]byte, error) { return []byte("data"), nil },
		stream: func(ref model.MediaRef) (transport.MediaStream, error) {
			return &fakeStream{Reader: bytes.NewReader([]byte("video-bytes"))}, nil
		},
	}

	limiter := ratelimit.New(ratelimit.DefaultConfig())
	wf := download.New(func(model.SessionName) (transport.Client, error) { return client, nil }, limiter, "")

	assignment := model.Assignment{"a": {videoUnit(1)}}
	results, err := wf.Run(context.Background(), assignment, dir, "ch", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("Run() = %#v, want one successful result", results)
	}
	if client.smallCalls != 0 {
		t.Fatalf("DownloadMediaSmall called %d times, want 0: small videos must stream", client.smallCalls)
	}
	if client.streamCalls != 1 {
		t.Fatalf("StreamMedia called %d times, want 1", client.streamCalls)
	}
}

func TestWorkflow_Run_ReassignsUnreachableSessionToAnother(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := &fakeClient{plan: func(call int) ([]byte, error) { return []byte("ok"), nil }}

	clients := func(name model.SessionName) (transport.Client, error) {
		if name == "dead" {
			return nil, os.ErrClosed
		}
		return good, nil
	}

	limiter := ratelimit.New(ratelimit.DefaultConfig())
	wf := download.New(clients, limiter, "")

	assignment := model.Assignment{
		"dead":  {singletonUnit(1), singletonUnit(2)},
		"alive": {singletonUnit(3)},
	}
	results, err := wf.Run(context.Background(), assignment, dir, "ch", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Run() returned %d results, want 3 (dead session's units reassigned to alive)", len(results))
	}
	for _, r := range results {
		if !r.Success {
			t.Fatalf("result for unit %d not successful: %v", r.Unit.SourceID(), r.Err)
		}
	}
}

func TestWorkflow_Run_LongFloodWaitRequeuesThenSucceeds(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	client := &fakeClient{plan: func(call int) ([]byte, error) {
		if call == 0 {
			return nil, &transport.RateLimited{Wait: 50 * time.Millisecond}
		}
		return []byte("ok"), nil
	}}

	cfg := ratelimit.DefaultConfig()
	cfg.AbsorbThreshold = 5 * time.Millisecond // force the first flood-wait to suspend, not absorb
	limiter := ratelimit.New(cfg)
	wf := download.New(func(model.SessionName) (transport.Client, error) { return client, nil }, limiter, "")

	assignment := model.Assignment{"a": {singletonUnit(1)}}
	results, err := wf.Run(context.Background(), assignment, dir, "ch", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("Run() = %#v, want the requeued unit to eventually succeed", results)
	}
}
