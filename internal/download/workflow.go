// Package download implements the local-download workflow (spec §4.6,
// §5.6): for each assigned AtomicUnit, pull its media to disk under
// destDir, atomically, one session worker per pool session.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lbj9527/tgrelay/internal/errs"
	"github.com/lbj9527/tgrelay/internal/fname"
	"github.com/lbj9527/tgrelay/internal/model"
	"github.com/lbj9527/tgrelay/internal/obs/fsutil"
	"github.com/lbj9527/tgrelay/internal/obs/logger"
	"github.com/lbj9527/tgrelay/internal/ratelimit"
	"github.com/lbj9527/tgrelay/internal/transport"
)

// smallFileThreshold is the boundary below which media is downloaded
// fully into memory rather than streamed (spec §4.6).
const smallFileThreshold = 50 * 1024 * 1024

// maxAbsorbRetries bounds how many times downloadOne re-attempts the same
// call after absorbing a short flood-wait before giving up as transient.
const maxAbsorbRetries = 3

// maxRequeueAttempts bounds how many times a unit may be pushed back onto
// the retry queue after a session-suspending flood-wait before it is
// recorded as a failure instead (spec §4.6 does not want a unit retried
// forever behind a session that never recovers).
const maxRequeueAttempts = 2

// retryPollInterval is how often an idle worker re-checks the shared
// retry queue for a unit whose back-off has expired.
const retryPollInterval = 500 * time.Millisecond

// Filter decides whether a unit should be downloaded at all, e.g. a media
// kind or size exclusion configured on the CLI.
type Filter func(model.AtomicUnit) bool

// SessionClient resolves a session name to its transport.Client.
type SessionClient func(name model.SessionName) (transport.Client, error)

// UnitResult is one AtomicUnit's outcome, fed into internal/report.
type UnitResult struct {
	Unit     model.AtomicUnit
	Session  model.SessionName
	Success  bool
	BytesOut int64
	Err      error
}

// Workflow runs the local-download path.
type Workflow struct {
	clients       SessionClient
	limiter       *ratelimit.Controller
	namingPattern string
}

// New builds a Workflow. An empty namingPattern falls back to
// fname.DefaultNamingPattern.
func New(clients SessionClient, limiter *ratelimit.Controller, namingPattern string) *Workflow {
	if namingPattern == "" {
		namingPattern = fname.DefaultNamingPattern
	}
	return &Workflow{clients: clients, limiter: limiter, namingPattern: namingPattern}
}

// suspendError signals that a unit's download hit a flood-wait long
// enough to suspend the owning session (ratelimit.ActionSuspendSession);
// it is never wrapped into errs.KindTransientIO so Run can recognize it
// and requeue the unit instead of recording a terminal failure.
type suspendError struct {
	wait time.Duration
}

func (e *suspendError) Error() string {
	return "download: session suspended, retry after " + e.wait.String()
}
func (e *suspendError) Kind() errs.Kind { return errs.KindRateLimit }

// queueItem is one unit still owed a download, plus how many times it has
// already been bounced off a suspended session.
type queueItem struct {
	unit     model.AtomicUnit
	attempts int
}

// sharedRetryQueue holds units whose owning session suspended mid-run.
// Any worker — including one running a different session than the unit's
// original owner — may pick up a ready item once its back-off has
// elapsed, which is how a unit gets reassigned off a session that never
// recovers (spec §8 scenario S5).
type sharedRetryQueue struct {
	mu    sync.Mutex
	items []readyItem
}

type readyItem struct {
	item    queueItem
	readyAt time.Time
}

func (q *sharedRetryQueue) push(it queueItem, readyAt time.Time) {
	q.mu.Lock()
	q.items = append(q.items, readyItem{item: it, readyAt: readyAt})
	q.mu.Unlock()
}

func (q *sharedRetryQueue) popReady(now time.Time) (queueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if !it.readyAt.After(now) {
			q.items = append(q.items[:i:i], q.items[i+1:]...)
			return it.item, true
		}
	}
	return queueItem{}, false
}

// Run downloads every unit in assignment to destDir, one goroutine per
// session. Within a session, units are drained from that session's own
// queue first; once drained, the worker polls the shared retry queue for
// units whose back-off has expired — its own requeued units or another
// session's, whichever is ready first. filter may be nil to download
// everything.
func (w *Workflow) Run(ctx context.Context, assignment model.Assignment, destDir, channelName string, filter Filter) ([]UnitResult, error) {
	if err := fsutil.EnsureDir(destDir); err != nil {
		return nil, fmt.Errorf("download: ensure dest dir: %w", err)
	}

	var (
		mu      sync.Mutex
		results []UnitResult
	)
	retryQueue := &sharedRetryQueue{}

	var pending int64
	for _, name := range assignment.SessionNames() {
		pending += int64(len(assignment[name]))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range assignment.SessionNames() {
		name := name
		queue := make([]queueItem, 0, len(assignment[name]))
		for _, u := range assignment[name] {
			queue = append(queue, queueItem{unit: u})
		}

		g.Go(func() error {
			client, err := w.clients(name)
			if err != nil {
				logger.Warnf("download: session %s unavailable, reassigning its %d unit(s): %v", name, len(queue), err)
				now := time.Now()
				for _, it := range queue {
					retryQueue.push(it, now)
				}
				return nil
			}

			for {
				item, ok := popLocal(&queue)
				if !ok {
					item, ok = retryQueue.popReady(time.Now())
				}
				if !ok {
					if atomic.LoadInt64(&pending) <= 0 {
						return nil
					}
					select {
					case <-time.After(retryPollInterval):
						continue
					case <-gctx.Done():
						return gctx.Err()
					}
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if filter != nil && !filter(item.unit) {
					atomic.AddInt64(&pending, -1)
					continue
				}

				res := w.runUnit(gctx, client, name, item.unit, destDir, channelName)

				var suspend *suspendError
				if !res.Success && errors.As(res.Err, &suspend) && item.attempts < maxRequeueAttempts {
					logger.Warnf("run: session %s suspended for %s, requeueing unit (source id %d)", name, suspend.wait, item.unit.SourceID())
					retryQueue.push(queueItem{unit: item.unit, attempts: item.attempts + 1}, time.Now().Add(suspend.wait))
					continue
				}

				atomic.AddInt64(&pending, -1)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func popLocal(queue *[]queueItem) (queueItem, bool) {
	if len(*queue) == 0 {
		return queueItem{}, false
	}
	it := (*queue)[0]
	*queue = (*queue)[1:]
	return it, true
}

func (w *Workflow) runUnit(ctx context.Context, client transport.Client, session model.SessionName, unit model.AtomicUnit, destDir, channelName string) UnitResult {
	var total int64
	for _, msg := range unit.Messages() {
		if !msg.HasMedia() {
			continue
		}
		n, err := w.downloadOne(ctx, client, session, msg, destDir, channelName)
		if err != nil {
			return UnitResult{Unit: unit, Session: session, Success: false, BytesOut: total, Err: err}
		}
		total += n
	}
	return UnitResult{Unit: unit, Session: session, Success: true, BytesOut: total}
}

// downloadOne fetches one message's media. A flood-wait observed on the
// attempt is absorbed in place (retried after the wait, up to
// maxAbsorbRetries) when short, or returned as a *suspendError when long
// enough to warrant suspending the session (spec §4.6's absorb/suspend
// split, grounded in ratelimit.Controller.Observe's Action).
func (w *Workflow) downloadOne(ctx context.Context, client transport.Client, session model.SessionName, msg model.Message, destDir, channelName string) (int64, error) {
	original := msg.Media.FileName
	if original == "" {
		original = fmt.Sprintf("file_%d", msg.ID)
	}
	name := fname.BuildName(w.namingPattern, msg.AuthorDate.Format("20060102"), fmt.Sprintf("%d", msg.ID), channelName, original, 180)
	destPath := filepath.Join(destDir, name)

	for attempt := 0; ; attempt++ {
		if err := w.limiter.Admit(ctx, ratelimit.OpHistory, string(session)); err != nil {
			return 0, err
		}

		n, err := w.fetchAndWrite(ctx, client, msg, destPath)
		if err == nil {
			return n, nil
		}

		action, wait := w.limiter.Observe(ratelimit.OpHistory, err)
		switch action {
		case ratelimit.ActionSuspendSession:
			return 0, &suspendError{wait: wait}
		case ratelimit.ActionAbsorb:
			if attempt >= maxAbsorbRetries {
				return 0, classifyDownloadErr(err)
			}
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return 0, errs.Wrap(errs.KindCancellation, ctx.Err(), "download: cancelled while absorbing flood-wait")
			}
		default:
			return 0, classifyDownloadErr(err)
		}
	}
}

// fetchAndWrite performs one untouched attempt at downloading msg's media
// to destPath, small-file-vs-streaming per spec §4.6, without any
// rate-limit classification of its own. Video is always streamed
// regardless of declared size — the small-file path is for photos,
// documents and the like, never video.
func (w *Workflow) fetchAndWrite(ctx context.Context, client transport.Client, msg model.Message, destPath string) (int64, error) {
	if msg.Media.Size > 0 && msg.Media.Size < smallFileThreshold && msg.Media.Kind != model.MediaVideo {
		data, err := client.DownloadMediaSmall(ctx, *msg.Media)
		if err != nil {
			return 0, err
		}
		if err := fsutil.AtomicWriteFile(destPath, data); err != nil {
			return 0, errs.Wrap(errs.KindTransientIO, err, "download: atomic write failed")
		}
		return int64(len(data)), nil
	}

	stream, err := client.StreamMedia(ctx, *msg.Media)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	guard := newStallGuard(stream, streamProgressTimeout)
	defer guard.stop()
	n, err := streamToFile(destPath, guard)
	if err != nil {
		return n, errs.Wrap(errs.KindTransientIO, err, "download: stream write failed")
	}
	return n, nil
}

// stallGuard wraps a MediaStream, force-closing it if no Read makes
// progress within timeout — a stuck remote connection otherwise blocks the
// session's download goroutine forever (spec §6).
type stallGuard struct {
	stream transport.MediaStream
	timer  *time.Timer
}

func newStallGuard(stream transport.MediaStream, timeout time.Duration) *stallGuard {
	g := &stallGuard{stream: stream}
	g.timer = time.AfterFunc(timeout, func() { _ = stream.Close() })
	return g
}

func (g *stallGuard) Read(p []byte) (int, error) {
	n, err := g.stream.Read(p)
	if n > 0 {
		g.timer.Reset(streamProgressTimeout)
	}
	return n, err
}

func (g *stallGuard) stop() {
	g.timer.Stop()
}

func classifyDownloadErr(err error) error {
	logger.Debugf("download: media fetch failed: %v", err)
	return errs.Wrap(errs.KindTransientIO, err, "download: media fetch failed")
}

// streamToFile writes the full contents of stream to a temp file beside
// path, then renames into place — the streaming counterpart to
// fsutil.AtomicWriteFile for payloads too large to buffer in memory.
func streamToFile(path string, stream io.Reader) (int64, error) {
	return fsutil.WriteStreamAtomic(path, stream)
}

// timeout used for per-call progress detection on stalled streams (spec §6).
const streamProgressTimeout = 60 * time.Second
