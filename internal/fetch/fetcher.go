// Package fetch retrieves a contiguous message range from the remote
// service, splitting it across sessions for throughput (spec §4.3/§5.3).
package fetch

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/lbj9527/tgrelay/internal/model"
	"github.com/lbj9527/tgrelay/internal/obs/logger"
	"github.com/lbj9527/tgrelay/internal/ratelimit"
	"github.com/lbj9527/tgrelay/internal/transport"
)

// batchSize is the maximum id span requested from the remote service in
// one call (spec §5.3 "≤100-id batches").
const batchSize = 100

// SessionClient resolves a session name to the transport.Client it should
// use, letting Fetcher stay independent of internal/session's Pool type.
type SessionClient func(name model.SessionName) (transport.Client, error)

// Fetcher partitions [startID,endID] across sessions and merges the
// per-slice results back into id order.
type Fetcher struct {
	clients SessionClient
	limiter *ratelimit.Controller
}

func New(clients SessionClient, limiter *ratelimit.Controller) *Fetcher {
	return &Fetcher{clients: clients, limiter: limiter}
}

// slice is one contiguous sub-range assigned to one session.
type slice struct {
	start, end model.MessageID
	session    model.SessionName
}

// Fetch retrieves every available message in [startID,endID] from channel,
// using sessions for parallelism. A slice whose session fails outright is
// retried once on the first session in sessions not yet tried for it before being dropped with a
// logged warning (spec §5.3 "recorded as partial").
func (f *Fetcher) Fetch(ctx context.Context, channel model.ChannelID, startID, endID model.MessageID, sessions []model.SessionName) ([]model.Message, error) {
	if len(sessions) == 0 {
		return nil, fmt.Errorf("fetch: no sessions available")
	}
	if endID < startID {
		return nil, nil
	}

	slices := partition(startID, endID, sessions)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(sessions))

	results := make([][]model.Message, len(slices))
	for i, sl := range slices {
		i, sl := i, sl
		g.Go(func() error {
			msgs, err := f.fetchSlice(gctx, channel, sl, sessions)
			if err != nil {
				logger.Warnf("fetch: slice [%d,%d] on %s failed, recording partial: %v", sl.start, sl.end, sl.session, err)
				return nil
			}
			results[i] = msgs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeSorted(results), nil
}

// partition splits [start,end] into len(sessions) contiguous, roughly
// equal slices, each owned by one session.
func partition(start, end model.MessageID, sessions []model.SessionName) []slice {
	total := int64(end-start) + 1
	n := int64(len(sessions))
	if n > total {
		n = total
	}
	per := total / n
	rem := total % n

	var slices []slice
	cur := start
	for i := int64(0); i < n; i++ {
		size := per
		if i < rem {
			size++
		}
		if size <= 0 {
			continue
		}
		sliceEnd := cur + model.MessageID(size) - 1
		slices = append(slices, slice{start: cur, end: sliceEnd, session: sessions[i]})
		cur = sliceEnd + 1
	}
	return slices
}

// fetchSlice retrieves sl's range in ≤batchSize chunks on sl.session,
// falling back to the next session in the pool on outright failure.
func (f *Fetcher) fetchSlice(ctx context.Context, channel model.ChannelID, sl slice, sessions []model.SessionName) ([]model.Message, error) {
	tried := map[model.SessionName]bool{}
	candidate := sl.session

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		tried[candidate] = true
		client, err := f.clients(candidate)
		if err != nil {
			lastErr = err
			candidate = nextUntried(sessions, tried)
			if candidate == "" {
				break
			}
			continue
		}
		lastErr = nil

		var out []model.Message
		for cur := sl.start; cur <= sl.end; cur += batchSize {
			chunkEnd := cur + batchSize - 1
			if chunkEnd > sl.end {
				chunkEnd = sl.end
			}
			if err := f.limiter.Admit(ctx, ratelimit.OpHistory, string(candidate)); err != nil {
				return nil, err
			}
			msgs, err := client.FetchMessages(ctx, channel, cur, chunkEnd)
			if err != nil {
				lastErr = err
				break
			}
			out = append(out, msgs...)
		}
		if lastErr == nil {
			return out, nil
		}
		candidate = nextUntried(sessions, tried)
		if candidate == "" {
			break
		}
	}
	return nil, lastErr
}

func nextUntried(sessions []model.SessionName, tried map[model.SessionName]bool) model.SessionName {
	for _, s := range sessions {
		if !tried[s] {
			return s
		}
	}
	return ""
}

// mergeSorted concatenates the per-slice results and sorts by id. Slices
// are contiguous and non-overlapping, so this is equivalent to a k-way
// merge; a plain sort is simpler to get right for the id volumes this
// engine handles.
func mergeSorted(slices [][]model.Message) []model.Message {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	out := make([]model.Message, 0, total)
	for _, s := range slices {
		out = append(out, s...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
