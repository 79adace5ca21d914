// Package stage2 implements the forward pipeline's regroup-and-distribute
// stage (spec §4.7, §5.7): partition each acquired ScratchUnit into
// batching-compatible SendBatches and fan them out to every destination
// concurrently. Grounded in original_source's media_group_manager.py
// (batching-compatibility partitioning) and target_distributor.py (its
// asyncio.gather-over-channels fan-out becomes an errgroup fan-out here).
package stage2

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lbj9527/tgrelay/internal/model"
	"github.com/lbj9527/tgrelay/internal/ratelimit"
	"github.com/lbj9527/tgrelay/internal/session"
	"github.com/lbj9527/tgrelay/internal/transport"
)

// DefaultMaxRetries is stage2's per-destination retry budget for one
// SendBatch, spent on any failed send: a flood-wait is waited out before
// the retry, any other error is retried at once (spec §4.7).
const DefaultMaxRetries = 3

// Partition splits unit.Handles into ≤10-item SendBatches of compatible
// media kind (spec §4.7, §3): photo/video mix freely, document and audio
// only batch with their own kind, everything else travels singleton.
func Partition(unit model.ScratchUnit, caption string) []model.SendBatch {
	if len(unit.Handles) == 0 {
		return nil
	}

	var batches []model.SendBatch
	var run []model.ScratchHandle
	var runClass model.BatchClass

	flush := func() {
		if len(run) == 0 {
			return
		}
		batches = append(batches, model.SendBatch{
			Class:   runClass,
			Handles: append([]model.ScratchHandle(nil), run...),
			Caption: caption,
		})
		run = run[:0]
	}

	for _, h := range unit.Handles {
		class := h.Kind.ClassOf()
		switch {
		case class == model.BatchSingleton:
			flush()
			batches = append(batches, model.SendBatch{Class: class, Handles: []model.ScratchHandle{h}, Caption: caption})
		case len(run) == 0:
			run = append(run, h)
			runClass = class
		case class != runClass || len(run) >= model.MaxGroupSize:
			flush()
			run = append(run, h)
			runClass = class
		default:
			run = append(run, h)
		}
	}
	flush()

	return batches
}

// Send partitions unit into SendBatches carrying the already-rendered
// caption and fans each batch out to every destination concurrently via an
// errgroup. A flood-wait is waited out by the goroutine sending to that
// destination, which then retries the batch on the same owning session
// (never reassigned — the underlying media lives in the owner's self-chat)
// up to DefaultMaxRetries; the session itself is not marked suspended, so
// sends to other destinations continue meanwhile.
func Send(ctx context.Context, limiter *ratelimit.Controller, owner *session.Session, destinations []model.ChannelID, unit model.ScratchUnit, renderedCaption string) []model.DistributionResult {
	batches := Partition(unit, renderedCaption)

	var mu sync.Mutex
	var results []model.DistributionResult

	for _, batch := range batches {
		g, gctx := errgroup.WithContext(ctx)
		for _, dest := range destinations {
			dest, batch := dest, batch
			g.Go(func() error {
				res := sendBatchWithRetry(gctx, limiter, owner, dest, batch)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}
	return results
}

// sendBatchWithRetry sends batch to dest, retrying on the owning session
// after absorbing or waiting out a flood-wait, up to DefaultMaxRetries.
func sendBatchWithRetry(ctx context.Context, limiter *ratelimit.Controller, owner *session.Session, dest model.ChannelID, batch model.SendBatch) model.DistributionResult {
	for attempt := 0; attempt <= DefaultMaxRetries; attempt++ {
		if err := owner.Admit(ctx, limiter, ratelimit.OpSend); err != nil {
			return model.DistributionResult{Destination: dest, Success: false, ErrorKind: "cancellation", RetryCount: attempt}
		}

		ids, err := sendOne(ctx, owner, dest, batch)
		if err == nil {
			return model.DistributionResult{Destination: dest, Success: true, RemoteIDs: ids, RetryCount: attempt}
		}

		action, wait := limiter.Observe(ratelimit.OpSend, err)
		if action == ratelimit.ActionNone {
			continue
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return model.DistributionResult{Destination: dest, Success: false, ErrorKind: "cancellation", RetryCount: attempt}
		}
	}
	return model.DistributionResult{Destination: dest, Success: false, ErrorKind: "transient_io", RetryCount: DefaultMaxRetries}
}

// sendOne forwards batch's already-uploaded handles to dest. A singleton
// batch takes the single-send primitive (spec §4.9 "--preserve-structure":
// singletons use single-send, groups use batch-send); everything else
// goes through SendMediaGroup in one call.
func sendOne(ctx context.Context, owner *session.Session, dest model.ChannelID, batch model.SendBatch) ([]model.MessageID, error) {
	if batch.Class == model.BatchSingleton {
		h := batch.Handles[0]
		msg := model.Message{Caption: batch.Caption, Media: &model.MediaRef{Kind: h.Kind, Identifier: h.Identifier}}
		uploaded, err := owner.Client.SendMedia(ctx, dest, msg)
		if err != nil {
			return nil, err
		}
		return []model.MessageID{uploaded.RemoteID}, nil
	}

	uploaded := make([]transport.UploadedMedia, 0, len(batch.Handles))
	for _, h := range batch.Handles {
		uploaded = append(uploaded, transport.UploadedMedia{RemoteID: h.RemoteID, Identifier: h.Identifier})
	}
	return owner.Client.SendMediaGroup(ctx, dest, uploaded, batch.Caption)
}
