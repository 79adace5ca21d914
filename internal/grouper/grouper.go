// Package grouper folds a flat, id-ordered run of messages into
// AtomicUnits, merging consecutive same-group-id runs into a Group (spec
// §3, §4.4, §5.4).
package grouper

import (
	"context"
	"fmt"
	"time"

	"github.com/lbj9527/tgrelay/internal/model"
)

// Group folds messages into AtomicUnits in one forward pass, flushing the
// current run when the group id changes, is empty, or the run reaches cap
// (default model.MaxGroupSize). Order-preserving; no sorting performed.
func Group(messages []model.Message, cap int) []model.AtomicUnit {
	if cap <= 0 {
		cap = model.MaxGroupSize
	}

	var units []model.AtomicUnit
	var run []model.Message
	var runGroupID string

	flush := func() {
		if len(run) == 0 {
			return
		}
		if runGroupID == "" {
			units = append(units, model.Singleton{Message: run[0]})
		} else {
			units = append(units, model.Group{ID: runGroupID, Items: append([]model.Message(nil), run...)})
		}
		run = run[:0]
	}

	for _, m := range messages {
		switch {
		case m.GroupID == "":
			flush()
			units = append(units, model.Singleton{Message: m})
		case m.GroupID != runGroupID || len(run) >= cap:
			flush()
			run = append(run, m)
			runGroupID = m.GroupID
		default:
			run = append(run, m)
		}
	}
	flush()

	return units
}

// Rebatch implements the legacy non-preservation path selected by
// --preserve-structure=false, grounded in original_source's
// media_group_manager.py auto_send_threshold flush: consecutive
// Singletons are merged into synthetic Groups of up to cap messages so
// they ship as one album instead of one send each. Real Groups (an
// actual source media-group) are passed through untouched — this path
// never splits or merges an existing Group, only loose singletons.
func Rebatch(units []model.AtomicUnit, cap int) []model.AtomicUnit {
	if cap <= 0 {
		cap = model.MaxGroupSize
	}

	var out []model.AtomicUnit
	var run []model.Message

	flush := func() {
		switch len(run) {
		case 0:
			return
		case 1:
			out = append(out, model.Singleton{Message: run[0]})
		default:
			out = append(out, model.Group{ID: fmt.Sprintf("batch_%d", run[0].ID), Items: append([]model.Message(nil), run...)})
		}
		run = run[:0]
	}

	for _, u := range units {
		if u.GroupID() != "" {
			flush()
			out = append(out, u)
			continue
		}
		run = append(run, u.Messages()[0])
		if len(run) >= cap {
			flush()
		}
	}
	flush()

	return out
}

// GroupStream is a streaming variant of Group for a channel-fed source
// (spec §5.4): it flushes the current run early if flushAfter elapses
// without a new message extending it, since a streamed source cannot
// guarantee the next message belonging to the same group will ever arrive.
// Nothing in the engine calls it: the Fetcher has no streaming mode and
// the Driver groups a complete fetched range with Group.
func GroupStream(ctx context.Context, in <-chan model.Message, flushAfter time.Duration, out chan<- model.AtomicUnit) {
	defer close(out)

	var run []model.Message
	var runGroupID string
	timer := time.NewTimer(flushAfter)
	defer timer.Stop()

	flush := func() {
		if len(run) == 0 {
			return
		}
		if runGroupID == "" {
			out <- model.Singleton{Message: run[0]}
		} else {
			out <- model.Group{ID: runGroupID, Items: append([]model.Message(nil), run...)}
		}
		run = run[:0]
		runGroupID = ""
	}

	resetTimer := func() {
		timer.Stop()
		timer.Reset(flushAfter)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-timer.C:
			flush()
			resetTimer()
		case m, ok := <-in:
			if !ok {
				flush()
				return
			}
			switch {
			case m.GroupID == "":
				flush()
				out <- model.Singleton{Message: m}
			case m.GroupID != runGroupID || len(run) >= model.MaxGroupSize:
				flush()
				run = append(run, m)
				runGroupID = m.GroupID
			default:
				run = append(run, m)
			}
			resetTimer()
		}
	}
}
