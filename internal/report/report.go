// Package report aggregates per-unit results into the Driver's final
// RunReport (spec §5.10), consumed solely by the Driver after every
// worker has terminated — no shared-resource writes during the run.
package report

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/lbj9527/tgrelay/internal/download"
	"github.com/lbj9527/tgrelay/internal/forward"
	"github.com/lbj9527/tgrelay/internal/model"
)

// Input bundles everything Aggregate needs; fields the run's mode didn't
// exercise are left nil/zero.
type Input struct {
	RunID              string
	Source             model.ChannelID
	Destinations       []model.ChannelID
	MessagesFetched    int
	GroupsFormed       int
	Assignment         model.Assignment
	DownloadResults    []download.UnitResult
	ForwardResults     []forward.UnitOutcome
	FloodWaitsAbsorbed int
	SessionsSuspended  int
	UnreclaimedScratch []model.ScratchHandle
}

// Aggregate computes total bytes, sent and failed batch counts, and the
// error list from the run's raw per-unit results. It computes no success
// rate.
func Aggregate(in Input) model.RunReport {
	r := model.RunReport{
		RunID:           in.RunID,
		Source:          in.Source,
		Destinations:    in.Destinations,
		MessagesFetched: in.MessagesFetched,
		GroupsFormed:    in.GroupsFormed,
		UnitsFormed:     in.Assignment.UnitCount(),
		SessionsUsed:    in.Assignment.SessionNames(),
		Balance:         in.Assignment.Balance(),

		FloodWaitsAbsorbed: in.FloodWaitsAbsorbed,
		SessionsSuspended:  in.SessionsSuspended,
		UnreclaimedScratch: in.UnreclaimedScratch,
	}

	for _, dr := range in.DownloadResults {
		r.BytesMoved += dr.BytesOut
		if !dr.Success {
			r.Errors = append(r.Errors, model.ReportError{
				Stage:   "download",
				UnitRef: fmt.Sprintf("%d", dr.Unit.SourceID()),
				Kind:    "transient_io",
				Message: errString(dr.Err),
			})
		}
	}

	for _, fr := range in.ForwardResults {
		for _, dist := range fr.Distributed {
			r.BatchesSent++
			if !dist.Success {
				r.BatchesFailed++
			}
		}
		if fr.Err != nil {
			r.Errors = append(r.Errors, model.ReportError{
				Stage:   "forward",
				UnitRef: fmt.Sprintf("%d", fr.Unit.SourceID()),
				Kind:    "forward_failed",
				Message: errString(fr.Err),
			})
		}
	}

	return r
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Humanize renders r as an operator-facing multi-line summary, using
// go-humanize for byte counts and time.Duration's own String for the
// duration.
func Humanize(r model.RunReport) string {
	s := fmt.Sprintf(
		"run %s: %d messages fetched, %d units formed (balance %.2f)\n"+
			"sessions: %v\n"+
			"bytes moved: %s   batches: %d sent / %d failed\n"+
			"flood-waits absorbed: %d   sessions suspended: %d\n"+
			"duration: %s   errors: %d",
		r.RunID, r.MessagesFetched, r.UnitsFormed, r.Balance,
		r.SessionsUsed,
		humanize.Bytes(uint64(r.BytesMoved)), r.BatchesSent, r.BatchesFailed,
		r.FloodWaitsAbsorbed, r.SessionsSuspended,
		humanizeDuration(r), len(r.Errors),
	)
	if len(r.UnreclaimedScratch) > 0 {
		s += fmt.Sprintf("\nunreclaimed scratch handles: %d", len(r.UnreclaimedScratch))
		for _, h := range r.UnreclaimedScratch {
			s += fmt.Sprintf("\n  - session %s, remote id %d (%s)", h.Owner, h.RemoteID, h.Kind)
		}
	}
	return s
}

func humanizeDuration(r model.RunReport) string {
	d := r.Duration()
	if d == 0 {
		return "n/a"
	}
	return d.String()
}

// JSON renders r as indented JSON for machine consumption.
func JSON(r model.RunReport) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
