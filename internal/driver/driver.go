// Package driver implements the Workflow Driver (spec §4.9, §5.9): the
// top-level state machine wiring fetch → group → distribute →
// (local|forward) → report for one CLI-triggered run.
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lbj9527/tgrelay/internal/distribute"
	"github.com/lbj9527/tgrelay/internal/download"
	"github.com/lbj9527/tgrelay/internal/errs"
	"github.com/lbj9527/tgrelay/internal/fetch"
	"github.com/lbj9527/tgrelay/internal/forward"
	"github.com/lbj9527/tgrelay/internal/forward/stage3"
	"github.com/lbj9527/tgrelay/internal/grouper"
	"github.com/lbj9527/tgrelay/internal/model"
	"github.com/lbj9527/tgrelay/internal/obs/logger"
	"github.com/lbj9527/tgrelay/internal/ratelimit"
	"github.com/lbj9527/tgrelay/internal/report"
	"github.com/lbj9527/tgrelay/internal/session"
	"github.com/lbj9527/tgrelay/internal/transport"
)

// Mode selects between the two terminal workflow branches (spec §4.9).
type Mode int

const (
	ModeLocal Mode = iota
	ModeForward
)

// RunRequest mirrors the CLI surface (spec §6).
type RunRequest struct {
	Mode              Mode
	Source            model.ChannelID
	StartID           model.MessageID
	EndID             model.MessageID
	Targets           []model.ChannelID // forward mode destinations
	SelfChat          model.ChannelID   // forward mode scratch chat
	DestDir           string            // local mode only
	NamingPattern     string            // local mode only; empty falls back to fname.DefaultNamingPattern
	Template          string
	BatchSize         int
	CleanupOnSuccess  bool
	CleanupOnFailure  bool
	PreserveStructure bool
	GroupTimeout      time.Duration
	Filter            download.Filter
}

func (r RunRequest) validate() error {
	if r.EndID < r.StartID {
		return errs.New(errs.KindValidation, "driver: end id must be >= start id")
	}
	if r.Mode == ModeForward && len(r.Targets) == 0 {
		return errs.New(errs.KindValidation, "driver: forward mode requires at least one target")
	}
	if r.Mode == ModeLocal && r.DestDir == "" {
		return errs.New(errs.KindValidation, "driver: local mode requires a destination directory")
	}
	return nil
}

// Driver owns the shared services every run needs.
type Driver struct {
	pool    *session.Pool
	limiter *ratelimit.Controller
}

// New builds a Driver bound to pool and limiter.
func New(pool *session.Pool, limiter *ratelimit.Controller) *Driver {
	return &Driver{pool: pool, limiter: limiter}
}

// client resolves a session name to its transport.Client via the pool,
// satisfying fetch.SessionClient and download.SessionClient.
func (d *Driver) client(name model.SessionName) (transport.Client, error) {
	handle, err := d.pool.Lease(context.Background(), name)
	if err != nil {
		return nil, err
	}
	return handle.Client, nil
}

// Run executes the full state machine and returns the aggregated report.
// Validation errors short-circuit before fetch (spec §7); every later
// stage checks ctx.Err() between units.
func (d *Driver) Run(ctx context.Context, req RunRequest) (model.RunReport, error) {
	if err := req.validate(); err != nil {
		return model.RunReport{}, err
	}
	runID := newRunID()
	started := time.Now()

	sessions := d.pool.ListLoggedIn()
	if len(sessions) == 0 {
		return model.RunReport{}, errs.New(errs.KindResource, "driver: no logged-in sessions available")
	}

	before := d.limiter.Snapshot()

	logger.Infof("run %s: fetching [%d,%d] from channel %d across %d sessions", runID, req.StartID, req.EndID, req.Source, len(sessions))
	fetcher := fetch.New(d.client, d.limiter)
	messages, err := fetcher.Fetch(ctx, req.Source, req.StartID, req.EndID, sessions)
	if err != nil {
		return model.RunReport{}, err
	}

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = model.MaxGroupSize
	}
	units := grouper.Group(messages, batchSize)
	if !req.PreserveStructure {
		units = grouper.Rebatch(units, batchSize)
		logger.Infof("run %s: preserve-structure disabled, rebatched into %d units", runID, len(units))
	}
	logger.Infof("run %s: grouped %d messages into %d units", runID, len(messages), len(units))

	assignment, err := distribute.Distribute(units, sessions)
	if err != nil {
		return model.RunReport{}, err
	}
	if balance := distribute.CheckBalance(assignment); balance > 0.4 {
		logger.Warnf("run %s: distribution balance %.2f exceeds soft target 0.4", runID, balance)
	}

	var (
		downloadResults []download.UnitResult
		forwardResults  []forward.UnitOutcome
	)

	switch req.Mode {
	case ModeLocal:
		workflow := download.New(d.client, d.limiter, req.NamingPattern)
		downloadResults, err = workflow.Run(ctx, assignment, req.DestDir, fmt.Sprintf("%d", req.Source), req.Filter)
	case ModeForward:
		forwardResults, err = d.runForward(ctx, req, assignment)
	}
	if err != nil {
		return model.RunReport{}, err
	}

	groupsFormed := 0
	for _, u := range units {
		if u.GroupID() != "" {
			groupsFormed++
		}
	}

	absorbed, suspended := deltaFloodCounts(before, d.limiter.Snapshot())

	r := report.Aggregate(report.Input{
		RunID:              runID,
		Source:             req.Source,
		Destinations:       req.Targets,
		MessagesFetched:    len(messages),
		GroupsFormed:       groupsFormed,
		Assignment:         assignment,
		DownloadResults:    downloadResults,
		ForwardResults:     forwardResults,
		FloodWaitsAbsorbed: absorbed,
		SessionsSuspended:  suspended,
		UnreclaimedScratch: d.collectUnreclaimedScratch(sessions),
	})
	r.StartedAt = started
	r.FinishedAt = time.Now()
	return r, nil
}

// deltaFloodCounts sums FloodsAbsorbed/Suspended across classes, returning
// the portion accrued since before was taken — the controller's counters
// are cumulative for its whole lifetime, not per-run.
func deltaFloodCounts(before, after ratelimit.ControllerSnapshot) (absorbed, suspended int) {
	beforeByClass := make(map[ratelimit.OpClass]ratelimit.ClassSnapshot, len(before.Classes))
	for _, cs := range before.Classes {
		beforeByClass[cs.Class] = cs
	}
	for _, cs := range after.Classes {
		prev := beforeByClass[cs.Class]
		absorbed += int(cs.FloodsAbsorbed - prev.FloodsAbsorbed)
		suspended += int(cs.Suspended - prev.Suspended)
	}
	return absorbed, suspended
}

// collectUnreclaimedScratch reads every session's scratch ledger for
// handles stage 3/emergency cleanup never reclaimed, across both this
// run's crash history and any prior run's (spec §4.7 "never lost").
func (d *Driver) collectUnreclaimedScratch(sessions []model.SessionName) []model.ScratchHandle {
	var out []model.ScratchHandle
	for _, name := range sessions {
		sess, ok := d.pool.Get(name)
		if !ok {
			continue
		}
		orphaned, err := stage3.Orphaned(sess)
		if err != nil {
			logger.Warnf("session %s: failed to read scratch ledger for report: %v", name, err)
			continue
		}
		out = append(out, orphaned...)
	}
	return out
}

// runForward leases every assigned session's handle and runs the staged
// pipeline over the assignment.
func (d *Driver) runForward(ctx context.Context, req RunRequest, assignment model.Assignment) ([]forward.UnitOutcome, error) {
	sessionsByName := make(map[model.SessionName]*session.Session, len(assignment))
	for _, name := range assignment.SessionNames() {
		handle, err := d.pool.Lease(ctx, name)
		if err != nil {
			return nil, err
		}
		sessionsByName[name] = handle.Session
	}

	tmpl := req.Template
	if tmpl == "" {
		tmpl = "{original_text}{original_caption}"
	}

	pipeline := forward.New(d.limiter, forward.Config{
		SelfChat:         req.SelfChat,
		Destinations:     req.Targets,
		Template:         tmpl,
		CleanupOnFailure: req.CleanupOnFailure,
		CleanupOnSuccess: req.CleanupOnSuccess,
	})
	return pipeline.Run(ctx, assignment, sessionsByName, fmt.Sprintf("%d", req.Source))
}

func newRunID() string {
	return fmt.Sprintf("run-%s", uuid.NewString())
}
