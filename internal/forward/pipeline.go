// Package forward ties stage1/stage2/stage3 into the staged-forward
// pipeline's state machine (spec §4.7).
package forward

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lbj9527/tgrelay/internal/errs"
	"github.com/lbj9527/tgrelay/internal/forward/stage1"
	"github.com/lbj9527/tgrelay/internal/forward/stage2"
	"github.com/lbj9527/tgrelay/internal/forward/stage3"
	"github.com/lbj9527/tgrelay/internal/model"
	"github.com/lbj9527/tgrelay/internal/ratelimit"
	"github.com/lbj9527/tgrelay/internal/session"
	"github.com/lbj9527/tgrelay/internal/template"
)

// unitState is one AtomicUnit's progress through the pipeline; aggregate
// run state is always computed from these, never stored redundantly.
type unitState int

const (
	stateAcquiring unitState = iota
	stateDistributing
	stateCleaningUp
	stateDone
	stateFailed
)

// UnitOutcome is one AtomicUnit's final pipeline result, fed into
// internal/report.
type UnitOutcome struct {
	Unit        model.AtomicUnit
	Session     model.SessionName
	State       unitState
	Distributed []model.DistributionResult
	Err         error
	Truncated   bool
}

// Config carries the pipeline's run-scoped parameters (spec §6).
type Config struct {
	SelfChat          model.ChannelID
	Destinations      []model.ChannelID
	Template          string
	CleanupOnFailure  bool
	CleanupOnSuccess  bool
}

// Pipeline runs stage1→stage2→stage3 for every AtomicUnit assigned to a
// session, one goroutine per session, sequential within.
type Pipeline struct {
	limiter *ratelimit.Controller
	cfg     Config
}

func New(limiter *ratelimit.Controller, cfg Config) *Pipeline {
	return &Pipeline{limiter: limiter, cfg: cfg}
}

// Run executes the pipeline over assignment, returning every unit's
// outcome. On ctx cancellation, in-flight units run emergency cleanup
// before returning.
func (p *Pipeline) Run(ctx context.Context, assignment model.Assignment, sessions map[model.SessionName]*session.Session, channelName string) ([]UnitOutcome, error) {
	var mu sync.Mutex
	var outcomes []UnitOutcome

	g, gctx := errgroup.WithContext(ctx)
	for name, units := range assignment {
		name, units := name, units
		owner, ok := sessions[name]
		if !ok {
			continue
		}
		g.Go(func() error {
			for _, unit := range units {
				outcome := p.runUnit(gctx, owner, unit, channelName)
				mu.Lock()
				outcomes = append(outcomes, outcome)
				mu.Unlock()
				if gctx.Err() != nil {
					return gctx.Err()
				}
			}
			return nil
		})
	}
	runErr := g.Wait()
	return outcomes, runErr
}

func (p *Pipeline) runUnit(ctx context.Context, owner *session.Session, unit model.AtomicUnit, channelName string) UnitOutcome {
	acq := stage1.Acquire(ctx, p.limiter, owner, p.cfg.SelfChat, unit)
	if acq.Failed {
		if owner.Scratch != nil {
			_ = stage3.EmergencyCleanup(context.Background(), owner, p.cfg.SelfChat, acq.Partial)
		}
		return UnitOutcome{Unit: unit, Session: owner.Name, State: stateFailed, Err: acq.Err}
	}

	vars := template.VarsForUnit(unit, channelName)
	rendered := template.Render(p.cfg.Template, vars)
	rendered, truncated := template.TruncateAtWord(rendered, owner.CaptionLimit())

	results := stage2.Send(ctx, p.limiter, owner, p.cfg.Destinations, acq.Unit, rendered)
	if ctx.Err() != nil {
		_ = stage3.EmergencyCleanup(context.Background(), owner, p.cfg.SelfChat, acq.Unit.Handles)
		return UnitOutcome{Unit: unit, Session: owner.Name, State: stateFailed, Distributed: results, Truncated: truncated,
			Err: errs.Wrap(errs.KindCancellation, ctx.Err(), "forward: cancelled")}
	}

	anyFailed := false
	for _, r := range results {
		if !r.Success {
			anyFailed = true
		}
	}

	shouldClean := (!anyFailed && p.cfg.CleanupOnSuccess) || (anyFailed && p.cfg.CleanupOnFailure)
	if shouldClean {
		if err := stage3.Cleanup(ctx, owner, p.cfg.SelfChat, acq.Unit.Handles, anyFailed, p.cfg.CleanupOnFailure); err != nil {
			return UnitOutcome{Unit: unit, Session: owner.Name, State: stateFailed, Distributed: results, Truncated: truncated,
				Err: errs.Wrap(errs.KindTransientIO, err, "forward: cleanup failed")}
		}
	}

	state := stateDone
	if anyFailed {
		state = stateFailed
	}
	return UnitOutcome{Unit: unit, Session: owner.Name, State: state, Distributed: results, Truncated: truncated}
}
