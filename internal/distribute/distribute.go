// Package distribute implements the Task Distributor (spec §4.5, §5.5):
// greedy longest-processing-time bin-packing of AtomicUnits across
// sessions, grounded in the teacher's original implementation's
// min-load-client selection.
package distribute

import (
	"fmt"
	"sort"

	"github.com/lbj9527/tgrelay/internal/model"
)

// ErrNoSessionsAvailable is returned when sessions is empty.
var ErrNoSessionsAvailable = fmt.Errorf("distribute: no sessions available")

// Distribute assigns units to sessions using greedy LPT bin-packing:
// units are sorted by weight descending (ties by SourceID, for
// determinism), then each is placed into the session currently holding
// the least accumulated weight (ties by session name).
func Distribute(units []model.AtomicUnit, sessions []model.SessionName) (model.Assignment, error) {
	if len(sessions) == 0 {
		return nil, ErrNoSessionsAvailable
	}
	if len(units) == 0 {
		return model.Assignment{}, nil
	}

	ordered := append([]model.AtomicUnit(nil), units...)
	sort.SliceStable(ordered, func(i, j int) bool {
		wi, wj := ordered[i].Weight(), ordered[j].Weight()
		if wi != wj {
			return wi > wj
		}
		return ordered[i].SourceID() < ordered[j].SourceID()
	})

	sortedSessions := append([]model.SessionName(nil), sessions...)
	sort.Slice(sortedSessions, func(i, j int) bool { return sortedSessions[i] < sortedSessions[j] })

	load := make(map[model.SessionName]int64, len(sortedSessions))
	assignment := make(model.Assignment, len(sortedSessions))

	for _, u := range ordered {
		target := minLoadSession(sortedSessions, load)
		assignment[target] = append(assignment[target], u)
		load[target] += u.Weight()
	}

	// Packing order is weight-descending, not source order; spec §5
	// requires each session to process its share in source-id order,
	// so re-sort each bucket before handing the Assignment to callers.
	for name, units := range assignment {
		sort.Slice(units, func(i, j int) bool { return units[i].SourceID() < units[j].SourceID() })
		assignment[name] = units
	}

	return assignment, nil
}

// minLoadSession returns the session with the smallest accumulated load,
// ties broken by name — the teacher's original _find_min_load_client rule
// generalized from a mixed file/message/size metric to a single byte
// weight (spec.md fixes the metric; see DESIGN.md for the Open Question
// resolution).
func minLoadSession(sessions []model.SessionName, load map[model.SessionName]int64) model.SessionName {
	best := sessions[0]
	for _, s := range sessions[1:] {
		if load[s] < load[best] {
			best = s
		}
	}
	return best
}

// CheckBalance returns a Assignment's (max-min)/max byte-weight balance,
// for the Driver to log a Warn when it exceeds the soft target (spec
// §4.5, testable property 3's ≤0.4 bound).
func CheckBalance(a model.Assignment) float64 {
	return a.Balance()
}

// Strategy names one of the distribution strategies original_source's
// distributor.py exposed; MediaGroupAware is the only one spec.md
// actually specifies and the only one the Driver ever calls.
type Strategy string

const (
	StrategyMediaGroupAware Strategy = "media_group_aware"
	StrategyRangeBased      Strategy = "range_based"
)

// Recommend mirrors distributor.py's recommend_strategy: given the unit
// mix and an operator priority ("speed", "integrity", or "balance"), it
// names which strategy would apply. It never runs a strategy itself and
// is not wired into the Driver — comparison/recommendation only.
func Recommend(units []model.AtomicUnit, priority string) Strategy {
	hasGroups := false
	for _, u := range units {
		if u.GroupID() != "" {
			hasGroups = true
			break
		}
	}

	switch {
	case priority == "speed" && !hasGroups:
		return StrategyRangeBased
	case priority == "integrity" || hasGroups:
		return StrategyMediaGroupAware
	default:
		return StrategyMediaGroupAware
	}
}

// RangeBased is the legacy equal-split strategy (original_source's
// RangeBasedDistributionStrategy): units are sorted by SourceID and cut
// into |sessions| contiguous ranges of as-even-as-possible size,
// ignoring Weight and GroupID entirely. Kept for comparison against the
// default MediaGroupAware strategy (Distribute) only — it can split a
// media Group across sessions, so it is never the Driver's default.
func RangeBased(units []model.AtomicUnit, sessions []model.SessionName) (model.Assignment, error) {
	if len(sessions) == 0 {
		return nil, ErrNoSessionsAvailable
	}
	if len(units) == 0 {
		return model.Assignment{}, nil
	}

	ordered := append([]model.AtomicUnit(nil), units...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].SourceID() < ordered[j].SourceID() })

	sortedSessions := append([]model.SessionName(nil), sessions...)
	sort.Slice(sortedSessions, func(i, j int) bool { return sortedSessions[i] < sortedSessions[j] })

	per := len(ordered) / len(sortedSessions)
	rem := len(ordered) % len(sortedSessions)

	assignment := make(model.Assignment, len(sortedSessions))
	start := 0
	for i, name := range sortedSessions {
		count := per
		if i < rem {
			count++
		}
		end := start + count
		if end > len(ordered) {
			end = len(ordered)
		}
		if start < end {
			assignment[name] = append([]model.AtomicUnit(nil), ordered[start:end]...)
		}
		start = end
	}
	return assignment, nil
}
