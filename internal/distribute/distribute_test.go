package distribute_test

import (
	"testing"

	"github.com/lbj9527/tgrelay/internal/distribute"
	"github.com/lbj9527/tgrelay/internal/model"
)

func singleton(id model.MessageID, size int64) model.AtomicUnit {
	return model.Singleton{Message: model.Message{
		ID:    id,
		Media: &model.MediaRef{Size: size},
	}}
}

func TestDistribute_NoSessions(t *testing.T) {
	t.Parallel()

	_, err := distribute.Distribute([]model.AtomicUnit{singleton(1, 10)}, nil)
	if err != distribute.ErrNoSessionsAvailable {
		t.Fatalf("Distribute() error = %v, want ErrNoSessionsAvailable", err)
	}
}

func TestDistribute_EmptyUnits(t *testing.T) {
	t.Parallel()

	got, err := distribute.Distribute(nil, []model.SessionName{"a"})
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Distribute() = %#v, want empty assignment", got)
	}
}

func TestDistribute_BalanceWithinBound(t *testing.T) {
	t.Parallel()

	sessions := []model.SessionName{"a", "b", "c"}
	units := []model.AtomicUnit{
		singleton(1, 500),
		singleton(2, 400),
		singleton(3, 300),
		singleton(4, 250),
		singleton(5, 200),
		singleton(6, 150),
		singleton(7, 100),
		singleton(8, 50),
	}

	got, err := distribute.Distribute(units, sessions)
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}
	if got.UnitCount() != len(units) {
		t.Fatalf("UnitCount() = %d, want %d", got.UnitCount(), len(units))
	}
	if balance := got.Balance(); balance > 0.4 {
		t.Fatalf("Balance() = %v, want <= 0.4", balance)
	}
}

func TestDistribute_Deterministic(t *testing.T) {
	t.Parallel()

	sessions := []model.SessionName{"b", "a", "c"}
	units := []model.AtomicUnit{
		singleton(1, 300),
		singleton(2, 300),
		singleton(3, 100),
	}

	first, err := distribute.Distribute(units, sessions)
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}
	second, err := distribute.Distribute(units, sessions)
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}

	for _, name := range first.SessionNames() {
		if first.TotalWeight(name) != second.TotalWeight(name) {
			t.Fatalf("session %s: first weight %d != second weight %d", name, first.TotalWeight(name), second.TotalWeight(name))
		}
	}
}

func TestDistribute_PerSessionOrderIsSourceOrderNotWeightOrder(t *testing.T) {
	t.Parallel()

	// Weight-descending packing order is [5, 1, 2, 4, 3]; every unit
	// lands in the single session, so if the bug regresses, the
	// assignment comes back in that weight order instead of by id.
	units := []model.AtomicUnit{
		singleton(1, 300),
		singleton(2, 200),
		singleton(3, 50),
		singleton(4, 100),
		singleton(5, 400),
	}

	got, err := distribute.Distribute(units, []model.SessionName{"a"})
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}

	assigned := got["a"]
	if len(assigned) != len(units) {
		t.Fatalf("session a has %d units, want %d", len(assigned), len(units))
	}
	for i := 1; i < len(assigned); i++ {
		if assigned[i-1].SourceID() >= assigned[i].SourceID() {
			t.Fatalf("assigned[%d].SourceID() = %d not < assigned[%d].SourceID() = %d; order not ascending by source id",
				i-1, assigned[i-1].SourceID(), i, assigned[i].SourceID())
		}
	}
}

func TestDistribute_MultiSessionPerSessionOrderIsSourceOrder(t *testing.T) {
	t.Parallel()

	sessions := []model.SessionName{"a", "b"}
	units := []model.AtomicUnit{
		singleton(10, 50),
		singleton(20, 400),
		singleton(30, 100),
		singleton(40, 300),
	}

	got, err := distribute.Distribute(units, sessions)
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}

	for _, name := range sessions {
		assigned := got[name]
		for i := 1; i < len(assigned); i++ {
			if assigned[i-1].SourceID() >= assigned[i].SourceID() {
				t.Fatalf("session %s: assigned[%d].SourceID() = %d not < assigned[%d].SourceID() = %d",
					name, i-1, assigned[i-1].SourceID(), i, assigned[i].SourceID())
			}
		}
	}
}

func TestRecommend(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		units    []model.AtomicUnit
		priority string
		want     distribute.Strategy
	}{
		{
			name:     "speedWithNoGroupsPrefersRangeBased",
			units:    []model.AtomicUnit{singleton(1, 10), singleton(2, 10)},
			priority: "speed",
			want:     distribute.StrategyRangeBased,
		},
		{
			name:     "speedWithGroupsStillPrefersMediaGroupAware",
			units:    []model.AtomicUnit{model.Group{ID: "g1", Items: []model.Message{{ID: 1}}}},
			priority: "speed",
			want:     distribute.StrategyMediaGroupAware,
		},
		{
			name:     "integrityAlwaysPrefersMediaGroupAware",
			units:    []model.AtomicUnit{singleton(1, 10)},
			priority: "integrity",
			want:     distribute.StrategyMediaGroupAware,
		},
		{
			name:     "balanceDefaultsToMediaGroupAware",
			units:    []model.AtomicUnit{singleton(1, 10)},
			priority: "balance",
			want:     distribute.StrategyMediaGroupAware,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := distribute.Recommend(tc.units, tc.priority); got != tc.want {
				t.Fatalf("Recommend() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRangeBased_SplitsEvenlyBySourceOrder(t *testing.T) {
	t.Parallel()

	units := []model.AtomicUnit{
		singleton(3, 10),
		singleton(1, 10),
		singleton(2, 10),
		singleton(4, 10),
		singleton(5, 10),
	}

	got, err := distribute.RangeBased(units, []model.SessionName{"a", "b"})
	if err != nil {
		t.Fatalf("RangeBased() error = %v", err)
	}
	if got.UnitCount() != len(units) {
		t.Fatalf("UnitCount() = %d, want %d", got.UnitCount(), len(units))
	}
	if len(got["a"]) != 3 || len(got["b"]) != 2 {
		t.Fatalf("RangeBased() split = a:%d b:%d, want a:3 b:2", len(got["a"]), len(got["b"]))
	}
	if got["a"][0].SourceID() != 1 || got["a"][2].SourceID() != 3 {
		t.Fatalf("RangeBased() session a = %v, want source ids [1,2,3]", got["a"])
	}
	if got["b"][0].SourceID() != 4 {
		t.Fatalf("RangeBased() session b starts at %d, want 4", got["b"][0].SourceID())
	}
}

func TestRangeBased_NoSessions(t *testing.T) {
	t.Parallel()

	_, err := distribute.RangeBased([]model.AtomicUnit{singleton(1, 10)}, nil)
	if err != distribute.ErrNoSessionsAvailable {
		t.Fatalf("RangeBased() error = %v, want ErrNoSessionsAvailable", err)
	}
}

func TestDistribute_NeverSplitsAGroup(t *testing.T) {
	t.Parallel()

	group := model.Group{ID: "g1", Items: []model.Message{
		{ID: 1, Media: &model.MediaRef{Size: 100}},
		{ID: 2, Media: &model.MediaRef{Size: 100}},
	}}
	units := []model.AtomicUnit{group, singleton(3, 10)}

	got, err := distribute.Distribute(units, []model.SessionName{"a", "b"})
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}

	seen := 0
	for _, name := range got.SessionNames() {
		for _, u := range got[name] {
			if u.GroupID() == "g1" {
				seen++
				if len(u.Messages()) != 2 {
					t.Fatalf("group split: got %d messages in one entry, want 2", len(u.Messages()))
				}
			}
		}
	}
	if seen != 1 {
		t.Fatalf("group g1 appeared in %d assignment entries, want 1", seen)
	}
}
