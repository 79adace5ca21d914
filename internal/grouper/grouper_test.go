package grouper_test

import (
	"testing"

	"github.com/lbj9527/tgrelay/internal/grouper"
	"github.com/lbj9527/tgrelay/internal/model"
)

func TestGroup(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		messages []model.Message
		cap      int
		want     []struct {
			groupID string
			count   int
		}
	}{
		{
			name: "allSingletons",
			messages: []model.Message{
				{ID: 1},
				{ID: 2},
			},
			want: []struct {
				groupID string
				count   int
			}{
				{"", 1},
				{"", 1},
			},
		},
		{
			name: "oneGroupFoldedTogether",
			messages: []model.Message{
				{ID: 1, GroupID: "g1"},
				{ID: 2, GroupID: "g1"},
				{ID: 3, GroupID: "g1"},
			},
			want: []struct {
				groupID string
				count   int
			}{
				{"g1", 3},
			},
		},
		{
			name: "groupChangeFlushesPreviousRun",
			messages: []model.Message{
				{ID: 1, GroupID: "g1"},
				{ID: 2, GroupID: "g1"},
				{ID: 3, GroupID: "g2"},
			},
			want: []struct {
				groupID string
				count   int
			}{
				{"g1", 2},
				{"g2", 1},
			},
		},
		{
			name: "groupSplitsAtCap",
			messages: []model.Message{
				{ID: 1, GroupID: "g1"},
				{ID: 2, GroupID: "g1"},
				{ID: 3, GroupID: "g1"},
			},
			cap: 2,
			want: []struct {
				groupID string
				count   int
			}{
				{"g1", 2},
				{"g1", 1},
			},
		},
		{
			name:     "empty",
			messages: nil,
			want:     nil,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := grouper.Group(tc.messages, tc.cap)
			if len(got) != len(tc.want) {
				t.Fatalf("Group() returned %d units, want %d", len(got), len(tc.want))
			}
			for i, u := range got {
				if u.GroupID() != tc.want[i].groupID {
					t.Errorf("unit %d: GroupID() = %q, want %q", i, u.GroupID(), tc.want[i].groupID)
				}
				if len(u.Messages()) != tc.want[i].count {
					t.Errorf("unit %d: len(Messages()) = %d, want %d", i, len(u.Messages()), tc.want[i].count)
				}
			}
		})
	}
}

func TestGroup_PreservesOrder(t *testing.T) {
	t.Parallel()

	messages := []model.Message{
		{ID: 5, GroupID: "g1"},
		{ID: 6, GroupID: "g1"},
		{ID: 7},
		{ID: 8, GroupID: "g2"},
	}

	got := grouper.Group(messages, 0)
	if len(got) != 3 {
		t.Fatalf("Group() returned %d units, want 3", len(got))
	}
	if got[0].SourceID() != 5 || got[1].SourceID() != 7 || got[2].SourceID() != 8 {
		t.Fatalf("Group() did not preserve source order: %#v", got)
	}
}

func TestRebatch_MergesConsecutiveSingletonsUpToCap(t *testing.T) {
	t.Parallel()

	units := []model.AtomicUnit{
		model.Singleton{Message: model.Message{ID: 1}},
		model.Singleton{Message: model.Message{ID: 2}},
		model.Singleton{Message: model.Message{ID: 3}},
	}

	got := grouper.Rebatch(units, 2)
	if len(got) != 2 {
		t.Fatalf("Rebatch() = %d units, want 2", len(got))
	}
	if len(got[0].Messages()) != 2 {
		t.Fatalf("Rebatch()[0] has %d messages, want 2", len(got[0].Messages()))
	}
	if got[0].GroupID() == "" {
		t.Fatal("Rebatch()[0].GroupID() is empty, want a synthetic batch id")
	}
	if len(got[1].Messages()) != 1 || got[1].GroupID() != "" {
		t.Fatalf("Rebatch()[1] = %#v, want a lone Singleton", got[1])
	}
}

func TestRebatch_LeavesRealGroupsUntouched(t *testing.T) {
	t.Parallel()

	units := []model.AtomicUnit{
		model.Singleton{Message: model.Message{ID: 1}},
		model.Group{ID: "g1", Items: []model.Message{{ID: 2, GroupID: "g1"}, {ID: 3, GroupID: "g1"}}},
		model.Singleton{Message: model.Message{ID: 4}},
	}

	got := grouper.Rebatch(units, 10)
	if len(got) != 3 {
		t.Fatalf("Rebatch() = %d units, want 3 (real Group never merges with neighbors)", len(got))
	}
	if got[1].GroupID() != "g1" || len(got[1].Messages()) != 2 {
		t.Fatalf("Rebatch()[1] = %#v, want the untouched g1 Group", got[1])
	}
}

func TestRebatch_SingleLeftoverStaysASingleton(t *testing.T) {
	t.Parallel()

	units := []model.AtomicUnit{model.Singleton{Message: model.Message{ID: 1}}}

	got := grouper.Rebatch(units, 5)
	if len(got) != 1 || got[0].GroupID() != "" {
		t.Fatalf("Rebatch() = %#v, want a single unmerged Singleton", got)
	}
}
