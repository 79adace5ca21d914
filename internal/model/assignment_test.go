package model_test

import (
	"testing"

	"github.com/lbj9527/tgrelay/internal/model"
)

func unitOfWeight(id model.MessageID, size int64) model.AtomicUnit {
	return model.Singleton{Message: model.Message{ID: id, Media: &model.MediaRef{Size: size}}}
}

func TestAssignment_Balance_EvenSplitIsZero(t *testing.T) {
	t.Parallel()

	a := model.Assignment{
		"x": {unitOfWeight(1, 100)},
		"y": {unitOfWeight(2, 100)},
	}
	if got := a.Balance(); got != 0 {
		t.Fatalf("Balance() = %v, want 0", got)
	}
}

func TestAssignment_Balance_Empty(t *testing.T) {
	t.Parallel()

	if got := (model.Assignment{}).Balance(); got != 0 {
		t.Fatalf("Balance() on empty assignment = %v, want 0", got)
	}
}

func TestAssignment_Balance_Skewed(t *testing.T) {
	t.Parallel()

	a := model.Assignment{
		"x": {unitOfWeight(1, 100)},
		"y": {unitOfWeight(2, 0)},
	}
	if got := a.Balance(); got != 1.0 {
		t.Fatalf("Balance() = %v, want 1.0", got)
	}
}

func TestAssignment_TotalWeight(t *testing.T) {
	t.Parallel()

	a := model.Assignment{
		"x": {unitOfWeight(1, 30), unitOfWeight(2, 70)},
	}
	if got := a.TotalWeight("x"); got != 100 {
		t.Fatalf("TotalWeight() = %d, want 100", got)
	}
	if got := a.TotalWeight("missing"); got != 0 {
		t.Fatalf("TotalWeight(missing) = %d, want 0", got)
	}
}

func TestAssignment_SessionNames_SortedAndUnitCount(t *testing.T) {
	t.Parallel()

	a := model.Assignment{
		"b": {unitOfWeight(1, 1)},
		"a": {unitOfWeight(2, 1), unitOfWeight(3, 1)},
	}
	names := a.SessionNames()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("SessionNames() = %v, want [a b]", names)
	}
	if got := a.UnitCount(); got != 3 {
		t.Fatalf("UnitCount() = %d, want 3", got)
	}
}
