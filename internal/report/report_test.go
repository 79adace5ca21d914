package report_test

import (
	"strings"
	"testing"

	"github.com/lbj9527/tgrelay/internal/model"
	"github.com/lbj9527/tgrelay/internal/report"
)

func TestAggregate_CarriesFloodWaitAndScratchCounters(t *testing.T) {
	t.Parallel()

	in := report.Input{
		RunID:              "run-1",
		FloodWaitsAbsorbed: 3,
		SessionsSuspended:  1,
		UnreclaimedScratch: []model.ScratchHandle{{Owner: "a", RemoteID: 7, Kind: model.MediaPhoto}},
	}
	r := report.Aggregate(in)

	if r.FloodWaitsAbsorbed != 3 {
		t.Fatalf("FloodWaitsAbsorbed = %d, want 3", r.FloodWaitsAbsorbed)
	}
	if r.SessionsSuspended != 1 {
		t.Fatalf("SessionsSuspended = %d, want 1", r.SessionsSuspended)
	}
	if len(r.UnreclaimedScratch) != 1 || r.UnreclaimedScratch[0].RemoteID != 7 {
		t.Fatalf("UnreclaimedScratch = %#v, want one handle with RemoteID 7", r.UnreclaimedScratch)
	}
}

func TestHumanize_ListsUnreclaimedScratchHandlesExplicitly(t *testing.T) {
	t.Parallel()

	r := report.Aggregate(report.Input{
		RunID:              "run-1",
		UnreclaimedScratch: []model.ScratchHandle{{Owner: "a", RemoteID: 42, Kind: model.MediaDocument}},
	})

	out := report.Humanize(r)
	if !strings.Contains(out, "unreclaimed scratch handles: 1") {
		t.Fatalf("Humanize() = %q, want it to mention the unreclaimed handle count", out)
	}
	if !strings.Contains(out, "remote id 42") {
		t.Fatalf("Humanize() = %q, want it to list the handle's remote id", out)
	}
}

func TestHumanize_NoUnreclaimedScratchOmitsSection(t *testing.T) {
	t.Parallel()

	r := report.Aggregate(report.Input{RunID: "run-1"})
	out := report.Humanize(r)
	if strings.Contains(out, "unreclaimed scratch") {
		t.Fatalf("Humanize() = %q, want no unreclaimed-scratch section when there are none", out)
	}
}
