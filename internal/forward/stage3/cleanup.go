// Package stage3 implements the forward pipeline's cleanup stage (spec
// §4.7, §5.7), grounded in original_source's staged_upload_manager.py
// _stage_3_cleanup and _emergency_cleanup.
package stage3

import (
	"context"
	"time"

	"github.com/lbj9527/tgrelay/internal/model"
	"github.com/lbj9527/tgrelay/internal/session"
)

// EmergencyDeadline bounds how long emergency cleanup may run once the
// pipeline is aborting (spec §5.7, default 5s).
const EmergencyDeadline = 5 * time.Second

// Cleanup deletes handles from owner's self-chat. cleanupOnFailure gates
// deletion of handles belonging to a unit with at least one failed
// destination (spec §5.7 "cleanup-on-failure policy flag, default off"):
// when false, failed-unit handles are left in place for operator review
// and only successful-unit handles are reclaimed.
func Cleanup(ctx context.Context, owner *session.Session, selfChat model.ChannelID, handles []model.ScratchHandle, unitFailed bool, cleanupOnFailure bool) error {
	if unitFailed && !cleanupOnFailure {
		return nil
	}
	return bulkDelete(ctx, owner, selfChat, handles)
}

// EmergencyCleanup runs with a short deadline on pipeline abort,
// attempting to reclaim every outstanding handle regardless of policy —
// an aborted run has no "successful unit" to protect.
func EmergencyCleanup(ctx context.Context, owner *session.Session, selfChat model.ChannelID, handles []model.ScratchHandle) error {
	ctx, cancel := context.WithTimeout(ctx, EmergencyDeadline)
	defer cancel()
	return bulkDelete(ctx, owner, selfChat, handles)
}

func bulkDelete(ctx context.Context, owner *session.Session, selfChat model.ChannelID, handles []model.ScratchHandle) error {
	if len(handles) == 0 {
		return nil
	}
	ids := make([]model.MessageID, 0, len(handles))
	for _, h := range handles {
		ids = append(ids, h.RemoteID)
	}
	if err := owner.Client.DeleteMessages(ctx, selfChat, ids); err != nil {
		return err
	}
	if owner.Scratch != nil {
		for _, h := range handles {
			_ = owner.Scratch.Reclaim(h)
		}
	}
	return nil
}

// Orphaned enumerates every ScratchHandle still recorded in owner's
// ledger, for a post-crash report on process start (spec §5.7 "never
// lost" without resuming the run itself).
func Orphaned(owner *session.Session) ([]model.ScratchHandle, error) {
	if owner.Scratch == nil {
		return nil, nil
	}
	return owner.Scratch.Outstanding()
}
