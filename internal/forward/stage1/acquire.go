// Package stage1 implements the forward pipeline's data-acquisition
// stage (spec §4.7, §5.7): upload each unit's media into its owning
// session's self-chat, recording a ScratchHandle per message. Grounded in
// original_source/core/upload/staged/staged_upload_manager.py's
// _stage_1_data_acquisition_and_staging and temporary_storage.py.
package stage1

import (
	"context"

	"github.com/lbj9527/tgrelay/internal/model"
	"github.com/lbj9527/tgrelay/internal/ratelimit"
	"github.com/lbj9527/tgrelay/internal/session"
)

// Result is one AtomicUnit's acquisition outcome.
type Result struct {
	Unit    model.ScratchUnit
	Failed  bool
	Err     error
	Partial []model.ScratchHandle // handles acquired before a mid-unit failure
}

// Acquire uploads every message in unit into owner's self-chat, returning
// a ScratchUnit of handles on success. A failure partway through a
// multi-message Group fails the whole unit; handles acquired so far are
// returned in Result.Partial for stage3's emergency cleanup.
func Acquire(ctx context.Context, limiter *ratelimit.Controller, owner *session.Session, selfChat model.ChannelID, unit model.AtomicUnit) Result {
	var handles []model.ScratchHandle

	for _, msg := range unit.Messages() {
		if !msg.HasMedia() {
			continue
		}
		if err := owner.Admit(ctx, limiter, ratelimit.OpSend); err != nil {
			return Result{Failed: true, Err: err, Partial: handles}
		}

		uploaded, err := owner.Client.SendMedia(ctx, selfChat, msg)
		if err != nil {
			return Result{Failed: true, Err: err, Partial: handles}
		}

		handle := model.ScratchHandle{
			Owner:      owner.Name,
			RemoteID:   uploaded.RemoteID,
			Kind:       msg.Media.Kind,
			Identifier: uploaded.Identifier,
			Caption:    msg.Caption,
			UnitID:     unit.SourceID(),
			GroupID:    unit.GroupID(),
		}
		if owner.Scratch != nil {
			if err := owner.Scratch.Record(handle); err != nil {
				return Result{Failed: true, Err: err, Partial: handles}
			}
		}
		handles = append(handles, handle)
	}

	return Result{Unit: model.ScratchUnit{
		SourceID: unit.SourceID(),
		GroupID:  unit.GroupID(),
		Handles:  handles,
	}}
}
