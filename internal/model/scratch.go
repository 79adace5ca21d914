package model

import "time"

// ScratchHandle is an opaque reference to a media payload resident in the
// remote service's self-chat (spec §3/§6), uploaded by Owner during stage 1
// and consumed by stage 2's SendBatches. Every ScratchHandle must be
// reclaimed exactly once (stage 3 or emergency cleanup). The ledger
// (internal/session) records outstanding handles but does not detect a
// second reclaim of the same handle.
type ScratchHandle struct {
	Owner      SessionName
	RemoteID   MessageID // message id within Owner's self-chat
	Kind       MediaKind
	Identifier string // media identifier usable in a batch-send call
	Caption    string // original caption, preserved verbatim from the source
	UnitID     MessageID
	GroupID    string // empty for a Singleton's handle
	CreatedAt  time.Time
}

// ScratchUnit mirrors an AtomicUnit's shape over ScratchHandles once stage 1
// has acquired every constituent message's media.
type ScratchUnit struct {
	SourceID MessageID
	GroupID  string // empty for a singleton
	Handles  []ScratchHandle
	// RenderedCaption is the template-rendered caption for the unit,
	// computed once and reused for every destination's SendBatch.
	RenderedCaption string
	Truncated       bool
}

// SendBatch is one batch-send payload (spec §3): ≤10 ScratchHandles of a
// compatible media kind, destined for one destination channel.
type SendBatch struct {
	Destination ChannelID
	Class       BatchClass
	Handles     []ScratchHandle
	Caption     string // attached to the first handle only, per service convention
	SourceOrder int     // position of the originating ScratchUnit in source order, for ordering checks
}

// DistributionResult is the per-destination outcome of sending one
// SendBatch (spec §3).
type DistributionResult struct {
	Destination   ChannelID
	Success       bool
	RemoteIDs     []MessageID
	ErrorKind     string
	RetryCount    int
}
