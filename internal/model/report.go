package model

import "time"

// RunReport is the Driver's final summary of one workflow run (spec §3),
// serialised as the machine-readable counterpart to internal/report's
// humanized rendering.
type RunReport struct {
	RunID       string    `json:"run_id"`
	Source      ChannelID `json:"source"`
	Destinations []ChannelID `json:"destinations"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`

	MessagesFetched int `json:"messages_fetched"`
	UnitsFormed     int `json:"units_formed"`
	GroupsFormed    int `json:"groups_formed"`

	SessionsUsed []SessionName `json:"sessions_used"`
	Balance      float64       `json:"balance"`

	BatchesSent   int   `json:"batches_sent"`
	BatchesFailed int   `json:"batches_failed"`
	BytesMoved    int64 `json:"bytes_moved"`

	FloodWaitsAbsorbed int `json:"flood_waits_absorbed"`
	SessionsSuspended  int `json:"sessions_suspended"`

	// UnreclaimedScratch lists every ScratchHandle still outstanding in a
	// session's self-chat once the run finished (spec §4.7 "unreclaimed
	// scratch handles are listed explicitly") — empty for download-mode runs.
	UnreclaimedScratch []ScratchHandle `json:"unreclaimed_scratch,omitempty"`

	Errors []ReportError `json:"errors,omitempty"`
}

// ReportError is one non-fatal error surfaced during the run, kept for the
// operator's post-run review rather than aborting the run outright.
type ReportError struct {
	Stage   string `json:"stage"`
	UnitRef string `json:"unit_ref,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Duration is a convenience accessor; zero if the run has not finished.
func (r RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
