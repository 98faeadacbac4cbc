package models

import "time"

// OutcomeKind classifies what happened to one group during a run.
type OutcomeKind string

const (
	OutcomeModeled OutcomeKind = "modeled"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// GroupOutcome records the fate of one group in a run.
type GroupOutcome struct {
	Group  GroupKey    `json:"group"`
	Kind   OutcomeKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
	Rows   int         `json:"rows"`
	MAPE   float64     `json:"mape_pct,omitempty"`
}

// RunReport summarizes a pipeline run for the ledger, the event stream and the terminal.
type RunReport struct {
	RunID          string         `json:"run_id"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	OutputPath     string         `json:"output_path"`
	UsedFallback   bool           `json:"used_fallback"`
	MetricsPath    string         `json:"metrics_path"`
	Rows           int            `json:"rows"`
	Modeled        int            `json:"modeled"`
	Skipped        int            `json:"skipped"`
	Failed         int            `json:"failed"`
	MeanMAPE       float64        `json:"mean_mape_pct"`
	AccuracyTarget float64        `json:"accuracy_target_pct"`
	TargetMet      bool           `json:"target_met"`
	Outcomes       []GroupOutcome `json:"outcomes,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// RunEvent is published when a run finishes so readers can reload the artifact.
type RunEvent struct {
	RunID      string    `json:"run_id"`
	OutputPath string    `json:"output_path"`
	Rows       int       `json:"rows"`
	MeanMAPE   float64   `json:"mean_mape_pct"`
	FinishedAt time.Time `json:"finished_at"`
}
