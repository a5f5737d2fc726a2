package models

import (
	"time"
)

// JobStatus represents the lifecycle state of a generation job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
	JobStatusCanceled   JobStatus = "canceled"
)

// Terminal reports whether the status is final
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError || s == JobStatusCanceled
}

// Stage identifies one sequential phase of a generation job
type Stage string

const (
	StageContent  Stage = "content"
	StageAssets   Stage = "assets"
	StageAssembly Stage = "assembly"
)

// Progress checkpoints reached at stage boundaries
const (
	ProgressQueued        = 0
	ProgressContentStart  = 10
	ProgressAssetsStart   = 50
	ProgressAssemblyStart = 80
	ProgressCompleted     = 100
)

// Job is the mutable record tracking one generation request.
// All mutations go through the job store; readers only ever receive
// snapshot copies, so a poll can never observe a torn update.
type Job struct {
	ID              string            `json:"generation_id"`
	BriefHash       string            `json:"brief_hash,omitempty"`
	Status          JobStatus         `json:"status"`
	Stage           Stage             `json:"stage,omitempty"`
	Progress        int               `json:"progress"`
	Message         string            `json:"message,omitempty"`
	ResultLocation  string            `json:"result_location,omitempty"`
	ErrorDetail     string            `json:"error_detail,omitempty"`
	RetryCount      int               `json:"retry_count,omitempty"`
	CancelRequested bool              `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	Transitions     []StateTransition `json:"state_transitions,omitempty"`
}

// StateTransition records a job state change with its timestamp
type StateTransition struct {
	From      JobStatus `json:"from"`
	To        JobStatus `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Clone returns a deep copy of the job safe to hand to readers
func (j *Job) Clone() *Job {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if len(j.Transitions) > 0 {
		cp.Transitions = make([]StateTransition, len(j.Transitions))
		copy(cp.Transitions, j.Transitions)
	}
	return &cp
}
