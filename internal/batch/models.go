package batch

import (
	"strings"
	"time"
)

// Batch is one uploaded dataset of outbound calls dispatched together.
//
// Counter invariant: SuccessfulJobs + FailedJobs <= TotalJobs at all times,
// with equality once the batch is terminal. Counters are maintained with
// server-side atomic adds, never read-modify-write.
//
// TotalJobs is fixed at creation and never changes.
type Batch struct {
	ID     string      `json:"id" db:"id"`
	Name   string      `json:"name" db:"name"`
	Status BatchStatus `json:"status" db:"status"`

	TotalJobs      int `json:"total_jobs" db:"total_jobs"`
	SuccessfulJobs int `json:"successful_jobs" db:"successful_jobs"`
	FailedJobs     int `json:"failed_jobs" db:"failed_jobs"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusApproved  BatchStatus = "approved"
	BatchStatusExecuting BatchStatus = "executing"
	BatchStatusCompleted BatchStatus = "completed"

	// BatchStatusFailed is reserved for infrastructure-level dispatch failure
	// (e.g. provider misconfiguration). Individual call failures are visible
	// only through FailedJobs; the aggregate close always writes completed.
	BatchStatusFailed BatchStatus = "failed"
)

func (s BatchStatus) Terminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

// CallJob is one outbound call attempt owned by a Batch.
//
// The orchestrator is the sole writer of Status. The dial provider is the
// source of truth for ProviderHandle and enrichment data (transcript,
// recording, duration), relayed through webhook events.
//
// Once Status is terminal, no field may change except transcript/recording
// enrichment on a completed job.
type CallJob struct {
	ID      string `json:"id" db:"id"`
	BatchID string `json:"batch_id" db:"batch_id"`

	DriverName  string `json:"driver_name" db:"driver_name"`
	PhoneNumber string `json:"phone_number" db:"phone_number"` // E.164
	TargetRef   string `json:"target_ref" db:"target_ref"`     // e.g. vehicle registration
	Message     string `json:"message,omitempty" db:"message"`

	Status JobStatus `json:"status" db:"status"`

	// ProviderHandle is the provider's call identifier, set once the provider
	// accepts the call. May be empty if the provider response carried no
	// recognizable id; such a job proceeds but cannot be cancelled upstream.
	ProviderHandle string `json:"provider_handle,omitempty" db:"provider_handle"`

	LiveTranscript    string `json:"live_transcript,omitempty" db:"live_transcript"`
	RefinedTranscript string `json:"refined_transcript,omitempty" db:"refined_transcript"`
	RecordingURL      string `json:"recording_url,omitempty" db:"recording_url"`
	DurationSeconds   int    `json:"call_duration,omitempty" db:"call_duration"`
	ErrorMessage      string `json:"error_message,omitempty" db:"error_message"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRinging   JobStatus = "ringing"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// NonTerminalStatuses is the expected-from set for compare-and-set writes
// that must never revive a terminal job.
func NonTerminalStatuses() []JobStatus {
	return []JobStatus{JobStatusQueued, JobStatusRinging, JobStatusActive}
}

// CanTransition reports whether from -> to is a legal lifecycle move.
// Applying a terminal status on top of itself is not a transition; callers
// treat it as an idempotent no-op (duplicate webhook delivery).
func CanTransition(from, to JobStatus) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case JobStatusQueued:
		return to == JobStatusRinging || to == JobStatusActive || to.Terminal()
	case JobStatusRinging:
		return to == JobStatusActive || to.Terminal() || to == JobStatusQueued
	case JobStatusActive:
		return to.Terminal() || to == JobStatusQueued
	default:
		return false
	}
}

// NormalizePhone coerces a raw phone number into E.164 form.
// Separators are stripped; a bare 10-digit number is assumed to be US.
func NormalizePhone(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	if strings.HasPrefix(cleaned, "+") {
		return cleaned
	}
	if len(cleaned) == 10 {
		return "+1" + cleaned
	}
	return "+" + cleaned
}
