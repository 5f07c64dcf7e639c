package telephony

import (
	"context"
	"time"
)

// DialProvider is the provider-agnostic interface for outbound voice calls.
//
// Rules:
// - No provider HTTP calls outside telephony adapters.
// - Keep request/response types provider-agnostic; raw provider payloads may
//   be kept in Raw fields for debugging.
// - Lifecycle events arrive asynchronously through the webhook, not through
//   these calls.
type DialProvider interface {
	Name() string

	// HealthCheck reports whether the adapter is usable (credentials present,
	// endpoint configured). The dispatch loop refuses to start a batch when
	// this fails, leaving the batch un-started.
	HealthCheck(ctx context.Context) error

	// PlaceCall asks the provider to dial the job's phone number. The returned
	// handle identifies the call at the provider; it may legitimately be empty
	// when the provider response carries no recognizable id.
	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)

	// CancelCall is best-effort: the orchestrator force-fails the job locally
	// regardless of the outcome.
	CancelCall(ctx context.Context, handle string) error

	// FetchCallDetails is the pull fallback for transcripts when no terminal
	// webhook ever arrived.
	FetchCallDetails(ctx context.Context, handle string) (CallDetails, error)
}

// PlaceCallRequest carries the job metadata echoed back by provider webhooks.
type PlaceCallRequest struct {
	PhoneNumber string `json:"phone_number"`

	JobID   string `json:"job_id"`
	BatchID string `json:"batch_id"`

	DriverName string `json:"driver_name"`
	TargetRef  string `json:"target_ref"`
	Message    string `json:"message"`
}

type PlaceCallResult struct {
	// Handle is the provider call identifier, extracted tolerantly from the
	// provider response. Empty when no id could be found.
	Handle string `json:"handle"`

	// Raw is the provider response body, kept for debugging.
	Raw string `json:"raw,omitempty"`
}

// CallDetails is a provider-agnostic call detail record from the provider's
// call-details endpoint.
type CallDetails struct {
	Handle string `json:"handle"`

	// Status is the provider status string mapped to the canonical job
	// vocabulary where possible (see MapProviderStatus). Unmapped statuses
	// pass through unchanged.
	Status string `json:"status,omitempty"`

	Transcript      string `json:"transcript,omitempty"`
	RecordingURL    string `json:"recording_url,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`

	FetchedAt time.Time `json:"fetched_at"`
}

// MapProviderStatus normalizes provider status strings into the canonical
// job status vocabulary.
func MapProviderStatus(s string) string {
	switch normalizeToken(s) {
	case "ringing":
		return "ringing"
	case "in_progress", "in-progress", "active", "connected":
		return "active"
	case "completed", "ended", "call_finished":
		return "completed"
	case "failed", "no_answer", "busy":
		return "failed"
	case "canceled":
		return "canceled"
	default:
		return s
	}
}
