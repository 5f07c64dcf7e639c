package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// BatchSummaryRequest requests aggregated job metrics for one batch.

type BatchSummaryRequest struct {
	BatchID string `json:"batch_id"`
}

type BatchSummary struct {
	BatchID   string `json:"batch_id"`
	BatchName string `json:"batch_name"`
	Status    string `json:"status"`

	TotalJobs     int `json:"total_jobs"`
	QueuedJobs    int `json:"queued_jobs"`
	RingingJobs   int `json:"ringing_jobs"`
	ActiveJobs    int `json:"active_jobs"`
	CompletedJobs int `json:"completed_jobs"`
	FailedJobs    int `json:"failed_jobs"`
	CanceledJobs  int `json:"canceled_jobs"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	RecordedCalls   int `json:"recorded_calls"`
	TranscribedCalls int `json:"transcribed_calls"`
}

// HistoryRequest requests the flat call log across batches within a range.
// A zero range defaults to the trailing 30 days.

type HistoryRequest struct {
	Range TimeRange `json:"range"`
	Limit int       `json:"limit,omitempty"`
}

type HistoryEntry struct {
	JobID           string     `json:"job_id"`
	BatchID         string     `json:"batch_id"`
	DriverName      string     `json:"driver_name"`
	PhoneNumber     string     `json:"phone_number"`
	TargetRef       string     `json:"target_ref,omitempty"`
	Status          string     `json:"status"`
	DurationSeconds int        `json:"duration,omitempty"`
	RecordingURL    string     `json:"recording_url,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}
