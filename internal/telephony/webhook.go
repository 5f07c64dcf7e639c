package telephony

import (
	"encoding/json"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// EventKind is the canonical lifecycle vocabulary every provider event is
// normalized into before any business logic runs.
type EventKind string

const (
	EventQueued    EventKind = "queued"
	EventPlaced    EventKind = "placed"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventNoAnswer  EventKind = "no_answer"
	EventBusy      EventKind = "busy"
	EventCanceled  EventKind = "canceled"
	EventUnknown   EventKind = "unknown"
)

// Terminal reports whether the event kind ends a call's lifecycle.
func (k EventKind) Terminal() bool {
	switch k {
	case EventCompleted, EventFailed, EventNoAnswer, EventBusy, EventCanceled:
		return true
	default:
		return false
	}
}

// NormalizeEventKind maps provider event names onto the canonical kinds,
// case-insensitively. Unrecognized names map to EventUnknown; the ingestor
// acknowledges and drops those.
func NormalizeEventKind(name string) EventKind {
	switch normalizeToken(name) {
	case "call.in_queue":
		return EventQueued
	case "call.placed", "call.initiated":
		return EventPlaced
	case "call.completed":
		return EventCompleted
	case "call.failed":
		return EventFailed
	case "call.no_answer":
		return EventNoAnswer
	case "call.busy":
		return EventBusy
	case "call.canceled", "call.cancelled":
		return EventCanceled
	default:
		return EventUnknown
	}
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// WebhookPayload is the loosely-typed provider event envelope. Voxio has
// shipped both {eventType} and {event} names, and both a flat data object
// and a workflow node wrapper; all variants are tolerated here.
type WebhookPayload struct {
	EventType string `json:"eventType,omitempty"`
	Event     string `json:"event,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`

	Data     *WebhookData     `json:"data,omitempty"`
	Metadata *WebhookMetadata `json:"metadata,omitempty"`
}

type WebhookData struct {
	CallID         string `json:"callId,omitempty"`
	CustomerNumber string `json:"customerNumber,omitempty"`
	Duration       int    `json:"duration,omitempty"`
	RecordingURL   string `json:"recordingURL,omitempty"`

	// Transcript is either a plain string or an ordered list of single-key
	// speaker-turn objects; see FormatTranscript.
	Transcript json.RawMessage `json:"transcript,omitempty"`

	Analysis *WebhookAnalysis `json:"analysis,omitempty"`
	Node     *WebhookNode     `json:"node,omitempty"`
}

type WebhookAnalysis struct {
	Summary        string `json:"summary,omitempty"`
	UserSentiment  string `json:"user_sentiment,omitempty"`
	TaskCompletion bool   `json:"task_completion,omitempty"`
}

type WebhookNode struct {
	Output *WebhookNodeOutput `json:"output,omitempty"`
}

type WebhookNodeOutput struct {
	CallID           string          `json:"call_id,omitempty"`
	CallStatus       string          `json:"call_status,omitempty"`
	Transcript       json.RawMessage `json:"transcript,omitempty"`
	CallRecordingURL string          `json:"call_recording_url,omitempty"`
	Analysis         string          `json:"analysis,omitempty"`
}

// WebhookMetadata echoes back the metadata sent with PlaceCall.
type WebhookMetadata struct {
	CallID    string `json:"call_id,omitempty"`
	BatchID   string `json:"batch_id,omitempty"`
	TargetRef string `json:"target_ref,omitempty"`
}

// CallEvent is the normalized form handed to the ingestor.
type CallEvent struct {
	Kind    EventKind
	RawKind string

	// CallRef is the provider's reference for the call: either our internal
	// job id (echoed from metadata) or the provider handle.
	CallRef string

	Transcript      string
	RecordingURL    string
	DurationSeconds int
	Summary         string
}

// Normalize flattens the payload variants into a CallEvent.
func (p WebhookPayload) Normalize() CallEvent {
	rawKind := p.EventType
	if rawKind == "" {
		rawKind = p.Event
	}

	ev := CallEvent{
		Kind:    NormalizeEventKind(rawKind),
		RawKind: normalizeToken(rawKind),
		CallRef: p.callRef(),
	}

	if p.Data != nil {
		ev.DurationSeconds = p.Data.Duration
		ev.RecordingURL = p.Data.RecordingURL
		ev.Transcript = FormatTranscript(p.Data.Transcript)
		if p.Data.Analysis != nil {
			ev.Summary = p.Data.Analysis.Summary
		}
		if out := p.nodeOutput(); out != nil {
			if ev.Transcript == "" {
				ev.Transcript = FormatTranscript(out.Transcript)
			}
			if ev.RecordingURL == "" {
				ev.RecordingURL = out.CallRecordingURL
			}
			if ev.Summary == "" {
				ev.Summary = out.Analysis
			}
		}
	}
	return ev
}

func (p WebhookPayload) callRef() string {
	if p.Data != nil && p.Data.CallID != "" {
		return p.Data.CallID
	}
	if out := p.nodeOutput(); out != nil && out.CallID != "" {
		return out.CallID
	}
	if p.Metadata != nil {
		return p.Metadata.CallID
	}
	return ""
}

func (p WebhookPayload) nodeOutput() *WebhookNodeOutput {
	if p.Data == nil || p.Data.Node == nil {
		return nil
	}
	return p.Data.Node.Output
}

// FormatTranscript renders a provider transcript into readable multi-line
// text. Accepted shapes: a plain string, or an ordered list of speaker-turn
// objects like [{"driver": "hello"}, {"agent": "hi there"}], which becomes
// "Driver: hello\nAgent: hi there".
func FormatTranscript(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var turns []map[string]string
	if err := json.Unmarshal(raw, &turns); err != nil {
		return ""
	}

	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		keys := make([]string, 0, len(turn))
		for k := range turn {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, role := range keys {
			lines = append(lines, capitalize(role)+": "+turn[role])
		}
	}
	return strings.Join(lines, "\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
