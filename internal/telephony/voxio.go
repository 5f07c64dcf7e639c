package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// VoxioProvider dials through the Voxio voice-agent REST API.
//
// Endpoints:
//
//	POST {base}/api/call/trigger        place a call
//	PUT  {base}/api/call/cancel/{id}    cancel a call
//	GET  {base}/api/call/details/{id}   call detail record
//
// Auth is a static x-api-key header. Response shapes vary between Voxio
// deployments, so id and detail extraction is deliberately tolerant.
type VoxioProvider struct {
	BaseURL   string
	APIKey    string
	AgentName string

	// HTTPClient is injectable for tests; defaults to a 30s-timeout client.
	HTTPClient *http.Client

	clock func() time.Time
}

func NewVoxioProvider(baseURL, apiKey, agentName string) *VoxioProvider {
	return &VoxioProvider{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		AgentName:  agentName,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		clock:      time.Now,
	}
}

func (p *VoxioProvider) Name() string { return "voxio" }

func (p *VoxioProvider) HealthCheck(ctx context.Context) error {
	if p.BaseURL == "" {
		return fmt.Errorf("telephony: voxio base url not configured")
	}
	if p.APIKey == "" {
		return fmt.Errorf("telephony: voxio api key not configured")
	}
	return nil
}

type voxioTriggerPayload struct {
	PhoneNumber string            `json:"phoneNumber"`
	AgentName   string            `json:"agentName"`
	Metadata    map[string]string `json:"metadata"`
}

func (p *VoxioProvider) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	if p.APIKey == "" {
		return PlaceCallResult{}, fmt.Errorf("telephony: voxio api key not configured")
	}
	if req.PhoneNumber == "" {
		return PlaceCallResult{}, fmt.Errorf("telephony: phone number required")
	}

	payload := voxioTriggerPayload{
		PhoneNumber: req.PhoneNumber,
		AgentName:   p.AgentName,
		Metadata: map[string]string{
			"call_id":      req.JobID,
			"batch_id":     req.BatchID,
			"driver_name":  req.DriverName,
			"driver_phone": req.PhoneNumber,
			"target_ref":   req.TargetRef,
			"message":      req.Message,
		},
	}
	body, err := p.do(ctx, http.MethodPost, "/api/call/trigger", payload)
	if err != nil {
		return PlaceCallResult{}, err
	}

	return PlaceCallResult{Handle: extractCallHandle(body), Raw: string(body)}, nil
}

func (p *VoxioProvider) CancelCall(ctx context.Context, handle string) error {
	if handle == "" {
		return fmt.Errorf("telephony: no provider handle to cancel")
	}
	_, err := p.do(ctx, http.MethodPut, "/api/call/cancel/"+handle, struct{}{})
	return err
}

func (p *VoxioProvider) FetchCallDetails(ctx context.Context, handle string) (CallDetails, error) {
	if handle == "" {
		return CallDetails{}, fmt.Errorf("telephony: no provider handle")
	}
	body, err := p.do(ctx, http.MethodGet, "/api/call/details/"+handle, nil)
	if err != nil {
		return CallDetails{}, err
	}

	var raw struct {
		RefinedTranscript  json.RawMessage `json:"refinedTranscript"`
		RefinedTranscript2 json.RawMessage `json:"refined_transcript"`
		Transcript         json.RawMessage `json:"transcript"`

		RecordingURL     string `json:"recordingUrl"`
		RecordingURL2    string `json:"recording_url"`
		CallRecordingURL string `json:"call_recording_url"`

		Duration     int `json:"duration"`
		CallDuration int `json:"call_duration"`

		Status     string `json:"status"`
		CallStatus string `json:"call_status"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return CallDetails{}, fmt.Errorf("telephony: voxio details decode: %w", err)
	}

	out := CallDetails{Handle: handle, FetchedAt: p.now().UTC()}
	out.Transcript = firstNonEmpty(
		FormatTranscript(raw.RefinedTranscript),
		FormatTranscript(raw.RefinedTranscript2),
		FormatTranscript(raw.Transcript),
	)
	out.RecordingURL = firstNonEmpty(raw.RecordingURL, raw.RecordingURL2, raw.CallRecordingURL)
	if raw.Duration > 0 {
		out.DurationSeconds = raw.Duration
	} else {
		out.DurationSeconds = raw.CallDuration
	}
	if st := firstNonEmpty(raw.Status, raw.CallStatus); st != "" {
		out.Status = MapProviderStatus(st)
	}
	return out, nil
}

func (p *VoxioProvider) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.APIKey)

	client := p.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telephony: voxio %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	out, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("telephony: voxio read body: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("telephony: voxio %s %s: status %d: %s", method, path, res.StatusCode, truncate(string(out), 512))
	}
	return out, nil
}

// extractCallHandle digs the provider call id out of the known response
// shapes: {data:{callId}}, {data:{call_id}}, {callId}, {callSid}, {call_id}.
func extractCallHandle(body []byte) string {
	var res struct {
		Data *struct {
			CallID  string `json:"callId"`
			CallID2 string `json:"call_id"`
		} `json:"data"`
		CallID  string `json:"callId"`
		CallSid string `json:"callSid"`
		CallID2 string `json:"call_id"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return ""
	}
	if res.Data != nil {
		if h := firstNonEmpty(res.Data.CallID, res.Data.CallID2); h != "" {
			return h
		}
	}
	return firstNonEmpty(res.CallID, res.CallSid, res.CallID2)
}

func (p *VoxioProvider) now() time.Time {
	if p.clock != nil {
		return p.clock()
	}
	return time.Now()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
