package telephony

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVoxioPlaceCall_ExtractsHandleVariants(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"nested camel", `{"data": {"callId": "vx-1"}}`, "vx-1"},
		{"nested snake", `{"data": {"call_id": "vx-2"}}`, "vx-2"},
		{"top-level camel", `{"callId": "vx-3"}`, "vx-3"},
		{"top-level sid", `{"callSid": "vx-4"}`, "vx-4"},
		{"top-level snake", `{"call_id": "vx-5"}`, "vx-5"},
		{"missing id is soft", `{"status": "ok"}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/call/trigger" || r.Method != http.MethodPost {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				if r.Header.Get("x-api-key") != "k" {
					t.Errorf("missing api key header")
				}
				var payload voxioTriggerPayload
				if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
					t.Errorf("bad payload: %v", err)
				}
				if payload.PhoneNumber != "+14155550100" || payload.Metadata["call_id"] != "job-1" {
					t.Errorf("payload not echoed: %+v", payload)
				}
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			p := NewVoxioProvider(srv.URL, "k", "fleet_agent")
			res, err := p.PlaceCall(context.Background(), PlaceCallRequest{
				PhoneNumber: "+14155550100",
				JobID:       "job-1",
				BatchID:     "batch-1",
				DriverName:  "Asha",
				TargetRef:   "KA01AB1234",
				Message:     "hello",
			})
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if res.Handle != tc.want {
				t.Fatalf("handle = %q, want %q", res.Handle, tc.want)
			}
		})
	}
}

func TestVoxioPlaceCall_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewVoxioProvider(srv.URL, "k", "fleet_agent")
	_, err := p.PlaceCall(context.Background(), PlaceCallRequest{PhoneNumber: "+14155550100", JobID: "j"})
	if err == nil {
		t.Fatalf("expected error on 429")
	}
}

func TestVoxioPlaceCall_RequiresAPIKey(t *testing.T) {
	p := NewVoxioProvider("http://unused.example", "", "fleet_agent")
	if _, err := p.PlaceCall(context.Background(), PlaceCallRequest{PhoneNumber: "+1"}); err == nil {
		t.Fatalf("expected misconfiguration error")
	}
}

func TestVoxioCancelCall(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := NewVoxioProvider(srv.URL, "k", "fleet_agent")
	if err := p.CancelCall(context.Background(), "vx-9"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if gotMethod != http.MethodPut || gotPath != "/api/call/cancel/vx-9" {
		t.Fatalf("unexpected request %s %s", gotMethod, gotPath)
	}

	if err := p.CancelCall(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty handle")
	}
}

func TestVoxioFetchCallDetails_CoalescesFieldVariants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/call/details/vx-7" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"refined_transcript": [{"driver": "hello"}, {"agent": "hi there"}],
			"call_recording_url": "https://cdn.voxio.example/d.mp3",
			"call_duration": 55,
			"call_status": "ended"
		}`))
	}))
	defer srv.Close()

	p := NewVoxioProvider(srv.URL, "k", "fleet_agent")
	d, err := p.FetchCallDetails(context.Background(), "vx-7")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d.Transcript != "Driver: hello\nAgent: hi there" {
		t.Fatalf("transcript = %q", d.Transcript)
	}
	if d.RecordingURL != "https://cdn.voxio.example/d.mp3" || d.DurationSeconds != 55 {
		t.Fatalf("details = %+v", d)
	}
	if d.Status != "completed" {
		t.Fatalf("status = %q, want completed", d.Status)
	}
}
