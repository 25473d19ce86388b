package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	v1 "github.com/fyrsmithlabs/plannerd/pkg/api/v1"
)

func TestRunSlots_PostsRequest(t *testing.T) {
	var gotPath string
	var gotReq v1.SlotsRequest
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"slots":[{"start":"2026-09-01T09:00:00Z","end":"2026-09-01T12:00:00Z","score":0.8,"reasons":["preferred-time-of-day"]}]}`)
	})

	slotsUser = "alice"
	slotsDuration = 60
	slotsCategory = "deep-work"
	slotsDeadline = ""
	defer func() { slotsUser, slotsDuration, slotsCategory = "", 0, "" }()

	if err := runSlots(slotsCmd, nil); err != nil {
		t.Fatalf("slots command failed: %v", err)
	}
	if gotPath != "/v1/users/alice/slots" {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if gotReq.DurationMinutes != 60 {
		t.Errorf("expected duration 60, got %d", gotReq.DurationMinutes)
	}
	if gotReq.Category != "deep-work" {
		t.Errorf("expected category deep-work, got %q", gotReq.Category)
	}
}

func TestRunSlots_RejectsBadDeadline(t *testing.T) {
	slotsUser = "alice"
	slotsDuration = 60
	slotsDeadline = "tomorrow"
	defer func() { slotsUser, slotsDuration, slotsDeadline = "", 0, "" }()

	err := runSlots(slotsCmd, nil)
	if err == nil {
		t.Fatal("expected an error for a non-RFC3339 deadline")
	}
}
