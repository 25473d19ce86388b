package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// withTestServer points the CLI at a fake daemon for one test.
func withTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	old := serverURL
	serverURL = srv.URL
	t.Cleanup(func() {
		serverURL = old
		srv.Close()
	})
	return srv
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	want := []string{"health", "slots", "flows", "sync", "prefs"}
	for _, name := range want {
		found := false
		for _, cmd := range rootCmd.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("%s command not found in rootCmd", name)
		}
	}
}

func TestRunHealth(t *testing.T) {
	var gotPath string
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok","service":"plannerd"}`)
	})

	if err := runHealth(healthCmd, nil); err != nil {
		t.Fatalf("health command failed: %v", err)
	}
	if gotPath != "/health" {
		t.Errorf("expected /health, got %s", gotPath)
	}
}

func TestApiCall_ErrorCarriesStatusAndBody(t *testing.T) {
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		fmt.Fprint(w, `{"error":"token already used or expired"}`)
	})

	err := apiCall(http.MethodPost, "/v1/sync/actions/tok/apply", nil, nil, http.StatusOK)
	if err == nil {
		t.Fatal("expected an error for status 410")
	}
	if !strings.Contains(err.Error(), "410") {
		t.Errorf("error should name the status code, got: %v", err)
	}
	if !strings.Contains(err.Error(), "token already used") {
		t.Errorf("error should carry the response body, got: %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 12); got != "short" {
		t.Errorf("expected short unchanged, got %q", got)
	}
	if got := truncate("a much longer string", 12); got != "a much lo..." {
		t.Errorf("unexpected truncation: %q", got)
	}
}
