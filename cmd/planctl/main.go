// Package main implements the planctl CLI for manual operations against
// the plannerd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the plannerd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "planctl",
	Short: "CLI for plannerd HTTP server operations",
	Long: `planctl is a command-line interface for interacting with the plannerd daemon.
It finds open slots, inspects and decides automation flows, drives calendar
reconciliation, and shows learned preferences.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8484", "plannerd server URL")
	rootCmd.AddCommand(healthCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check plannerd server health",
	Long: `Check the health status of the plannerd HTTP server.

Examples:
  # Check health
  planctl health

  # Check health on a different server
  planctl health --server http://localhost:9090`,
	RunE: runHealth,
}

// HealthResponse matches internal/http/types.go HealthResponse
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	var health HealthResponse
	if err := apiCall(http.MethodGet, "/health", nil, &health, http.StatusOK); err != nil {
		return err
	}

	fmt.Printf("Server Status: %s\n", health.Status)
	fmt.Printf("Server URL: %s\n", serverURL)

	return nil
}

// apiCall performs one JSON request against the daemon. The response
// body is decoded into out when it is non-nil and the status matches
// want; any other status becomes an error carrying the body.
func apiCall(method, path string, body, out any, want int) error {
	var reader io.Reader
	if body != nil {
		reqJSON, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(reqJSON)
	}

	url := serverURL + path
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Helper functions

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
