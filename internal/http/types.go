package http

import "github.com/fyrsmithlabs/plannerd/internal/store"

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// StatusResponse is the response body for GET /status.
type StatusResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version,omitempty"`
	Services map[string]string `json:"services,omitempty"`
	Counts   *store.Counts     `json:"counts,omitempty"`
}
