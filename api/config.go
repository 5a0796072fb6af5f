// Package api provides the HTTP API for recalling, learning and managing
// cached tool results.
package api

import "net/http"

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	// MCPHandler is mounted at /mcp when set.
	MCPHandler http.Handler

	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
}
