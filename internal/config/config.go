// Package config provides configuration helpers for go-callkit commands.
package config

import (
	"os"
)

// Default backend configuration.
const (
	DefaultBackendURL = "http://localhost:8000"
	DefaultWebPort    = "8181"
)

// BackendURL returns the PulseCall backend URL from the PULSECALL_URL env var.
// Falls back to the provided default if not set.
func BackendURL(defaultURL string) string {
	if url := os.Getenv("PULSECALL_URL"); url != "" {
		return url
	}
	return defaultURL
}

// APIKey returns the backend API key from PULSECALL_API_KEY, or "" if unset.
func APIKey() string {
	return os.Getenv("PULSECALL_API_KEY")
}

// SignalURL returns the microphone signalling server URL from MIC_SIGNAL_URL.
// Falls back to the provided default if not set.
func SignalURL(defaultURL string) string {
	if url := os.Getenv("MIC_SIGNAL_URL"); url != "" {
		return url
	}
	return defaultURL
}

// WebPort returns the dashboard port from CALLKIT_WEB_PORT or the default.
func WebPort() string {
	if port := os.Getenv("CALLKIT_WEB_PORT"); port != "" {
		return port
	}
	return DefaultWebPort
}
