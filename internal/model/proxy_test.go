package model

import (
	"net/http"
	"testing"
)

func TestStripHopByHop(t *testing.T) {
	h := http.Header{
		"Connection":        {"keep-alive, X-Session-Hint"},
		"X-Session-Hint":    {"abc"},
		"Keep-Alive":        {"timeout=5"},
		"Transfer-Encoding": {"chunked"},
		"Upgrade":           {"websocket"},
		"Content-Type":      {"application/json"},
		"Authorization":     {"Bearer token"},
	}

	StripHopByHop(h)

	tests := []struct {
		name    string
		key     string
		wantLen int
	}{
		{"Connection stripped", "Connection", 0},
		{"Connection-listed header stripped", "X-Session-Hint", 0},
		{"Keep-Alive stripped", "Keep-Alive", 0},
		{"Transfer-Encoding stripped", "Transfer-Encoding", 0},
		{"Upgrade stripped", "Upgrade", 0},
		{"Content-Type kept", "Content-Type", 1},
		{"Authorization kept", "Authorization", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(h.Values(tt.key)); got != tt.wantLen {
				t.Errorf("header %q: got %d values, want %d", tt.key, got, tt.wantLen)
			}
		})
	}
}
