package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/switchboard/internal/httpserver/deps"
	"github.com/MrSnakeDoc/switchboard/internal/supervisor"
)

const readyCheckTimeout = 2 * time.Second

type readyzResponse struct {
	Ready    bool   `json:"ready"`
	Services int    `json:"services"`
	Running  int    `json:"running"`
	Faulted  int    `json:"faulted"`
	Error    string `json:"error,omitempty"`
}

// Readyz reports 503 while the optional dependency check fails.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := readyzResponse{Ready: true}
		if d.Registry != nil {
			resp.Services = d.Registry.Len()
		}
		if d.Runtime != nil {
			for _, h := range d.Runtime.Snapshot() {
				switch h.Status {
				case supervisor.StatusRunning:
					resp.Running++
				case supervisor.StatusFaulted:
					resp.Faulted++
				}
			}
		}

		status := http.StatusOK
		if d.ReadyCheck != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
			defer cancel()
			if err := d.ReadyCheck(ctx); err != nil {
				resp.Ready = false
				resp.Error = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, resp)
	}
}
