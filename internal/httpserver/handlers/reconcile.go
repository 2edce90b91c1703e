package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/switchboard/internal/httpserver/deps"
	"github.com/MrSnakeDoc/switchboard/internal/logger"
)

type reconcileResponse struct {
	Queued bool   `json:"queued"`
	Detail string `json:"detail"`
}

// Reconcile queues a reconcile pass: 202 when queued, 429 when one is pending.
func Reconcile(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Reconciler.TryTrigger() {
			d.Logger.Info("manual reconcile triggered via endpoint",
				logger.String("remote_ip", r.RemoteAddr))
			writeJSON(w, http.StatusAccepted, reconcileResponse{Queued: true, Detail: "reconcile queued"})
			return
		}
		d.Logger.Warn("reconcile already queued",
			logger.String("remote_ip", r.RemoteAddr))
		writeJSON(w, http.StatusTooManyRequests, reconcileResponse{Detail: "reconcile already queued, please wait"})
	}
}
