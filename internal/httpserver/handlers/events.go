package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/switchboard/internal/httpserver/deps"
	"github.com/MrSnakeDoc/switchboard/internal/logger"
)

// ListEvents serves the recent lifecycle and error events, oldest first.
func ListEvents(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events := []logger.Event{}
		if d.Events != nil {
			events = append(events, d.Events.Events()...)
		}
		writeJSON(w, http.StatusOK, events)
	}
}
