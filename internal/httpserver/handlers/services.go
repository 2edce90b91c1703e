package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
	"github.com/MrSnakeDoc/switchboard/internal/httpserver/deps"
	"github.com/MrSnakeDoc/switchboard/internal/logger"
	"github.com/MrSnakeDoc/switchboard/internal/supervisor"
)

const maxDefinitionBody = 256 * 1024

type serviceView struct {
	Definition domain.ServiceDefinition `json:"definition"`
	Status     string                   `json:"status"`
	Started    *time.Time               `json:"started,omitempty"`
	LastError  string                   `json:"lastError,omitempty"`
}

func viewsOf(d deps.Deps, defs []domain.ServiceDefinition) []serviceView {
	running := make(map[string]supervisor.HandleInfo)
	if d.Runtime != nil {
		for _, h := range d.Runtime.Snapshot() {
			running[h.Name] = h
		}
	}
	out := make([]serviceView, 0, len(defs))
	for _, def := range defs {
		v := serviceView{Definition: def, Status: supervisor.StatusStopped.String()}
		if h, ok := running[def.Name]; ok {
			started := h.Started
			v.Status = h.Status.String()
			v.Started = &started
			v.LastError = h.LastError
		}
		out = append(out, v)
	}
	return out
}

// ListServices returns every definition with its runtime status.
func ListServices(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, viewsOf(d, d.Registry.List()))
	}
}

// GetService returns one definition with its runtime status.
func GetService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		def, ok := d.Registry.Get(name)
		if !ok {
			writeError(d, w, fmt.Errorf("%w: %q", domain.ErrUnknownService, name))
			return
		}
		writeJSON(w, http.StatusOK, viewsOf(d, []domain.ServiceDefinition{def})[0])
	}
}

// CreateService adds a definition. 400 when invalid, 409 when the name exists.
func CreateService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, err := decodeDefinition(r)
		if err != nil {
			writeError(d, w, err)
			return
		}
		stored, err := d.Registry.Add(def)
		if err != nil {
			writeError(d, w, err)
			return
		}
		d.Logger.Info("service created via api",
			logger.String("name", stored.Name),
			logger.String("remote_ip", r.RemoteAddr))
		writeJSON(w, http.StatusCreated, stored)
	}
}

// UpdateService replaces the definition named in the path.
func UpdateService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		def, err := decodeDefinition(r)
		if err != nil {
			writeError(d, w, err)
			return
		}
		if def.Name == "" {
			def.Name = name
		}
		if def.Name != name {
			writeError(d, w, fmt.Errorf("%w: body names %q but path names %q", domain.ErrInvalidConfig, def.Name, name))
			return
		}
		if err := d.Registry.Update(def); err != nil {
			writeError(d, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DeleteService removes a definition. Its service stops on the next reconcile.
func DeleteService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Registry.Remove(chi.URLParam(r, "name")); err != nil {
			writeError(d, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// SetActive flips IsActive on the named definition.
func SetActive(d deps.Deps, active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Registry.SetActive(chi.URLParam(r, "name"), active); err != nil {
			writeError(d, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func decodeDefinition(r *http.Request) (domain.ServiceDefinition, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDefinitionBody))
	if err != nil {
		return domain.ServiceDefinition{}, err
	}
	var def domain.ServiceDefinition
	if err := json.Unmarshal(body, &def); err != nil {
		return domain.ServiceDefinition{}, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	return def, nil
}
