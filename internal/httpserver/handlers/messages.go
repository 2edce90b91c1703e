package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
	"github.com/MrSnakeDoc/switchboard/internal/httpserver/deps"
	"github.com/MrSnakeDoc/switchboard/internal/router"
)

const maxMessageBody = 64 * 1024

type messageResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func ListMessages(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Router.Snapshot())
	}
}

func GetMessage(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		msg, ok := d.Router.TryGetMessage(name)
		if !ok {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "no message for " + name})
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Name: name, Message: msg})
	}
}

// PutMessage stores the request body as the latest message of name.
func PutMessage(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBody))
		if err != nil {
			writeError(d, w, err)
			return
		}
		if err := d.Router.UpdateMessage(chi.URLParam(r, "name"), strings.TrimRight(string(body), "\r\n")); err != nil {
			writeError(d, w, fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type resolveRequest struct {
	Template string `json:"template"`
}

type resolveResponse struct {
	Result string   `json:"result"`
	Tokens []string `json:"tokens,omitempty"`
}

// Resolve substitutes {Name.Message} tokens in the posted template.
func Resolve(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resolveRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageBody)).Decode(&req); err != nil {
			writeError(d, w, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err))
			return
		}
		writeJSON(w, http.StatusOK, resolveResponse{
			Result: d.Router.ResolveTokens(req.Template),
			Tokens: router.Tokens(req.Template),
		})
	}
}
