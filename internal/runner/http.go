package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
	"github.com/MrSnakeDoc/switchboard/internal/logger"
	"github.com/MrSnakeDoc/switchboard/internal/supervisor"
)

const maxMessageBody = 64 * 1024

func init() { Register(domain.TypeHTTP, buildHTTP) }

// httpEndpoint serves the router over HTTP on its own port:
//
//	GET  /messages         every latest message
//	GET  /messages/{name}  one message, 404 when absent
//	POST /messages/{name}  sets a message; posting to the service's own name
//	                       publishes and forwards it
type httpEndpoint struct {
	svc  *Service
	addr string
}

func buildHTTP(s *Service) (supervisor.Runner, error) {
	opts := s.Def.Options.(*domain.HTTPOptions)
	return &httpEndpoint{svc: s, addr: net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))}, nil
}

func (h *httpEndpoint) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/messages", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, h.svc.Router.Snapshot())
	})
	r.Get("/messages/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		msg, ok := h.svc.Router.TryGetMessage(name)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no message for " + name})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"name": name, "message": msg})
	})
	r.Post("/messages/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBody))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		msg := strings.TrimRight(string(body), "\r\n")

		if name == h.svc.Name {
			h.svc.Publish(msg)
		} else if err := h.svc.Router.UpdateMessage(name, msg); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func (h *httpEndpoint) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.addr, err)
	}

	srv := &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	h.svc.Log().Info("http endpoint listening", logger.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
