package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/contacts-gateway/pkg/broker"
	"github.com/morezero/contacts-gateway/pkg/contacts"
	"github.com/morezero/contacts-gateway/pkg/rpc"
)

const handlersLogPrefix = "server:handlers"

const maxBodyBytes = 1 << 20

// errorBody is the JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// messageBody answers delete.
type messageBody struct {
	Message string `json:"message"`
}

// HealthChecks reports each dependency.
type HealthChecks struct {
	Broker bool `json:"broker"`
}

// HealthOutput is the /health response.
type HealthOutput struct {
	Status    string       `json:"status"`
	Broker    string       `json:"broker"`
	Checks    HealthChecks `json:"checks"`
	Channels  []rpc.Stats  `json:"channels"`
	Timestamp string       `json:"timestamp"`
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /contacts", s.handleCreate)
	mux.HandleFunc("GET /contacts", s.handleList)
	mux.HandleFunc("GET /contacts/{id}", s.handleGet)
	mux.HandleFunc("PUT /contacts/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /contacts/{id}", s.handleDelete)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	return mux
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeInput(w, r)
	if !ok {
		return
	}
	created, err := s.api.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/contacts/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	all, err := s.api.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := s.api.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if c == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: contacts.StatusNotFound})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	in, ok := decodeInput(w, r)
	if !ok {
		return
	}
	updated, err := s.api.Update(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	status, err := s.api.Delete(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if status == contacts.StatusNotFound {
		code = http.StatusNotFound
	}
	writeJSON(w, code, messageBody{Message: status})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()

	h := HealthOutput{
		Status:    "healthy",
		Broker:    s.cfg.Broker,
		Checks:    HealthChecks{Broker: true},
		Channels:  s.api.Stats(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if p, ok := s.transport.(broker.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - broker ping failed: %v", handlersLogPrefix, err))
			h.Checks.Broker = false
			h.Status = "unhealthy"
		}
	}

	code := http.StatusOK
	if h.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

// pathID returns the {id} path value, answering 400 when it is not a UUID.
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid contact id %q", id)})
		return "", false
	}
	return id, true
}

func decodeInput(w http.ResponseWriter, r *http.Request) (contacts.ContactInput, bool) {
	var in contacts.ContactInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid request body: %v", err)})
		return in, false
	}
	if err := in.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return in, false
	}
	return in, true
}

// statusFor maps a contacts or rpc error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, contacts.ErrNotFound):
		return http.StatusNotFound
	case rpc.IsTimeout(err):
		return http.StatusGatewayTimeout
	case rpc.IsCanceled(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		slog.Error(fmt.Sprintf("%s - %s %s: %v", handlersLogPrefix, r.Method, r.URL.Path, err))
	}
	body := errorBody{Error: err.Error(), Code: rpc.CodeOf(err)}
	if errors.Is(err, contacts.ErrNotFound) {
		body.Error = contacts.StatusNotFound
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - response encode: %v", handlersLogPrefix, err))
	}
}
