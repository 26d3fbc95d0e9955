package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jnoelg/watchbridge/internal/bridge"
	"github.com/jnoelg/watchbridge/internal/options"
	"github.com/jnoelg/watchbridge/internal/storage"
)

const maxRequestBodySize = 64 << 10 // 64KB

// MessageStore reads the outbound message log.
type MessageStore interface {
	ListMessages(limit, offset int) ([]storage.MessageRecord, error)
	GetMessage(id string) (storage.MessageRecord, error)
}

// Deps holds what the HTTP surface needs.
type Deps struct {
	Loop     *bridge.Loop
	Repo     *options.Repository
	Messages MessageStore
	// Device serves the watch's websocket connection. Optional.
	Device http.Handler
	// DeviceConnected reports whether a watch is attached. Optional.
	DeviceConnected func() bool
	Token           string
}

// NewHandler returns the bridge's HTTP API.
//
// /health and /close are always open: the first is polled by supervisors
// and the second is the redirect target of the settings page, which cannot
// send headers. /close is instead bound to the open flow: it must carry the
// flow id handed out by show-configuration. Everything else requires the
// bearer token when one is set.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	r.Get("/close", handleClose(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/events/ready", handleReady(deps))
		r.Post("/events/show-configuration", handleShowConfiguration(deps))
		r.Post("/events/webview-closed", handleWebviewClosed(deps))
		r.Get("/options", handleGetOptions(deps))
		r.Get("/messages", handleListMessages(deps))
		r.Get("/messages/{id}", handleGetMessage(deps))
		if deps.Device != nil {
			r.Handle("/device", deps.Device)
		}
	})

	return r
}

type healthResponse struct {
	Status          string       `json:"status"`
	Variant         string       `json:"variant"`
	State           bridge.State `json:"state"`
	DeviceConnected bool         `json:"device_connected"`
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := deps.Loop.Bridge()
		resp := healthResponse{
			Status:  "starting",
			Variant: b.Variant().Name,
			State:   b.State(),
		}
		if resp.State.Ready {
			resp.Status = "ok"
		}
		if deps.DeviceConnected != nil {
			resp.DeviceConnected = deps.DeviceConnected()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleReady(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Loop.Ready(r.Context()); err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "event not handled: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, deps.Loop.Bridge().State())
	}
}

func handleShowConfiguration(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Loop.ShowConfiguration(r.Context())
		switch {
		case errors.Is(err, bridge.ErrFlowInProgress):
			httpError(w, http.StatusConflict, "conflict_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "show configuration failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type closeRequest struct {
	Response *string `json:"response"`
}

func handleWebviewClosed(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req closeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Response == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "response is required")
			return
		}
		closeFlow(w, r, deps, *req.Response)
	}
}

// handleClose accepts the page's response as a query parameter so the
// settings page can redirect the browser straight back to the bridge. The
// flow parameter must name the open flow.
func handleClose(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res, err := deps.Loop.PageClosed(r.Context(), q.Get("flow"), q.Get("response"))
		writeCloseResult(w, res, err)
	}
}

func closeFlow(w http.ResponseWriter, r *http.Request, deps Deps, response string) {
	res, err := deps.Loop.WebviewClosed(r.Context(), response)
	writeCloseResult(w, res, err)
}

func writeCloseResult(w http.ResponseWriter, res bridge.CloseResult, err error) {
	switch {
	case errors.Is(err, bridge.ErrFlowMismatch):
		httpError(w, http.StatusConflict, "conflict_error", "%v", err)
		return
	case errors.Is(err, bridge.ErrMalformedResponse):
		httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "%v", err)
		return
	case err != nil:
		httpError(w, http.StatusInternalServerError, "api_error", "closing configuration failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func handleGetOptions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := deps.Repo.Resolve(deps.Loop.Bridge().Variant())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read options: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func handleListMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		msgs, err := deps.Messages.ListMessages(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list messages: %v", err)
			return
		}
		if msgs == nil {
			msgs = []storage.MessageRecord{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleGetMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		msg, err := deps.Messages.GetMessage(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "message not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get message: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}
