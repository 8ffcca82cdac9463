package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"jarpc/codec"
	"jarpc/manager"
	"jarpc/protocol"
	"jarpc/tasks"
)

// Content types understood by POST /rpc. Anything else is read as JSON.
const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

// NewHTTPHandler routes:
//
//	POST /rpc      one request body in, one response body out (204 when none is due)
//	GET  /healthz  200 while serving, 503 once draining
//	GET  /methods  declared method names
//	GET  /metrics  when gatherer is non-nil
func NewHTTPHandler(mgr *manager.Manager, log zerolog.Logger, gatherer prometheus.Gatherer) http.Handler {
	h := &httpHandler{mgr: mgr, log: log}
	r := chi.NewRouter()
	r.Post("/rpc", h.rpc)
	r.Get("/healthz", h.healthz)
	r.Get("/methods", h.methods)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

type httpHandler struct {
	mgr *manager.Manager
	log zerolog.Logger
}

func codecFor(contentType string) (codec.Codec, string) {
	if strings.HasPrefix(contentType, ContentTypeCBOR) {
		return codec.GetCodec(codec.CodecTypeCBOR), ContentTypeCBOR
	}
	return codec.GetCodec(codec.CodecTypeJSON), ContentTypeJSON
}

func (h *httpHandler) rpc(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(protocol.MaxBodyLen)))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	c, contentType := codecFor(r.Header.Get("Content-Type"))

	out, err := h.mgr.HandleCodec(r.Context(), c, body)
	switch {
	case errors.Is(err, tasks.ErrClosed):
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	case errors.Is(err, tasks.ErrFull):
		w.Header().Set("Retry-After", "1")
		http.Error(w, "too many background calls", http.StatusServiceUnavailable)
		return
	case errors.Is(err, context.Canceled):
		// Client went away.
		return
	case err != nil:
		h.log.Error().Err(err).Msg("cannot handle http request")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		h.log.Debug().Err(err).Msg("cannot write http response")
	}
}

func (h *httpHandler) healthz(w http.ResponseWriter, _ *http.Request) {
	if h.mgr.Closed() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *httpHandler) methods(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", ContentTypeJSON)
	_ = json.NewEncoder(w).Encode(map[string]any{"methods": h.mgr.Dispatcher().Methods()})
}
