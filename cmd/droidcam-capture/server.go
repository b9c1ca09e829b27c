package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/moralrecordings/gst-droid/droidcamsrc"
	"github.com/moralrecordings/gst-droid/internal/device"
	"github.com/moralrecordings/gst-droid/internal/pad"
	"github.com/moralrecordings/gst-droid/internal/quirks"
)

type stateResponse struct {
	State  string               `json:"state"`
	Result string               `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
	Pads   map[string]pad.Stats `json:"pads,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	src *droidcamsrc.CamSrc
	log zerolog.Logger
}

func newRouter(src *droidcamsrc.CamSrc, gatherer prometheus.Gatherer, log zerolog.Logger) http.Handler {
	h := &handler{src: src, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/state", h.getState)
	r.Put("/state/{state}", h.putState)
	r.Get("/properties", h.getProperties)
	r.Put("/properties/{name}", h.putProperty)
	r.Get("/quirks", h.getQuirks)
	r.Post("/quirks/{id}", h.postQuirk)
	return r
}

func (h *handler) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stateResponse{
		State: h.src.State().String(),
		Pads:  h.src.Stats(),
	})
}

func (h *handler) putState(w http.ResponseWriter, r *http.Request) {
	target, err := droidcamsrc.ParseState(chi.URLParam(r, "state"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ret, err := h.src.SetState(r.Context(), target)
	resp := stateResponse{State: h.src.State().String(), Result: ret.String()}
	if err != nil {
		h.log.Warn().Err(err).Stringer("target", target).Msg("state change request failed")
		resp.Error = err.Error()
		writeJSON(w, http.StatusConflict, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) getProperties(w http.ResponseWriter, r *http.Request) {
	props := map[string]any{}
	for _, name := range []string{droidcamsrc.PropCameraDevice, droidcamsrc.PropMode, droidcamsrc.PropReadyForCapture} {
		v, err := h.src.GetProperty(name)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
		if s, ok := v.(interface{ String() string }); ok {
			v = s.String()
		}
		props[name] = v
	}
	writeJSON(w, http.StatusOK, props)
}

func (h *handler) putProperty(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1024))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	name := chi.URLParam(r, "name")
	err = h.src.SetProperty(name, strings.TrimSpace(string(body)))
	switch {
	case errors.Is(err, droidcamsrc.ErrUnknownProperty):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, droidcamsrc.ErrReadOnlyProperty):
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *handler) getQuirks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.src.Quirks().IDs())
}

func (h *handler) postQuirk(w http.ResponseWriter, r *http.Request) {
	enable := true
	if v := r.URL.Query().Get("enable"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "enable: " + err.Error()})
			return
		}
		enable = b
	}

	err := h.src.ApplyQuirk(chi.URLParam(r, "id"), enable)
	switch {
	case errors.Is(err, quirks.ErrQuirkNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, device.ErrDeviceNotOpen), errors.Is(err, droidcamsrc.ErrCameraNotFound):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
