package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moralrecordings/gst-droid/droidcamsrc"
	"github.com/moralrecordings/gst-droid/hal"
	"github.com/moralrecordings/gst-droid/hal/simhal"
	"github.com/moralrecordings/gst-droid/internal/quirks"
)

const testQuirks = `
[image-noise-reduction]
direction=0
prop=3dnr
on=true
off=false
`

func newTestServer(t *testing.T) (http.Handler, *droidcamsrc.CamSrc) {
	t.Helper()

	table, err := quirks.Parse([]byte(testQuirks), zerolog.Nop())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	src, err := droidcamsrc.New(droidcamsrc.Config{}, zerolog.Nop(),
		droidcamsrc.WithModule(simhal.New(simhal.Camera{Info: hal.CameraInfo{Facing: hal.FacingBack}})),
		droidcamsrc.WithRegisterer(reg),
		droidcamsrc.WithQuirks(table))
	require.NoError(t, err)
	t.Cleanup(src.Finalize)

	require.NoError(t, src.Link("vfsrc", &countingSink{log: zerolog.Nop()}))
	return newRouter(src, reg, zerolog.Nop()), src
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_State(t *testing.T) {
	h, src := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st stateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "NULL", st.State)
	assert.Len(t, st.Pads, 3)

	rec = do(t, h, http.MethodPut, "/state/paused", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "PAUSED", st.State)
	assert.Equal(t, "no-preroll", st.Result)
	assert.Equal(t, droidcamsrc.StatePaused, src.State())

	rec = do(t, h, http.MethodPut, "/state/sideways", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/state/NULL", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_StateFailure(t *testing.T) {
	h, src := newTestServer(t)
	require.NoError(t, src.SetProperty(droidcamsrc.PropCameraDevice, "secondary"))

	rec := do(t, h, http.MethodPut, "/state/PLAYING", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	var st stateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "READY", st.State)
	assert.Equal(t, "failure", st.Result)
	assert.Contains(t, st.Error, "camera not found")
}

func TestServer_Properties(t *testing.T) {
	h, _ := newTestServer(t)

	rec := do(t, h, http.MethodPut, "/properties/mode", "video\n")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/properties", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var props map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &props))
	assert.Equal(t, map[string]any{
		"camera-device":     "primary",
		"mode":              "video",
		"ready-for-capture": true,
	}, props)

	tests := []struct {
		path string
		body string
		want int
	}{
		{"/properties/zoom", "2", http.StatusNotFound},
		{"/properties/ready-for-capture", "false", http.StatusMethodNotAllowed},
		{"/properties/camera-device", "rear", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := do(t, h, http.MethodPut, tt.path, tt.body)
		assert.Equal(t, tt.want, rec.Code, tt.path)
	}
}

func TestServer_Quirks(t *testing.T) {
	h, src := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/quirks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["image-noise-reduction"]`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/quirks/image-noise-reduction", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPut, "/state/PAUSED", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/quirks/image-noise-reduction?enable=false", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodPost, "/quirks/image-noise-reduction?enable=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/quirks/face-detection", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := src.SetState(context.Background(), droidcamsrc.StateNull)
	require.NoError(t, err)
}

func TestServer_Metrics(t *testing.T) {
	h, _ := newTestServer(t)

	rec := do(t, h, http.MethodPut, "/state/READY", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `droidcamsrc_state_transitions_total{element="droidcamsrc0",result="success",transition="NULL->READY"} 1`)
	assert.Contains(t, body, "droidcamsrc_ready_for_capture")
}
