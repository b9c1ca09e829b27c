package droidcamsrc

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moralrecordings/gst-droid/hal"
	"github.com/moralrecordings/gst-droid/hal/simhal"
	"github.com/moralrecordings/gst-droid/internal/device"
	"github.com/moralrecordings/gst-droid/internal/msgbus"
	"github.com/moralrecordings/gst-droid/internal/quirks"
	"github.com/moralrecordings/gst-droid/pipeline"
	"github.com/moralrecordings/gst-droid/pipeline/pipelinetest"
)

func backCamera() simhal.Camera {
	return simhal.Camera{Info: hal.CameraInfo{Facing: hal.FacingBack, Orientation: 90}}
}

func frontCamera() simhal.Camera {
	return simhal.Camera{Info: hal.CameraInfo{Facing: hal.FacingFront, Orientation: 270}}
}

func newTestElement(t *testing.T, m hal.Module, opts ...Option) *CamSrc {
	t.Helper()
	opts = append([]Option{
		WithModule(m),
		WithQuirks(quirks.NewTable(zerolog.Nop())),
	}, opts...)
	s, err := New(Config{}, zerolog.Nop(), opts...)
	require.NoError(t, err)
	t.Cleanup(s.Finalize)
	return s
}

func subscribe(t *testing.T, s *CamSrc) <-chan msgbus.Message {
	t.Helper()
	ch := make(chan msgbus.Message, 64)
	require.NoError(t, s.Bus().Subscribe(t.Name(), ch))
	return ch
}

func waitMessage(t *testing.T, ch <-chan msgbus.Message, match func(msgbus.Message) bool) msgbus.Message {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-ch:
			if match(msg) {
				return msg
			}
		case <-timeout:
			t.Fatal("timed out waiting for bus message")
			return msgbus.Message{}
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	s := newTestElement(t, simhal.New(backCamera()))

	assert.Equal(t, "droidcamsrc0", s.Name())
	assert.Equal(t, StateNull, s.State())
	assert.Equal(t, CameraDevicePrimary, s.CameraDevice())
	assert.Equal(t, ModeImage, s.Mode())
	assert.True(t, s.ReadyForCapture())

	for _, name := range []string{"vfsrc", "imgsrc", "vidsrc"} {
		p, err := s.Pad(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, p.Name())
		assert.False(t, p.IsActive())
	}
	_, err := s.Pad("src")
	assert.ErrorIs(t, err, ErrUnknownPad)

	vf, _ := s.Pad("vfsrc")
	assert.True(t, vf.Template().Equal(ViewfinderTemplate))
	vid, _ := s.Pad("vidsrc")
	assert.True(t, vid.Template().IsAny())
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{CameraDevice: "tertiary"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidPropertyValue)
}

func TestNew_ConfigSelectsCamera(t *testing.T) {
	s, err := New(Config{CameraDevice: "secondary", Mode: "video"}, zerolog.Nop(),
		WithModule(simhal.New(backCamera(), frontCamera())),
		WithQuirks(quirks.NewTable(zerolog.Nop())))
	require.NoError(t, err)
	t.Cleanup(s.Finalize)

	assert.Equal(t, CameraDeviceSecondary, s.CameraDevice())
	assert.Equal(t, ModeVideo, s.Mode())
}

func TestProperties(t *testing.T) {
	s := newTestElement(t, simhal.New(backCamera()))

	tests := []struct {
		name    string
		prop    string
		value   any
		want    any
		wantErr error
	}{
		{"camera device enum", PropCameraDevice, CameraDeviceSecondary, CameraDeviceSecondary, nil},
		{"camera device string", PropCameraDevice, "primary", CameraDevicePrimary, nil},
		{"camera device out of range", PropCameraDevice, CameraDevice(7), nil, ErrInvalidPropertyValue},
		{"camera device wrong type", PropCameraDevice, 1.5, nil, ErrInvalidPropertyValue},
		{"mode enum", PropMode, ModeVideo, ModeVideo, nil},
		{"mode string", PropMode, "image", ModeImage, nil},
		{"mode bad string", PropMode, "burst", nil, ErrInvalidPropertyValue},
		{"ready for capture is read-only", PropReadyForCapture, false, nil, ErrReadOnlyProperty},
		{"unknown", "zoom", 2, nil, ErrUnknownProperty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.SetProperty(tt.prop, tt.value)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			got, err := s.GetProperty(tt.prop)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	ready, err := s.GetProperty(PropReadyForCapture)
	require.NoError(t, err)
	assert.Equal(t, true, ready)

	_, err = s.GetProperty("zoom")
	assert.ErrorIs(t, err, ErrUnknownProperty)
}

const quirksFile = `
[face-detection]
direction=-1
type=command
command_enable=1286
arg1_enable=1
arg2_enable=0
command_disable=1287
arg1_disable=0
arg2_disable=0

[image-noise-reduction]
direction=0
prop=3dnr
on=true
off=false

[front-only]
direction=1
prop=mirror
on=1
off=0
`

func TestApplyQuirk(t *testing.T) {
	table, err := quirks.Parse([]byte(quirksFile), zerolog.Nop())
	require.NoError(t, err)

	m := simhal.New(backCamera())
	s := newTestElement(t, m, WithQuirks(table))

	err = s.ApplyQuirk(quirks.FaceDetection, true)
	assert.ErrorIs(t, err, device.ErrDeviceNotOpen)

	ret, err := s.SetState(context.Background(), StatePaused)
	require.NoError(t, err)
	assert.Equal(t, StateChangeNoPreroll, ret)

	require.NoError(t, s.ApplyQuirk(quirks.ImageNoiseReduction, true))
	require.NoError(t, s.ApplyQuirk(quirks.FaceDetection, true))
	require.NoError(t, s.ApplyQuirk(quirks.FaceDetection, false))

	// applies to the front camera only
	require.NoError(t, s.ApplyQuirk("front-only", true))

	err = s.ApplyQuirk("no-such-quirk", true)
	assert.ErrorIs(t, err, quirks.ErrQuirkNotFound)

	hw := m.Device("0")
	require.NotNil(t, hw)
	assert.Equal(t, "true", hw.Parameter("3dnr"))
	assert.Equal(t, "", hw.Parameter("mirror"))
	assert.Equal(t, []simhal.Command{
		{Cmd: 1286, Arg1: 1, Arg2: 0},
		{Cmd: 1287, Arg1: 0, Arg2: 0},
	}, hw.Commands())
}

func TestCameraOrientation(t *testing.T) {
	s := newTestElement(t, simhal.New(backCamera(), frontCamera()))

	_, ok := s.CameraOrientation()
	assert.False(t, ok)

	require.Equal(t, StateChangeSuccess, s.ChangeState(NullToReady))
	o, ok := s.CameraOrientation()
	require.True(t, ok)
	assert.Equal(t, 1, o)

	require.NoError(t, s.SetProperty(PropCameraDevice, CameraDeviceSecondary))
	o, ok = s.CameraOrientation()
	require.True(t, ok)
	assert.Equal(t, 3, o)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := simhal.New(backCamera())
	s := newTestElement(t, m, WithRegisterer(reg))

	peer := pipelinetest.NewPeer(pipeline.NewAnyCaps())
	require.NoError(t, s.Link("vfsrc", peer))

	_, err := s.SetState(context.Background(), StatePlaying)
	require.NoError(t, err)
	require.True(t, peer.WaitBuffers(3, 2*time.Second))

	_, err = s.SetState(context.Background(), StateNull)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.transitions.WithLabelValues("NULL->READY", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.transitions.WithLabelValues("READY->PAUSED", "no-preroll")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.transitions.WithLabelValues("PLAYING->PAUSED", "no-preroll")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.ready))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.negotiations.WithLabelValues("vfsrc")))

	delivered := testutil.ToFloat64(s.metrics.delivered.WithLabelValues("vfsrc"))
	assert.GreaterOrEqual(t, delivered, 3.0)
	assert.Equal(t, float64(s.Stats()["vfsrc"].Delivered), delivered)

	n, err := testutil.GatherAndCount(reg, "droidcamsrc_state_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	// a finalized element frees its metric names
	s.Finalize()
	again, err := New(Config{}, zerolog.Nop(), WithModule(m), WithRegisterer(reg),
		WithQuirks(quirks.NewTable(zerolog.Nop())))
	require.NoError(t, err)
	again.Finalize()
}

func TestFinalize(t *testing.T) {
	m := simhal.New(backCamera())
	s := newTestElement(t, m)

	peer := pipelinetest.NewPeer(pipeline.NewAnyCaps())
	require.NoError(t, s.Link("vfsrc", peer))
	_, err := s.SetState(context.Background(), StatePlaying)
	require.NoError(t, err)
	require.True(t, peer.WaitBuffers(1, 2*time.Second))

	s.Finalize()
	assert.Equal(t, StateNull, s.State())
	assert.Nil(t, m.Device("0"))
	assert.Eventually(t, func() bool { return m.OutstandingFrames() == 0 }, 2*time.Second, 10*time.Millisecond)

	_, err = s.SetState(context.Background(), StateReady)
	assert.ErrorIs(t, err, ErrFinalized)
	assert.Equal(t, StateChangeFailure, s.ChangeState(NullToReady))

	// second call is a no-op
	s.Finalize()
}
