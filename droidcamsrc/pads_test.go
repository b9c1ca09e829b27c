package droidcamsrc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moralrecordings/gst-droid/hal/simhal"
	"github.com/moralrecordings/gst-droid/internal/msgbus"
	"github.com/moralrecordings/gst-droid/pipeline"
	"github.com/moralrecordings/gst-droid/pipeline/pipelinetest"
)

func TestActivateMode(t *testing.T) {
	s := newTestElement(t, simhal.New(backCamera()))

	err := s.ActivateMode("imgsrc", pipeline.PadModePull, true)
	assert.ErrorIs(t, err, ErrNotPushMode)

	err = s.ActivateMode("imgsrc", pipeline.PadModeNone, true)
	assert.ErrorIs(t, err, ErrNotPushMode)

	err = s.ActivateMode("src_9", pipeline.PadModePush, true)
	assert.ErrorIs(t, err, ErrUnknownPad)

	require.NoError(t, s.ActivateMode("imgsrc", pipeline.PadModePush, true))
	p, _ := s.Pad("imgsrc")
	assert.True(t, p.IsActive())

	require.NoError(t, s.ActivateMode("imgsrc", pipeline.PadModePush, false))
	assert.False(t, p.IsActive())

	// deactivating twice is harmless
	require.NoError(t, s.ActivateMode("imgsrc", pipeline.PadModePush, false))
}

func TestSendEvent(t *testing.T) {
	s := newTestElement(t, simhal.New(backCamera()))

	tests := []struct {
		event pipeline.EventType
		want  bool
	}{
		{pipeline.EventCaps, true},
		{pipeline.EventLatency, true},
		{pipeline.EventReconfigure, true},
		{pipeline.EventFlushStart, true},
		{pipeline.EventFlushStop, true},
		{pipeline.EventSeek, false},
		{pipeline.EventQOS, false},
		{pipeline.EventNavigation, false},
		{pipeline.EventEOS, false},
	}

	for _, tt := range tests {
		t.Run(tt.event.String(), func(t *testing.T) {
			for _, name := range []string{"vfsrc", "imgsrc", "vidsrc"} {
				assert.Equal(t, tt.want, s.SendEvent(name, pipeline.NewEvent(tt.event)), name)
			}
		})
	}

	assert.False(t, s.SendEvent("nope", pipeline.NewReconfigureEvent()))
}

func TestQuery(t *testing.T) {
	s := newTestElement(t, simhal.New(backCamera()))
	vf, err := s.Pad("vfsrc")
	require.NoError(t, err)

	t.Run("scheduling", func(t *testing.T) {
		q := pipeline.NewQuery(pipeline.QueryScheduling)
		require.True(t, s.Query("vfsrc", q))
		assert.Equal(t, []pipeline.PadMode{pipeline.PadModePush}, q.SchedulingModes)
		assert.False(t, q.HasSchedulingMode(pipeline.PadModePull))
	})

	t.Run("formats", func(t *testing.T) {
		q := pipeline.NewQuery(pipeline.QueryFormats)
		require.True(t, s.Query("imgsrc", q))
		assert.Equal(t, []pipeline.Format{pipeline.FormatTime}, q.Formats)
	})

	t.Run("latency default", func(t *testing.T) {
		q := pipeline.NewQuery(pipeline.QueryLatency)
		require.True(t, s.Query("vidsrc", q))
		assert.True(t, q.Live)
		assert.Equal(t, 33*time.Millisecond, q.MinLatency)
		assert.Equal(t, 7*33*time.Millisecond, q.MaxLatency)
	})

	t.Run("caps without negotiation", func(t *testing.T) {
		q := pipeline.NewCapsQuery(pipeline.NewAnyCaps())
		assert.False(t, s.Query("vfsrc", q))

		accept := pipeline.NewAcceptCapsQuery(pipeline.MustParseCaps("video/x-raw"))
		require.True(t, s.Query("vfsrc", accept))
		assert.False(t, accept.AcceptResult)
	})

	t.Run("unhandled", func(t *testing.T) {
		for _, qt := range []pipeline.QueryType{pipeline.QueryPosition, pipeline.QueryDuration, pipeline.QuerySeeking, pipeline.QueryAllocation} {
			assert.False(t, s.Query("vfsrc", pipeline.NewQuery(qt)), qt.String())
		}
		assert.False(t, s.Query("nope", pipeline.NewQuery(pipeline.QueryFormats)))
	})

	negotiated := pipeline.MustParseCaps("video/x-raw, format=YV12, width=640, height=480, framerate=15/1")
	vf.SetCaps(negotiated)

	t.Run("caps after negotiation", func(t *testing.T) {
		q := pipeline.NewCapsQuery(pipeline.NewAnyCaps())
		require.True(t, s.Query("vfsrc", q))
		assert.True(t, q.Result.Equal(negotiated))
	})

	t.Run("accept caps", func(t *testing.T) {
		q := pipeline.NewAcceptCapsQuery(negotiated)
		require.True(t, s.Query("vfsrc", q))
		assert.True(t, q.AcceptResult)

		q = pipeline.NewAcceptCapsQuery(pipeline.MustParseCaps("video/x-raw, format=YV12, width=320, height=240, framerate=15/1"))
		require.True(t, s.Query("vfsrc", q))
		assert.False(t, q.AcceptResult)
	})

	t.Run("latency follows framerate", func(t *testing.T) {
		q := pipeline.NewQuery(pipeline.QueryLatency)
		require.True(t, s.Query("vfsrc", q))
		interval := time.Second / 15
		assert.Equal(t, interval, q.MinLatency)
		assert.Equal(t, 7*interval, q.MaxLatency)
	})
}

func TestReconfigureRenegotiates(t *testing.T) {
	m := simhal.New(backCamera())
	s := newTestElement(t, m)

	peer := pipelinetest.NewPeer(pipeline.MustParseCaps("video/x-raw, format=YV12, width=320, height=240"))
	require.NoError(t, s.Link("vfsrc", peer))
	_, err := s.SetState(context.Background(), StatePlaying)
	require.NoError(t, err)
	require.True(t, peer.WaitBuffers(2, 2*time.Second))

	peer.SetCaps(pipeline.MustParseCaps("video/x-raw, format=YV12, width=640, height=480"))
	require.True(t, s.SendEvent("vfsrc", pipeline.NewReconfigureEvent()))

	require.Eventually(t, func() bool {
		return len(peer.Events(pipeline.EventCaps)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	vf, _ := s.Pad("vfsrc")
	caps, ok := vf.Caps()
	require.True(t, ok)
	w, _ := caps.Structure(0).Int("width")
	assert.Equal(t, 640, w)
	assert.Equal(t, "640x480", m.Device("0").Parameter("preview-size"))
}

func TestLinkAfterPaused(t *testing.T) {
	m := simhal.New(backCamera())
	s := newTestElement(t, m)
	msgs := subscribe(t, s)

	ret, err := s.SetState(context.Background(), StatePaused)
	require.NoError(t, err)
	assert.Equal(t, StateChangeNoPreroll, ret)

	// unlinked, the viewfinder settles on the camera's own caps
	require.Eventually(t, func() bool {
		return s.Stats()["vfsrc"].Negotiations == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, s.Stats()["vfsrc"].Halted)

	peer := pipelinetest.NewPeer(pipeline.MustParseCaps("video/x-raw, format=YV12, width=640, height=480"))
	require.NoError(t, s.Link("vfsrc", peer))
	_, err = s.SetState(context.Background(), StatePlaying)
	require.NoError(t, err)
	require.True(t, peer.WaitBuffers(1, 2*time.Second))

	items := peer.Items()
	require.GreaterOrEqual(t, len(items), 4)
	require.NotNil(t, items[0].Event)
	assert.Equal(t, pipeline.EventStreamStart, items[0].Event.Type)
	require.NotNil(t, items[1].Event)
	require.Equal(t, pipeline.EventCaps, items[1].Event.Type)
	w, _ := items[1].Event.Caps.Structure(0).Int("width")
	assert.Equal(t, 640, w)
	require.NotNil(t, items[2].Event)
	assert.Equal(t, pipeline.EventSegment, items[2].Event.Type)
	assert.NotNil(t, items[3].Buffer)
	assert.Equal(t, "640x480", m.Device("0").Parameter("preview-size"))

	_, err = s.SetState(context.Background(), StateNull)
	require.NoError(t, err)

	for len(msgs) > 0 {
		msg := <-msgs
		assert.NotEqual(t, msgbus.TypeError, msg.Type, msg.Text)
	}
}
