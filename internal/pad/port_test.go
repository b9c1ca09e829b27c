package pad

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/moralrecordings/gst-droid/internal/msgbus"
	"github.com/moralrecordings/gst-droid/pipeline"
	"github.com/moralrecordings/gst-droid/pipeline/pipelinetest"
)

func newTestPort(t *testing.T, opts Options) *Port {
	t.Helper()
	opts.Element = "droidcamsrc0"
	opts.Logger = zerolog.Nop()
	p := New(opts)
	t.Cleanup(p.Destroy)
	return p
}

func bufferWithOffset(off uint64, released *atomic.Int32) *pipeline.Buffer {
	b := pipeline.NewBuffer([]byte{byte(off)}, func() {
		if released != nil {
			released.Add(1)
		}
	})
	b.Offset = off
	return b
}

func TestKindNames(t *testing.T) {
	assert.Equal(t, "vfsrc", Viewfinder.Name())
	assert.Equal(t, "imgsrc", Image.Name())
	assert.Equal(t, "vidsrc", Video.Name())
}

func TestPort_DeliversInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newTestPort(t, Options{Kind: Viewfinder})
	peer := pipelinetest.NewPeer(pipeline.NewAnyCaps())
	p.SetPeer(peer)
	require.NoError(t, p.Activate(true))

	const n = 50
	for i := 0; i < n; i++ {
		p.Enqueue(bufferWithOffset(uint64(i), nil))
	}
	require.True(t, peer.WaitBuffers(n, 2*time.Second))

	for i, b := range peer.Buffers() {
		assert.Equal(t, uint64(i), b.Offset)
	}
	require.NoError(t, p.Activate(false))
}

func TestPort_BootstrapEventsOncePerActivation(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newTestPort(t, Options{Kind: Viewfinder})
	peer := pipelinetest.NewPeer(pipeline.NewAnyCaps())
	p.SetPeer(peer)

	for round := 1; round <= 2; round++ {
		require.NoError(t, p.Activate(true))
		for i := 0; i < 3; i++ {
			p.Enqueue(bufferWithOffset(uint64(i), nil))
		}
		require.True(t, peer.WaitBuffers(3*round, 2*time.Second))
		require.NoError(t, p.Activate(false))

		assert.Len(t, peer.Events(pipeline.EventStreamStart), round)
		assert.Len(t, peer.Events(pipeline.EventSegment), round)
	}

	// each activation: stream-start, segment, then buffers
	items := peer.Items()
	require.Len(t, items, 10)
	for _, start := range []int{0, 5} {
		assert.Equal(t, pipeline.EventStreamStart, items[start].Event.Type)
		assert.Equal(t, pipeline.EventSegment, items[start+1].Event.Type)
		assert.Equal(t, pipeline.FormatTime, items[start+1].Event.Segment.Format)
		for i := 2; i < 5; i++ {
			assert.NotNil(t, items[start+i].Buffer)
		}
	}

	first := peer.Events(pipeline.EventStreamStart)
	assert.True(t, strings.HasPrefix(first[0].StreamID, "droidcamsrc0/vfsrc/"))
	assert.NotEqual(t, first[0].StreamID, first[1].StreamID)
	assert.NotEqual(t, first[0].GroupID, first[1].GroupID)
	assert.NotZero(t, first[0].GroupID)
}

func TestPort_DeactivateWhileWaiting(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newTestPort(t, Options{Kind: Image})
	peer := pipelinetest.NewPeer(pipeline.NewAnyCaps())
	p.SetPeer(peer)
	require.NoError(t, p.Activate(true))

	// give the task time to block on the empty queue
	time.Sleep(20 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- p.Activate(false) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("deactivation deadlocked")
	}
	assert.Empty(t, peer.Items())
	assert.False(t, p.IsActive())
}

func TestPort_DeactivateReleasesQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	var released atomic.Int32
	negotiating := make(chan struct{})
	unblock := make(chan struct{})

	p := newTestPort(t, Options{Kind: Viewfinder})
	p.SetPeer(pipelinetest.NewPeer(pipeline.NewAnyCaps()))
	// hold the task inside negotiation so nothing gets delivered
	p.SetNegotiate(func(p *Port) bool {
		close(negotiating)
		<-unblock
		p.SetCaps(pipeline.MustParseCaps("video/x-raw, width=320"))
		return true
	})
	require.NoError(t, p.Activate(true))
	<-negotiating

	const n = 7
	for i := 0; i < n; i++ {
		p.Enqueue(bufferWithOffset(uint64(i), &released))
	}
	assert.Equal(t, n, p.Stats().Queued)

	done := make(chan error, 1)
	go func() { done <- p.Activate(false) }()
	require.Eventually(t, func() bool { return !p.IsActive() }, time.Second, time.Millisecond)
	close(unblock)
	require.NoError(t, <-done)

	assert.Equal(t, int32(n), released.Load())
	assert.Zero(t, p.Stats().Queued)
	_, ok := p.Caps()
	assert.False(t, ok)
}

func TestPort_EnqueueWhileInactiveReleases(t *testing.T) {
	var released atomic.Int32
	p := newTestPort(t, Options{Kind: Video})

	p.Enqueue(bufferWithOffset(0, &released))
	assert.Equal(t, int32(1), released.Load())
	assert.Equal(t, uint64(1), p.Stats().Dropped)
}

func TestPort_CapsEventBetweenStreamStartAndSegment(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newTestPort(t, Options{Kind: Viewfinder})
	peer := pipelinetest.NewPeer(pipeline.NewAnyCaps())
	p.SetPeer(peer)
	caps := pipeline.MustParseCaps("video/x-raw, format=YV12, width=320, height=240, framerate=30/1")
	p.SetNegotiate(func(p *Port) bool {
		p.SetCaps(caps)
		return true
	})

	require.NoError(t, p.Activate(true))
	p.Enqueue(bufferWithOffset(0, nil))
	require.True(t, peer.WaitBuffers(1, 2*time.Second))
	require.NoError(t, p.Activate(false))

	items := peer.Items()
	require.Len(t, items, 4)
	assert.Equal(t, pipeline.EventStreamStart, items[0].Event.Type)
	assert.Equal(t, pipeline.EventCaps, items[1].Event.Type)
	assert.True(t, caps.Equal(items[1].Event.Caps))
	assert.Equal(t, pipeline.EventSegment, items[2].Event.Type)
	assert.NotNil(t, items[3].Buffer)
	assert.Equal(t, uint64(1), p.Stats().Negotiations)
}

func TestPort_NegotiationFailurePausesAndPostsError(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := msgbus.New()
	defer bus.Close()
	msgs := make(chan msgbus.Message, 4)
	require.NoError(t, bus.Subscribe("test", msgs))

	var released atomic.Int32
	p := newTestPort(t, Options{Kind: Viewfinder, Bus: bus})
	peer := pipelinetest.NewPeer(pipeline.NewAnyCaps())
	p.SetPeer(peer)
	p.SetNegotiate(func(*Port) bool { return false })

	require.NoError(t, p.Activate(true))
	p.Enqueue(bufferWithOffset(0, &released))

	select {
	case msg := <-msgs:
		assert.Equal(t, msgbus.TypeError, msg.Type)
		assert.Equal(t, "vfsrc", msg.Source)
		assert.Equal(t, "format", msg.Code)
		assert.Contains(t, msg.Text, "failed to negotiate vfsrc")
	case <-time.After(2 * time.Second):
		t.Fatal("no error posted")
	}

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, peer.Buffers())
	assert.Equal(t, int32(1), released.Load())
	assert.True(t, p.IsHalted())
	assert.Zero(t, p.Stats().Queued)
	require.NoError(t, p.Activate(false))
	assert.False(t, p.IsHalted())
}

func TestPort_DeliveryFailureEscalation(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := msgbus.New()
	defer bus.Close()
	msgs := make(chan msgbus.Message, 4)
	require.NoError(t, bus.Subscribe("test", msgs))

	p := newTestPort(t, Options{Kind: Viewfinder, Bus: bus, MaxDeliveryFailures: 3})
	peer := pipelinetest.NewPeer(pipeline.NewAnyCaps())
	peer.SetFlowReturn(pipeline.FlowError)
	p.SetPeer(peer)
	require.NoError(t, p.Activate(true))

	for i := 0; i < 5; i++ {
		p.Enqueue(bufferWithOffset(uint64(i), nil))
	}

	select {
	case msg := <-msgs:
		assert.Equal(t, "failed", msg.Code)
		assert.Error(t, msg.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("no error posted")
	}

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, peer.Buffers(), 3)
	st := p.Stats()
	assert.Equal(t, uint64(3), st.Failures)
	assert.Equal(t, uint64(2), st.Dropped)
	assert.Zero(t, st.Queued)
	assert.True(t, st.Halted)
	require.NoError(t, p.Activate(false))
}

func TestPort_HaltedPortReleasesBuffers(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := msgbus.New()
	defer bus.Close()
	msgs := make(chan msgbus.Message, 4)
	require.NoError(t, bus.Subscribe("test", msgs))

	var released atomic.Int32
	p := newTestPort(t, Options{Kind: Viewfinder, Bus: bus, MaxDeliveryFailures: 2})
	peer := pipelinetest.NewPeer(pipeline.NewAnyCaps())
	peer.SetFlowReturn(pipeline.FlowError)
	p.SetPeer(peer)
	require.NoError(t, p.Activate(true))

	p.Enqueue(bufferWithOffset(0, &released))
	p.Enqueue(bufferWithOffset(1, &released))

	select {
	case msg := <-msgs:
		assert.Equal(t, "failed", msg.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("no error posted")
	}

	const n = 1000
	for i := 0; i < n; i++ {
		p.Enqueue(bufferWithOffset(uint64(i+2), &released))
	}

	st := p.Stats()
	assert.True(t, st.Active)
	assert.True(t, st.Halted)
	assert.Zero(t, st.Queued)
	assert.Equal(t, uint64(n), st.Dropped)
	assert.Equal(t, int32(n+2), released.Load())
	assert.Len(t, peer.Buffers(), 2)

	// a fresh activation streams again
	require.NoError(t, p.Activate(false))
	peer.SetFlowReturn(pipeline.FlowOK)
	require.NoError(t, p.Activate(true))
	p.Enqueue(bufferWithOffset(0, nil))
	require.True(t, peer.WaitBuffers(3, 2*time.Second))
	require.NoError(t, p.Activate(false))
}

func TestPort_BootstrapAfterLateLink(t *testing.T) {
	defer goleak.VerifyNone(t)

	var released atomic.Int32
	p := newTestPort(t, Options{Kind: Video})
	require.NoError(t, p.Activate(true))

	p.Enqueue(bufferWithOffset(0, &released))
	require.Eventually(t, func() bool { return released.Load() == 1 }, time.Second, time.Millisecond)

	peer := pipelinetest.NewPeer(pipeline.NewAnyCaps())
	p.SetPeer(peer)
	p.Enqueue(bufferWithOffset(1, nil))
	require.True(t, peer.WaitBuffers(1, 2*time.Second))
	require.NoError(t, p.Activate(false))

	items := peer.Items()
	require.Len(t, items, 3)
	require.NotNil(t, items[0].Event)
	assert.Equal(t, pipeline.EventStreamStart, items[0].Event.Type)
	require.NotNil(t, items[1].Event)
	assert.Equal(t, pipeline.EventSegment, items[1].Event.Type)
	require.NotNil(t, items[2].Buffer)
	assert.Equal(t, uint64(1), items[2].Buffer.Offset)
}

func TestPort_RelinkResendsBootstrap(t *testing.T) {
	defer goleak.VerifyNone(t)

	caps := pipeline.MustParseCaps("video/x-raw, format=YV12, width=320, height=240")
	p := newTestPort(t, Options{Kind: Viewfinder})
	p.SetNegotiate(func(p *Port) bool {
		p.SetCaps(caps)
		return true
	})
	first := pipelinetest.NewPeer(pipeline.NewAnyCaps())
	p.SetPeer(first)
	require.NoError(t, p.Activate(true))
	p.Enqueue(bufferWithOffset(0, nil))
	require.True(t, first.WaitBuffers(1, 2*time.Second))

	second := pipelinetest.NewPeer(pipeline.NewAnyCaps())
	p.SetPeer(second)
	p.Enqueue(bufferWithOffset(1, nil))
	require.True(t, second.WaitBuffers(1, 2*time.Second))
	require.NoError(t, p.Activate(false))

	var types []pipeline.EventType
	for _, it := range second.Items() {
		if it.Event != nil {
			types = append(types, it.Event.Type)
		}
	}
	assert.Equal(t, []pipeline.EventType{pipeline.EventStreamStart, pipeline.EventCaps, pipeline.EventSegment}, types)
	assert.Len(t, first.Buffers(), 1)
}

func TestPort_FlushingIsNotAFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := msgbus.New()
	defer bus.Close()
	msgs := make(chan msgbus.Message, 4)
	require.NoError(t, bus.Subscribe("test", msgs))

	p := newTestPort(t, Options{Kind: Viewfinder, Bus: bus, MaxDeliveryFailures: 1})
	peer := pipelinetest.NewPeer(pipeline.NewAnyCaps())
	peer.SetFlowReturn(pipeline.FlowFlushing)
	p.SetPeer(peer)
	require.NoError(t, p.Activate(true))

	for i := 0; i < 3; i++ {
		p.Enqueue(bufferWithOffset(uint64(i), nil))
	}
	require.True(t, peer.WaitBuffers(3, 2*time.Second))
	require.NoError(t, p.Activate(false))

	assert.Empty(t, msgs)
	assert.Zero(t, p.Stats().Failures)
}

func TestPort_NotLinked(t *testing.T) {
	defer goleak.VerifyNone(t)

	var released atomic.Int32
	p := newTestPort(t, Options{Kind: Video})
	require.NoError(t, p.Activate(true))
	p.Enqueue(bufferWithOffset(0, &released))

	require.Eventually(t, func() bool { return released.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), p.Stats().Failures)
	require.NoError(t, p.Activate(false))
}
