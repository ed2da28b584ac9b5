package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nee-hit476/Jenji/detect"
	"github.com/nee-hit476/Jenji/sink"
)

// stubDetector controls inference timing from the test and trips a flag
// if it is ever entered concurrently.
type stubDetector struct {
	ready      atomic.Bool
	calls      atomic.Int32
	inFlight   atomic.Int32
	reentered  atomic.Bool
	entered    chan struct{} // signalled on each Detect entry, when set
	release    chan struct{} // Detect blocks on this, when set
	delay      time.Duration
	detections []detect.Detection
	err        error

	mu        sync.Mutex
	seenSizes []image.Point
}

func (s *stubDetector) Ready() bool { return s.ready.Load() }

func (s *stubDetector) Detect(ctx context.Context, img image.Image) ([]detect.Detection, error) {
	if s.inFlight.Add(1) > 1 {
		s.reentered.Store(true)
	}
	defer s.inFlight.Add(-1)
	s.calls.Add(1)

	s.mu.Lock()
	s.seenSizes = append(s.seenSizes, image.Pt(img.Bounds().Dx(), img.Bounds().Dy()))
	s.mu.Unlock()

	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.detections, s.err
}

// stubCodec decodes payloads of the form "WxH" into blank images of that
// size and fails on the payload "bad".
type stubCodec struct {
	mu      sync.Mutex
	decoded []string
}

func (c *stubCodec) DecodeFrame(data []byte) (image.Image, error) {
	if string(data) == "bad" {
		return nil, errors.New("failed to decode image")
	}
	c.mu.Lock()
	c.decoded = append(c.decoded, string(data))
	c.mu.Unlock()

	w, h := 8, 8
	fmt.Sscanf(string(data), "%dx%d", &w, &h)
	return image.NewRGBA(image.Rect(0, 0, w, h)), nil
}

func (c *stubCodec) EncodeDataURI(img image.Image, quality int) (string, error) {
	return "data:image/jpeg;base64,stub", nil
}

func (c *stubCodec) decodedFrames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.decoded...)
}

type stubAnnotator struct{}

func (stubAnnotator) Draw(img image.Image, detections []detect.Detection) image.Image {
	return img
}

type stubEmitter struct {
	mu       sync.Mutex
	payloads []interface{}
}

func (e *stubEmitter) Send(clientID string, payload interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.payloads = append(e.payloads, payload)
	return nil
}

func (e *stubEmitter) sent() []interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]interface{}(nil), e.payloads...)
}

type stubSink struct {
	mu       sync.Mutex
	messages []sink.Message
}

func (s *stubSink) Publish(ctx context.Context, msg sink.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *stubSink) Type() string { return "stub" }
func (s *stubSink) Close() error { return nil }

func (s *stubSink) published() []sink.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sink.Message(nil), s.messages...)
}

func newTestDispatcher(det *stubDetector, codec *stubCodec, emitter *stubEmitter, events sink.Sink) *Dispatcher {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return NewDispatcher(det, codec, stubAnnotator{}, emitter, events, "server-1",
		Options{MaxDimension: 320, JPEGQuality: 90}, log)
}

func waitIdle(t *testing.T, d *Dispatcher, clientID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		v, ok := d.slots.Load(clientID)
		if !ok {
			return true
		}
		s := v.(*slot)
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.running && s.pending == nil
	}, time.Second, 2*time.Millisecond)
}

func TestOnFrameUnregisteredClientIsSilent(t *testing.T) {
	det := &stubDetector{}
	det.ready.Store(true)
	emitter := &stubEmitter{}
	d := newTestDispatcher(det, &stubCodec{}, emitter, nil)

	assert.NotPanics(t, func() { d.OnFrame("ghost", []byte("8x8")) })
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, emitter.sent())
	assert.Zero(t, det.calls.Load())
}

func TestLoadingStateIsAcknowledgedAndDropped(t *testing.T) {
	det := &stubDetector{} // never ready
	emitter := &stubEmitter{}
	d := newTestDispatcher(det, &stubCodec{}, emitter, nil)

	d.Register("c1")
	d.OnFrame("c1", []byte("8x8"))

	sent := emitter.sent()
	require.Len(t, sent, 1)
	resp, ok := sent[0].(ErrorResponse)
	require.True(t, ok)
	assert.True(t, resp.Loading)
	assert.Zero(t, det.calls.Load(), "frames must not be buffered for replay")

	// Frame was dropped, not buffered: nothing happens when the model
	// comes up afterwards.
	det.ready.Store(true)
	waitIdle(t, d, "c1")
	assert.Zero(t, det.calls.Load())
}

func TestAtMostOneWorkerPerClient(t *testing.T) {
	det := &stubDetector{delay: 2 * time.Millisecond}
	det.ready.Store(true)
	emitter := &stubEmitter{}
	d := newTestDispatcher(det, &stubCodec{}, emitter, nil)

	d.Register("c1")

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				d.OnFrame("c1", []byte("8x8"))
			}
		}()
	}
	wg.Wait()
	waitIdle(t, d, "c1")

	assert.False(t, det.reentered.Load(), "two workers ran inference for one client concurrently")
	assert.Positive(t, det.calls.Load())
}

func TestLatestWinsAdmission(t *testing.T) {
	det := &stubDetector{
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
		detections: []detect.Detection{{ClassID: 0, ClassName: "FireAlarm", Confidence: 0.9, BBox: []float32{1, 1, 5, 5}}},
	}
	det.ready.Store(true)
	codec := &stubCodec{}
	emitter := &stubEmitter{}
	events := &stubSink{}
	d := newTestDispatcher(det, codec, emitter, events)

	d.Register("c1")

	d.OnFrame("c1", []byte("frame-1"))
	<-det.entered // worker is inside inference for frame-1

	// These two arrive while running: frame-2 is overwritten by frame-3.
	d.OnFrame("c1", []byte("frame-2"))
	d.OnFrame("c1", []byte("frame-3"))

	det.release <- struct{}{} // finish frame-1
	<-det.entered             // worker picked up the freshest frame
	det.release <- struct{}{} // finish it
	waitIdle(t, d, "c1")

	assert.EqualValues(t, 2, det.calls.Load(), "three rapid frames must cost at most two inference calls")
	assert.Equal(t, []string{"frame-1", "frame-3"}, codec.decodedFrames())

	sent := emitter.sent()
	require.Len(t, sent, 2)
	for _, p := range sent {
		resp, ok := p.(Response)
		require.True(t, ok)
		assert.Equal(t, 1, resp.Count)
		assert.Equal(t, "data:image/jpeg;base64,stub", resp.Frame)
	}

	v, ok := d.slots.Load("c1")
	require.True(t, ok)
	s := v.(*slot)
	s.mu.Lock()
	assert.EqualValues(t, 1, s.drops, "frame-2 should be counted as shed")
	s.mu.Unlock()

	// Non-empty detections reach the sink, addressed to this client.
	published := events.published()
	require.Len(t, published, 2)
	assert.Equal(t, "c1", published[0].ClientID)
	assert.Equal(t, "server-1", published[0].ServerID)
	assert.Equal(t, 1, published[0].Count)
}

func TestDisconnectMidInferenceEmitsNothing(t *testing.T) {
	det := &stubDetector{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	det.ready.Store(true)
	emitter := &stubEmitter{}
	d := newTestDispatcher(det, &stubCodec{}, emitter, nil)

	reg := d.Register("c1")
	d.OnFrame("c1", []byte("frame-1"))
	<-det.entered

	d.Unregister("c1", reg)
	det.release <- struct{}{} // inference finishes after the disconnect

	waitIdle(t, d, "c1")
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, emitter.sent(), "no events may be emitted after disconnect")

	// Frames for the torn-down id are ignored from now on.
	d.OnFrame("c1", []byte("frame-2"))
	time.Sleep(10 * time.Millisecond)
	assert.EqualValues(t, 1, det.calls.Load())
}

func TestStaleUnregisterKeepsReconnectedSlot(t *testing.T) {
	det := &stubDetector{
		detections: []detect.Detection{{ClassID: 0, ClassName: "FireAlarm", Confidence: 0.9, BBox: []float32{1, 1, 5, 5}}},
	}
	det.ready.Store(true)
	emitter := &stubEmitter{}
	d := newTestDispatcher(det, &stubCodec{}, emitter, nil)

	// A reconnect displaces the first registration; the first
	// connection's teardown then runs late.
	oldReg := d.Register("c1")
	newReg := d.Register("c1")
	d.Unregister("c1", oldReg)

	// The reconnected client's slot must survive the stale teardown.
	d.OnFrame("c1", []byte("8x8"))
	waitIdle(t, d, "c1")

	assert.EqualValues(t, 1, det.calls.Load())
	sent := emitter.sent()
	require.Len(t, sent, 1)
	_, ok := sent[0].(Response)
	assert.True(t, ok)

	// The matching teardown still removes the slot.
	d.Unregister("c1", newReg)
	d.OnFrame("c1", []byte("8x8"))
	time.Sleep(10 * time.Millisecond)
	assert.EqualValues(t, 1, det.calls.Load())
}

func TestDecodeFailureReportsAndRecovers(t *testing.T) {
	det := &stubDetector{}
	det.ready.Store(true)
	emitter := &stubEmitter{}
	d := newTestDispatcher(det, &stubCodec{}, emitter, nil)

	d.Register("c1")

	d.OnFrame("c1", []byte("bad"))
	waitIdle(t, d, "c1")

	sent := emitter.sent()
	require.Len(t, sent, 1)
	errResp, ok := sent[0].(ErrorResponse)
	require.True(t, ok)
	assert.Contains(t, errResp.Error, "decode")
	assert.False(t, errResp.Loading)

	// The pipeline keeps serving this client after a bad frame.
	d.OnFrame("c1", []byte("8x8"))
	waitIdle(t, d, "c1")

	sent = emitter.sent()
	require.Len(t, sent, 2)
	_, ok = sent[1].(Response)
	assert.True(t, ok)
}

func TestInferenceFailureReportsToClient(t *testing.T) {
	det := &stubDetector{err: errors.New("inference failed")}
	det.ready.Store(true)
	emitter := &stubEmitter{}
	d := newTestDispatcher(det, &stubCodec{}, emitter, nil)

	d.Register("c1")
	d.OnFrame("c1", []byte("8x8"))
	waitIdle(t, d, "c1")

	sent := emitter.sent()
	require.Len(t, sent, 1)
	errResp, ok := sent[0].(ErrorResponse)
	require.True(t, ok)
	assert.Contains(t, errResp.Error, "inference")
}

func TestFramesAreDownscaledBeforeInference(t *testing.T) {
	det := &stubDetector{}
	det.ready.Store(true)
	emitter := &stubEmitter{}
	d := newTestDispatcher(det, &stubCodec{}, emitter, nil)

	d.Register("c1")

	d.OnFrame("c1", []byte("1000x500"))
	waitIdle(t, d, "c1")
	d.OnFrame("c1", []byte("200x100"))
	waitIdle(t, d, "c1")

	det.mu.Lock()
	defer det.mu.Unlock()
	require.Len(t, det.seenSizes, 2)
	assert.Equal(t, image.Pt(320, 160), det.seenSizes[0], "large frames shrink to the max dimension")
	assert.Equal(t, image.Pt(200, 100), det.seenSizes[1], "small frames pass through unresized")
}

func TestEmptyDetectionsSkipSink(t *testing.T) {
	det := &stubDetector{} // returns no detections
	det.ready.Store(true)
	emitter := &stubEmitter{}
	events := &stubSink{}
	d := newTestDispatcher(det, &stubCodec{}, emitter, events)

	d.Register("c1")
	d.OnFrame("c1", []byte("8x8"))
	waitIdle(t, d, "c1")

	sent := emitter.sent()
	require.Len(t, sent, 1)
	resp, ok := sent[0].(Response)
	require.True(t, ok)
	assert.Zero(t, resp.Count)
	assert.Empty(t, events.published(), "empty results are not alert-worthy")
}
