// Package pipeline schedules per-client frame processing: decode,
// detect, annotate, encode, emit. Admission is single-flight with
// latest-wins per client, so inbound frame rate never queues work.
package pipeline

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nee-hit476/Jenji/detect"
	"github.com/nee-hit476/Jenji/imaging"
	"github.com/nee-hit476/Jenji/metrics"
	"github.com/nee-hit476/Jenji/sink"
)

const sinkPublishTimeout = 5 * time.Second

// Emitter delivers a payload to exactly one client. Sending to a client
// that is no longer connected must be a silent no-op.
type Emitter interface {
	Send(clientID string, payload interface{}) error
}

// FrameCodec converts between wire payloads and images.
type FrameCodec interface {
	DecodeFrame(data []byte) (image.Image, error)
	EncodeDataURI(img image.Image, quality int) (string, error)
}

// Annotator draws detections onto a copy of a frame.
type Annotator interface {
	Draw(img image.Image, detections []detect.Detection) image.Image
}

// Options tunes the per-frame processing.
type Options struct {
	// MaxDimension is the downscale target: frames whose larger side
	// exceeds it are shrunk before inference. Never upscales.
	MaxDimension int
	// JPEGQuality for the annotated frame sent back to the client.
	JPEGQuality int
}

// Dispatcher is the core scheduler. It owns one slot per registered
// client and guarantees at most one worker goroutine and at most one
// buffered frame per client, whatever the inbound rate.
type Dispatcher struct {
	detector  detect.Detector
	codec     FrameCodec
	annotator Annotator
	emitter   Emitter
	events    sink.Sink
	serverID  string
	opts      Options
	log       *logrus.Logger

	slots sync.Map // clientID -> *slot
}

// slot is the per-client admission state. pending and running are only
// ever read or written together under mu.
type slot struct {
	mu      sync.Mutex
	pending []byte // at most one buffered frame; overwritten, never queued
	running bool   // a worker goroutine is active for this client
	closed  bool   // client disconnected; workers exit without emitting
	drops   uint64 // frames overwritten before being processed
}

// NewDispatcher wires the dispatcher with its collaborators. events may
// be nil when no detection sink is configured.
func NewDispatcher(detector detect.Detector, codec FrameCodec, annotator Annotator, emitter Emitter, events sink.Sink, serverID string, opts Options, log *logrus.Logger) *Dispatcher {
	if events == nil {
		events = sink.NopSink{}
	}
	return &Dispatcher{
		detector:  detector,
		codec:     codec,
		annotator: annotator,
		emitter:   emitter,
		events:    events,
		serverID:  serverID,
		opts:      opts,
		log:       log,
	}
}

// Registration identifies one Register call. Teardown requires it, so a
// displaced connection's late Unregister cannot remove the slot its
// successor registered under the same client ID.
type Registration struct {
	s *slot
}

// Register creates the frame slot for a newly connected client. A second
// Register for the same id replaces the old slot; the displaced slot is
// closed so any worker still holding it exits silently.
func (d *Dispatcher) Register(clientID string) Registration {
	s := &slot{}
	prev, loaded := d.slots.Swap(clientID, s)
	if loaded {
		d.log.Warnf("Replacing existing pipeline slot for client %s", clientID)
		closeSlot(prev.(*slot))
	}
	return Registration{s: s}
}

// Unregister tears down the slot created by the matching Register. When
// the stored slot belongs to a newer connection it is left alone; the
// caller's own slot was already closed when it was displaced. The worker
// observes the closed flag at its next loop iteration and exits without
// emitting.
func (d *Dispatcher) Unregister(clientID string, reg Registration) {
	if reg.s == nil {
		return
	}
	if d.slots.CompareAndDelete(clientID, reg.s) {
		closeSlot(reg.s)
	}
}

func closeSlot(s *slot) {
	s.mu.Lock()
	s.closed = true
	s.pending = nil
	s.mu.Unlock()
}

// OnFrame admits one inbound frame. It returns in O(1) after at most one
// lock acquisition: the transport read loop is never blocked by
// inference. Frames for unknown clients are silently ignored, since a
// disconnect can race with in-flight messages.
func (d *Dispatcher) OnFrame(clientID string, data []byte) {
	v, ok := d.slots.Load(clientID)
	if !ok {
		return
	}
	s := v.(*slot)

	if !d.detector.Ready() {
		// Acknowledged with a loading status and dropped; frames are not
		// buffered for replay once the model comes up.
		d.emitter.Send(clientID, ErrorResponse{Error: "model is still loading", Loading: true})
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.pending != nil {
		s.drops++
		metrics.FramesShed.Inc()
	}
	s.pending = data
	spawn := !s.running
	if spawn {
		s.running = true
	}
	s.mu.Unlock()

	if spawn {
		go d.worker(clientID, s)
	}
}

// worker drains the client's slot: it repeatedly takes the freshest
// pending frame and processes it, and exits once the slot is empty or
// closed. At most one worker runs per slot; the running flag is cleared
// under the same lock that finds the slot empty, so a frame arriving
// concurrently either lands in pending before the check or spawns the
// next worker itself.
func (d *Dispatcher) worker(clientID string, s *slot) {
	for {
		s.mu.Lock()
		if s.closed || s.pending == nil {
			s.running = false
			s.mu.Unlock()
			return
		}
		data := s.pending
		s.pending = nil
		s.mu.Unlock()

		d.processFrame(clientID, s, data)
	}
}

// processFrame runs one frame through decode, downscale, detect,
// annotate and encode, then emits the result to the originating client.
// Every failure is reported to that client only and the worker loop
// continues with the next buffered frame.
func (d *Dispatcher) processFrame(clientID string, s *slot, data []byte) {
	img, err := d.codec.DecodeFrame(data)
	if err != nil {
		d.failFrame(clientID, s, "decode", err)
		return
	}

	img = imaging.Downscale(img, d.opts.MaxDimension)

	detections, err := d.detector.Detect(context.Background(), img)
	if err != nil {
		d.failFrame(clientID, s, "inference", err)
		return
	}

	annotated := d.annotator.Draw(img, detections)

	encoded, err := d.codec.EncodeDataURI(annotated, d.opts.JPEGQuality)
	if err != nil {
		d.failFrame(clientID, s, "encode", err)
		return
	}

	// The client may have disconnected while we were inferring; in that
	// case nothing is emitted.
	if isClosed(s) {
		return
	}

	metrics.FramesProcessed.Inc()
	d.emitter.Send(clientID, Response{
		Frame:      encoded,
		Detections: detections,
		Count:      len(detections),
	})

	if len(detections) > 0 {
		d.publishEvent(clientID, detections)
	}
}

func (d *Dispatcher) failFrame(clientID string, s *slot, stage string, err error) {
	metrics.FrameErrors.WithLabelValues(stage).Inc()
	d.log.Warnf("Frame %s failed for client %s: %v", stage, clientID, err)
	if isClosed(s) {
		return
	}
	d.emitter.Send(clientID, ErrorResponse{Error: err.Error()})
}

func isClosed(s *slot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// publishEvent forwards the detections to the configured sink, best
// effort: a sink outage never affects the client-facing path.
func (d *Dispatcher) publishEvent(clientID string, detections []detect.Detection) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkPublishTimeout)
	defer cancel()

	err := d.events.Publish(ctx, sink.Message{
		ClientID:   clientID,
		ServerID:   d.serverID,
		Detections: detections,
		Count:      len(detections),
		Timestamp:  time.Now(),
	})
	if err != nil {
		d.log.Warnf("Failed to publish detection event for client %s: %v", clientID, err)
		return
	}
	metrics.SinkMessagesPublished.WithLabelValues(d.events.Type()).Inc()
}
