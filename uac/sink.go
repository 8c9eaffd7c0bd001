package uac

import (
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/nuxcodes/usbaudiobridge/bufalloc"
	"github.com/nuxcodes/usbaudiobridge/usb"
)

var sinkLog = log.NewWithOptions(nil, log.Options{Prefix: "uac.sink"})

// DSP processes one raw ISO OUT payload into a slot's post-processing
// buffer, returning the number of bytes written. It stands in for the PCM
// mixer/DSP chain, an explicit external collaborator (spec.md §1).
type DSP func(raw, out []byte) int

// PassthroughDSP copies raw into out unmodified, truncating to whichever is
// shorter. Useful as a default/test DSP; production wiring supplies a real
// one.
func PassthroughDSP(raw, out []byte) int {
	return copy(out, raw)
}

// SinkState enumerates the sink pipeline's state machine (spec.md §4.1).
type SinkState int32

const (
	SinkIdle SinkState = iota
	SinkPriming
	SinkReceiving
	SinkStreaming
	SinkOverflow
	SinkUnderflow
)

func (s SinkState) String() string {
	switch s {
	case SinkIdle:
		return "idle"
	case SinkPriming:
		return "priming"
	case SinkReceiving:
		return "receiving"
	case SinkStreaming:
		return "streaming"
	case SinkOverflow:
		return "overflow"
	case SinkUnderflow:
		return "underflow"
	default:
		return "unknown"
	}
}

// Sink implements the sink audio pipeline: ISO OUT ingress through the DSP
// into the playback ring, a pull interface for the mixer, and the
// rate-adaptive feedback controller. Indices are single-producer (ingress,
// interrupt domain A) / single-consumer (Pull, interrupt domain B); they
// are kept as atomics per spec.md §9's design note ("make this explicit
// with atomically-updated indices").
type Sink struct {
	dsp   DSP
	speed usb.Speed

	dspo [][]byte // NrBuffers slots of DSPBufSize bytes, the post-DSP buffers
	raw  [][]byte // NrBuffers slots of SlotAllocSize bytes, the pinned ISO OUT receive targets
	n    [NrBuffers]int32

	rxUSBIdx  atomic.Uint32
	rxPlayIdx atomic.Uint32

	overflow  atomic.Bool
	underflow atomic.Bool

	state atomic.Int32

	haveLastFrame bool
	lastFrame     uint16
	framesDropped atomic.Uint64

	fb *feedbackController
}

// NewSink allocates the sink's DSP-output ring and its pinned raw ISO OUT
// receive buffers (spec.md §9's "sink raw" arena buffer) from alloc and
// returns a ready-to-activate Sink. Per spec.md §7's allocation-failure
// policy, a failure here aborts activation with every already-allocated
// buffer freed (handled by bufalloc.Allocator.AllocAll).
func NewSink(alloc *bufalloc.Allocator, dsp DSP, hwFreq uint32, speed usb.Speed) (*Sink, error) {
	if dsp == nil {
		dsp = PassthroughDSP
	}

	sizes := make([]int, 2*NrBuffers)
	for i := 0; i < NrBuffers; i++ {
		sizes[i] = DSPBufSize
	}
	for i := NrBuffers; i < 2*NrBuffers; i++ {
		sizes[i] = SlotAllocSize
	}

	bufs, err := alloc.AllocAll(sizes...)
	if err != nil {
		return nil, err
	}

	s := &Sink{
		dsp:   dsp,
		speed: speed,
		dspo:  bufs[:NrBuffers],
		raw:   bufs[NrBuffers:],
		fb:    newFeedbackController(hwFreq),
	}
	s.state.Store(int32(SinkPriming))

	return s, nil
}

// filled returns the number of slots currently queued (producer - consumer,
// mod NrBuffers).
func (s *Sink) filled() uint32 {
	return (s.rxUSBIdx.Load() - s.rxPlayIdx.Load()) % NrBuffers
}

// Completion implements the ingress algorithm (spec.md §4.1) for one ISO
// OUT transfer completion. frameNumber is the controller's current 11-bit
// USB frame counter, used for frame-drop detection.
func (s *Sink) Completion(raw []byte, frameNumber uint16, lastErr error) {
	if lastErr != nil {
		// acknowledge but do not advance the ring.
		return
	}

	if s.haveLastFrame {
		if d := frameDelta(frameNumber, s.lastFrame); d > 1 || d < -1 {
			s.framesDropped.Add(1)
		}
	}
	s.lastFrame = frameNumber
	s.haveLastFrame = true

	if len(raw) <= 4 {
		// stray feedback echo
		return
	}

	usbIdx := s.rxUSBIdx.Load()
	playIdx := s.rxPlayIdx.Load()

	slot := usbIdx % NrBuffers
	n := s.dsp(raw, s.dspo[slot])
	s.n[slot] = int32(n)

	nextIdx := usbIdx + 1
	if nextIdx%NrBuffers == playIdx%NrBuffers {
		s.overflow.Store(true)
		s.state.Store(int32(SinkOverflow))
		sinkLog.Warn("usb_rx_overflow")
		// do not advance rx_usb_idx; do not submit another receive.
		return
	}

	s.rxUSBIdx.Store(nextIdx)

	filled := (nextIdx - playIdx) % NrBuffers
	if s.underflow.Load() && filled >= MinimumBuffersQueued {
		s.underflow.Store(false)
		s.state.Store(int32(SinkStreaming))
	}

	s.fb.sample(int(filled) - MinimumBuffersQueued)
}

// Pull implements the mixer's pull interface. resubmit is true when an
// overflow was just cleared and the caller should resubmit an ISO OUT
// receive (the edge the original straddles with an interrupt-disable
// critical section; here it is simply the linearization point of the
// single atomic index update).
func (s *Sink) Pull() (chunk []byte, underflow bool, resubmit bool) {
	usbIdx := s.rxUSBIdx.Load()
	playIdx := s.rxPlayIdx.Load()

	if usbIdx == playIdx {
		s.underflow.Store(true)
		s.state.Store(int32(SinkUnderflow))
		return nil, true, false
	}

	slot := playIdx % NrBuffers
	chunk = s.dspo[slot][:s.n[slot]]
	s.rxPlayIdx.Store(playIdx + 1)

	if s.overflow.CompareAndSwap(true, false) {
		resubmit = true
	}

	return chunk, false, resubmit
}

// RawBuffers returns the NrBuffers pinned receive-target slots a platform
// Controller implementation submits ISO OUT transfers into, indexed the
// same way as the ring (slot = usbIdx % NrBuffers).
func (s *Sink) RawBuffers() [][]byte {
	return s.raw
}

// Feedback advances the feedback controller by one frame and returns the
// wire-encoded feedback value when an emission is due this frame.
func (s *Sink) Feedback() (wire []byte, ok bool) {
	fF, ok := s.fb.tick()
	if !ok {
		return nil, false
	}
	return encodeFeedback(fF, s.speed), true
}

// State reports the current sink state machine state.
func (s *Sink) State() SinkState {
	return SinkState(s.state.Load())
}

// Stats reports diagnostic counters (spec.md's supplemented frames-dropped
// exposure).
type SinkStats struct {
	FramesDropped uint64
	Filled        uint32
	Overflow      bool
	Underflow     bool
}

func (s *Sink) Stats() SinkStats {
	return SinkStats{
		FramesDropped: s.framesDropped.Load(),
		Filled:        s.filled(),
		Overflow:      s.overflow.Load(),
		Underflow:     s.underflow.Load(),
	}
}
