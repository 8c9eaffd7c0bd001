package uac

import (
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/nuxcodes/usbaudiobridge/usb"
)

var sourceLog = log.NewWithOptions(nil, log.Options{Prefix: "uac.source"})

// Source implements the source audio pipeline: a byte ring fed by the
// mixer buffer hook (producer) and drained by the ISO IN completion path
// (consumer), paced by a Pacer so long-term sample rate tracks the
// configured frequency exactly. Offsets are volatile/atomic per spec.md
// §5: "the data race on offsets [is] benign" given the full-minus-one
// rule and a single producer/single consumer.
type Source struct {
	usb.Lifecycle // Start/Stop mirror this component's Connect/Disconnect

	ring []byte

	writePos atomic.Uint32
	readPos  atomic.Uint32

	pacer *Pacer

	bounce []byte // owned by the consumer only
}

// NewSource builds a Source over ringBuf, which must be exactly TxRingSize
// bytes (it panics otherwise; cmd/audiobridge takes it from the pinned
// allocator), with a Pacer for freq.
func NewSource(ringBuf []byte, freq uint32) *Source {
	if len(ringBuf) != TxRingSize {
		panic("uac: source ring buffer must be exactly TxRingSize bytes")
	}

	return &Source{
		ring:   ringBuf,
		pacer:  NewPacer(freq),
		bounce: make([]byte, TxFrameSize*2),
	}
}

// available returns the number of unread bytes in the ring.
func (s *Source) available() uint32 {
	return (s.writePos.Load() - s.readPos.Load()) % TxRingSize
}

// freeSpace returns how many bytes the producer may write without
// exceeding the full-minus-one rule (spec.md §3).
func (s *Source) freeSpace() uint32 {
	return TxRingSize - 1 - s.available()
}

// Write is the mixer buffer hook (producer, interrupt domain B). It copies
// min(len(data), freeSpace()) bytes into the ring with wraparound
// (freeSpace already keeps the full-minus-one byte free); excess is
// silently dropped — the hook is advisory, not backpressured (spec.md
// §4.2, §9 Open Question: no blocking/signaling is invented here).
func (s *Source) Write(data []byte) {
	free := s.freeSpace()
	n := len(data)
	if uint32(n) > free {
		n = int(free)
	}
	if n <= 0 {
		return
	}

	pos := s.writePos.Load() % TxRingSize
	first := TxRingSize - pos
	if uint32(n) <= first {
		copy(s.ring[pos:], data[:n])
	} else {
		copy(s.ring[pos:], data[:first])
		copy(s.ring[0:], data[first:n])
	}

	s.writePos.Add(uint32(n))
}

// Start resets the pacer and ring offsets and marks the source streaming
// (spec.md §4.2, "Start").
func (s *Source) Start() {
	s.pacer.Reset()
	s.writePos.Store(0)
	s.readPos.Store(0)
	s.Lifecycle.Connect()
}

// Stop marks the source as no longer streaming; no further submissions are
// kicked (spec.md §4.2, "Stop").
func (s *Source) Stop() {
	s.Lifecycle.Disconnect(nil)
}

// Streaming reports whether the source is currently active.
func (s *Source) Streaming() bool {
	return s.Lifecycle.Active()
}

// NextFrame is the ISO IN completion consumer (interrupt domain A). It
// computes the frame's required byte count from the pacer and returns
// either that many bytes copied out of the ring, or a zero-filled silence
// buffer of the same length on underrun.
func (s *Source) NextFrame() []byte {
	frameBytes := s.pacer.NextFrameBytes()

	available := s.available()
	if available < uint32(frameBytes) {
		sourceLog.Debug("source underrun", "available", available, "need", frameBytes)
		return make([]byte, frameBytes)
	}

	out := s.bounce[:frameBytes]

	pos := s.readPos.Load() % TxRingSize
	first := TxRingSize - pos
	if uint32(frameBytes) <= first {
		copy(out, s.ring[pos:pos+uint32(frameBytes)])
	} else {
		copy(out, s.ring[pos:])
		copy(out[first:], s.ring[0:uint32(frameBytes)-first])
	}

	s.readPos.Add(uint32(frameBytes))

	return out
}

// Prime submits an initial silence frame so the isochronous chain has
// something to send before the first real completion (spec.md §4.2,
// "prime the chain by submitting a silence frame").
func (s *Source) Prime() []byte {
	return make([]byte, s.pacer.base*4)
}
