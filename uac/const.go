// Package uac implements the USB Audio Class 1.0 sink and source function:
// the sink ring buffer and rate-adaptive feedback controller, the source
// ring buffer and fractional frame pacer, the audio class control-request
// dispatcher, and AC/AS descriptor assembly for both supported layouts.
//
// Grounded throughout on original_source/firmware/usbstack/usb_audio.c.
package uac

// Sink ring geometry (spec.md §3, "Sink ring").
const (
	NrBuffers       = 32
	BufferSize      = 1023
	bufferAlignment = 32

	MinimumBuffersQueued = 16

	DSPBufSize = 4 * BufferSize
)

// SlotAllocSize is BufferSize aligned up to bufferAlignment, the actual
// per-slot allocation the raw-buffer allocator hands out.
var SlotAllocSize = alignUp(BufferSize, bufferAlignment)

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// Source ring geometry (spec.md §3, "Source ring"). 192 bytes/frame is
// 48kHz stereo 16-bit (48 samples/ms * 2 channels * 2 bytes), the unit the
// "~64ms at 48kHz stereo-16" sizing note in spec.md is expressed in.
const (
	TxFrameSize = 192
	TxRingSize  = TxFrameSize * 64
)

// FeedbackRefreshP is the UAC1 feedback refresh exponent P; feedback is
// sent every 2^(10-P) frames (spec.md §4.1, §6).
const FeedbackRefreshP = 5

// FeedbackUpdateRateFrames is 2^(10-P) with P = FeedbackRefreshP.
const FeedbackUpdateRateFrames = 1 << (10 - FeedbackRefreshP)

// Terminal and unit IDs (spec.md §4.5).
const (
	TerminalSourceInput    = 1
	TerminalSourceOutput   = 2
	TerminalPlaybackInput  = 3
	UnitPlaybackFeature    = 4
	TerminalPlaybackOutput = 5
)

// frameWindowBits is the width of the USB frame-number counter (mod 2^11,
// spec.md §4.1 step 1).
const frameWindowBits = 11

// frameDelta returns the signed difference cur-prev modulo 2^frameWindowBits,
// in [-2^(frameWindowBits-1), 2^(frameWindowBits-1)). Factored out per
// SPEC_FULL.md's supplemented-features note; Sink.Completion uses it for
// frame-drop detection.
func frameDelta(cur, prev uint16) int {
	const mask = (1 << frameWindowBits) - 1
	const half = 1 << (frameWindowBits - 1)

	d := (int(cur) - int(prev)) & mask
	if d >= half {
		d -= mask + 1
	}
	return d
}
