package uac

import (
	"encoding/binary"
	"sync"

	"github.com/nuxcodes/usbaudiobridge/usb"
)

// oneSampleQ16 is ±1.0 sample expressed in Q16.16, the mandatory clamp
// bound (spec.md §4.1: "Clamping to ±1 sample is mandatory to keep hosts
// within UAC1 tolerance").
const oneSampleQ16 = 1 << 16

// feedbackController implements the rate-adaptive PI-like feedback
// controller: it samples ring occupancy on every sink completion and, once
// every FeedbackUpdateRateFrames frames, emits a Q16.16 "samples per
// frame" correction. Grounded on
// original_source/firmware/usbstack/usb_audio.c's feedback block inside
// usb_audio_fast_transfer_complete.
type feedbackController struct {
	fNom int32 // nominal samples/frame, Q16.16, fixed for the session

	// mu guards every field below: sample (from the ISO OUT completion
	// goroutine) and tick (from the feedback endpoint's own completion
	// goroutine) run concurrently against the same state, unlike the
	// original's single ISR running both in sequence.
	mu sync.Mutex

	acc, cnt       int64 // running accumulator/count, never reset
	accOld, cntOld int64 // snapshot subtracted on each window slide

	prevAvg int64 // previous emitted average (Q16.16), for the derivative term

	framesSinceStart uint32
	started          bool

	// sentFBThisFrame latches once tick has emitted for the current frame,
	// cleared on the next sample. Without it an unthrottled caller (the
	// feedback endpoint's dispatch loop has no real USB-frame
	// synchronization) would re-enter the window slide below on every
	// extra call between samples, corrupting the accumulator. Mirrors
	// original_source/firmware/usbstack/usb_audio.c's sent_fb_this_frame.
	sentFBThisFrame bool
}

func newFeedbackController(hwFreq uint32) *feedbackController {
	return &feedbackController{fNom: computeFNom(hwFreq)}
}

// computeFNom computes hw_freq/1000 in Q16.16 via the staged division
// spec.md §4.1 specifies ((hw_freq/10)/100), which keeps the original's
// truncation behavior (and hence its exact test-vector outputs) rather
// than computing (hw_freq<<16)/1000 directly. int64 intermediates are used
// per the design note's second option (64-bit intermediates, documented)
// since Go has no reason to fight 32-bit overflow the way the original
// bare-metal staging did.
func computeFNom(hwFreq uint32) int32 {
	stage1 := int64(hwFreq) / 10
	stage2 := (stage1 << 16) / 100
	return int32(stage2)
}

// sample records one completion's ring occupancy (prebuffered slot count
// minus the prebuffer threshold, so 0 at steady state) into the running
// accumulator.
func (f *feedbackController) sample(occupancy int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.acc += int64(occupancy) << 16
	f.cnt++
	f.framesSinceStart++
	f.sentFBThisFrame = false
}

// tick advances the frame latch and, when the update rate boundary is
// reached (and the startup suppression window has elapsed), computes and
// returns the next feedback value in Q16.16. ok is false when no emission
// is due this frame.
func (f *feedbackController) tick() (fF int32, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.framesSinceStart < 2*FeedbackUpdateRateFrames {
		return 0, false
	}

	if f.framesSinceStart%FeedbackUpdateRateFrames != 0 {
		return 0, false
	}

	if f.sentFBThisFrame {
		return 0, false
	}
	f.sentFBThisFrame = true

	var avg int64
	if f.cnt != 0 {
		avg = f.acc / f.cnt
	}

	derivative := f.prevAvg - avg
	result := int64(f.fNom) - avg/4 + derivative/40
	result = clampQ16(result, int64(f.fNom)-oneSampleQ16, int64(f.fNom)+oneSampleQ16)

	f.prevAvg = avg

	// window slides: remove the contribution of the window before last.
	f.acc -= f.accOld
	f.cnt -= f.cntOld
	f.accOld = f.acc
	f.cntOld = f.cnt

	return int32(result), true
}

func clampQ16(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// encodeFeedback serializes a Q16.16 feedback value for the wire. Both
// speeds apply the same >>2 shift (matching spec.md §8's literal 44.1kHz
// high-speed scenario, whose 4-byte value 66 06 0B 00 equals the
// full-speed 3-byte encoding zero-extended by one byte, not an unshifted
// 4-byte Q16.16 word); they differ only in how many resulting bytes are
// placed on the wire.
func encodeFeedback(fF int32, speed usb.Speed) []byte {
	shifted := uint32(fF >> 2)

	if speed == usb.SpeedHigh {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, shifted)
		return b
	}

	b := make([]byte, 3)
	b[0] = byte(shifted)
	b[1] = byte(shifted >> 8)
	b[2] = byte(shifted >> 16)
	return b
}
