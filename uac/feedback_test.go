package uac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/nuxcodes/usbaudiobridge/usb"
)

// Test_EncodeFeedback_44100HighSpeed pins the literal scenario from
// spec.md §8: 44.1kHz high-speed feedback at steady state (zero
// occupancy error) must wire-encode to 66 06 0B 00.
func Test_EncodeFeedback_44100HighSpeed(t *testing.T) {
	fc := newFeedbackController(44100)

	for i := 0; i < 2*FeedbackUpdateRateFrames; i++ {
		fc.sample(0)
	}

	fF, ok := fc.tick()
	assert.True(t, ok)

	wire := encodeFeedback(fF, usb.SpeedHigh)
	assert.Equal(t, []byte{0x66, 0x06, 0x0b, 0x00}, wire)
}

// Test_EncodeFeedback_FullSpeedMatchesHighSpeedPrefix checks the
// resolved ambiguity directly: full-speed's 3-byte encoding must be the
// same >>2-shifted value as high-speed's 4-byte encoding, truncated to 3
// bytes, not an independently-computed Q10.14 value.
func Test_EncodeFeedback_FullSpeedMatchesHighSpeedPrefix(t *testing.T) {
	fc := newFeedbackController(44100)
	for i := 0; i < 2*FeedbackUpdateRateFrames; i++ {
		fc.sample(0)
	}
	fF, ok := fc.tick()
	assert.True(t, ok)

	high := encodeFeedback(fF, usb.SpeedHigh)
	full := encodeFeedback(fF, usb.SpeedFull)

	assert.Equal(t, high[:3], full)
}

// Test_FeedbackController_NoEmissionBeforeStartupWindow checks the
// startup suppression window (2x update rate frames) from spec.md §4.1.
func Test_FeedbackController_NoEmissionBeforeStartupWindow(t *testing.T) {
	fc := newFeedbackController(44100)

	for i := 0; i < 2*FeedbackUpdateRateFrames-1; i++ {
		fc.sample(0)
		_, ok := fc.tick()
		assert.False(t, ok)
	}
}

// Test_FeedbackController_LatchesOncePerFrame checks the
// sent_fb_this_frame edge-latch (spec.md §4.1/§6): the unthrottled
// feedback endpoint dispatch loop can call tick() many times between two
// sample() calls, and only the first such call at a boundary frame may
// emit — every extra call before the next sample must report ok=false
// rather than re-sliding the accumulator window on unchanged state.
func Test_FeedbackController_LatchesOncePerFrame(t *testing.T) {
	fc := newFeedbackController(44100)

	for i := 0; i < 2*FeedbackUpdateRateFrames; i++ {
		fc.sample(0)
	}

	_, ok := fc.tick()
	assert.True(t, ok, "first tick at the boundary frame should emit")

	accAfterFirst := fc.acc
	cntAfterFirst := fc.cnt

	for i := 0; i < 5; i++ {
		_, ok := fc.tick()
		assert.False(t, ok, "re-entrant tick before the next sample must not emit")
		assert.Equal(t, accAfterFirst, fc.acc)
		assert.Equal(t, cntAfterFirst, fc.cnt)
	}

	fc.sample(0)
	_, ok = fc.tick()
	assert.False(t, ok, "the frame after an emission boundary must not emit")
}

// Test_FeedbackController_ClampBound is the universally-quantified
// invariant from spec.md §8: the emitted correction never strays more
// than one sample (±65536 in Q16.16) from the nominal rate, regardless of
// how extreme the occupancy error driving it is.
func Test_FeedbackController_ClampBound(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		hwFreq := rapid.Uint32Range(8000, 192000).Draw(t, "hwFreq")
		occupancy := rapid.IntRange(-10000, 10000).Draw(t, "occupancy")

		fc := newFeedbackController(hwFreq)

		var fF int32
		var ok bool
		for i := 0; i < 4*FeedbackUpdateRateFrames; i++ {
			fc.sample(occupancy)
			if f, o := fc.tick(); o {
				fF, ok = f, true
			}
		}

		if !ok {
			t.Fatal("expected at least one emission")
		}

		lo := int64(fc.fNom) - oneSampleQ16
		hi := int64(fc.fNom) + oneSampleQ16
		assert.GreaterOrEqual(t, int64(fF), lo)
		assert.LessOrEqual(t, int64(fF), hi)
	})
}
