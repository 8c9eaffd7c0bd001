package uac

// Pacer computes, frame by frame, the exact number of PCM samples a
// non-integer sample rate (e.g. 44100 Hz against a 1000 Hz frame rate)
// should contribute, carrying the remainder across frames so the
// long-term average matches freq/1000 exactly (spec.md §4.2,
// "Frame-size computation"). Stereo 16-bit PCM is assumed (4 bytes/sample
// frame), matching the source direction's fixed format.
type Pacer struct {
	base      uint32
	remainder uint32
	frac      uint32
}

// NewPacer builds a Pacer for freq (samples/sec).
func NewPacer(freq uint32) *Pacer {
	return &Pacer{
		base:      freq / 1000,
		remainder: freq % 1000,
	}
}

// Reset zeroes the carried fractional accumulator, used on stream start
// (spec.md §4.2, "Start: reset offsets and frac to 0").
func (p *Pacer) Reset() {
	p.frac = 0
}

// NextFrameSamples advances the pacer by one frame and returns the sample
// count for that frame.
func (p *Pacer) NextFrameSamples() uint32 {
	p.frac += p.remainder

	if p.frac >= 1000 {
		p.frac -= 1000
		return p.base + 1
	}

	return p.base
}

// NextFrameBytes advances the pacer by one frame and returns the PCM byte
// count for that frame (samples * 4, stereo 16-bit).
func (p *Pacer) NextFrameBytes() int {
	return int(p.NextFrameSamples()) * 4
}
