package uac

import "sync/atomic"

// SimpleVolumeEngine is a minimal VolumeEngine backed by an atomic integer,
// clamped to [min, max] on every SetVolume. It is the default wiring for
// deployments that delegate actual gain application to an external mixer
// callback (spec.md §1: the PCM mixer/DSP chain is an external
// collaborator).
type SimpleVolumeEngine struct {
	min, max    int32
	numDecimals uint8

	value atomic.Int32

	// OnChange, if set, is invoked with the new volume every time
	// SetVolume changes it (e.g. to push the value into a hardware codec
	// register).
	OnChange func(v int32)
}

// NewSimpleVolumeEngine builds a SimpleVolumeEngine defaulting to max
// (spec.md's control-request scenario table assumes 0dB/max-volume at
// attach, the usual UAC1 playback default).
func NewSimpleVolumeEngine(min, max int32, numDecimals uint8) *SimpleVolumeEngine {
	e := &SimpleVolumeEngine{min: min, max: max, numDecimals: numDecimals}
	e.value.Store(max)
	return e
}

func (e *SimpleVolumeEngine) Volume() int32 { return e.value.Load() }

func (e *SimpleVolumeEngine) SetVolume(v int32) {
	if v < e.min {
		v = e.min
	}
	if v > e.max {
		v = e.max
	}
	e.value.Store(v)
	if e.OnChange != nil {
		e.OnChange(v)
	}
}

func (e *SimpleVolumeEngine) MinVolume() int32    { return e.min }
func (e *SimpleVolumeEngine) MaxVolume() int32    { return e.max }
func (e *SimpleVolumeEngine) NumDecimals() uint8 { return e.numDecimals }
