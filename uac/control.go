package uac

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/nuxcodes/usbaudiobridge/usb"
)

// UAC1 class-specific request codes (p123, Table A-1 is the wire enum; the
// names below follow the common USB Audio Class 1.0 naming).
const (
	reqSetCur = 0x01
	reqSetMin = 0x02
	reqSetMax = 0x03
	reqSetRes = 0x04
	reqGetCur = 0x81
	reqGetMin = 0x82
	reqGetMax = 0x83
	reqGetRes = 0x84
)

// Control selectors.
const (
	selSamplingFreq = 0x01 // endpoint control, high byte of wValue
	selMute         = 0x01 // feature unit control, high byte of wValue
	selVolume       = 0x02
)

const masterChannel = 0

// VolumeEngine is the underlying sound engine's volume control, an
// external collaborator (spec.md §1's PCM mixer/DSP is the nearest
// in-scope neighbor; the engine itself is a non-goal). Volume units are
// the device's native fixed-point dB representation, carrying NumDecimals
// fractional digits.
type VolumeEngine interface {
	Volume() int32
	SetVolume(v int32)
	MinVolume() int32
	MaxVolume() int32
	NumDecimals() uint8
}

// FeatureUnit implements the playback feature unit's MUTE and VOLUME
// controls (spec.md §4.4). Per spec.md §4.5's canonical terminal/unit ID
// table (AC_PLAYBACK_FEATURE = 4) — §4.4's prose mentions "ID 3" for this
// same unit, which is the playback input terminal's ID, not the feature
// unit's; this implementation binds to entity ID 4, the ID table being the
// more specific and internally consistent source (see DESIGN.md).
type FeatureUnit struct {
	ID     uint8
	Engine VolumeEngine

	muted        bool
	savedVolume  int32
}

func NewFeatureUnit(engine VolumeEngine) *FeatureUnit {
	return &FeatureUnit{ID: UnitPlaybackFeature, Engine: engine}
}

// dbToDevice converts an IEEE-signed 16-bit 1/256 dB wire value to the
// device's native numdecimals-scaled integer volume.
func dbToDevice(usb int16, numDecimals uint8) int32 {
	scale := pow10(numDecimals)
	return int32(int64(usb) * scale / 256)
}

// deviceToDB converts a device-native volume back to the wire's
// IEEE-signed 16-bit 1/256 dB value, clamping to the int16 range.
func deviceToDB(device int32, numDecimals uint8) int16 {
	scale := pow10(numDecimals)
	v := int64(device) * 256 / scale

	if v > 32767 {
		v = 32767
	}
	if v < -32768 {
		v = -32768
	}

	return int16(v)
}

func pow10(n uint8) int64 {
	r := int64(1)
	for i := uint8(0); i < n; i++ {
		r *= 10
	}
	return r
}

// handleInterface services a class, interface-recipient request addressed
// to this feature unit. It returns handled=false for any other entity ID
// so the caller can fall through / stall.
func (f *FeatureUnit) handleInterface(setup *usb.SetupData, data []byte) (in []byte, needData int, ack, done, handled bool, err error) {
	entityID := uint8(setup.Index >> 8)
	if entityID != f.ID {
		return nil, 0, false, false, false, nil
	}
	handled = true

	selector := uint8(setup.Value >> 8)
	channel := uint8(setup.Value & 0xff)

	if channel != masterChannel {
		return nil, 0, false, false, true, fmt.Errorf("uac: non-master channel %d rejected", channel)
	}

	switch selector {
	case selMute:
		switch setup.Request {
		case reqSetCur:
			needData, ack, done, err := usb.TwoPassSetCUR(1, data, func(data []byte) error {
				f.setMute(data[0] != 0)
				return nil
			})
			return nil, needData, ack, done, true, err
		case reqGetCur:
			b := byte(0)
			if f.muted {
				b = 1
			}
			return []byte{b}, 0, false, true, true, nil
		default:
			return nil, 0, false, false, true, fmt.Errorf("uac: unsupported MUTE request %#x", setup.Request)
		}
	case selVolume:
		nd := f.Engine.NumDecimals()
		switch setup.Request {
		case reqSetCur:
			needData, ack, done, err := usb.TwoPassSetCUR(2, data, func(data []byte) error {
				wire := int16(binary.LittleEndian.Uint16(data))
				f.Engine.SetVolume(dbToDevice(wire, nd))
				return nil
			})
			return nil, needData, ack, done, true, err
		case reqGetCur:
			return le16signed(deviceToDB(f.Engine.Volume(), nd)), 0, false, true, true, nil
		case reqGetMin:
			return le16signed(deviceToDB(f.Engine.MinVolume(), nd)), 0, false, true, true, nil
		case reqGetMax:
			return le16signed(deviceToDB(f.Engine.MaxVolume(), nd)), 0, false, true, true, nil
		case reqGetRes:
			return le16signed(1), 0, false, true, true, nil // 1/256 dB, the finest step the wire format represents
		default:
			return nil, 0, false, false, true, fmt.Errorf("uac: unsupported VOLUME request %#x", setup.Request)
		}
	default:
		return nil, 0, false, false, true, fmt.Errorf("uac: unsupported feature unit selector %#x", selector)
	}
}

func (f *FeatureUnit) setMute(mute bool) {
	if mute == f.muted {
		return
	}
	f.muted = mute

	if mute {
		f.savedVolume = f.Engine.Volume()
		f.Engine.SetVolume(f.Engine.MinVolume())
	} else {
		f.Engine.SetVolume(f.savedVolume)
	}
}

func le16signed(v int16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(v))
	return b
}

// FreqEndpoint implements the sampling-frequency endpoint control
// (spec.md §4.4) for one streaming direction.
type FreqEndpoint struct {
	// Table lists the hardware-supported frequencies. The nearest
	// candidate always wins; table order only decides between two equally
	// near candidates (the earlier one wins). No particular order is
	// imposed on it.
	Table []uint32

	current uint32
	setFreq func(uint32) // applies the selected rate to the hardware/DSP chain
}

// NewFreqEndpoint builds a FreqEndpoint defaulting to table[0] (its
// documented first entry, normally the commonly used default); setFreq is
// invoked whenever the selected rate changes.
func NewFreqEndpoint(table []uint32, setFreq func(uint32)) *FreqEndpoint {
	return &FreqEndpoint{Table: table, current: table[0], setFreq: setFreq}
}

// Snap returns the table entry closest to requested, preferring the
// earliest exact tie in table order for determinism (spec.md §8 invariant
// 5, idempotence).
func (fe *FreqEndpoint) Snap(requested uint32) uint32 {
	best := fe.Table[0]
	bestDiff := diff(best, requested)

	for _, f := range fe.Table[1:] {
		if d := diff(f, requested); d < bestDiff {
			best, bestDiff = f, d
		}
	}

	return best
}

func diff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

func (fe *FreqEndpoint) handleEndpoint(setup *usb.SetupData, data []byte) (in []byte, needData int, ack, done, handled bool, err error) {
	if setup.Value != 0x0100 {
		return nil, 0, false, false, false, nil
	}
	handled = true

	switch setup.Request {
	case reqSetCur:
		needData, ack, done, err := usb.TwoPassSetCUR(3, data, func(data []byte) error {
			requested := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16
			fe.current = fe.Snap(requested)
			if fe.setFreq != nil {
				fe.setFreq(fe.current)
			}
			return nil
		})
		return nil, needData, ack, done, true, err
	case reqGetCur:
		return le24(fe.current), 0, false, true, true, nil
	default:
		return nil, 0, false, false, true, fmt.Errorf("uac: unsupported frequency request %#x", setup.Request)
	}
}

func le24(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16)}
}

// SortedFrequencyTable returns freqs sorted according to ascending (for
// the source) order; callers building the sink's descending table can
// reverse the result.
func SortedFrequencyTable(freqs []uint32) []uint32 {
	out := append([]uint32(nil), freqs...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatcher is the audio function's top-level class-request hook, bound
// as a usb.Device's Setup function. It routes endpoint-recipient requests
// to the matching FreqEndpoint (keyed by endpoint address) and
// interface-recipient requests to the FeatureUnit.
type Dispatcher struct {
	Feature *FeatureUnit
	// Endpoints maps an ISO endpoint address (including the direction
	// bit) to its FreqEndpoint.
	Endpoints map[uint8]*FreqEndpoint
}

// Setup implements usb.SetupFunction.
func (d *Dispatcher) Setup(setup *usb.SetupData, data []byte) (in []byte, needData int, ack, done bool, err error) {
	if setup.Type() != usb.RequestTypeClass {
		return nil, 0, false, false, fmt.Errorf("uac: unsupported request type %#x", setup.Type())
	}

	switch setup.Recipient() {
	case usb.RequestRecipientEndpoint:
		ep, ok := d.Endpoints[uint8(setup.Index&0xff)]
		if !ok {
			return nil, 0, false, false, fmt.Errorf("uac: unknown endpoint %#x", setup.Index)
		}
		var handled bool
		in, needData, ack, done, handled, err = ep.handleEndpoint(setup, data)
		if !handled {
			return nil, 0, false, false, fmt.Errorf("uac: unhandled endpoint control selector")
		}
		return
	case usb.RequestRecipientInterface:
		if d.Feature == nil {
			return nil, 0, false, false, fmt.Errorf("uac: no feature unit configured")
		}
		var handled bool
		in, needData, ack, done, handled, err = d.Feature.handleInterface(setup, data)
		if !handled {
			return nil, 0, false, false, fmt.Errorf("uac: unhandled interface entity")
		}
		return
	default:
		return nil, 0, false, false, fmt.Errorf("uac: unsupported recipient %#x", setup.Recipient())
	}
}
