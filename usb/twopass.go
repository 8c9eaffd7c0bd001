package usb

import "fmt"

// TwoPassSetCUR implements the two-pass RECEIVE/decode convention a
// SetupFunction's SET_CUR-shaped requests share: called once with data ==
// nil, it reports how many bytes the data stage needs; called again once
// Host has fetched them, it length-checks and hands the payload to apply.
// Every class-request handler in this module that accepts a data stage
// (feature unit MUTE/VOLUME, the frequency endpoint, HID-iAP SET_REPORT)
// follows this exact shape, so it is factored out once here rather than
// repeated at each call site.
func TwoPassSetCUR(length int, data []byte, apply func(data []byte) error) (needData int, ack, done bool, err error) {
	if data == nil {
		return length, false, false, nil
	}
	if len(data) < length {
		return 0, false, false, fmt.Errorf("usb: short SET_CUR payload, want %d got %d", length, len(data))
	}
	if err := apply(data); err != nil {
		return 0, false, false, err
	}
	return 0, true, true, nil
}
