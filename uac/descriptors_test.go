package uac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuxcodes/usbaudiobridge/usb"
)

// Test_BuildSinkOnlyLayout_ACHeader checks the sink layout's AC header
// (spec.md §4.5): bInCollection = 2, naming the single streaming interface
// twice, and the terminal/unit entity IDs from the canonical ID table.
func Test_BuildSinkOnlyLayout_ACHeader(t *testing.T) {
	conf := &usb.ConfigurationDescriptor{}
	conf.SetDefaults()

	dataFn := func(buf []byte, lastErr error) ([]byte, error) { return nil, nil }
	fbFn := func(buf []byte, lastErr error) ([]byte, error) { return nil, nil }

	ac := BuildSinkOnlyLayout(conf, []uint32{32000, 44100, 48000}, 1, dataFn, fbFn)
	require.Len(t, ac.ClassDescriptors, 4)

	header := ac.ClassDescriptors[0]
	assert.Equal(t, uint8(usb.DescriptorCSInterface), header[1])
	assert.Equal(t, uint8(subtypeHeader), header[2])
	bInCollection := header[7]
	assert.Equal(t, uint8(2), bInCollection)
	assert.Equal(t, uint8(1), header[8])
	assert.Equal(t, uint8(1), header[9])

	it := ac.ClassDescriptors[1]
	assert.Equal(t, uint8(TerminalPlaybackInput), it[3])

	fu := ac.ClassDescriptors[2]
	assert.Equal(t, uint8(UnitPlaybackFeature), fu[3])
	assert.Equal(t, uint8(TerminalPlaybackInput), fu[4])

	ot := ac.ClassDescriptors[3]
	assert.Equal(t, uint8(TerminalPlaybackOutput), ot[3])
	assert.Equal(t, uint8(UnitPlaybackFeature), ot[7])
}

// Test_BuildSinkOnlyLayout_Endpoints checks the data and feedback endpoint
// descriptors' addresses, sync attributes, and bRefresh/bSynchAddress
// trailers.
func Test_BuildSinkOnlyLayout_Endpoints(t *testing.T) {
	conf := &usb.ConfigurationDescriptor{}
	conf.SetDefaults()

	dataFn := func(buf []byte, lastErr error) ([]byte, error) { return nil, nil }
	fbFn := func(buf []byte, lastErr error) ([]byte, error) { return nil, nil }

	BuildSinkOnlyLayout(conf, []uint32{44100}, 1, dataFn, fbFn)

	require.Len(t, conf.Interfaces, 3)
	active := conf.Interfaces[2]
	require.Len(t, active.Endpoints, 2)

	dataEP := active.Endpoints[0]
	assert.Equal(t, uint8(0x01), dataEP.EndpointAddress)
	assert.Equal(t, uint8(epAttrIsochronous|epAttrSyncAsync|epAttrUsageData), dataEP.Attributes)
	require.Len(t, dataEP.ClassDescriptors, 1)

	feedbackEP := active.Endpoints[1]
	assert.Equal(t, uint8(0x82), feedbackEP.EndpointAddress)
	assert.Equal(t, uint8(epAttrIsochronous|epAttrSyncNone|epAttrUsageFeedback), feedbackEP.Attributes)
	assert.Equal(t, uint16(4), feedbackEP.MaxPacketSize)
}

// Test_BuildSourceOnlyLayout_ACHeader checks the source layout's AC header:
// bInCollection = 1, microphone input terminal, direct-to-USB-streaming
// output terminal, no feature unit.
func Test_BuildSourceOnlyLayout_ACHeader(t *testing.T) {
	conf := &usb.ConfigurationDescriptor{}
	conf.SetDefaults()

	dataFn := func(buf []byte, lastErr error) ([]byte, error) { return nil, nil }

	ac := BuildSourceOnlyLayout(conf, []uint32{8000, 16000, 44100}, 1, usb.SpeedHigh, dataFn)
	require.Len(t, ac.ClassDescriptors, 3)

	header := ac.ClassDescriptors[0]
	assert.Equal(t, uint8(1), header[7]) // bInCollection

	it := ac.ClassDescriptors[1]
	assert.Equal(t, uint8(TerminalSourceInput), it[3])

	ot := ac.ClassDescriptors[2]
	assert.Equal(t, uint8(TerminalSourceOutput), ot[3])
	assert.Equal(t, uint8(TerminalSourceInput), ot[7])
}

// Test_BuildSourceOnlyLayout_IntervalBySpeed checks the data endpoint's
// polling interval: high-speed uses a 4-(micro)frame interval, full-speed
// uses 1.
func Test_BuildSourceOnlyLayout_IntervalBySpeed(t *testing.T) {
	dataFn := func(buf []byte, lastErr error) ([]byte, error) { return nil, nil }

	confHigh := &usb.ConfigurationDescriptor{}
	confHigh.SetDefaults()
	BuildSourceOnlyLayout(confHigh, []uint32{44100}, 1, usb.SpeedHigh, dataFn)
	assert.Equal(t, uint8(4), confHigh.Interfaces[2].Endpoints[0].Interval)

	confFull := &usb.ConfigurationDescriptor{}
	confFull.SetDefaults()
	BuildSourceOnlyLayout(confFull, []uint32{44100}, 1, usb.SpeedFull, dataFn)
	assert.Equal(t, uint8(1), confFull.Interfaces[2].Endpoints[0].Interval)
}

// Test_DescendingSinkTable checks the sink's descending frequency-table
// ordering requirement (spec.md §4.5).
func Test_DescendingSinkTable(t *testing.T) {
	got := descendingSinkTable([]uint32{32000, 48000, 44100})
	assert.Equal(t, []uint32{48000, 44100, 32000}, got)
}
