package usb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test_AddInterface_AutoNumbersAlternateSettingZero checks that each
// interface with AlternateSetting == 0 gets the next sequential interface
// number, and NumInterfaces tracks the count.
func Test_AddInterface_AutoNumbersAlternateSettingZero(t *testing.T) {
	conf := &ConfigurationDescriptor{}
	conf.SetDefaults()

	ac := &InterfaceDescriptor{}
	ac.SetDefaults()
	conf.AddInterface(ac)

	as := &InterfaceDescriptor{}
	as.SetDefaults()
	conf.AddInterface(as)

	assert.Equal(t, uint8(0), ac.InterfaceNumber)
	assert.Equal(t, uint8(1), as.InterfaceNumber)
	assert.Equal(t, uint8(2), conf.NumInterfaces)
}

// Test_AddInterface_AlternateSettingJoinsPriorNumber checks that an
// interface descriptor with a non-zero AlternateSetting joins the most
// recently numbered interface rather than consuming a new number.
func Test_AddInterface_AlternateSettingJoinsPriorNumber(t *testing.T) {
	conf := &ConfigurationDescriptor{}
	conf.SetDefaults()

	idle := &InterfaceDescriptor{}
	idle.SetDefaults()
	conf.AddInterface(idle)

	active := &InterfaceDescriptor{}
	active.SetDefaults()
	active.AlternateSetting = 1
	conf.AddInterface(active)

	assert.Equal(t, uint8(0), idle.InterfaceNumber)
	assert.Equal(t, uint8(0), active.InterfaceNumber)
	assert.Equal(t, uint8(1), conf.NumInterfaces)
}

// Test_Configuration_TotalLengthCoversWholeStream checks that
// Device.Configuration patches wTotalLength to the exact byte count of the
// configuration + interface + class-descriptor + endpoint stream it
// assembles.
func Test_Configuration_TotalLengthCoversWholeStream(t *testing.T) {
	dev := &Device{}

	conf := &ConfigurationDescriptor{}
	conf.SetDefaults()
	dev.Configurations = append(dev.Configurations, conf)

	iface := &InterfaceDescriptor{}
	iface.SetDefaults()
	iface.NumEndpoints = 1
	iface.ClassDescriptors = [][]byte{{0xde, 0xad, 0xbe, 0xef}}

	ep := &EndpointDescriptor{}
	ep.SetDefaults()
	ep.EndpointAddress = 0x81
	ep.ClassDescriptors = [][]byte{{0xca, 0xfe}}

	iface.Endpoints = []*EndpointDescriptor{ep}
	conf.AddInterface(iface)

	b, err := dev.Configuration(0)
	require.NoError(t, err)

	wantLen := len(conf.Bytes()) + len(iface.Bytes()) + len(iface.ClassDescriptors[0]) +
		len(ep.Bytes()) + len(ep.ClassDescriptors[0])
	assert.Len(t, b, wantLen)

	gotTotal := uint16(b[2]) | uint16(b[3])<<8
	assert.Equal(t, uint16(wantLen), gotTotal)
}

// Test_SetAudioSync_AppendsRefreshAndSynchAddress checks the UAC1
// bRefresh/bSynchAddress trailer SetAudioSync appends, growing the
// endpoint descriptor's serialized length from 7 to 9 bytes.
func Test_SetAudioSync_AppendsRefreshAndSynchAddress(t *testing.T) {
	ep := &EndpointDescriptor{}
	ep.SetDefaults()
	require.Len(t, ep.Bytes(), 7)

	ep.SetAudioSync(5, 0x82)
	b := ep.Bytes()
	require.Len(t, b, 9)
	assert.Equal(t, uint8(5), b[7])
	assert.Equal(t, uint8(0x82), b[8])
}

// Test_AddString_RoundTripsUTF16LE checks that a string descriptor can be
// added and decoded back to the original text.
func Test_AddString_RoundTripsUTF16LE(t *testing.T) {
	dev := &Device{}
	dev.SetLanguageCodes([]uint16{0x0409})

	idx, err := dev.AddString("hello")
	require.NoError(t, err)
	assert.Equal(t, uint8(1), idx) // index 0 is the language code table

	b := dev.Strings[idx]
	assert.Equal(t, uint8(len(b)), b[0])
	assert.Equal(t, uint8(DescriptorString), b[1])
}
