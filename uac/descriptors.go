package uac

import (
	"bytes"
	"encoding/binary"

	"github.com/nuxcodes/usbaudiobridge/usb"
)

// UAC1 class-specific descriptor subtypes (p20-22, Tables A-4/A-5/A-6,
// Audio Data Formats / Terminal / Unit, Audio Devices Rev 1.0).
const (
	subtypeHeader       = 0x01 // AC
	subtypeInputTerm    = 0x02
	subtypeOutputTerm   = 0x03
	subtypeFeatureUnit  = 0x06
	subtypeASGeneral    = 0x01 // AS
	subtypeFormatType   = 0x02
	subtypeEPGeneral    = 0x01 // AS endpoint
)

// Terminal types (p8, USB Terminal Types; p9, Input/Output Terminal Types).
const (
	terminalUSBStreaming = 0x0101
	terminalMicrophone   = 0x0201
	terminalHeadphones   = 0x0302
)

const bcdADC1 = 0x0100

func le16(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}

// acHeader builds the class-specific AC interface header descriptor
// (spec.md §4.5: bInCollection references the streaming interface(s) this
// function owns).
func acHeader(streamingInterfaces []uint8) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(0) // bLength, patched below
	buf.WriteByte(usb.DescriptorCSInterface)
	buf.WriteByte(subtypeHeader)
	buf.Write(le16(bcdADC1))
	buf.Write(le16(0)) // wTotalLength, patched by caller once the whole AC block is known
	buf.WriteByte(uint8(len(streamingInterfaces)))
	for _, n := range streamingInterfaces {
		buf.WriteByte(n)
	}

	b := buf.Bytes()
	b[0] = uint8(len(b))
	return b
}

// patchHeaderTotalLength rewrites the AC header's wTotalLength field (byte
// offset 5-6) once the full AC class-descriptor block size is known.
func patchHeaderTotalLength(header []byte, total uint16) {
	binary.LittleEndian.PutUint16(header[5:7], total)
}

func inputTerminal(id uint8, terminalType uint16, nrChannels uint8, channelConfig uint16) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(0)
	buf.WriteByte(usb.DescriptorCSInterface)
	buf.WriteByte(subtypeInputTerm)
	buf.WriteByte(id)
	buf.Write(le16(terminalType))
	buf.WriteByte(0) // bAssocTerminal
	buf.WriteByte(nrChannels)
	buf.Write(le16(channelConfig))
	buf.WriteByte(0) // iChannelNames
	buf.WriteByte(0) // iTerminal

	b := buf.Bytes()
	b[0] = uint8(len(b))
	return b
}

func outputTerminal(id uint8, terminalType uint16, sourceID uint8) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(0)
	buf.WriteByte(usb.DescriptorCSInterface)
	buf.WriteByte(subtypeOutputTerm)
	buf.WriteByte(id)
	buf.Write(le16(terminalType))
	buf.WriteByte(0) // bAssocTerminal
	buf.WriteByte(sourceID)
	buf.WriteByte(0) // iTerminal

	b := buf.Bytes()
	b[0] = uint8(len(b))
	return b
}

// featureUnit builds the playback feature unit descriptor: channel 0
// (master) controls MUTE|VOLUME, channels 1-2 control nothing (spec.md
// §6).
func featureUnit(id, sourceID uint8) []byte {
	const muteVolume = 0x03 // bit0 MUTE, bit1 VOLUME

	buf := new(bytes.Buffer)
	buf.WriteByte(0)
	buf.WriteByte(usb.DescriptorCSInterface)
	buf.WriteByte(subtypeFeatureUnit)
	buf.WriteByte(id)
	buf.WriteByte(sourceID)
	buf.WriteByte(1)          // bControlSize: 1 byte per channel's bitmap
	buf.WriteByte(muteVolume) // master channel (0)
	buf.WriteByte(0)          // channel 1
	buf.WriteByte(0)          // channel 2
	buf.WriteByte(0)          // iFeature

	b := buf.Bytes()
	b[0] = uint8(len(b))
	return b
}

func asGeneral(terminalLink uint8) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(7)
	buf.WriteByte(usb.DescriptorCSInterface)
	buf.WriteByte(subtypeASGeneral)
	buf.WriteByte(terminalLink)
	buf.WriteByte(0)        // bDelay
	buf.Write(le16(0x0001)) // wFormatTag: PCM
	return buf.Bytes()
}

// formatType builds the Type I format descriptor with a discrete frequency
// table (spec.md §4.5: "discrete Type-I format with descending/ascending
// frequency table"). 16-bit stereo PCM is fixed throughout this module.
func formatType(freqs []uint32) []byte {
	const nrChannels = 2
	const subframeSize = 2
	const bitResolution = 16

	buf := new(bytes.Buffer)
	buf.WriteByte(0)
	buf.WriteByte(usb.DescriptorCSInterface)
	buf.WriteByte(subtypeFormatType)
	buf.WriteByte(1) // bFormatType: FORMAT_TYPE_I
	buf.WriteByte(nrChannels)
	buf.WriteByte(subframeSize)
	buf.WriteByte(bitResolution)
	buf.WriteByte(uint8(len(freqs)))

	for _, f := range freqs {
		buf.Write(le24(f))
	}

	b := buf.Bytes()
	b[0] = uint8(len(b))
	return b
}

// epGeneral builds the class-specific AS isochronous audio data endpoint
// descriptor.
func epGeneral(samplingFreqControl bool) []byte {
	var attrs uint8
	if samplingFreqControl {
		attrs |= 0x01
	}

	buf := new(bytes.Buffer)
	buf.WriteByte(7)
	buf.WriteByte(usb.DescriptorCSEndpoint)
	buf.WriteByte(subtypeEPGeneral)
	buf.WriteByte(attrs)
	buf.WriteByte(0)        // bLockDelayUnits
	buf.Write(le16(0))      // wLockDelay
	return buf.Bytes()
}

// Endpoint attribute bits (p61-63, Table 9-13, USB2.0; p17, Table 3-9,
// Audio Devices Rev 1.0).
const (
	epAttrIsochronous = 0x01
	epAttrSyncNone    = 0x00 << 2
	epAttrSyncAsync   = 0x01 << 2
	epAttrUsageData     = 0x00 << 4
	epAttrUsageFeedback = 0x01 << 4
)

// BuildSinkOnlyLayout assembles the sink-only Audio Control + Audio
// Streaming configuration (spec.md §4.5). The AC header's bInCollection is
// 2, as in the original hardware (data and a historical second streaming
// interface); this module has exactly one (two-alt-setting) streaming
// interface for the sink, so the header lists streamIfaceNum twice (UAC1
// hosts index baInterfaceNr by count, not by uniqueness).
func BuildSinkOnlyLayout(conf *usb.ConfigurationDescriptor, freqTable []uint32, streamIfaceNum uint8, dataFn, feedbackFn usb.EndpointFunction) *usb.InterfaceDescriptor {
	ac := &usb.InterfaceDescriptor{}
	ac.SetDefaults()
	ac.InterfaceClass = 0x01   // AUDIO
	ac.InterfaceSubClass = 0x01 // AUDIOCONTROL

	header := acHeader([]uint8{streamIfaceNum, streamIfaceNum})
	it := inputTerminal(TerminalPlaybackInput, terminalUSBStreaming, 2, 0x0003)
	fu := featureUnit(UnitPlaybackFeature, TerminalPlaybackInput)
	ot := outputTerminal(TerminalPlaybackOutput, terminalHeadphones, UnitPlaybackFeature)

	total := len(header) + len(it) + len(fu) + len(ot)
	patchHeaderTotalLength(header, uint16(total))

	ac.ClassDescriptors = [][]byte{header, it, fu, ot}
	conf.AddInterface(ac)

	idle := &usb.InterfaceDescriptor{}
	idle.SetDefaults()
	idle.InterfaceClass = 0x01
	idle.InterfaceSubClass = 0x02 // AUDIOSTREAMING
	conf.AddInterface(idle)

	active := &usb.InterfaceDescriptor{}
	active.SetDefaults()
	active.AlternateSetting = 1
	active.InterfaceClass = 0x01
	active.InterfaceSubClass = 0x02
	active.NumEndpoints = 2

	asGen := asGeneral(TerminalPlaybackInput)
	fmtType := formatType(descendingSinkTable(freqTable))
	active.ClassDescriptors = [][]byte{asGen, fmtType}

	dataEP := &usb.EndpointDescriptor{}
	dataEP.SetDefaults()
	dataEP.EndpointAddress = 0x01 // OUT
	dataEP.Attributes = epAttrIsochronous | epAttrSyncAsync | epAttrUsageData
	dataEP.MaxPacketSize = maxIsoPacketSize(freqTable)
	dataEP.Interval = 1
	dataEP.SetAudioSync(0, 0x82) // bSynchAddress points at the feedback endpoint
	dataEP.ClassDescriptors = [][]byte{epGeneral(true)}
	dataEP.Function = dataFn

	feedbackEP := &usb.EndpointDescriptor{}
	feedbackEP.SetDefaults()
	feedbackEP.EndpointAddress = 0x82 // IN
	feedbackEP.Attributes = epAttrIsochronous | epAttrSyncNone | epAttrUsageFeedback
	feedbackEP.MaxPacketSize = 4
	feedbackEP.Interval = 1
	feedbackEP.SetAudioSync(10-FeedbackRefreshP, 0)
	feedbackEP.Function = feedbackFn

	active.Endpoints = []*usb.EndpointDescriptor{dataEP, feedbackEP}
	conf.AddInterface(active)

	return ac
}

// BuildSourceOnlyLayout assembles the source-only Audio Control + Audio
// Streaming configuration (spec.md §4.5): source input terminal (type
// microphone, matching the reference accessory), direct-to-terminal
// output (no feature unit), one streaming interface with a no-sync ISO IN
// data endpoint.
func BuildSourceOnlyLayout(conf *usb.ConfigurationDescriptor, freqTable []uint32, streamIfaceNum uint8, speed usb.Speed, dataFn usb.EndpointFunction) *usb.InterfaceDescriptor {
	ac := &usb.InterfaceDescriptor{}
	ac.SetDefaults()
	ac.InterfaceClass = 0x01
	ac.InterfaceSubClass = 0x01

	header := acHeader([]uint8{streamIfaceNum})
	it := inputTerminal(TerminalSourceInput, terminalMicrophone, 2, 0x0003)
	ot := outputTerminal(TerminalSourceOutput, terminalUSBStreaming, TerminalSourceInput)

	total := len(header) + len(it) + len(ot)
	patchHeaderTotalLength(header, uint16(total))

	ac.ClassDescriptors = [][]byte{header, it, ot}
	conf.AddInterface(ac)

	idle := &usb.InterfaceDescriptor{}
	idle.SetDefaults()
	idle.InterfaceClass = 0x01
	idle.InterfaceSubClass = 0x02
	conf.AddInterface(idle)

	active := &usb.InterfaceDescriptor{}
	active.SetDefaults()
	active.AlternateSetting = 1
	active.InterfaceClass = 0x01
	active.InterfaceSubClass = 0x02
	active.NumEndpoints = 1

	asGen := asGeneral(TerminalSourceOutput)
	fmtType := formatType(SortedFrequencyTable(freqTable))
	active.ClassDescriptors = [][]byte{asGen, fmtType}

	dataEP := &usb.EndpointDescriptor{}
	dataEP.SetDefaults()
	dataEP.EndpointAddress = 0x83 // IN
	dataEP.Attributes = epAttrIsochronous | epAttrSyncNone | epAttrUsageData
	dataEP.MaxPacketSize = TxFrameSize
	if speed == usb.SpeedHigh {
		dataEP.Interval = 4
	} else {
		dataEP.Interval = 1
	}
	dataEP.ClassDescriptors = [][]byte{epGeneral(true)}
	dataEP.Function = dataFn

	active.Endpoints = []*usb.EndpointDescriptor{dataEP}
	conf.AddInterface(active)

	return ac
}

func descendingSinkTable(freqs []uint32) []uint32 {
	sorted := SortedFrequencyTable(freqs)
	out := make([]uint32, len(sorted))
	for i, f := range sorted {
		out[len(sorted)-1-i] = f
	}
	return out
}

// maxIsoPacketSize sizes the sink data endpoint's wMaxPacketSize for the
// highest supported rate plus one extra sample's worth of headroom, the
// customary UAC1 sink sizing so the feedback-adjusted rate never exceeds
// the endpoint's packet budget.
func maxIsoPacketSize(freqTable []uint32) uint16 {
	max := uint32(0)
	for _, f := range freqTable {
		if f > max {
			max = f
		}
	}
	samplesPerFrame := max/1000 + 1
	return uint16(samplesPerFrame * 4)
}
