// Command audiobridge wires the USB audio bridge gadget: either the
// sink-only (host-to-device playback) or source-only (device-to-host
// capture, with a parallel HID-iAP authentication transport) personality,
// analogous to the teacher's example/usb_ethernet.go gadget wiring.
//
// The concrete usb.Controller (endpoint allocation, transfer submission,
// bus-speed negotiation) is a platform collaborator supplied by Controller
// below; this package only assembles the descriptor tree and the class
// logic that rides on top of it.
package main

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/nuxcodes/usbaudiobridge/bufalloc"
	"github.com/nuxcodes/usbaudiobridge/chargesup"
	"github.com/nuxcodes/usbaudiobridge/hidiap"
	"github.com/nuxcodes/usbaudiobridge/uac"
	"github.com/nuxcodes/usbaudiobridge/usb"
)

var mainLog = log.NewWithOptions(nil, log.Options{Prefix: "audiobridge"})

// Controller is the platform USB device controller driver, left nil here
// for hardware integrators to set from a build-tagged platform file
// (e.g. an imx6/usb-backed implementation in the teacher's idiom).
var Controller usb.Controller

// Personality selects which of the two mutually-exclusive descriptor
// layouts (spec.md §9) the gadget advertises.
type Personality int

const (
	PersonalitySink Personality = iota
	PersonalitySource
)

func (p Personality) String() string {
	if p == PersonalitySource {
		return "source"
	}
	return "sink"
}

// arenaSize is the combined size of the sink's 32 DSP-output buffers, its
// 32 raw ISO OUT receive buffers and the source's TX ring. buildSink and
// buildSource do not use it: each creates its own allocator sized for its
// own personality's buffers.
const arenaSize = uac.NrBuffers*uac.DSPBufSize + uac.NrBuffers*uac.SlotAllocSize + uac.TxRingSize

const (
	vendorID  = 0x1209 // pid.codes open-source allocation
	productID = 0x0001
)

// activePersonality selects which of the two mutually-exclusive
// descriptor layouts this build advertises. Like the rest of the
// gadget's wiring (NR_BUFFERS, BUFFER_SIZE, sample-rate tables), this is
// a compile-time choice, not a runtime flag — a single device is wired
// for one personality, swapped by rebuilding, matching the teacher's
// compile-constant configuration style.
const activePersonality = PersonalitySink

// GPIO chip/line wiring for the charging supervisor. Hardware-specific,
// but fixed at compile time like everything else in this file.
const (
	chargeGPIOChip = "gpiochip0"
	chrgLineOffset = 0
	ctrlLineOffset = 1
)

func configureDevice(dev *usb.Device, personality Personality) {
	dev.SetLanguageCodes([]uint16{0x0409})

	dev.Descriptor = &usb.DeviceDescriptor{}
	dev.Descriptor.SetDefaults()
	dev.Descriptor.DeviceClass = 0 // per-interface class (UAC1 + HID)
	dev.Descriptor.VendorId = vendorID
	dev.Descriptor.ProductId = productID
	dev.Descriptor.NumConfigurations = 1

	iManufacturer, _ := dev.AddString(`nuxcodes`)
	dev.Descriptor.Manufacturer = iManufacturer

	iProduct, _ := dev.AddString(fmt.Sprintf("Audio Bridge (%s)", personality))
	dev.Descriptor.Product = iProduct

	iSerial, _ := dev.AddString(`0.1`)
	dev.Descriptor.SerialNumber = iSerial

	dev.Qualifier = &usb.DeviceQualifierDescriptor{}
	dev.Qualifier.SetDefaults()
}

// buildSink assembles the sink-only configuration: AC/AS descriptors, the
// ISO OUT data + ISO IN feedback endpoints, and the control dispatcher
// bound to a feature unit and frequency endpoint.
func buildSink(dev *usb.Device, hwFreq uint32, speed usb.Speed, freqTable []uint32, dsp uac.DSP) (*uac.Sink, error) {
	alloc := bufalloc.New(uac.NrBuffers*uac.DSPBufSize + uac.NrBuffers*uac.SlotAllocSize)

	sink, err := uac.NewSink(alloc, dsp, hwFreq, speed)
	if err != nil {
		return nil, fmt.Errorf("audiobridge: sink allocation: %w", err)
	}

	conf := &usb.ConfigurationDescriptor{}
	conf.SetDefaults()
	dev.Configurations = append(dev.Configurations, conf)

	volume := uac.NewSimpleVolumeEngine(-96, 0, 0) // -96dB .. 0dB, matching the §8 round-trip scenario's numDecimals=0
	feature := uac.NewFeatureUnit(volume)

	dataFn := uac.NewSinkDataFunction(sink, Controller)
	feedbackFn := uac.NewSinkFeedbackFunction(sink)

	// streamIfaceNum is the interface number AddInterface will assign to
	// the first of the two alt settings BuildSinkOnlyLayout creates; AC is
	// interface 0, so the streaming interface is 1.
	uac.BuildSinkOnlyLayout(conf, freqTable, 1, dataFn, feedbackFn)

	freqEP := uac.NewFreqEndpoint(freqTable, func(uint32) {})
	dispatcher := &uac.Dispatcher{
		Feature: feature,
		Endpoints: map[uint8]*uac.FreqEndpoint{
			0x01: freqEP, // ISO OUT data endpoint
		},
	}
	dev.Setup = dispatcher.Setup

	return sink, nil
}

// buildSource assembles the source-only configuration (ISO IN data
// endpoint, no feature unit) plus the parallel HID-iAP interface.
func buildSource(dev *usb.Device, freq uint32, speed usb.Speed, freqTable []uint32, iap hidiap.IAPTransport) (*uac.Source, *hidiap.Transport, error) {
	alloc := bufalloc.New(uac.TxRingSize)

	ring, err := alloc.Alloc(uac.TxRingSize)
	if err != nil {
		return nil, nil, fmt.Errorf("audiobridge: source ring allocation: %w", err)
	}

	source := uac.NewSource(ring, freq)

	conf := &usb.ConfigurationDescriptor{}
	conf.SetDefaults()
	dev.Configurations = append(dev.Configurations, conf)

	dataFn := uac.NewSourceDataFunction(source)
	uac.BuildSourceOnlyLayout(conf, freqTable, 1, speed, dataFn)

	transport := hidiap.NewTransport(iap)
	hidDataFn := hidiap.NewDataFunction(transport)
	hidIface := hidiap.BuildLayout(conf, 0x03, hidDataFn)

	freqEP := uac.NewFreqEndpoint(freqTable, func(uint32) {})
	dispatcher := &uac.Dispatcher{
		Endpoints: map[uint8]*uac.FreqEndpoint{
			0x83: freqEP, // ISO IN data endpoint
		},
	}

	hidSetup := hidiap.NewSetupFunction(transport)
	dev.Setup = combineSetup(hidIface.InterfaceNumber, hidSetup, dispatcher.Setup)

	dev.OnConfigured = func(value uint8) {
		if value == 0 {
			source.Stop()
			transport.Disconnect()
			return
		}
		source.Start()
		transport.Connect()
	}

	return source, transport, nil
}

// combineSetup routes setup packets addressed to hidInterfaceNum's
// interface to hidSetup, and everything else to uacSetup; a request that
// uacSetup rejects is not retried against hidSetup. The two personalities never overlap in
// practice (the sink layout has no HID interface), but source builds both
// a UAC streaming interface and a HID-iAP interface side by side on the
// same configuration.
func combineSetup(hidInterfaceNum uint8, hidSetup, uacSetup usb.SetupFunction) usb.SetupFunction {
	return func(setup *usb.SetupData, data []byte) (in []byte, needData int, ack, done bool, err error) {
		if setup.Recipient() == usb.RequestRecipientInterface && setup.InterfaceNumber() == int(hidInterfaceNum) {
			return hidSetup(setup, data)
		}
		return uacSetup(setup, data)
	}
}

func main() {
	dev := &usb.Device{}
	configureDevice(dev, activePersonality)

	const hwFreq = 44100

	switch activePersonality {
	case PersonalitySink:
		freqTable := []uint32{32000, 44100, 48000, 88200, 96000}
		if _, err := buildSink(dev, hwFreq, usb.SpeedHigh, freqTable, uac.PassthroughDSP); err != nil {
			mainLog.Fatal("sink setup failed", "err", err)
		}
	case PersonalitySource:
		freqTable := []uint32{8000, 16000, 32000, 44100, 48000}
		if _, _, err := buildSource(dev, hwFreq, usb.SpeedHigh, freqTable, nil); err != nil {
			mainLog.Fatal("source setup failed", "err", err)
		}
	}

	if sup, err := chargesup.Open(chargeGPIOChip, chrgLineOffset, ctrlLineOffset); err != nil {
		mainLog.Warn("charging supervisor unavailable", "err", err)
	} else {
		sup.Start()
		defer sup.Close()
		defer sup.Stop()
	}

	if Controller == nil {
		mainLog.Fatal("no usb.Controller wired in; build with a platform-specific Controller implementation")
	}

	host := &usb.Host{Controller: Controller, Device: dev}
	host.Start()
}
