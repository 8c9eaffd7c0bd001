package hidiap

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/nuxcodes/usbaudiobridge/usb"
)

var transportLog = log.NewWithOptions(nil, log.Options{Prefix: "hidiap"})

// txQueueDepth bounds how many framed IN reports Send can have in flight
// before it starts dropping the newest packet; iAP control exchanges are
// small and infrequent relative to the audio streams sharing the device,
// so a deep queue is never expected to fill under normal operation.
const txQueueDepth = 8

// IAPTransport is the iAP protocol engine this package drives: Getc feeds
// it one reassembled byte at a time (mirroring the original firmware's
// byte-oriented serial parser), and Setup arms it for a given device/host
// ID once the transport is confirmed live. The iAP message format itself
// is out of scope for this module (spec.md's iAP module boundary);
// IAPTransport is the narrow callback surface
// original_source/firmware/usbstack/usb_iap_hid.c drives its iap.c
// counterpart through.
type IAPTransport interface {
	Getc(b byte)
	Setup(id int)
}

// Transport implements the vendor HID wrapper around IAPTransport: TX
// framing into Report-ID-keyed HID IN reports, RX fragment reassembly
// with 0x55 sync-byte scanning, and lazy transport activation deferred
// until the first SET_REPORT actually arrives (original_source's comment:
// this prevents clobbering serial iAP on docks that use USB only for
// audio).
type Transport struct {
	IAP IAPTransport

	usb.Lifecycle // Connect/Disconnect gate TX framing

	transportActive atomic.Bool

	mu           sync.Mutex
	rxInProgress bool

	txQueue chan []byte
}

// NewTransport builds a Transport; iap may be nil for layouts that never
// install HID-iAP (the transport then still answers descriptor/HID
// control requests but drops all reassembled frames).
func NewTransport(iap IAPTransport) *Transport {
	return &Transport{IAP: iap, txQueue: make(chan []byte, txQueueDepth)}
}

// Connect marks the HID interface as active, enabling TX framing
// (original_source usb_iap_hid_init_connection).
func (t *Transport) Connect() {
	t.Lifecycle.Connect()
}

// Disconnect deactivates TX framing and resets RX reassembly state
// (original_source usb_iap_hid_disconnect). The lazily-installed
// transport is torn down too, so a fresh connection re-arms Setup on its
// first SET_REPORT, exactly as after a firmware cold boot.
func (t *Transport) Disconnect() {
	t.Lifecycle.Disconnect(func() {
		t.transportActive.Store(false)

		t.mu.Lock()
		t.rxInProgress = false
		t.mu.Unlock()
	})
}

// Send frames an outbound iAP packet into a HID IN report and queues it
// for transmission. It is a no-op while the interface is inactive, and
// drops the packet (logging a warning) if the TX queue is saturated
// rather than blocking the caller.
func (t *Transport) Send(buf []byte) {
	if !t.Lifecycle.Active() || len(buf) == 0 {
		return
	}

	report := frameTX(buf)
	if report == nil {
		return
	}

	select {
	case t.txQueue <- report:
	default:
		transportLog.Warn("tx queue full, dropping iAP report")
	}
}

// frameTX wraps an iAP packet in the smallest IN report that fits it
// (original_source iap_hid_tx): [Report ID][payload][zero padding].
// Packets larger than the largest report are truncated into it.
func frameTX(buf []byte) []byte {
	var id, size uint8

	for _, r := range inReports {
		if len(buf) <= int(r.size) {
			id, size = r.id, r.size
			break
		}
	}

	if id == 0 {
		last := inReports[len(inReports)-1]
		id, size = last.id, last.size
		if len(buf) > int(size) {
			buf = buf[:size]
		}
	}

	report := make([]byte, 1+int(size))
	report[0] = id
	copy(report[1:], buf)

	// The 0xFF serial sync byte is rewritten to 0x00 in the HID framing,
	// matching the transport format the accessory expects.
	if len(buf) > 0 && report[1] == 0xff {
		report[1] = 0x00
	}

	return report
}

// nextReport pops the next queued IN report, or nil if none is pending;
// used by the HID interrupt IN EndpointFunction.
func (t *Transport) nextReport() []byte {
	select {
	case r := <-t.txQueue:
		return r
	default:
		return nil
	}
}

// processRX reassembles a received SET_REPORT payload and, once a
// complete (possibly multi-fragment) iAP frame's sync marker is found,
// feeds it byte-by-byte to IAP (original_source iap_hid_process_rx).
func (t *Transport) processRX(data []byte) {
	if len(data) < 3 {
		return
	}

	if !t.transportActive.Load() {
		t.transportActive.Store(true)
		if t.IAP != nil {
			t.IAP.Setup(0)
		}
	}

	reportID := data[0]
	linkCtrl := data[1]

	iapLen := len(data) - 2
	for _, r := range outReports {
		if r.id == reportID {
			iapLen = int(r.size) - 1
			break
		}
	}
	if iapLen > len(data)-2 {
		iapLen = len(data) - 2
	}
	if iapLen < 0 {
		return
	}

	iapData := data[2:]

	t.mu.Lock()
	defer t.mu.Unlock()

	switch linkCtrl & 0x03 {
	case 0x00, 0x02: // single complete report, or first fragment
		syncOffset := -1
		for i := 0; i < iapLen; i++ {
			if iapData[i] == 0x55 {
				syncOffset = i
				break
			}
		}

		if syncOffset >= 0 {
			t.rxInProgress = linkCtrl == 0x02
			if t.IAP != nil {
				t.IAP.Getc(0xff)
				for i := syncOffset; i < iapLen; i++ {
					t.IAP.Getc(iapData[i])
				}
			}
		}
	case 0x03, 0x01: // middle fragment, or last fragment
		if t.rxInProgress {
			if t.IAP != nil {
				for i := 0; i < iapLen; i++ {
					t.IAP.Getc(iapData[i])
				}
			}
			if linkCtrl == 0x01 {
				t.rxInProgress = false
			}
		}
	}
}

// NewDataFunction adapts Transport to the HID interrupt IN endpoint's
// EndpointFunction.
func NewDataFunction(t *Transport) usb.EndpointFunction {
	return func(_ []byte, _ error) ([]byte, error) {
		return t.nextReport(), nil
	}
}

// NewSetupFunction adapts Transport to the HID interface's class-request
// hook, implementing GET_DESCRIPTOR (HID/Report), GET_REPORT (zero-fill),
// the two-pass SET_REPORT, SET_IDLE (ack-only), and the Apple
// vendor-specific 0x40 handshake request (ack-only)
// (original_source usb_iap_hid_control_request).
func NewSetupFunction(t *Transport) usb.SetupFunction {
	return func(setup *usb.SetupData, data []byte) (in []byte, needData int, ack, done bool, err error) {
		switch setup.Request {
		case usb.GetDescriptor:
			descType := uint8(setup.Value >> 8)
			switch descType {
			case usb.DescriptorReport:
				return trim(reportDescriptor, setup.Length), 0, false, true, nil
			case usb.DescriptorHID:
				return trim(hidDescriptor(), setup.Length), 0, false, true, nil
			default:
				return nil, 0, false, false, fmt.Errorf("hidiap: unsupported descriptor type %#x", descType)
			}
		case hidReqGetReport:
			return make([]byte, setup.Length), 0, false, true, nil
		case hidReqSetReport:
			needData, ack, done, err := usb.TwoPassSetCUR(int(setup.Length), data, func(data []byte) error {
				t.processRX(data)
				return nil
			})
			return nil, needData, ack, done, err
		case hidReqSetIdle:
			return nil, 0, true, true, nil
		case appleVendorRequest:
			transportLog.Debug("apple vendor handshake request")
			return nil, 0, true, true, nil
		default:
			return nil, 0, false, false, fmt.Errorf("hidiap: unhandled request %#x", setup.Request)
		}
	}
}

func trim(buf []byte, wLength uint16) []byte {
	if int(wLength) < len(buf) {
		buf = buf[0:wLength]
	}
	return buf
}
