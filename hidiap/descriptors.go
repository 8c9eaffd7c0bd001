// Package hidiap implements the vendor HID transport carrying iPod
// Accessory Protocol (iAP) frames: the fixed report descriptor, report-ID
// framing tables, TX/RX reassembly, and the HID class-request handling.
//
// Grounded throughout on
// original_source/firmware/usbstack/usb_iap_hid.c, which wraps framed iAP
// packets in HID reports over a vendor usage page rather than implementing
// a standard HID application (keyboard, mouse, ...).
package hidiap

import "github.com/nuxcodes/usbaudiobridge/usb"

const (
	hidReqGetReport = 0x01
	hidReqGetIdle   = 0x02
	hidReqSetReport = 0x09
	hidReqSetIdle   = 0x0a

	// appleVendorRequest is acknowledged without interpretation; Apple
	// accessories issue it during authentication handshakes and expect a
	// bare ACK (original_source usb_iap_hid.c, case 0x40).
	appleVendorRequest = 0x40
)

// reportDescriptor is the fixed 96-byte vendor HID report descriptor
// (Usage Page 0xFF00), byte-for-byte from
// original_source/firmware/usbstack/usb_iap_hid.c's iap_hid_report_desc:
// four fixed-size IN reports (device -> host) and five OUT reports
// (host -> device), keyed by Report ID.
var reportDescriptor = []byte{
	0x06, 0x00, 0xff, 0x09, 0x01, 0xa1, 0x01, 0x75, 0x08, 0x26, 0x80, 0x00,
	0x15, 0x00, 0x09, 0x01, 0x85, 0x01, 0x95, 0x0c, 0x82, 0x02, 0x01, 0x09,
	0x01, 0x85, 0x02, 0x95, 0x0e, 0x82, 0x02, 0x01, 0x09, 0x01, 0x85, 0x03,
	0x95, 0x14, 0x82, 0x02, 0x01, 0x09, 0x01, 0x85, 0x04, 0x95, 0x3f, 0x82,
	0x02, 0x01, 0x09, 0x01, 0x85, 0x05, 0x95, 0x08, 0x92, 0x02, 0x01, 0x09,
	0x01, 0x85, 0x06, 0x95, 0x0a, 0x92, 0x02, 0x01, 0x09, 0x01, 0x85, 0x07,
	0x95, 0x0e, 0x92, 0x02, 0x01, 0x09, 0x01, 0x85, 0x08, 0x95, 0x14, 0x92,
	0x02, 0x01, 0x09, 0x01, 0x85, 0x09, 0x95, 0x3f, 0x92, 0x02, 0x01, 0xc0,
}

// ReportDescriptor returns the fixed vendor HID report descriptor bytes.
func ReportDescriptor() []byte {
	return reportDescriptor
}

// reportSize pairs a Report ID with its fixed payload size (excluding the
// ID byte).
type reportSize struct {
	id   uint8
	size uint8
}

// inReports maps IN (device -> host) Report IDs to their payload size
// (original_source in_report_sizes), smallest first so the TX framer can
// scan for the smallest report that fits.
var inReports = []reportSize{
	{1, 12},
	{2, 14},
	{3, 20},
	{4, 63},
}

// outReports maps OUT (host -> device) Report IDs to their payload size
// (original_source out_report_sizes).
var outReports = []reportSize{
	{5, 8},
	{6, 10},
	{7, 14},
	{8, 20},
	{9, 63},
}

const hidDescBCD = 0x0111

// hidDescriptor builds the 9-byte HID class descriptor (bcdHID 0x0111, one
// report class descriptor, wDescriptorLength = len(reportDescriptor)).
func hidDescriptor() []byte {
	n := len(reportDescriptor)
	return []byte{
		9,
		usb.DescriptorHID,
		byte(hidDescBCD), byte(hidDescBCD >> 8),
		0, // bCountryCode
		1, // bNumDescriptors
		usb.DescriptorReport,
		byte(n), byte(n >> 8),
	}
}

const hidClassHID = 0x03

// BuildLayout assembles the HID interface (class descriptor + one
// interrupt IN endpoint) carrying the iAP transport, and appends it to
// conf (spec.md §5: this interface coexists with whichever UAC1 layout is
// active, on the next free interface number).
func BuildLayout(conf *usb.ConfigurationDescriptor, epAddress uint8, dataFn usb.EndpointFunction) *usb.InterfaceDescriptor {
	iface := &usb.InterfaceDescriptor{}
	iface.SetDefaults()
	iface.InterfaceClass = hidClassHID
	iface.NumEndpoints = 1
	iface.ClassDescriptors = [][]byte{hidDescriptor()}

	ep := &usb.EndpointDescriptor{}
	ep.SetDefaults()
	ep.EndpointAddress = epAddress | 0x80 // IN
	ep.Attributes = 0x03                  // interrupt
	ep.MaxPacketSize = 64
	ep.Interval = 1
	ep.Function = dataFn

	iface.Endpoints = []*usb.EndpointDescriptor{ep}
	conf.AddInterface(iface)

	return iface
}
