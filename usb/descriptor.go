package usb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// EndpointFunction is invoked on every completed transfer for the endpoint
// it is attached to. For an OUT endpoint buf carries the received bytes and
// the return value is ignored; for an IN endpoint buf is nil and the
// return value is submitted as the next transfer. For an IN endpoint
// lastErr carries any error from the previous iteration on the same
// endpoint; an OUT endpoint's function is only called after a successful
// receive, with lastErr nil.
type EndpointFunction func(buf []byte, lastErr error) (res []byte, err error)

// SetupFunction is the class-specific extension point invoked for any
// setup packet the standard request switch in Host.dispatchSetup does not
// handle itself (class and vendor requests, and GET_DESCRIPTOR addressed to
// an interface).
//
// data is nil on the first call for a given setup packet. A class request
// whose data stage is host-to-device (e.g. SET_CUR) and needs to inspect
// the payload before it can respond returns needData > 0 and done = false;
// Host then receives exactly that many bytes on endpoint 0 and calls
// Setup again with data populated, at which point done must be true. This
// is the two-pass RECEIVE-then-decode convention spec.md describes for
// class SET_CUR requests.
type SetupFunction func(setup *SetupData, data []byte) (in []byte, needData int, ack bool, done bool, err error)

// DeviceDescriptor implements p265, Table 9-8, USB2.0.
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	DeviceBCD         uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorId          uint16
	ProductId         uint16
	Device            uint16
	Manufacturer      uint8
	Product           uint8
	SerialNumber      uint8
	NumConfigurations uint8
}

// SetDefaults initializes the fixed fields of a DeviceDescriptor.
func (d *DeviceDescriptor) SetDefaults() {
	d.Length = 18
	d.DescriptorType = DescriptorDevice
	d.DeviceBCD = 0x0200
	d.MaxPacketSize0 = 64
}

// Bytes serializes the descriptor in wire format.
func (d *DeviceDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// DeviceQualifierDescriptor implements p268, Table 9-9, USB2.0.
type DeviceQualifierDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	DeviceBCD         uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	NumConfigurations uint8
	Reserved          uint8
}

// SetDefaults initializes the fixed fields of a DeviceQualifierDescriptor.
func (d *DeviceQualifierDescriptor) SetDefaults() {
	d.Length = 10
	d.DescriptorType = DescriptorDeviceQualifier
	d.DeviceBCD = 0x0200
	d.MaxPacketSize0 = 64
}

// Bytes serializes the descriptor in wire format.
func (d *DeviceQualifierDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// ConfigurationDescriptor implements p267, Table 9-10, USB2.0, plus the
// (non-wire) Interfaces slice used to assemble its child interfaces.
type ConfigurationDescriptor struct {
	Length             uint8
	DescriptorType     uint8
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	Configuration      uint8
	Attributes         uint8
	MaxPower           uint8

	Interfaces []*InterfaceDescriptor

	nextInterfaceNumber uint8
}

// SetDefaults initializes the fixed fields of a ConfigurationDescriptor.
func (c *ConfigurationDescriptor) SetDefaults() {
	c.Length = 9
	c.DescriptorType = DescriptorConfiguration
	c.ConfigurationValue = 1
	c.Attributes = 0x80 // bus powered, no remote wakeup
	c.MaxPower = 250    // 500mA in 2mA units
}

// AddInterface appends iface to the configuration, auto-numbering its
// bInterfaceNumber: a new number is assigned when AlternateSetting == 0,
// otherwise the interface joins the most recently numbered one.
func (c *ConfigurationDescriptor) AddInterface(iface *InterfaceDescriptor) {
	if iface.AlternateSetting == 0 {
		iface.InterfaceNumber = c.nextInterfaceNumber
		c.nextInterfaceNumber++
		c.NumInterfaces = c.nextInterfaceNumber
	} else {
		iface.InterfaceNumber = c.nextInterfaceNumber - 1
	}

	c.Interfaces = append(c.Interfaces, iface)
}

// Bytes serializes the configuration descriptor header only (without its
// interfaces); used internally by Device.Configuration to compute
// TotalLength before emitting the full stream.
func (c *ConfigurationDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, struct {
		Length             uint8
		DescriptorType     uint8
		TotalLength        uint16
		NumInterfaces      uint8
		ConfigurationValue uint8
		Configuration      uint8
		Attributes         uint8
		MaxPower           uint8
	}{c.Length, c.DescriptorType, c.TotalLength, c.NumInterfaces, c.ConfigurationValue,
		c.Configuration, c.Attributes, c.MaxPower})
	return buf.Bytes()
}

// InterfaceDescriptor implements p268, Table 9-12, USB2.0, plus the
// (non-wire) ClassDescriptors and Endpoints used to assemble children.
type InterfaceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	Interface         uint8

	// ClassDescriptors holds already-serialized class-specific descriptors
	// (AC/AS header, unit/terminal descriptors, HID descriptor, ...)
	// appended verbatim after the interface descriptor.
	ClassDescriptors [][]byte
	Endpoints        []*EndpointDescriptor
}

// SetDefaults initializes the fixed fields of an InterfaceDescriptor.
func (i *InterfaceDescriptor) SetDefaults() {
	i.Length = 9
	i.DescriptorType = DescriptorInterface
}

// Bytes serializes the interface descriptor header only (without class
// descriptors or endpoints).
func (i *InterfaceDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, struct {
		Length            uint8
		DescriptorType    uint8
		InterfaceNumber   uint8
		AlternateSetting  uint8
		NumEndpoints      uint8
		InterfaceClass    uint8
		InterfaceSubClass uint8
		InterfaceProtocol uint8
		Interface         uint8
	}{i.Length, i.DescriptorType, i.InterfaceNumber, i.AlternateSetting, i.NumEndpoints,
		i.InterfaceClass, i.InterfaceSubClass, i.InterfaceProtocol, i.Interface})
	return buf.Bytes()
}

// EndpointDescriptor implements p269, Table 9-13, USB2.0, plus the
// (non-wire) Function invoked on every completion.
type EndpointDescriptor struct {
	Length          uint8
	DescriptorType  uint8
	EndpointAddress uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8

	// SynchAddress, when non-zero, is the endpoint address of the paired
	// feedback endpoint (UAC1 isochronous sync, p17, Table 3-9) and
	// Refresh is its bRefresh field. These two fields are appended after
	// the standard 7-byte endpoint descriptor once SetAudioSync has been
	// called on the endpoint, and omitted otherwise.
	Refresh      uint8
	SynchAddress uint8
	hasAudioSync bool

	// ClassDescriptors holds already-serialized class-specific descriptors
	// emitted right after this endpoint's own descriptor (e.g. the UAC1
	// class-specific AS isochronous audio data endpoint descriptor).
	ClassDescriptors [][]byte

	Function EndpointFunction
}

// SetDefaults initializes the fixed fields of an EndpointDescriptor.
func (e *EndpointDescriptor) SetDefaults() {
	e.Length = 7
	e.DescriptorType = DescriptorEndpoint
}

// SetAudioSync extends the descriptor with the UAC1 bRefresh/bSynchAddress
// trailer carried by isochronous audio endpoints.
func (e *EndpointDescriptor) SetAudioSync(refresh, synchAddress uint8) {
	e.Length = 9
	e.Refresh = refresh
	e.SynchAddress = synchAddress
	e.hasAudioSync = true
}

// Number returns the endpoint number (address without the direction bit).
func (e *EndpointDescriptor) Number() int {
	return int(e.EndpointAddress & 0x0f)
}

// Direction returns the endpoint direction encoded in EndpointAddress.
func (e *EndpointDescriptor) Direction() Direction {
	if e.EndpointAddress&0x80 != 0 {
		return In
	}
	return Out
}

// TransferType returns the transfer type encoded in Attributes.
func (e *EndpointDescriptor) TransferType() TransferType {
	return TransferType(e.Attributes & 0x03)
}

// Bytes serializes the endpoint descriptor in wire format.
func (e *EndpointDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, struct {
		Length          uint8
		DescriptorType  uint8
		EndpointAddress uint8
		Attributes      uint8
		MaxPacketSize   uint16
		Interval        uint8
	}{e.Length, e.DescriptorType, e.EndpointAddress, e.Attributes, e.MaxPacketSize, e.Interval})

	if e.hasAudioSync {
		buf.WriteByte(e.Refresh)
		buf.WriteByte(e.SynchAddress)
	}

	return buf.Bytes()
}

// Device represents one USB device-side class function: its standard
// descriptors, configurations, string table, and the class-specific
// Setup hook invoked for requests the standard dispatch does not own.
type Device struct {
	Descriptor     *DeviceDescriptor
	Qualifier      *DeviceQualifierDescriptor
	Configurations []*ConfigurationDescriptor
	Strings        [][]byte

	ConfigurationValue uint8
	AlternateSetting   uint8

	Setup SetupFunction

	// OnConfigured, if set, is invoked whenever the host issues
	// SET_CONFIGURATION, letting class code (re)arm state that depends on
	// the device having been configured (e.g. a HID transport's Connect).
	OnConfigured func(value uint8)
}

// SetLanguageCodes installs string descriptor index 0, the supported
// language code table (p273, 9.6.7, USB2.0).
func (d *Device) SetLanguageCodes(codes []uint16) {
	buf := new(bytes.Buffer)
	buf.WriteByte(0) // length, patched below
	buf.WriteByte(DescriptorString)

	for _, c := range codes {
		buf.Write(le16(c))
	}

	b := buf.Bytes()
	b[0] = uint8(len(b))

	if len(d.Strings) == 0 {
		d.Strings = append(d.Strings, b)
	} else {
		d.Strings[0] = b
	}
}

// AddString appends a UTF-16LE string descriptor and returns its index for
// use in iManufacturer/iProduct/iSerialNumber/iInterface fields.
func (d *Device) AddString(s string) (index uint8, err error) {
	if len(d.Strings) == 0 {
		d.SetLanguageCodes([]uint16{0x0409}) // English (United States)
	}

	u := utf16.Encode([]rune(s))
	buf := new(bytes.Buffer)
	buf.WriteByte(0)
	buf.WriteByte(DescriptorString)

	for _, c := range u {
		buf.Write(le16(c))
	}

	b := buf.Bytes()

	if len(b) > 255 {
		return 0, fmt.Errorf("usb: string descriptor %q too long", s)
	}

	b[0] = uint8(len(b))

	d.Strings = append(d.Strings, b)
	index = uint8(len(d.Strings) - 1)

	return
}

// Configuration assembles the full configuration descriptor stream
// (configuration + interfaces + class descriptors + endpoints) for the
// configuration at index (the descriptor index getDescriptor takes from
// wValue's low byte), computing TotalLength along the way.
func (d *Device) Configuration(index uint16) ([]byte, error) {
	if int(index) >= len(d.Configurations) {
		return nil, fmt.Errorf("usb: invalid configuration index %d", index)
	}

	conf := d.Configurations[index]
	buf := new(bytes.Buffer)

	buf.Write(conf.Bytes())

	for _, iface := range conf.Interfaces {
		buf.Write(iface.Bytes())

		for _, cd := range iface.ClassDescriptors {
			buf.Write(cd)
		}

		for _, ep := range iface.Endpoints {
			buf.Write(ep.Bytes())

			for _, cd := range ep.ClassDescriptors {
				buf.Write(cd)
			}
		}
	}

	b := buf.Bytes()
	conf.TotalLength = uint16(len(b))
	binary.LittleEndian.PutUint16(b[2:4], conf.TotalLength)

	return b, nil
}
