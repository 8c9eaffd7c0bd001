package usb

import (
	"fmt"
	"runtime"

	"github.com/charmbracelet/log"
)

var logger = log.NewWithOptions(nil, log.Options{Prefix: "usb"})

// Host drives a Device against a Controller: one goroutine per endpoint
// plus a setup-handling goroutine, mirroring the teacher's
// soc/imx6/usb.(*USB).Start/setupHandler/endpointHandler shape generalized
// away from direct hardware register access.
type Host struct {
	Controller Controller
	Device     *Device
}

// Start spawns the per-endpoint completion goroutines and runs the setup
// loop. It never returns; callers that need non-blocking startup should run
// it in its own goroutine.
func (h *Host) Start() {
	for _, conf := range h.Device.Configurations {
		for _, iface := range conf.Interfaces {
			for _, ep := range iface.Endpoints {
				if ep.Function == nil {
					continue
				}

				go func(ep *EndpointDescriptor, confValue uint8) {
					h.endpointLoop(ep, confValue)
				}(ep, conf.ConfigurationValue)
			}
		}
	}

	h.setupLoop()
}

func (h *Host) setupLoop() {
	for {
		setup, ok := h.Controller.WaitSetup()
		if !ok {
			continue
		}

		if err := h.dispatchSetup(&setup); err != nil {
			logger.Error("setup error", "err", err)
		}
	}
}

func (h *Host) endpointLoop(ep *EndpointDescriptor, confValue uint8) {
	var err error
	var buf, res []byte

	n := ep.Number()
	dir := ep.Direction()
	enabled := false

	for {
		runtime.Gosched()

		if h.Device.ConfigurationValue != confValue {
			if enabled {
				h.Controller.FlushEndpoint(n, dir)
				enabled = false
			}

			continue
		}

		if !enabled {
			h.Controller.EnableEndpoint(n, dir, int(ep.MaxPacketSize), ep.TransferType())
			enabled = true
		}

		if dir == Out {
			buf, err = h.Controller.Receive(n)

			if err == nil && len(buf) != 0 {
				res, err = ep.Function(buf, err)
			}
		} else {
			res, err = ep.Function(nil, err)

			if err == nil && len(res) != 0 {
				err = h.Controller.Transmit(n, res)
			}
		}

		if err != nil {
			h.Controller.FlushEndpoint(n, dir)
			logger.Error("endpoint transfer error", "endpoint", n, "dir", dir, "err", err)
		}
	}
}

func (h *Host) getDescriptor(setup *SetupData) error {
	dev := h.Device
	descriptorType := setup.Value >> 8
	index := setup.Value & 0xff

	switch descriptorType {
	case DescriptorDevice:
		return h.Controller.Transmit(0, trim(dev.Descriptor.Bytes(), setup.Length))
	case DescriptorConfiguration:
		conf, err := dev.Configuration(index)
		if err != nil {
			h.Controller.Stall(0, In)
			return err
		}
		return h.Controller.Transmit(0, trim(conf, setup.Length))
	case DescriptorString:
		if int(index+1) > len(dev.Strings) {
			h.Controller.Stall(0, In)
			return fmt.Errorf("usb: invalid string descriptor index %d", index)
		}
		return h.Controller.Transmit(0, trim(dev.Strings[index], setup.Length))
	case DescriptorDeviceQualifier:
		if dev.Qualifier == nil {
			h.Controller.Stall(0, In)
			return fmt.Errorf("usb: no device qualifier descriptor")
		}
		return h.Controller.Transmit(0, dev.Qualifier.Bytes())
	default:
		h.Controller.Stall(0, In)
		return fmt.Errorf("usb: unsupported descriptor type %#x", descriptorType)
	}
}

// dispatchSetup implements the standard request switch (p279, Table 9-4,
// USB2.0), falling through to Device.Setup for class/vendor requests and
// for GET_DESCRIPTOR addressed to an interface, the same two-tier shape as
// the teacher's doSetup.
func (h *Host) dispatchSetup(setup *SetupData) (err error) {
	dev := h.Device

	if setup.Type() != RequestTypeStandard {
		return h.dispatchClassOrVendor(setup)
	}

	switch setup.Request {
	case GetStatus:
		err = h.Controller.Transmit(0, []byte{0x00, 0x00})
	case ClearFeature:
		switch setup.Value {
		case EndpointHalt:
			n := setup.EndpointNumber()
			dir := setup.EndpointDirection()
			h.Controller.FlushEndpoint(n, dir)
			err = h.Controller.Ack(0)
		default:
			h.Controller.Stall(0, In)
		}
	case SetAddress:
		err = h.Controller.Ack(0)
	case GetDescriptor:
		if setup.Recipient() == RequestRecipientInterface {
			// Interface-level descriptors (e.g. HID and HID report)
			// belong to the interface's class code.
			return h.dispatchClassOrVendor(setup)
		}
		err = h.getDescriptor(setup)
	case GetConfiguration:
		err = h.Controller.Transmit(0, []byte{dev.ConfigurationValue})
	case SetConfiguration:
		dev.ConfigurationValue = uint8(setup.Value)
		logger.Info("set configuration", "value", dev.ConfigurationValue)
		if dev.OnConfigured != nil {
			dev.OnConfigured(dev.ConfigurationValue)
		}
		err = h.Controller.Ack(0)
	case GetInterface:
		err = h.Controller.Transmit(0, []byte{dev.AlternateSetting})
	case SetInterface:
		dev.AlternateSetting = uint8(setup.Value)
		logger.Info("set interface alternate setting", "value", dev.AlternateSetting)
		err = h.Controller.Ack(0)
	default:
		h.Controller.Stall(0, In)
		return fmt.Errorf("usb: unsupported standard request code %#x", setup.Request)
	}

	return
}

// dispatchClassOrVendor handles every non-standard (class or vendor type)
// request, and GET_DESCRIPTOR addressed to an interface, by calling
// through to Device.Setup, performing the data-stage
// receive of a two-pass class request (e.g. UAC1 SET_CUR, HID SET_REPORT)
// itself so class code never blocks on the control pipe.
func (h *Host) dispatchClassOrVendor(setup *SetupData) (err error) {
	dev := h.Device

	if dev.Setup == nil {
		h.Controller.Stall(0, In)
		return fmt.Errorf("usb: unsupported request code %#x", setup.Request)
	}

	var in []byte
	var ack, done bool
	var needData int

	in, needData, ack, done, err = dev.Setup(setup, nil)

	if err == nil && !done && needData > 0 {
		// Two-pass class request (e.g. SET_CUR): receive the data
		// stage ourselves and call back with it populated.
		var data []byte
		data, err = h.Controller.Receive(0)
		if err == nil {
			in, _, ack, done, err = dev.Setup(setup, data)
		}
	}

	if err != nil {
		h.Controller.Stall(0, In)
	} else if !done {
		// First pass handled everything it needed to (e.g. a class
		// request with no data stage that already armed its own
		// response); nothing further to do this round.
	} else if len(in) != 0 {
		err = h.Controller.Transmit(0, in)
	} else if ack {
		err = h.Controller.Ack(0)
	}

	return
}
