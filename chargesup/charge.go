// Package chargesup implements the charging supervisor: debounced !CHRG
// polling gated by backlight state, and the battery-charge-disable GPIO
// (C1) that avoids charge oscillation against weak USB sources.
//
// Grounded on
// original_source/firmware/target/arm/s5l8702/ipod6g/power-6g.c's
// power_input_status/charging_state/chrg_monitor_cb, translated from
// direct PDAT/GPIOCMD register access to github.com/warthog618/go-gpiocdev
// line requests.
package chargesup

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/warthog618/go-gpiocdev"
)

var chargeLog = log.NewWithOptions(nil, log.Options{Prefix: "chargesup"})

// tickInterval matches the original firmware's tick-ISR monitor callback,
// which re-arms itself every 10ms to catch brief !CHRG HIGH pulses a
// slower poll would miss.
const tickInterval = 10 * time.Millisecond

// debounceThreshold is the number of counted samples required before
// power_input_status flips its usbChargerDetected verdict, in either
// direction (see Status for what each direction counts).
const debounceThreshold = 8

// gpioLine is the subset of *gpiocdev.Line Supervisor drives; narrowing to
// an interface lets tests exercise the debounce state machine against a
// fake line instead of real hardware.
type gpioLine interface {
	Value() (int, error)
	SetValue(int) error
	Close() error
}

// Supervisor polls a !CHRG input line (active low: charging) and drives a
// battery-charge-disable output line (C1), gated on whether the backlight
// is currently on, exactly as the original power thread does.
type Supervisor struct {
	chrg gpioLine // !CHRG input
	ctrl gpioLine // C1 output: 1 disables battery charging

	// BacklightOn reports whether the backlight is currently lit; nil
	// defaults to "always on" (never gates polling).
	BacklightOn func() bool

	// USBInserted reports whether the USB cable is attached; nil defaults
	// to "always inserted".
	USBInserted func() bool

	sawDischarge atomic.Bool

	mu                 sync.Mutex
	usbChargerDetected bool
	prevBacklightOn    bool
	debounce           int

	stop chan struct{}
	done chan struct{}
}

// Open requests the !CHRG input and C1 output lines from the named
// GPIO chip.
func Open(chipName string, chrgOffset, ctrlOffset int) (*Supervisor, error) {
	chrg, err := gpiocdev.RequestLine(chipName, chrgOffset, gpiocdev.AsInput)
	if err != nil {
		return nil, fmt.Errorf("chargesup: request !CHRG line: %w", err)
	}

	ctrl, err := gpiocdev.RequestLine(chipName, ctrlOffset, gpiocdev.AsOutput(0))
	if err != nil {
		chrg.Close()
		return nil, fmt.Errorf("chargesup: request C1 line: %w", err)
	}

	return newSupervisor(chrg, ctrl), nil
}

// newSupervisor builds a Supervisor over already-requested lines, shared by
// Open and by tests driving a fake gpioLine.
func newSupervisor(chrg, ctrl gpioLine) *Supervisor {
	return &Supervisor{chrg: chrg, ctrl: ctrl, stop: make(chan struct{}), done: make(chan struct{})}
}

// Close releases both GPIO lines. Stop must be called first if the
// monitor loop is running.
func (s *Supervisor) Close() error {
	err1 := s.chrg.Close()
	err2 := s.ctrl.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// chrgHigh reads the !CHRG input; HIGH means not charging.
func (s *Supervisor) chrgHigh() (bool, error) {
	v, err := s.chrg.Value()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// ChargingState reports the instantaneous (undebounced) charge state:
// true when !CHRG reads LOW (original_source charging_state).
func (s *Supervisor) ChargingState() (bool, error) {
	high, err := s.chrgHigh()
	if err != nil {
		return false, err
	}
	return !high, nil
}

func (s *Supervisor) setBatteryChargeDisable(disable bool) error {
	v := 0
	if disable {
		v = 1
	}
	return s.ctrl.SetValue(v)
}

// Start launches the 10ms tick-domain monitor goroutine (the original
// firmware's chrg_monitor_cb) that latches a brief !CHRG HIGH pulse
// between the slower debounce polls in Status.
func (s *Supervisor) Start() {
	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		defer close(s.done)

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if high, err := s.chrgHigh(); err == nil && high {
					s.sawDischarge.Store(true)
				}
			}
		}
	}()
}

// Stop halts the monitor goroutine started by Start and waits for it to
// exit.
func (s *Supervisor) Stop() {
	close(s.stop)
	<-s.done
}

// Status mirrors the original's POWER_INPUT_USB_CHARGER bit: it must be
// called once per poll tick from the caller's slower power thread (the
// original runs this from a 500ms timer). With the backlight on,
// usbChargerDetected turns true after debounceThreshold polls with no
// latched !CHRG HIGH pulse, and turns false after debounceThreshold
// not-charging readings (charging readings in between do not reset the
// count). A latched pulse clears it at once, as does USBInserted
// reporting false.
func (s *Supervisor) Status() (usbChargerDetected bool, err error) {
	usbInserted := true
	if s.USBInserted != nil {
		usbInserted = s.USBInserted()
	}

	backlightOn := true
	if s.BacklightOn != nil {
		backlightOn = s.BacklightOn()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !usbInserted {
		s.usbChargerDetected = false
		s.prevBacklightOn = false
		s.debounce = 0
		return false, nil
	}

	switch {
	case backlightOn && !s.prevBacklightOn:
		// Backlight just turned on: probe C1, reset the window.
		if err = s.setBatteryChargeDisable(false); err != nil {
			return false, err
		}
		s.sawDischarge.Store(false)
		s.debounce = 0

	case backlightOn:
		if s.sawDischarge.CompareAndSwap(true, false) {
			s.usbChargerDetected = false
			s.debounce = 0
		} else if !s.usbChargerDetected {
			if s.debounce++; s.debounce >= debounceThreshold {
				s.usbChargerDetected = true
				s.debounce = 0
			}
		} else {
			// Charger-removal direction: only accumulate on a false
			// (not-charging) reading; a true reading never resets the
			// counter, or oscillation would never clear (spec.md §7).
			charging, cerr := s.ChargingState()
			if cerr != nil {
				return false, cerr
			}
			if !charging {
				if s.debounce++; s.debounce >= debounceThreshold {
					s.usbChargerDetected = false
					s.debounce = 0
				}
			}
		}

	default: // backlight off
		if !s.usbChargerDetected {
			if err = s.setBatteryChargeDisable(true); err != nil {
				return false, err
			}
		}
	}

	s.prevBacklightOn = backlightOn
	usbChargerDetected = s.usbChargerDetected

	return usbChargerDetected, nil
}
