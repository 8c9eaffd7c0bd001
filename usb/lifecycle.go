package usb

import "sync/atomic"

// Lifecycle is the init_connection/disconnect shape the source and HID-iAP
// transport classes both mirror at the edges of a configuration
// change: mark the component active (or inactive) without eagerly
// touching the rest of its state. Embed it in a class component and call
// Connect/Disconnect from that component's own Start/Stop (or
// Connect/Disconnect) methods, passing Disconnect any extra state that
// needs rewinding.
type Lifecycle struct {
	active atomic.Bool
}

// Connect marks the component active.
func (l *Lifecycle) Connect() {
	l.active.Store(true)
}

// Disconnect marks the component inactive and, if reset is non-nil, runs
// it to rewind any connection-scoped state beyond the active flag itself.
func (l *Lifecycle) Disconnect(reset func()) {
	l.active.Store(false)
	if reset != nil {
		reset()
	}
}

// Active reports whether Connect has been called more recently than
// Disconnect.
func (l *Lifecycle) Active() bool {
	return l.active.Load()
}
