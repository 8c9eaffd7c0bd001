package uac

import "github.com/nuxcodes/usbaudiobridge/usb"

// NewSinkDataFunction adapts Sink to the ISO OUT data endpoint's
// EndpointFunction, querying ctrl for the current frame number on every
// completion (spec.md §4.1 step 1).
func NewSinkDataFunction(s *Sink, ctrl usb.Controller) usb.EndpointFunction {
	return func(buf []byte, lastErr error) ([]byte, error) {
		s.Completion(buf, ctrl.FrameNumber(), lastErr)
		return nil, nil
	}
}

// NewSinkFeedbackFunction adapts Sink's feedback controller to the ISO IN
// feedback endpoint's EndpointFunction. The endpoint dispatch loop invokes
// it on every iteration, with no USB-frame synchronization (the feedback
// controller's per-frame latch keeps repeated calls from re-emitting);
// when no emission is due it returns a nil buffer, which the dispatch loop
// treats as "nothing to transmit this round".
func NewSinkFeedbackFunction(s *Sink) usb.EndpointFunction {
	return func(_ []byte, _ error) ([]byte, error) {
		wire, ok := s.Feedback()
		if !ok {
			return nil, nil
		}
		return wire, nil
	}
}

// NewSourceDataFunction adapts Source to the ISO IN data endpoint's
// EndpointFunction.
func NewSourceDataFunction(s *Source) usb.EndpointFunction {
	return func(_ []byte, _ error) ([]byte, error) {
		if !s.Streaming() {
			return nil, nil
		}
		return s.NextFrame(), nil
	}
}
