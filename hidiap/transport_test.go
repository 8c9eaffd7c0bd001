package hidiap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIAP struct {
	setupCalls int
	setupIDs   []int
	getc       []byte
}

func (f *fakeIAP) Getc(b byte) { f.getc = append(f.getc, b) }
func (f *fakeIAP) Setup(id int) {
	f.setupCalls++
	f.setupIDs = append(f.setupIDs, id)
}

// Test_FrameTX_SmallestFit checks that a short packet is framed into the
// smallest IN report that fits it, zero-padded to that report's fixed size.
func Test_FrameTX_SmallestFit(t *testing.T) {
	buf := []byte{0x10, 0x20, 0x30}
	report := frameTX(buf)

	require.Len(t, report, 1+12) // report ID 1, size 12
	assert.Equal(t, uint8(1), report[0])
	assert.Equal(t, buf, report[1:4])
	for _, b := range report[4:] {
		assert.Zero(t, b)
	}
}

// Test_FrameTX_SyncByteRewrite checks the 0xFF -> 0x00 serial sync byte
// rewrite applied to the framed payload's first byte.
func Test_FrameTX_SyncByteRewrite(t *testing.T) {
	buf := []byte{0xff, 0x01, 0x02}
	report := frameTX(buf)

	assert.Equal(t, uint8(0x00), report[1])
	assert.Equal(t, buf[1:], report[2:4])
}

// Test_FrameTX_TruncatesToLargestReport checks that a packet larger than
// the largest available report is truncated into it rather than dropped.
func Test_FrameTX_TruncatesToLargestReport(t *testing.T) {
	buf := make([]byte, 100)
	for i := range buf {
		buf[i] = byte(i + 1)
	}

	report := frameTX(buf)

	last := inReports[len(inReports)-1]
	require.Len(t, report, 1+int(last.size))
	assert.Equal(t, last.id, report[0])
	assert.Equal(t, buf[:last.size], report[1:])
}

// Test_FrameTX_TenByteSelectsReportOne pins the smallest-fit algorithm
// against spec.md §7's literal 10-byte scenario, which names report ID 2
// (size 14) as the selected report. Under the documented smallest-fit
// rule (and the original's iap_hid_tx) 10 <= 12, so report ID 1 (size 12)
// is actually selected first — see DESIGN.md's note on this discrepancy.
func Test_FrameTX_TenByteSelectsReportOne(t *testing.T) {
	buf := make([]byte, 10)
	for i := range buf {
		buf[i] = byte(i + 1)
	}

	report := frameTX(buf)

	require.Len(t, report, 1+12) // report ID 1, size 12
	assert.Equal(t, uint8(1), report[0])
	assert.Equal(t, buf, report[1:11])
	for _, b := range report[11:] {
		assert.Zero(t, b)
	}
}

// Test_Transport_SendDropsWhenInactive checks that Send is a no-op while
// the HID interface has not been Connect()ed.
func Test_Transport_SendDropsWhenInactive(t *testing.T) {
	tr := NewTransport(nil)
	tr.Send([]byte{0x01, 0x02})
	assert.Nil(t, tr.nextReport())
}

// Test_Transport_SendThenNextReportRoundTrips checks that a framed report
// queued by Send while connected comes back out of nextReport.
func Test_Transport_SendThenNextReportRoundTrips(t *testing.T) {
	tr := NewTransport(nil)
	tr.Connect()

	tr.Send([]byte{0xaa, 0xbb})

	report := tr.nextReport()
	require.NotNil(t, report)
	assert.Equal(t, uint8(1), report[0])
	assert.Nil(t, tr.nextReport())
}

// Test_ProcessRX_LazyActivation checks that the wrapped IAPTransport's
// Setup is armed exactly once, on the first reassembled report, regardless
// of how many subsequent reports arrive.
func Test_ProcessRX_LazyActivation(t *testing.T) {
	iap := &fakeIAP{}
	tr := NewTransport(iap)

	data := []byte{5, 0x00, 0x55, 0x01, 0x02, 0x03, 0x04, 0x05}
	tr.processRX(data)
	tr.processRX(data)

	assert.Equal(t, 1, iap.setupCalls)
	assert.Equal(t, []int{0}, iap.setupIDs)
}

// Test_ProcessRX_SingleCompleteReport checks the 0x00 (single, complete)
// link-control case: the sync byte is located, 0xff is replayed ahead of
// it, and every byte from the sync marker onward is forwarded via Getc.
func Test_ProcessRX_SingleCompleteReport(t *testing.T) {
	iap := &fakeIAP{}
	tr := NewTransport(iap)

	data := []byte{5, 0x00, 0x01, 0x55, 0x02, 0x03, 0x04, 0x05}
	tr.processRX(data)

	require.NotEmpty(t, iap.getc)
	assert.Equal(t, byte(0xff), iap.getc[0])
	assert.Equal(t, []byte{0xff, 0x55, 0x02, 0x03, 0x04, 0x05}, iap.getc)
}

// Test_ProcessRX_NoSyncByteDropsFragment checks that a report with no 0x55
// sync marker produces no Getc calls (the frame is discarded, not
// misinterpreted).
func Test_ProcessRX_NoSyncByteDropsFragment(t *testing.T) {
	iap := &fakeIAP{}
	tr := NewTransport(iap)

	data := []byte{5, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	tr.processRX(data)

	assert.Empty(t, iap.getc)
}

// Test_ProcessRX_FragmentReassembly checks the first (0x02) / last (0x01)
// fragment pair: the first fragment's bytes from its sync marker onward
// are forwarded, then the last fragment's bytes are appended, with no 0xff
// resync byte injected for the continuation.
func Test_ProcessRX_FragmentReassembly(t *testing.T) {
	iap := &fakeIAP{}
	tr := NewTransport(iap)

	first := []byte{5, 0x02, 0x55, 0xaa, 0xbb, 0xcc, 0xdd, 0xee}
	last := []byte{5, 0x01, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}

	tr.processRX(first)
	tr.processRX(last)

	var want []byte
	want = append(want, 0xff, 0x55, 0xaa, 0xbb, 0xcc, 0xdd, 0xee)
	want = append(want, last[2:]...)
	assert.Equal(t, want, iap.getc)
}

// Test_ProcessRX_MiddleFragmentIgnoredWithoutPriorFirst checks that a
// continuation fragment (0x01 or 0x03) arriving without a preceding first
// fragment is discarded rather than misforwarded.
func Test_ProcessRX_MiddleFragmentIgnoredWithoutPriorFirst(t *testing.T) {
	iap := &fakeIAP{}
	tr := NewTransport(iap)

	middle := []byte{5, 0x03, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	tr.processRX(middle)

	assert.Empty(t, iap.getc)
}
