package usb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test_TwoPassSetCUR_FirstPassReportsNeedData checks that calling with
// data == nil reports the requested length and neither acks nor decodes.
func Test_TwoPassSetCUR_FirstPassReportsNeedData(t *testing.T) {
	var applied bool
	needData, ack, done, err := TwoPassSetCUR(3, nil, func([]byte) error {
		applied = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, needData)
	assert.False(t, ack)
	assert.False(t, done)
	assert.False(t, applied)
}

// Test_TwoPassSetCUR_SecondPassAppliesAndAcks checks that a data stage
// long enough for the requested length is handed to apply and the call
// acks/completes.
func Test_TwoPassSetCUR_SecondPassAppliesAndAcks(t *testing.T) {
	var got []byte
	needData, ack, done, err := TwoPassSetCUR(2, []byte{0x2a, 0x2b}, func(data []byte) error {
		got = data
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, needData)
	assert.True(t, ack)
	assert.True(t, done)
	assert.Equal(t, []byte{0x2a, 0x2b}, got)
}

// Test_TwoPassSetCUR_ShortPayloadErrors checks that a data stage shorter
// than the requested length is rejected rather than passed to apply.
func Test_TwoPassSetCUR_ShortPayloadErrors(t *testing.T) {
	var applied bool
	_, ack, done, err := TwoPassSetCUR(4, []byte{0x01}, func([]byte) error {
		applied = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, ack)
	assert.False(t, done)
	assert.False(t, applied)
}

// Test_TwoPassSetCUR_ApplyErrorPropagates checks that an error from apply
// is returned without acking/completing the request.
func Test_TwoPassSetCUR_ApplyErrorPropagates(t *testing.T) {
	wantErr := errors.New("boom")
	_, ack, done, err := TwoPassSetCUR(1, []byte{0x01}, func([]byte) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.False(t, ack)
	assert.False(t, done)
}
