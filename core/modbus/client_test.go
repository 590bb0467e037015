package modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groengemak/solgrid/core/logger"
)

func newTestClient(ch Channel) *Client {
	return NewClient(NewTransport(ch, logger.NopLogger{}))
}

func TestClientReadCoils(t *testing.T) {
	ch := &fakeChannel{}
	// Ten coils: byte count 2, bitmap 0b00000101, 0b00000010.
	ch.enqueueFrame(0x01, FuncCodeReadCoils, []byte{2, 0x05, 0x02})
	c := newTestClient(ch)

	values, err := c.ReadCoils(0x01, 3, 10)
	require.NoError(t, err)
	require.Len(t, values, 10)
	assert.Equal(t, []bool{true, false, true, false, false, false, false, false, false, true}, values)

	require.Len(t, ch.wrote, 1)
	// first and count are little-endian in the request payload
	assert.Equal(t, []byte{0x01, FuncCodeReadCoils, 0x03, 0x00, 0x0a, 0x00}, ch.wrote[0][:6])
}

func TestClientReadSwitches(t *testing.T) {
	ch := &fakeChannel{}
	ch.enqueueFrame(0x05, FuncCodeReadSwitches, []byte{1, 0x01})
	c := newTestClient(ch)

	values, err := c.ReadSwitches(0x05, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, values)
}

func TestClientReadBitsCountByteValidated(t *testing.T) {
	ch := &fakeChannel{}
	// Count byte claims 3 bitmap bytes for an 8-coil request.
	ch.enqueueFrame(0x01, FuncCodeReadCoils, []byte{3, 0xff})
	c := newTestClient(ch)

	_, err := c.ReadCoils(0x01, 0, 8)
	var mismatch *LengthMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestClientReadHoldingRegisters(t *testing.T) {
	ch := &fakeChannel{}
	// Two registers, low byte first: 0x1234 and 0x00ff.
	ch.enqueueFrame(0x02, FuncCodeReadHoldingRegisters, []byte{4, 0x34, 0x12, 0xff, 0x00})
	c := newTestClient(ch)

	values, err := c.ReadHoldingRegisters(0x02, 0x10, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x1234, 0x00ff}, values)
}

func TestClientReadInputRegisters(t *testing.T) {
	ch := &fakeChannel{}
	ch.enqueueFrame(0x02, FuncCodeReadInputRegisters, []byte{2, 0xe8, 0x03})
	c := newTestClient(ch)

	values, err := c.ReadInputRegisters(0x02, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1000}, values)
}

func TestClientWriteCoil(t *testing.T) {
	tests := []struct {
		name  string
		value bool
		want  []byte
	}{
		{"on encodes 0x00ff", true, []byte{0xff, 0x00}},
		{"off encodes 0x0000", false, []byte{0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{}
			ch.enqueueFrame(0x01, FuncCodeWriteCoil, []byte{0x07, 0x00, tt.want[0], tt.want[1]})
			c := newTestClient(ch)

			require.NoError(t, c.WriteCoil(0x01, 7, tt.value))
			require.Len(t, ch.wrote, 1)
			assert.Equal(t, []byte{0x07, 0x00, tt.want[0], tt.want[1]}, ch.wrote[0][2:6])
		})
	}
}

func TestClientWriteCoils(t *testing.T) {
	ch := &fakeChannel{}
	ch.enqueueFrame(0x01, FuncCodeWriteCoils, []byte{0x00, 0x00, 0x09, 0x00})
	c := newTestClient(ch)

	require.NoError(t, c.WriteCoils(0x01, 0, []bool{true, false, true, false, false, false, false, false, true}))
	require.Len(t, ch.wrote, 1)
	// first(2) + count(2) + byte count(1) + packed bitmap(2)
	assert.Equal(t, []byte{0x00, 0x00, 0x09, 0x00, 0x02, 0x05, 0x01}, ch.wrote[0][2:9])
}

func TestClientWriteHoldingRegister(t *testing.T) {
	ch := &fakeChannel{}
	ch.enqueueFrame(0x03, FuncCodeWriteHoldingRegister, []byte{0x02, 0x00, 0x2c, 0x01})
	c := newTestClient(ch)

	require.NoError(t, c.WriteHoldingRegister(0x03, 2, 300))
	assert.Equal(t, []byte{0x02, 0x00, 0x2c, 0x01}, ch.wrote[0][2:6])
}

func TestClientWriteHoldingRegisters(t *testing.T) {
	ch := &fakeChannel{}
	ch.enqueueFrame(0x03, FuncCodeWriteHoldingRegisters, []byte{0x04, 0x00, 0x02, 0x00})
	c := newTestClient(ch)

	require.NoError(t, c.WriteHoldingRegisters(0x03, 4, []uint16{0x0102, 0x0304}))
	// first(2) + count(2) + byte count(1) + registers low byte first
	assert.Equal(t, []byte{0x04, 0x00, 0x02, 0x00, 0x04, 0x02, 0x01, 0x04, 0x03}, ch.wrote[0][2:11])
}

func TestClientPropagatesExceptions(t *testing.T) {
	ch := &fakeChannel{queue: []byte{0x01, FuncCodeReadHoldingRegisters + 128, ExceptionCodeSlaveDeviceBusy}}
	c := newTestClient(ch)

	_, err := c.ReadHoldingRegisters(0x01, 0, 1)
	var exc *ExceptionError
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, byte(ExceptionCodeSlaveDeviceBusy), exc.Code)
}
