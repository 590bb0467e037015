package modbus

import (
	"encoding/binary"

	"github.com/groengemak/solgrid/core/logger"
)

// Channel is the abstract byte channel a Transport drives. The physical link
// (serial port, socket, test double) owns its own configuration, including
// the read timeout: Read blocks until n bytes arrived or the timeout
// elapsed, and may return fewer bytes than requested.
type Channel interface {
	Write(p []byte) error
	Read(n int) ([]byte, error)
	ResetInput() error
}

// Transport frames requests and validates replies on a Channel. A Transport
// serializes exactly one exchange at a time; concurrent callers must hold
// their own lock or use separate channels.
type Transport struct {
	ch  Channel
	log logger.Logger
}

// NewTransport wraps the given channel. A nil log falls back to a no-op
// logger.
func NewTransport(ch Channel, log logger.Logger) *Transport {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Transport{ch: ch, log: log}
}

// Send writes one request frame: slave, function, data and the CRC computed
// over all three.
func (t *Transport) Send(slave, function byte, data []byte) error {
	msg := make([]byte, 0, len(data)+4)
	msg = append(msg, slave, function)
	msg = append(msg, data...)
	sum := crc16(msg)
	msg = append(msg, byte(sum), byte(sum>>8))
	return t.ch.Write(msg)
}

// Receive reads the reply to a request previously sent to slave with the
// given function code, expecting datasz payload bytes. On any failure the
// input buffer is reset so the next exchange starts from clean framing.
func (t *Transport) Receive(slave, function byte, datasz int) ([]byte, error) {
	head, err := t.ch.Read(2)
	if err != nil {
		return nil, t.fail(err)
	}
	if len(head) < 2 {
		return nil, t.fail(ErrTimeout)
	}
	if head[0] != slave {
		return nil, t.fail(&AddressMismatchError{Want: slave, Got: head[0]})
	}
	if head[1] != function {
		if head[1] != function+128 {
			return nil, t.fail(&FunctionMismatchError{Want: function, Got: head[1]})
		}
		code, err := t.ch.Read(1)
		if err != nil {
			return nil, t.fail(err)
		}
		if len(code) < 1 {
			return nil, t.fail(ErrTimeout)
		}
		return nil, t.fail(&ExceptionError{Code: code[0]})
	}
	data, err := t.ch.Read(datasz)
	if err != nil {
		return nil, t.fail(err)
	}
	if len(data) != datasz {
		return nil, t.fail(&LengthMismatchError{Want: datasz, Got: len(data)})
	}
	trailer, err := t.ch.Read(2)
	if err != nil {
		return nil, t.fail(err)
	}
	if len(trailer) < 2 {
		return nil, t.fail(ErrTimeout)
	}
	frame := make([]byte, 0, 2+len(data))
	frame = append(frame, head...)
	frame = append(frame, data...)
	if want, got := crc16(frame), binary.LittleEndian.Uint16(trailer); want != got {
		return nil, t.fail(&ChecksumMismatchError{Want: want, Got: got})
	}
	return data, nil
}

// fail resets the input buffer before surfacing err, so stray bytes of a
// broken exchange cannot shift the framing of the next one.
func (t *Transport) fail(err error) error {
	if rerr := t.ch.ResetInput(); rerr != nil {
		t.log.Warnf("reset input buffer: %v", rerr)
	}
	return err
}
