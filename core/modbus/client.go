package modbus

import "encoding/binary"

// Function Code
const (
	FuncCodeReadCoils             = 1
	FuncCodeReadSwitches          = 2
	FuncCodeReadHoldingRegisters  = 3
	FuncCodeReadInputRegisters    = 4
	FuncCodeWriteCoil             = 5
	FuncCodeWriteHoldingRegister  = 6
	FuncCodeWriteCoils            = 15
	FuncCodeWriteHoldingRegisters = 16
)

const (
	coilOn  = 0x00ff
	coilOff = 0x0000
)

// Client provides the typed register operations on top of a Transport. All
// operations are synchronous: each call blocks until the reply arrived or
// the transport failed.
type Client struct {
	t *Transport
}

// NewClient builds a Client over the given transport.
func NewClient(t *Transport) *Client {
	return &Client{t: t}
}

func putUint16(data []byte, v uint16) {
	binary.LittleEndian.PutUint16(data, v)
}

// readBits performs a bit-oriented read (coils, switches). The reply packs
// eight values per byte behind a leading byte-count byte, which is validated
// against the request.
func (c *Client) readBits(slave, function byte, first, count uint16) ([]bool, error) {
	data := make([]byte, 4)
	putUint16(data[0:], first)
	putUint16(data[2:], count)
	if err := c.t.Send(slave, function, data); err != nil {
		return nil, err
	}
	nbytes := int(count+7) / 8
	reply, err := c.t.Receive(slave, function, 1+nbytes)
	if err != nil {
		return nil, err
	}
	if int(reply[0]) != nbytes {
		return nil, &LengthMismatchError{Want: nbytes, Got: int(reply[0])}
	}
	values := make([]bool, count)
	for i := range values {
		values[i] = reply[1+i/8]&(1<<(i%8)) != 0
	}
	return values, nil
}

// readWords performs a 16-bit read (holding and input registers).
func (c *Client) readWords(slave, function byte, first, count uint16) ([]uint16, error) {
	data := make([]byte, 4)
	putUint16(data[0:], first)
	putUint16(data[2:], count)
	if err := c.t.Send(slave, function, data); err != nil {
		return nil, err
	}
	reply, err := c.t.Receive(slave, function, 1+2*int(count))
	if err != nil {
		return nil, err
	}
	if int(reply[0]) != 2*int(count) {
		return nil, &LengthMismatchError{Want: 2 * int(count), Got: int(reply[0])}
	}
	values := make([]uint16, count)
	for i := range values {
		values[i] = binary.LittleEndian.Uint16(reply[1+2*i:])
	}
	return values, nil
}

// ReadCoils returns count coil values starting from the first coil number.
func (c *Client) ReadCoils(slave byte, first, count uint16) ([]bool, error) {
	return c.readBits(slave, FuncCodeReadCoils, first, count)
}

// ReadSwitches returns count switch values starting from the first switch
// number.
func (c *Client) ReadSwitches(slave byte, first, count uint16) ([]bool, error) {
	return c.readBits(slave, FuncCodeReadSwitches, first, count)
}

// ReadHoldingRegisters returns count register values starting from the first
// register number.
func (c *Client) ReadHoldingRegisters(slave byte, first, count uint16) ([]uint16, error) {
	return c.readWords(slave, FuncCodeReadHoldingRegisters, first, count)
}

// ReadInputRegisters returns count input values starting from the first
// input number.
func (c *Client) ReadInputRegisters(slave byte, first, count uint16) ([]uint16, error) {
	return c.readWords(slave, FuncCodeReadInputRegisters, first, count)
}

// WriteCoil sets a single coil. True is encoded as 0x00FF, false as 0x0000.
func (c *Client) WriteCoil(slave byte, coil uint16, value bool) error {
	data := make([]byte, 4)
	putUint16(data[0:], coil)
	if value {
		putUint16(data[2:], coilOn)
	} else {
		putUint16(data[2:], coilOff)
	}
	if err := c.t.Send(slave, FuncCodeWriteCoil, data); err != nil {
		return err
	}
	_, err := c.t.Receive(slave, FuncCodeWriteCoil, len(data))
	return err
}

// WriteCoils sets a sequence of coils starting from the first coil number,
// packed eight per byte.
func (c *Client) WriteCoils(slave byte, first uint16, values []bool) error {
	nbytes := (len(values) + 7) / 8
	data := make([]byte, 5+nbytes)
	putUint16(data[0:], first)
	putUint16(data[2:], uint16(len(values)))
	data[4] = byte(nbytes)
	for i, v := range values {
		if v {
			data[5+i/8] |= 1 << (i % 8)
		}
	}
	if err := c.t.Send(slave, FuncCodeWriteCoils, data); err != nil {
		return err
	}
	_, err := c.t.Receive(slave, FuncCodeWriteCoils, 4)
	return err
}

// WriteHoldingRegister sets a single holding register.
func (c *Client) WriteHoldingRegister(slave byte, reg, value uint16) error {
	data := make([]byte, 4)
	putUint16(data[0:], reg)
	putUint16(data[2:], value)
	if err := c.t.Send(slave, FuncCodeWriteHoldingRegister, data); err != nil {
		return err
	}
	_, err := c.t.Receive(slave, FuncCodeWriteHoldingRegister, len(data))
	return err
}

// WriteHoldingRegisters sets a sequence of holding registers starting at the
// first register number.
func (c *Client) WriteHoldingRegisters(slave byte, first uint16, values []uint16) error {
	data := make([]byte, 5+2*len(values))
	putUint16(data[0:], first)
	putUint16(data[2:], uint16(len(values)))
	data[4] = byte(2 * len(values))
	for i, v := range values {
		putUint16(data[5+2*i:], v)
	}
	if err := c.t.Send(slave, FuncCodeWriteHoldingRegisters, data); err != nil {
		return err
	}
	_, err := c.t.Receive(slave, FuncCodeWriteHoldingRegisters, 4)
	return err
}
