// Package serial provides the physical RS-485 link as a modbus.Channel. The
// port owns the line configuration (baud rate, framing, read timeout); the
// transport above it only sees bytes.
package serial

import (
	"errors"
	"io"
	"time"

	"github.com/goburrow/serial"

	"github.com/groengemak/solgrid/core/modbus"
)

// Config describes one serial port.
type Config struct {
	// Address is the device path, e.g. /dev/ttyUSB0.
	Address  string        `json:"address"`
	BaudRate int           `json:"baud_rate"`
	DataBits int           `json:"data_bits"`
	StopBits int           `json:"stop_bits"`
	Parity   string        `json:"parity"`
	Timeout  time.Duration `json:"timeout"`
}

// SetDefaults fills unset fields with the common RS-485 line settings.
func (c *Config) SetDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = 9600
	}
	if c.DataBits == 0 {
		c.DataBits = 8
	}
	if c.StopBits == 0 {
		c.StopBits = 1
	}
	if c.Parity == "" {
		c.Parity = "N"
	}
	if c.Timeout == 0 {
		c.Timeout = time.Second
	}
}

// Validate reports configuration errors that would fail only at open time.
func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.New("serial: address is required")
	}
	return nil
}

// Port is a modbus.Channel over an open serial port.
type Port struct {
	rw io.ReadWriteCloser
}

var _ modbus.Channel = (*Port)(nil)

// Open opens the configured serial port.
func Open(cfg Config) (*Port, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p, err := serial.Open(&serial.Config{
		Address:  cfg.Address,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return &Port{rw: p}, nil
}

// Write sends the whole buffer to the line.
func (p *Port) Write(b []byte) error {
	_, err := p.rw.Write(b)
	return err
}

// Read blocks until n bytes arrived or the port timeout elapsed, returning
// short on timeout.
func (p *Port) Read(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		r, err := p.rw.Read(buf[got:])
		got += r
		if errors.Is(err, serial.ErrTimeout) {
			break
		}
		if err != nil {
			return buf[:got], err
		}
	}
	return buf[:got], nil
}

// ResetInput discards buffered input by reading until the line goes quiet.
func (p *Port) ResetInput() error {
	scratch := make([]byte, 64)
	for {
		n, err := p.rw.Read(scratch)
		if errors.Is(err, serial.ErrTimeout) {
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// Close releases the port. In-flight reads surface a transport failure.
func (p *Port) Close() error {
	return p.rw.Close()
}
