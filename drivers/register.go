// Package drivers provides concrete bus.Device implementations backed by the
// register access layer. RegisterDevice maps one named device to one coil,
// switch, input register or holding register on a slave.
package drivers

import (
	"errors"
	"fmt"
	"math"

	"github.com/groengemak/solgrid/core/bus"
	"github.com/groengemak/solgrid/core/modbus"
)

// Kind selects which register table a device lives in and thereby its
// capabilities: coils and holding registers are writeable, switches and
// input registers are read-only.
type Kind int

const (
	KindCoil Kind = iota
	KindSwitch
	KindInput
	KindHolding
)

func (k Kind) String() string {
	switch k {
	case KindCoil:
		return "coil"
	case KindSwitch:
		return "switch"
	case KindInput:
		return "input"
	case KindHolding:
		return "holding"
	default:
		return "unknown"
	}
}

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "coil":
		return KindCoil, nil
	case "switch":
		return KindSwitch, nil
	case "input":
		return KindInput, nil
	case "holding":
		return KindHolding, nil
	default:
		return 0, fmt.Errorf("drivers: unknown register kind %q", s)
	}
}

var ErrReadOnly = errors.New("drivers: register kind is read-only")

// RegisterClient is the slice of the register access layer a RegisterDevice
// needs. *modbus.Client satisfies it.
type RegisterClient interface {
	ReadCoils(slave byte, first, count uint16) ([]bool, error)
	ReadSwitches(slave byte, first, count uint16) ([]bool, error)
	ReadHoldingRegisters(slave byte, first, count uint16) ([]uint16, error)
	ReadInputRegisters(slave byte, first, count uint16) ([]uint16, error)
	WriteCoil(slave byte, coil uint16, value bool) error
	WriteHoldingRegister(slave byte, reg, value uint16) error
}

var _ RegisterClient = (*modbus.Client)(nil)

// RegisterDevice exposes one register as a bus.Device. Word values are
// multiplied by the scale factor on read and divided by it on write; bit
// values read as 0 or 1 times the scale and write true for any non-zero
// value.
type RegisterDevice struct {
	client   RegisterClient
	slave    byte
	kind     Kind
	register uint16
	scale    float64
}

var _ bus.Device = (*RegisterDevice)(nil)

// NewRegisterDevice builds a device for one register. A zero or negative
// scale defaults to 1.
func NewRegisterDevice(c RegisterClient, slave byte, kind Kind, register uint16, scale float64) *RegisterDevice {
	if scale <= 0 {
		scale = 1
	}
	return &RegisterDevice{client: c, slave: slave, kind: kind, register: register, scale: scale}
}

func (d *RegisterDevice) Readable() bool { return true }

func (d *RegisterDevice) Writeable() bool {
	return d.kind == KindCoil || d.kind == KindHolding
}

// Get reads the register and applies the scale factor.
func (d *RegisterDevice) Get() (float64, error) {
	switch d.kind {
	case KindCoil, KindSwitch:
		read := d.client.ReadCoils
		if d.kind == KindSwitch {
			read = d.client.ReadSwitches
		}
		bits, err := read(d.slave, d.register, 1)
		if err != nil {
			return 0, err
		}
		if bits[0] {
			return d.scale, nil
		}
		return 0, nil
	case KindInput:
		words, err := d.client.ReadInputRegisters(d.slave, d.register, 1)
		if err != nil {
			return 0, err
		}
		return float64(words[0]) * d.scale, nil
	default:
		words, err := d.client.ReadHoldingRegisters(d.slave, d.register, 1)
		if err != nil {
			return 0, err
		}
		return float64(words[0]) * d.scale, nil
	}
}

// Set writes the register, dividing by the scale factor first. Read-only
// kinds fail with ErrReadOnly.
func (d *RegisterDevice) Set(v float64) error {
	switch d.kind {
	case KindCoil:
		return d.client.WriteCoil(d.slave, d.register, v != 0)
	case KindHolding:
		raw := math.Round(v / d.scale)
		if raw < 0 || raw > math.MaxUint16 {
			return fmt.Errorf("drivers: value %v out of register range", v)
		}
		return d.client.WriteHoldingRegister(d.slave, d.register, uint16(raw))
	default:
		return fmt.Errorf("%w: %s", ErrReadOnly, d.kind)
	}
}
