package modbus

import (
	"errors"
	"fmt"
)

// ErrTimeout reports that a reply did not arrive in full within the channel
// timeout.
var ErrTimeout = errors.New("modbus: timeout waiting for reply")

// AddressMismatchError reports a reply from an unexpected slave address.
type AddressMismatchError struct {
	Want, Got byte
}

func (e *AddressMismatchError) Error() string {
	return fmt.Sprintf("modbus: reply from slave %#02x, expected %#02x", e.Got, e.Want)
}

// FunctionMismatchError reports a reply whose function code matches neither
// the request nor its exception form.
type FunctionMismatchError struct {
	Want, Got byte
}

func (e *FunctionMismatchError) Error() string {
	return fmt.Sprintf("modbus: function %#02x, expected %#02x", e.Got, e.Want)
}

// LengthMismatchError reports a reply payload shorter or longer than the
// request implied.
type LengthMismatchError struct {
	Want, Got int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("modbus: got %d bytes, expected %d", e.Got, e.Want)
}

// ChecksumMismatchError reports a CRC trailer that disagrees with the
// checksum recomputed over the received payload.
type ChecksumMismatchError struct {
	Want, Got uint16
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("modbus: crc %#04x does not match computed %#04x", e.Got, e.Want)
}

// Exception Code
const (
	ExceptionCodeIllegalFunction                    = 1
	ExceptionCodeIllegalDataAddress                 = 2
	ExceptionCodeIllegalDataValue                   = 3
	ExceptionCodeSlaveDeviceFailure                 = 4
	ExceptionCodeAcknowledge                        = 5
	ExceptionCodeSlaveDeviceBusy                    = 6
	ExceptionCodeNegativeAcknowledge                = 7
	ExceptionCodeMemoryParityError                  = 8
	ExceptionCodeGatewayPathUnavailable             = 10
	ExceptionCodeGatewayTargetDeviceFailedToRespond = 11
)

// ExceptionError is raised when the remote device answers a request with an
// exception reply (function+128 and a one-byte error code).
type ExceptionError struct {
	Code byte
}

// Error converts known exception codes to their fixed reason.
func (e *ExceptionError) Error() string {
	var name string
	switch e.Code {
	case ExceptionCodeIllegalFunction:
		name = "Illegal function"
	case ExceptionCodeIllegalDataAddress:
		name = "Illegal data address"
	case ExceptionCodeIllegalDataValue:
		name = "Illegal data value"
	case ExceptionCodeSlaveDeviceFailure:
		name = "Slave device failure"
	case ExceptionCodeAcknowledge:
		name = "Acknowledge"
	case ExceptionCodeSlaveDeviceBusy:
		name = "Slave device busy"
	case ExceptionCodeNegativeAcknowledge:
		name = "Negative acknowledge"
	case ExceptionCodeMemoryParityError:
		name = "Memory parity error"
	case ExceptionCodeGatewayPathUnavailable:
		name = "Gateway path unavailable"
	case ExceptionCodeGatewayTargetDeviceFailedToRespond:
		name = "Gateway target device failed to respond"
	default:
		name = "Non-standard failure"
	}
	return fmt.Sprintf("modbus: error %#02x: %s", e.Code, name)
}
