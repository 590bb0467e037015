package bus

// Device is the contract between a bus and a concrete device driver. Values
// are plain floats; interpretation (scaling, units) belongs to the driver.
type Device interface {
	// Get reads the device's current value. Fails when the device is not
	// readable or the underlying exchange fails.
	Get() (float64, error)
	// Set writes a value to the device. Fails when the device is not
	// writeable or the underlying exchange fails.
	Set(v float64) error
	Readable() bool
	Writeable() bool
}

// Mode is the informational operating state of a device. The bus stores it
// but never interprets it; the scheduler and operator layers do.
type Mode int

const (
	ModeInit Mode = iota
	ModeOff
	ModeOn
	ModeManual
)

func (m Mode) String() string {
	switch m {
	case ModeInit:
		return "init"
	case ModeOff:
		return "off"
	case ModeOn:
		return "on"
	case ModeManual:
		return "man"
	default:
		return "unknown"
	}
}
