// Package modbus implements the serial-line frame codec, transport and
// register access layer used by solbus device drivers.
//
// A frame is address(1) + function(1) + data + crc(2). Exception replies
// carry function+128 followed by a one-byte error code. Multi-byte fields
// are encoded low byte first on this bus family, including the CRC trailer.
package modbus
