package modbus

import (
	"testing"
)

func Test_crc16(t *testing.T) {
	type args struct {
		bs []byte
	}
	tests := []struct {
		name string
		args args
		want uint16
	}{
		{"counting bytes", args{[]byte{0x01, 0x02, 0x03, 0x04, 0x05}}, 0xbb2a},
		{"read holding registers request", args{[]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}}, 0x0a84},
		{"empty", args{nil}, 0xffff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := crc16(tt.args.bs); got != tt.want {
				t.Errorf("crc16() = %#04x, want %#04x", got, tt.want)
			}
		})
	}
}

func Test_crc16_Deterministic(t *testing.T) {
	msg := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77}
	first := crc16(msg)
	for i := 0; i < 10; i++ {
		if got := crc16(msg); got != first {
			t.Fatalf("crc16 not deterministic: %#04x != %#04x", got, first)
		}
	}
}

func Test_crc16_BitFlipChangesChecksum(t *testing.T) {
	msg := []byte{0x0a, 0x03, 0x10, 0x00, 0x00, 0x02}
	want := crc16(msg)
	for i := range msg {
		for bit := 0; bit < 8; bit++ {
			flipped := make([]byte, len(msg))
			copy(flipped, msg)
			flipped[i] ^= 1 << bit
			if crc16(flipped) == want {
				t.Fatalf("flipping byte %d bit %d left checksum unchanged", i, bit)
			}
		}
	}
}

func Benchmark_crc16(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = crc16([]byte{0x01, 0x02, 0x03, 0x04, 0x05})
	}
}
