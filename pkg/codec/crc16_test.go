package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC16_KnownVectors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"empty", nil, 0x0000},
		{"check string", []byte("123456789"), 0xBB3D},
		{"single zero", []byte{0x00}, 0x0000},
		{"single byte", []byte{0x01}, 0xC0C1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CRC16(tt.data))
		})
	}
}

func TestCRC16_Incremental(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	crc := UpdateCRC16(0, data[:10])
	crc = UpdateCRC16(crc, data[10:])
	assert.Equal(t, CRC16(data), crc)
}
