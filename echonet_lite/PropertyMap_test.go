package echonet_lite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertyMap_SetAndDelete(t *testing.T) {
	m := DecodePropertyMap([]byte{0x01, 0x80})
	assert.Equal(t, 1, m.Count())
	assert.True(t, m.Has(0x80))

	m.Set(0x88)
	assert.Equal(t, 2, m.Count())
	assert.True(t, m.Has(0x88))

	m.Delete(0x80)
	assert.Equal(t, 1, m.Count())
	assert.False(t, m.Has(0x80))

	m.Set(0xFF)
	assert.Equal(t, 2, m.Count())

	// 無効なコードは何度操作しても件数が変わらない
	for i := 0; i < 2; i++ {
		m.Set(EPCInvalid)
		assert.Equal(t, 2, m.Count())
		assert.False(t, m.Has(EPCInvalid))
		m.Delete(EPCInvalid)
		assert.Equal(t, 2, m.Count())
	}
	m.Set(0x7F)
	assert.False(t, m.Has(0x7F))
	assert.Equal(t, 2, m.Count())

	m.Delete(0x88)
	assert.Equal(t, 1, m.Count())

	for c := 0xB0; c < 0xCF; c++ {
		assert.False(t, m.Has(EPCType(c)))
		m.Set(EPCType(c))
		assert.True(t, m.Has(EPCType(c)))
	}
	assert.Equal(t, 0x20, m.Count())

	data := m.Encode()
	require.Len(t, data, 17)
	assert.Equal(t, byte(0x20), data[0])
	for i := 1; i < 16; i++ {
		assert.Equal(t, byte(0x18), data[i], "byte %d", i)
	}
	assert.Equal(t, byte(0x88), data[16])
}

func TestDecodePropertyMap(t *testing.T) {
	ones := func(count byte, fill byte) []byte {
		data := make([]byte, 17)
		data[0] = count
		for i := 1; i < 17; i++ {
			data[i] = fill
		}
		return data
	}

	tests := []struct {
		name  string
		data  []byte
		count int
		has   []EPCType
	}{
		{
			name:  "bitmap low row",
			data:  ones(0x10, 0x01),
			count: 16,
			has:   []EPCType{0x80, 0x85, 0x8F},
		},
		{
			name:  "bitmap all",
			data:  ones(0x80, 0xff),
			count: 128,
			has:   []EPCType{0x80, 0xC3, 0xFF},
		},
		{
			name:  "list",
			data:  []byte{0x04, 0x80, 0xA4, 0xDA, 0xFF},
			count: 4,
			has:   []EPCType{0x80, 0xA4, 0xDA, 0xFF},
		},
		{
			name:  "empty input",
			data:  []byte{},
			count: 0,
		},
		{
			name:  "bitmap with trailing byte",
			data:  append(ones(0x10, 0x01), 0x01),
			count: 16,
		},
		{
			name:  "list shorter than declared",
			data:  []byte{0x02, 0x80},
			count: 1,
			has:   []EPCType{0x80},
		},
		{
			name:  "list longer than declared",
			data:  []byte{0x01, 0x80, 0x81},
			count: 1,
			has:   []EPCType{0x80},
		},
		{
			name:  "17 bytes all zero",
			data:  ones(0x00, 0x00),
			count: 0,
		},
		{
			name:  "17 bytes with small count",
			data:  append([]byte{0x0f}, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x00),
			count: 15,
			has:   []EPCType{0x80, 0x8E},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := DecodePropertyMap(tt.data)
			assert.Equal(t, tt.count, m.Count())
			for _, epc := range tt.has {
				assert.True(t, m.Has(epc), "EPC %v", epc)
			}
		})
	}
}

func TestDecodePropertyMap_CountIgnoredFor17Bytes(t *testing.T) {
	payload := []byte{0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01}

	m1 := DecodePropertyMap(append([]byte{0x00}, payload...))
	m2 := DecodePropertyMap(append([]byte{0x10}, payload...))
	m3 := DecodePropertyMap(append([]byte{0xff}, payload...))

	assert.Equal(t, m1, m2)
	assert.Equal(t, m2, m3)
	assert.Equal(t, 16, m1.Count())
}

func TestPropertyMap_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		epcs []EPCType
	}{
		{"empty", nil},
		{"single", []EPCType{0x80}},
		{"fifteen", []EPCType{0x80, 0x81, 0x82, 0x83, 0x88, 0x8A, 0x9D, 0x9E, 0x9F, 0xB0, 0xC0, 0xD0, 0xE0, 0xF0, 0xFF}},
		{"sixteen", []EPCType{0x80, 0x81, 0x82, 0x83, 0x88, 0x8A, 0x9D, 0x9E, 0x9F, 0xB0, 0xC0, 0xD0, 0xD3, 0xE0, 0xF0, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewPropertyMap(tt.epcs...)
			data := m.Encode()
			if len(tt.epcs) < 16 {
				assert.Len(t, data, 1+len(tt.epcs))
			} else {
				assert.Len(t, data, 17)
			}
			decoded := DecodePropertyMap(data)
			assert.Equal(t, m, decoded)
			if len(tt.epcs) > 0 {
				assert.Equal(t, tt.epcs, decoded.EPCs())
			}
		})
	}
}
