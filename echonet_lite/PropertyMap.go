package echonet_lite

import (
	"fmt"
	"math/bits"
)

// プロパティマップ記述形式
// プロパティマップは、EPC(0x80〜0xff)の有無の集合。
//
// 1. プロパティの個数が16未満の場合 (1+プロパティの個数バイト)
//   1バイト目: プロパティの個数
//   2バイト目以降: EPC がそのまま列挙される
//
// 2. プロパティの個数が16以上の場合 (17バイト)
//   1バイト目: プロパティの個数
//   2〜17バイト目: プロパティコードのビットマップ。8*16=128ビット。EPCは0x80〜0xff
//     i バイト目の j ビット目が EPC 0x80 + i + 16*j に対応する。
//
// 受信時は個数が16以上、または全体が17バイトちょうどならビットマップとして読む。
// 個数と中身が食い違う機器があるため、個数 0x00, 0x10, 0xFF のいずれでも
// 同じ16バイトからは同じ集合を得る。

const (
	propertyMapBitmapThreshold = 16
	propertyMapBitmapSize      = 17
)

// PropertyMap はプロパティコードの集合です。ゼロ値は空集合で、== で比較できます。
type PropertyMap struct {
	bits [16]byte
}

func propertyMapPosition(epc EPCType) (int, byte) {
	return int(epc & 0x0f), 1 << (epc>>4 - 8)
}

// NewPropertyMap は指定された EPC を含むプロパティマップを返します。
func NewPropertyMap(epcs ...EPCType) PropertyMap {
	var m PropertyMap
	for _, epc := range epcs {
		m.Set(epc)
	}
	return m
}

func (m PropertyMap) Has(epc EPCType) bool {
	if !epc.IsValid() {
		return false
	}
	i, bit := propertyMapPosition(epc)
	return m.bits[i]&bit != 0
}

// Set は epc を追加します。無効な EPC は無視されます。
func (m *PropertyMap) Set(epc EPCType) {
	if !epc.IsValid() {
		return
	}
	i, bit := propertyMapPosition(epc)
	m.bits[i] |= bit
}

// Delete は epc を取り除きます。無効な EPC は無視されます。
func (m *PropertyMap) Delete(epc EPCType) {
	if !epc.IsValid() {
		return
	}
	i, bit := propertyMapPosition(epc)
	m.bits[i] &^= bit
}

func (m PropertyMap) Count() int {
	n := 0
	for _, b := range m.bits {
		n += bits.OnesCount8(b)
	}
	return n
}

// EPCs は昇順の EPC 一覧を返します。
func (m PropertyMap) EPCs() []EPCType {
	epcs := make([]EPCType, 0, m.Count())
	for c := 0x80; c <= 0xff; c++ {
		if m.Has(EPCType(c)) {
			epcs = append(epcs, EPCType(c))
		}
	}
	return epcs
}

func (m PropertyMap) Encode() []byte {
	count := m.Count()
	if count < propertyMapBitmapThreshold {
		bytes := make([]byte, 1, 1+count)
		bytes[0] = byte(count)
		for _, epc := range m.EPCs() {
			bytes = append(bytes, byte(epc))
		}
		return bytes
	}

	bytes := make([]byte, propertyMapBitmapSize)
	bytes[0] = byte(count)
	copy(bytes[1:], m.bits[:])
	return bytes
}

// DecodePropertyMap はプロパティマップの EDT を読みます。
// 長さが足りない、あるいは余る入力も読めるところまで読み、失敗はしません。
func DecodePropertyMap(data []byte) PropertyMap {
	var m PropertyMap
	if len(data) < 1 {
		return m
	}

	n := int(data[0])
	payload := data[1:]
	if n >= propertyMapBitmapThreshold || len(data) == propertyMapBitmapSize {
		for i := 0; i < len(m.bits) && i < len(payload); i++ {
			m.bits[i] = payload[i]
		}
		return m
	}

	if len(payload) > n {
		payload = payload[:n]
	}
	for _, epc := range payload {
		m.Set(EPCType(epc))
	}
	return m
}

func (m PropertyMap) String() string {
	return fmt.Sprint(m.EPCs())
}
