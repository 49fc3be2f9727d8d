package echonet_lite

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Property は各プロパティ（EPC, PDC, EDT）を表します。
type Property struct {
	EPC EPCType // プロパティコード
	EDT []byte  // プロパティデータ
}
type Properties []Property

func (p Property) Encode() []byte {
	PDC := len(p.EDT)
	data := make([]byte, 2+PDC)
	data[0] = byte(p.EPC)
	data[1] = byte(PDC)
	copy(data[2:], p.EDT)
	return data
}

func (p Property) String() string {
	return fmt.Sprintf("%v:%X", p.EPC, p.EDT)
}

func (ps Properties) Encode() []byte {
	data := make([][]byte, len(ps)+1)
	data[0] = []byte{byte(len(ps))}
	for i, p := range ps {
		data[i+1] = p.Encode()
	}
	return flattenBytes(data)
}

func (ps Properties) String() string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func (ps Properties) FindEPC(epc EPCType) (Property, bool) {
	for _, p := range ps {
		if p.EPC == epc {
			return p, true
		}
	}
	return Property{}, false
}

// EPCsToProperties は EDT を持たない要求用のプロパティ列に変換します。
func EPCsToProperties(epcs ...EPCType) Properties {
	props := make(Properties, len(epcs))
	for i, epc := range epcs {
		props[i] = Property{EPC: epc}
	}
	return props
}

// EPCType はプロパティコードを表します。
// プロパティコードは、Echonet Lite のプロパティを識別するための 1 バイトの値です。
// 0x80 未満のコードは未定義で、EPCInvalid と同様に扱われます。
type EPCType byte

const (
	EPCInvalid EPCType = 0x00

	EPCOperationStatus               EPCType = 0x80 // 動作状態
	EPCInstallationLocation          EPCType = 0x81 // 設置場所
	EPCStandardVersion               EPCType = 0x82 // 規格Version情報
	EPCIdentificationNumber          EPCType = 0x83 // 識別番号
	EPCFaultStatus                   EPCType = 0x88 // 異常発生状態
	EPCManufacturerCode              EPCType = 0x8A // メーカコード
	EPCStatusAnnouncementPropertyMap EPCType = 0x9D // 状変アナウンスプロパティマップ
	EPCSetPropertyMap                EPCType = 0x9E // Setプロパティマップ
	EPCGetPropertyMap                EPCType = 0x9F // Getプロパティマップ

	EPCNumberOfSelfNodeInstances EPCType = 0xD3 // 自ノードインスタンス数
	EPCNumberOfSelfNodeClasses   EPCType = 0xD4 // 自ノードクラス数
	EPCInstanceListNotification  EPCType = 0xD5 // インスタンスリスト通知
	EPCSelfNodeInstanceListS     EPCType = 0xD6 // 自ノードインスタンスリストS
	EPCSelfNodeClassListS        EPCType = 0xD7 // 自ノードクラスリストS
)

// IsValid は 0x80〜0xFF の有効なプロパティコードかどうかを返します。
func (e EPCType) IsValid() bool {
	return e >= 0x80
}

// MarshalJSON は EPCType を "0xXX" 形式のJSON文字列にエンコードします。
func (e EPCType) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("0x%02x", byte(e)))
}

// UnmarshalJSON は "0xXX" 形式または10進数形式のJSON文字列から EPCType をデコードします。
func (e *EPCType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("EPCType should be a string, got %s: %w", data, err)
	}

	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	val, err := strconv.ParseUint(s, base, 8)
	if err != nil {
		return fmt.Errorf("invalid EPCType string %q: %w", s, err)
	}
	*e = EPCType(val)
	return nil
}

func (e EPCType) String() string {
	return fmt.Sprintf("%02X", byte(e))
}
