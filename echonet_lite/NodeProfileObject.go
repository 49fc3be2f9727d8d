package echonet_lite

import "fmt"

// NodeProfileObject は自ノードのノードプロファイルオブジェクトです
var NodeProfileObject = MakeEOJ(NodeProfile_ClassCode, 1)

// ECHONETLite_Version はノードプロファイルの Version 情報 (0x82) で名乗るバージョンです
var ECHONETLite_Version = NPO_VersionInfo{
	MajorVersion: 1,
	MinorVersion: 14,
	Default:      true,
	Optional:     false,
}

type NPO_VersionInfo struct {
	MajorVersion byte
	MinorVersion byte
	Default      bool // 既定電文
	Optional     bool // 任意電文
}

func NPO_DecodeVersionInfo(EDT []byte) *NPO_VersionInfo {
	if len(EDT) < 3 {
		return nil
	}
	return &NPO_VersionInfo{
		MajorVersion: EDT[0],
		MinorVersion: EDT[1],
		Default:      EDT[2]&0x01 != 0,
		Optional:     EDT[2]&0x02 != 0,
	}
}

func (s *NPO_VersionInfo) String() string {
	return fmt.Sprintf("%d.%d Default:%t, Optional:%t",
		s.MajorVersion, s.MinorVersion,
		s.Default, s.Optional,
	)
}

func (s *NPO_VersionInfo) EDT() []byte {
	var flags byte
	if s.Default {
		flags |= 0x01
	}
	if s.Optional {
		flags |= 0x02
	}
	return []byte{s.MajorVersion, s.MinorVersion, flags, 0x00}
}

func (s *NPO_VersionInfo) Property() *Property {
	return &Property{EPC: EPCStandardVersion, EDT: s.EDT()}
}

// InstanceList は 0xD5 / 0xD6 で通知されるインスタンスリストの1ページです
type InstanceList []EOJ

// DecodeInstanceList は1ページ分のインスタンスリストを読みます
func DecodeInstanceList(EDT []byte) *InstanceList {
	if len(EDT) < 1 {
		return nil
	}
	_, eojs := DecodeInstanceListPage(EDT)
	result := InstanceList(eojs)
	return &result
}

func (s *InstanceList) String() string {
	if s == nil {
		return "nil"
	}
	return fmt.Sprintf("%d:%v", len(*s), *s)
}

// ManufacturerCode はメーカコード (0x8A) です
type ManufacturerCode uint32

// ManufacturerCodeExperimental は実験用のメーカコードです
const ManufacturerCodeExperimental ManufacturerCode = 0xffffff

func DecodeManufacturerCode(EDT []byte) ManufacturerCode {
	if len(EDT) < 3 {
		return 0
	}
	return ManufacturerCode(uint32(EDT[0])<<16 | uint32(EDT[1])<<8 | uint32(EDT[2]))
}

func (c ManufacturerCode) String() string {
	return fmt.Sprintf("%X", uint32(c))
}

func (c ManufacturerCode) EDT() []byte {
	return []byte{byte(c >> 16), byte(c >> 8), byte(c)}
}

func (c ManufacturerCode) Property() *Property {
	return &Property{EPC: EPCManufacturerCode, EDT: c.EDT()}
}

// IdentificationNumber は識別番号 (0x83) です。先頭 0xFE に続いてメーカコードと13バイトの固有値が並びます
type IdentificationNumber struct {
	ManufacturerCode ManufacturerCode
	UniqueIdentifier []byte
}

func (s *IdentificationNumber) EDT() []byte {
	unique := make([]byte, 13)
	copy(unique, s.UniqueIdentifier)
	EDT := append([]byte{0xfe}, s.ManufacturerCode.EDT()...)
	return append(EDT, unique...)
}

func (s *IdentificationNumber) Property() *Property {
	return &Property{EPC: EPCIdentificationNumber, EDT: s.EDT()}
}

// OperationStatus は動作状態 (0x80) です
type OperationStatus bool

func (s OperationStatus) EDT() []byte {
	if s {
		return []byte{0x30}
	}
	return []byte{0x31}
}

func (s OperationStatus) Property() *Property {
	return &Property{EPC: EPCOperationStatus, EDT: s.EDT()}
}
