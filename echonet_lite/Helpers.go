package echonet_lite

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ParseEOJString は "CCCC:I" (クラスコード16進4桁、インスタンス10進) を EOJ にする。
// "CCCC" だけの場合はそのクラスの全インスタンス (インスタンス 0) を表す。
// 例: "0130:1", "0EF0:1", "0130"
func ParseEOJString(eojStr string) (EOJ, error) {
	classStr, instanceStr, hasInstance := strings.Cut(eojStr, ":")

	if len(classStr) != 4 {
		return 0, fmt.Errorf("invalid EOJ %q: class code must be 4 hex digits", eojStr)
	}
	class, err := strconv.ParseUint(classStr, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid EOJ %q: class code must be 4 hex digits", eojStr)
	}
	if !hasInstance {
		return MakeEOJ(EOJClassCode(class), 0), nil
	}

	instance, err := strconv.ParseUint(instanceStr, 10, 8)
	if err != nil || instance == 0 {
		return 0, fmt.Errorf("invalid EOJ %q: instance code must be 1-255", eojStr)
	}
	return MakeEOJ(EOJClassCode(class), EOJInstanceCode(instance)), nil
}

// ParseEPCString は16進2桁の文字列を EPC にする。 例: "80"
func ParseEPCString(epcStr string) (EPCType, error) {
	if len(epcStr) != 2 {
		return 0, fmt.Errorf("invalid EPC %q: must be 2 hex digits", epcStr)
	}
	b, err := hex.DecodeString(epcStr)
	if err != nil {
		return 0, fmt.Errorf("invalid EPC %q: %w", epcStr, err)
	}
	return EPCType(b[0]), nil
}

// ParseHexString は16進文字列をバイト列にする。空文字列は空の EDT になる。
func ParseHexString(hexStr string) ([]byte, error) {
	if len(hexStr)%2 != 0 {
		return nil, fmt.Errorf("invalid hex %q: odd length", hexStr)
	}
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", hexStr, err)
	}
	return b, nil
}
