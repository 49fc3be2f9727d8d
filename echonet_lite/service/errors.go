package service

import (
	"errors"
	"fmt"

	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/HuzefaGadi/echowand/echonet_lite/object"
)

var ErrNoInstanceList = errors.New("node profile has no instance list")

// ErrPropertyNotFound は自ノードのオブジェクトが持たないプロパティを読もうとしたときに返されます
type ErrPropertyNotFound struct {
	EOJ echonet_lite.EOJ
	EPC echonet_lite.EPCType
}

func (e ErrPropertyNotFound) Error() string {
	return fmt.Sprintf("property %v not found in %v", e.EPC, e.EOJ)
}

func objectNotFound(eoj echonet_lite.EOJ) error {
	return fmt.Errorf("%w: %v", object.ErrObjectNotFound, eoj)
}
