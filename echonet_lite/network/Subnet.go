package network

import (
	"errors"
	"fmt"

	"github.com/HuzefaGadi/echowand/echonet_lite"
)

var (
	ErrNotEnabled        = errors.New("subnet not enabled")
	ErrInService         = errors.New("subnet in service")
	ErrInvalidSender     = errors.New("invalid sender")
	ErrInvalidReceiver   = errors.New("invalid receiver")
	ErrInvalidConnection = errors.New("invalid connection")
	ErrInvalidName       = errors.New("invalid node name")
)

// SubnetError はサブネット操作の失敗を操作名付きで表します。
type SubnetError struct {
	Op  string
	Err error
}

func (e *SubnetError) Error() string {
	return fmt.Sprintf("subnet %s: %v", e.Op, e.Err)
}

func (e *SubnetError) Unwrap() error {
	return e.Err
}

func subnetError(op string, err error) error {
	return &SubnetError{Op: op, Err: err}
}

// Node はサブネット上のノードです。同じアドレスのノードは == で等しくなります。
type Node interface {
	IsMemberOf(subnet Subnet) bool
	String() string
}

// Frame は送受信の単位です。Conn が設定されていれば送信はその TCP 接続を使います。
type Frame struct {
	Sender   Node
	Receiver Node
	Message  *echonet_lite.ECHONETLiteMessage
	Conn     *TCPConnection
}

func (f Frame) String() string {
	return fmt.Sprintf("%v -> %v: %v", f.Sender, f.Receiver, f.Message)
}

// Subnet はフレームの送受信を行うネットワークです。
type Subnet interface {
	// Send はフレームを送信します。サービス停止中は ErrNotEnabled を返します。
	Send(frame Frame) error
	// Receive はフレームを1つ受信するまで待ちます。停止されると ErrNotEnabled を返します。
	Receive() (Frame, error)
	LocalNode() Node
	GroupNode() Node
	// RemoteNode は名前 (IPアドレスやホスト名) からノードを求めます。
	RemoteNode(name string) (Node, error)
}

// Service は開始・停止できるサブネットです。
type Service interface {
	StartService() (bool, error)
	StopService() bool
	IsInService() bool
}

// checkMembers は送信元・送信先がサブネットに属するかを確認します。
func checkMembers(subnet Subnet, frame Frame) error {
	if frame.Sender == nil || !frame.Sender.IsMemberOf(subnet) {
		return ErrInvalidSender
	}
	if frame.Receiver == nil || !frame.Receiver.IsMemberOf(subnet) {
		return ErrInvalidReceiver
	}
	if frame.Message == nil {
		return errors.New("frame has no message")
	}
	return nil
}
