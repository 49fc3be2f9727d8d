package transaction

import (
	"errors"

	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/HuzefaGadi/echowand/echonet_lite/network"
)

var ErrNoReceiver = errors.New("transaction has no receiver")

// Config はトランザクションで送る要求フレームを組み立てます
type Config interface {
	// Frames は tid を使って送信するフレームを作ります。Sender が nil なら LocalNode が使われます
	Frames(subnet network.Subnet, tid echonet_lite.TIDType) ([]network.Frame, error)
	// ResponseRequired は応答を待つ必要があるかどうかを返します
	ResponseRequired() bool
}

func senderOrLocal(subnet network.Subnet, sender network.Node) network.Node {
	if sender == nil {
		return subnet.LocalNode()
	}
	return sender
}

// SetGetConfig は Get / SetC / SetI / SetGet 要求の設定です。
// Set と Get の組み合わせでサービスコードが決まります
type SetGetConfig struct {
	Sender   network.Node
	Receiver network.Node
	SEOJ     echonet_lite.EOJ
	DEOJ     echonet_lite.EOJ
	Set      echonet_lite.Properties
	Get      []echonet_lite.EPCType
	// ResponseRequired が false のとき Set だけの要求は SetI になります
	ResponseRequiredFlag bool
}

func (c SetGetConfig) ESV() echonet_lite.ESVType {
	switch {
	case len(c.Set) > 0 && len(c.Get) > 0:
		return echonet_lite.ESVSetGet
	case len(c.Set) > 0 && c.ResponseRequiredFlag:
		return echonet_lite.ESVSetC
	case len(c.Set) > 0:
		return echonet_lite.ESVSetI
	default:
		return echonet_lite.ESVGet
	}
}

func (c SetGetConfig) ResponseRequired() bool {
	return c.ESV() != echonet_lite.ESVSetI
}

func (c SetGetConfig) Frames(subnet network.Subnet, tid echonet_lite.TIDType) ([]network.Frame, error) {
	if c.Receiver == nil {
		return nil, ErrNoReceiver
	}
	msg := &echonet_lite.ECHONETLiteMessage{
		EHD:  echonet_lite.EHD_ECHONETLite,
		TID:  tid,
		SEOJ: c.SEOJ,
		DEOJ: c.DEOJ,
		ESV:  c.ESV(),
	}
	switch msg.ESV {
	case echonet_lite.ESVGet:
		msg.Properties = echonet_lite.EPCsToProperties(c.Get...)
	case echonet_lite.ESVSetGet:
		msg.Properties = c.Set
		msg.SetGetProperties = echonet_lite.EPCsToProperties(c.Get...)
	default:
		msg.Properties = c.Set
	}
	return []network.Frame{{
		Sender:   senderOrLocal(subnet, c.Sender),
		Receiver: c.Receiver,
		Message:  msg,
	}}, nil
}

// AnnounceConfig は INF / INFC による通知の設定です
type AnnounceConfig struct {
	Sender               network.Node
	Receiver             network.Node
	SEOJ                 echonet_lite.EOJ
	DEOJ                 echonet_lite.EOJ
	Properties           echonet_lite.Properties
	ResponseRequiredFlag bool
}

func (c AnnounceConfig) ESV() echonet_lite.ESVType {
	if c.ResponseRequiredFlag {
		return echonet_lite.ESVINFC
	}
	return echonet_lite.ESVINF
}

func (c AnnounceConfig) ResponseRequired() bool {
	return c.ResponseRequiredFlag
}

func (c AnnounceConfig) Frames(subnet network.Subnet, tid echonet_lite.TIDType) ([]network.Frame, error) {
	receiver := c.Receiver
	if receiver == nil {
		receiver = subnet.GroupNode()
	}
	return []network.Frame{{
		Sender:   senderOrLocal(subnet, c.Sender),
		Receiver: receiver,
		Message: &echonet_lite.ECHONETLiteMessage{
			EHD:        echonet_lite.EHD_ECHONETLite,
			TID:        tid,
			SEOJ:       c.SEOJ,
			DEOJ:       c.DEOJ,
			ESV:        c.ESV(),
			Properties: c.Properties,
		},
	}}, nil
}

// InfRequestConfig は INF_REQ の設定です。応答は INF で返ってきます
type InfRequestConfig struct {
	Sender   network.Node
	Receiver network.Node
	SEOJ     echonet_lite.EOJ
	DEOJ     echonet_lite.EOJ
	EPCs     []echonet_lite.EPCType
}

func (c InfRequestConfig) ResponseRequired() bool {
	return true
}

func (c InfRequestConfig) Frames(subnet network.Subnet, tid echonet_lite.TIDType) ([]network.Frame, error) {
	if c.Receiver == nil {
		return nil, ErrNoReceiver
	}
	return []network.Frame{{
		Sender:   senderOrLocal(subnet, c.Sender),
		Receiver: c.Receiver,
		Message: &echonet_lite.ECHONETLiteMessage{
			EHD:        echonet_lite.EHD_ECHONETLite,
			TID:        tid,
			SEOJ:       c.SEOJ,
			DEOJ:       c.DEOJ,
			ESV:        echonet_lite.ESVINF_REQ,
			Properties: echonet_lite.EPCsToProperties(c.EPCs...),
		},
	}}, nil
}

// MultiConfig は複数の設定のフレームをまとめて1つのトランザクションで送ります
type MultiConfig []Config

func (c MultiConfig) ResponseRequired() bool {
	for _, config := range c {
		if config.ResponseRequired() {
			return true
		}
	}
	return false
}

func (c MultiConfig) Frames(subnet network.Subnet, tid echonet_lite.TIDType) ([]network.Frame, error) {
	var frames []network.Frame
	for _, config := range c {
		f, err := config.Frames(subnet, tid)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f...)
	}
	return frames, nil
}
