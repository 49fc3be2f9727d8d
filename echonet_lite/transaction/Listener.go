package transaction

import "github.com/HuzefaGadi/echowand/echonet_lite/network"

type EventKind int

const (
	EventBegin   EventKind = iota // TID を割り当てて送信を始める直前
	EventSend                     // フレームを1つ送信した (Success に結果)
	EventReceive                  // 対応する応答を受信した
	EventFinish                   // 終了した。以後イベントは発生しない
)

func (k EventKind) String() string {
	switch k {
	case EventBegin:
		return "begin"
	case EventSend:
		return "send"
	case EventReceive:
		return "receive"
	case EventFinish:
		return "finish"
	default:
		return "unknown"
	}
}

// Event はトランザクションの進行をリスナーに知らせます
type Event struct {
	Kind        EventKind
	Transaction *Transaction
	Subnet      network.Subnet
	Frame       network.Frame // Send / Receive のときだけ設定されます
	Success     bool          // Send の結果
}

// Listener はトランザクションのイベントを受け取ります。
// イベントは1つのトランザクションについて begin, send..., receive..., finish の順に同期的に呼ばれます
type Listener interface {
	HandleEvent(event Event)
}

type ListenerFunc func(event Event)

func (f ListenerFunc) HandleEvent(event Event) {
	f(event)
}
