package server

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/HuzefaGadi/echowand/echonet_lite/network"
)

// メッセージの種類
const (
	MessageTypeHello           = "hello"
	MessageTypeFrame           = "frame"
	MessageTypeLogNotification = "log_notification"
)

// 通信方向
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Message はクライアントに送る JSON メッセージの外側
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// HelloPayload は接続直後に送る
type HelloPayload struct {
	ConnID    string `json:"connID"`
	LocalNode string `json:"localNode,omitempty"`
}

// PropertyRecord はプロパティ1つ分。EDT は16進文字列
type PropertyRecord struct {
	EPC string `json:"epc"`
	EDT string `json:"edt"`
}

// FrameRecord は送受信したフレーム1つ分の記録
type FrameRecord struct {
	Direction        string           `json:"direction"`
	Success          bool             `json:"success"`
	Time             time.Time        `json:"time"`
	Sender           string           `json:"sender"`
	Receiver         string           `json:"receiver"`
	TID              uint16           `json:"tid"`
	ESV              string           `json:"esv"`
	SEOJ             string           `json:"seoj"`
	DEOJ             string           `json:"deoj"`
	Properties       []PropertyRecord `json:"properties"`
	SetGetProperties []PropertyRecord `json:"setGetProperties,omitempty"`
	Data             string           `json:"data"`
}

func propertyRecords(props echonet_lite.Properties) []PropertyRecord {
	records := make([]PropertyRecord, 0, len(props))
	for _, p := range props {
		records = append(records, PropertyRecord{
			EPC: p.EPC.String(),
			EDT: hex.EncodeToString(p.EDT),
		})
	}
	return records
}

func nodeString(node network.Node) string {
	if node == nil {
		return ""
	}
	return node.String()
}

// NewFrameRecord はフレームを JSON で送れる形に変換する
func NewFrameRecord(direction string, frame network.Frame, success bool, at time.Time) FrameRecord {
	record := FrameRecord{
		Direction: direction,
		Success:   success,
		Time:      at,
		Sender:    nodeString(frame.Sender),
		Receiver:  nodeString(frame.Receiver),
	}
	msg := frame.Message
	if msg == nil {
		record.Properties = []PropertyRecord{}
		return record
	}
	record.TID = uint16(msg.TID)
	record.ESV = msg.ESV.String()
	record.SEOJ = msg.SEOJ.IDString()
	record.DEOJ = msg.DEOJ.IDString()
	record.Properties = propertyRecords(msg.Properties)
	if msg.ESV.ISSetGet() {
		record.SetGetProperties = propertyRecords(msg.SetGetProperties)
	}
	record.Data = hex.EncodeToString(msg.Encode())
	return record
}

// CaptureMonitor はサブネットで送受信したフレームを WebSocket クライアントに配信する。
// network.CaptureObserver として CaptureSubnet に登録して使う
type CaptureMonitor struct {
	transport WebSocketTransport
	localNode string
	now       func() time.Time
}

// NewCaptureMonitor は transport に接続ハンドラを設定した CaptureMonitor を作る
func NewCaptureMonitor(transport WebSocketTransport, localNode network.Node) *CaptureMonitor {
	m := &CaptureMonitor{
		transport: transport,
		localNode: nodeString(localNode),
		now:       time.Now,
	}
	transport.SetConnectHandler(m.handleConnect)
	transport.SetMessageHandler(m.handleMessage)
	return m
}

func (m *CaptureMonitor) handleConnect(connID string) error {
	data, err := json.Marshal(Message{
		Type:    MessageTypeHello,
		Payload: HelloPayload{ConnID: connID, LocalNode: m.localNode},
	})
	if err != nil {
		return err
	}
	return m.transport.SendMessage(connID, data)
}

// モニタは配信専用なので、クライアントからのメッセージは読み捨てる
func (m *CaptureMonitor) handleMessage(connID string, message []byte) error {
	slog.Debug("モニタクライアントからのメッセージを無視します", "connID", connID, "size", len(message))
	return nil
}

func (m *CaptureMonitor) broadcast(record FrameRecord) {
	data, err := json.Marshal(Message{Type: MessageTypeFrame, Payload: record})
	if err != nil {
		slog.Error("フレームの JSON 変換に失敗", "err", err)
		return
	}
	if err := m.transport.BroadcastMessage(data); err != nil {
		slog.Debug("フレームの配信に失敗", "err", err)
	}
}

func (m *CaptureMonitor) NotifySent(frame network.Frame, success bool) {
	m.broadcast(NewFrameRecord(DirectionSent, frame, success, m.now()))
}

func (m *CaptureMonitor) NotifyReceived(frame network.Frame) {
	m.broadcast(NewFrameRecord(DirectionReceived, frame, true, m.now()))
}

func (r FrameRecord) String() string {
	return fmt.Sprintf("%s %s -> %s TID=%04X %s %s->%s", r.Direction, r.Sender, r.Receiver, r.TID, r.ESV, r.SEOJ, r.DEOJ)
}
