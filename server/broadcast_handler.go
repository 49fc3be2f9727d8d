package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// LogNotification はモニタクライアントに配信するログ1件
type LogNotification struct {
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Time       string         `json:"time"`
	Attributes map[string]any `json:"attributes"`
}

// BroadcastHandler は minLevel 以上のログをモニタクライアントにも配信する slog ハンドラ
type BroadcastHandler struct {
	inner     slog.Handler
	transport WebSocketTransport
	minLevel  slog.Level
	attrs     []slog.Attr
}

func NewBroadcastHandler(inner slog.Handler, transport WebSocketTransport, minLevel slog.Level) *BroadcastHandler {
	return &BroadcastHandler{
		inner:     inner,
		transport: transport,
		minLevel:  minLevel,
	}
}

func (h *BroadcastHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *BroadcastHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}
	if r.Level >= h.minLevel && h.transport != nil {
		h.broadcastLog(r)
	}
	return nil
}

func (h *BroadcastHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &BroadcastHandler{
		inner:     h.inner.WithAttrs(attrs),
		transport: h.transport,
		minLevel:  h.minLevel,
		attrs:     merged,
	}
}

// WithGroup はグループを内側のハンドラにだけ渡す。配信する属性は平坦なまま
func (h *BroadcastHandler) WithGroup(name string) slog.Handler {
	return &BroadcastHandler{
		inner:     h.inner.WithGroup(name),
		transport: h.transport,
		minLevel:  h.minLevel,
		attrs:     h.attrs,
	}
}

// formatAttributeValue は slog.Value を JSON に載せられる値に変換する
func formatAttributeValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindGroup:
		group := make(map[string]any)
		for _, a := range v.Group() {
			group[a.Key] = formatAttributeValue(a.Value)
		}
		return group
	case slog.KindAny:
		anyValue := v.Any()
		if anyValue == nil {
			return nil
		}
		if err, ok := anyValue.(error); ok {
			return err.Error()
		}
		if stringer, ok := anyValue.(fmt.Stringer); ok {
			return stringer.String()
		}
		str := v.String()
		if str == "{}" || str == "" {
			return fmt.Sprintf("[%T: %+v]", anyValue, anyValue)
		}
		return str
	default:
		return v.String()
	}
}

func (h *BroadcastHandler) broadcastLog(r slog.Record) {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = formatAttributeValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = formatAttributeValue(a.Value)
		return true
	})

	data, err := json.Marshal(Message{
		Type: MessageTypeLogNotification,
		Payload: LogNotification{
			Level:      r.Level.String(),
			Message:    r.Message,
			Time:       r.Time.Format(time.RFC3339),
			Attributes: attrs,
		},
	})
	if err != nil {
		// ここでログを出すと再帰する
		return
	}
	_ = h.transport.BroadcastMessage(data)
}
