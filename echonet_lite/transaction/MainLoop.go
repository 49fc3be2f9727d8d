package transaction

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/HuzefaGadi/echowand/echonet_lite/network"
)

// FrameHandler は受信フレームを処理します。
// processed はそれ以前のハンドラがフレームを処理したかどうかで、処理したら true を返します
type FrameHandler interface {
	Process(subnet network.Subnet, frame network.Frame, processed bool) bool
}

type FrameHandlerFunc func(subnet network.Subnet, frame network.Frame, processed bool) bool

func (f FrameHandlerFunc) Process(subnet network.Subnet, frame network.Frame, processed bool) bool {
	return f(subnet, frame, processed)
}

// MainLoop はサブネットからフレームを受信して、登録順にハンドラへ渡します
type MainLoop struct {
	subnet   network.Subnet
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers []FrameHandler
}

func NewMainLoop(subnet network.Subnet, logger *slog.Logger) *MainLoop {
	if logger == nil {
		logger = slog.Default()
	}
	return &MainLoop{subnet: subnet, logger: logger}
}

func (l *MainLoop) Subnet() network.Subnet {
	return l.subnet
}

func (l *MainLoop) AddHandler(handler FrameHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, handler)
}

// Run はサブネットが停止されるまで受信を続けます。停止による終了では nil を返します
func (l *MainLoop) Run() error {
	for {
		frame, err := l.subnet.Receive()
		if err != nil {
			if errors.Is(err, network.ErrNotEnabled) {
				l.logger.Info("受信終了: サブネットが停止しました")
				return nil
			}
			l.logger.Error("フレーム受信中にエラーが発生", "err", err)
			return err
		}
		l.dispatch(frame)
	}
}

func (l *MainLoop) dispatch(frame network.Frame) {
	l.mu.RLock()
	handlers := append([]FrameHandler(nil), l.handlers...)
	l.mu.RUnlock()

	processed := false
	for _, h := range handlers {
		if l.process(h, frame, processed) {
			processed = true
		}
	}
	if !processed {
		l.logger.Debug("処理されなかったフレーム", "frame", frame)
	}
}

func (l *MainLoop) process(h FrameHandler, frame network.Frame, processed bool) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("ハンドラでパニックが発生しました", "frame", frame, "panic", r)
			result = false
		}
	}()
	return h.Process(l.subnet, frame, processed)
}
