package server

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/HuzefaGadi/echowand/echonet_lite/log"
)

// LogManager はログファイルを開き、SIGHUP を受けたら開き直す
type LogManager struct {
	logger   *log.Logger
	signalCh chan os.Signal
	done     chan struct{}
}

func NewLogManager(logFilename string) (*LogManager, error) {
	logger, err := log.NewLogger(logFilename)
	if err != nil {
		return nil, err
	}
	log.SetLogger(logger)

	lm := &LogManager{
		logger:   logger,
		signalCh: make(chan os.Signal, 1),
		done:     make(chan struct{}),
	}
	signal.Notify(lm.signalCh, syscall.SIGHUP)
	go lm.rotateLoop()
	return lm, nil
}

// Logger は slog のハンドラに渡す書き込み先を返す
func (lm *LogManager) Logger() *log.Logger {
	return lm.logger
}

func (lm *LogManager) rotateLoop() {
	for {
		select {
		case <-lm.done:
			return
		case <-lm.signalCh:
			fmt.Fprintln(os.Stderr, "SIGHUPを受信しました。ログファイルをローテーションします...")
			if err := lm.Rotate(); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "ログローテーションエラー: %v\n", err)
			}
		}
	}
}

// Rotate はログファイルを開き直す
func (lm *LogManager) Rotate() error {
	if err := lm.logger.Rotate(); err != nil {
		return err
	}
	slog.Info("ログファイルをローテーションしました", "file", lm.logger.Filename())
	return nil
}

func (lm *LogManager) Close() error {
	signal.Stop(lm.signalCh)
	close(lm.done)
	log.SetLogger(nil)
	lm.logger.Close()
	return nil
}
