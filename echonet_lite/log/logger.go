package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Logger はログファイルへの書き込みを受け持ちます。
// io.Writer として slog のハンドラに渡して使い、Rotate でファイルを開き直せます
type Logger struct {
	filename string
	logMutex sync.Mutex
	logFile  *os.File
}

var (
	logger *Logger
)

func SetLogger(l *Logger) {
	if logger != nil && logger != l {
		logger.Close()
	}
	logger = l
}

// NewLogger は filename を追記モードで開きます
func NewLogger(filename string) (*Logger, error) {
	logFile, err := openLogFile(filename)
	if err != nil {
		return nil, err
	}
	return &Logger{filename: filename, logFile: logFile}, nil
}

func openLogFile(filename string) (*os.File, error) {
	logFile, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("ログファイルを開けませんでした: %w", err)
	}
	return logFile, nil
}

func (l *Logger) Filename() string {
	return l.filename
}

// Write はログファイルに書き込みます。Close 後は書き込みを捨てます
func (l *Logger) Write(p []byte) (int, error) {
	l.logMutex.Lock()
	defer l.logMutex.Unlock()
	if l.logFile == nil {
		return len(p), nil
	}
	return l.logFile.Write(p)
}

func (l *Logger) Close() {
	l.logMutex.Lock()
	defer l.logMutex.Unlock()

	if l.logFile != nil {
		_ = l.logFile.Close()
		l.logFile = nil
	}
}

// Rotate はログファイルを閉じて開き直します。外部でファイルを移動した後に呼びます
func (l *Logger) Rotate() error {
	l.logMutex.Lock()
	defer l.logMutex.Unlock()

	if l.logFile == nil {
		return nil
	}
	_ = l.logFile.Close()

	logFile, err := openLogFile(l.filename)
	if err != nil {
		l.logFile = nil
		return fmt.Errorf("ログファイルを再オープンできませんでした: %w", err)
	}
	l.logFile = logFile
	return nil
}

// NewHandler は w に書き込む slog のハンドラを作ります。debug なら Debug レベルから出力します
func NewHandler(w io.Writer, debug bool) slog.Handler {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}
