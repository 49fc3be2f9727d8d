package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/HuzefaGadi/echowand/echonet_lite/service"
	"github.com/chzyer/readline"
	"golang.org/x/term"
)

const historyFileName = ".echowand_history"

// lineReader は1行ずつ入力を返す。入力が終わると io.EOF を返す
type lineReader interface {
	ReadLine() (string, error)
	Close() error
}

type readlineReader struct {
	rl *readline.Instance
}

func (r *readlineReader) ReadLine() (string, error) {
	line, err := r.rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) {
		return "", io.EOF
	}
	return line, err
}

func (r *readlineReader) Close() error {
	return r.rl.Close()
}

type scannerReader struct {
	scanner *bufio.Scanner
}

func (r *scannerReader) ReadLine() (string, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

func (r *scannerReader) Close() error {
	return nil
}

func historyFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return historyFileName
	}
	return filepath.Join(home, historyFileName)
}

// ConsoleProcess は標準入力からコマンドを読んで実行する。
// 端末なら readline で履歴と補完を使い、そうでなければ1行ずつ読む
func ConsoleProcess(ctx context.Context, s *service.Service) error {
	var reader lineReader
	if term.IsTerminal(int(os.Stdin.Fd())) {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "> ",
			HistoryFile:     historyFilePath(),
			AutoComplete:    newCompleter(s),
			InterruptPrompt: "^C",
			EOFPrompt:       "quit",
		})
		if err != nil {
			return fmt.Errorf("readline の初期化エラー: %w", err)
		}
		reader = &readlineReader{rl: rl}
	} else {
		reader = &scannerReader{scanner: bufio.NewScanner(os.Stdin)}
	}
	defer func() {
		_ = reader.Close()
	}()

	fmt.Println("help for usage, quit to exit")
	return run(ctx, NewCommandProcessor(s, os.Stdout), reader, os.Stdout)
}

// Run は in から読んだコマンドを順に実行し、結果を out に書く。
// quit か入力の終わりで nil を返す
func Run(ctx context.Context, s *service.Service, in io.Reader, out io.Writer) error {
	return run(ctx, NewCommandProcessor(s, out), &scannerReader{scanner: bufio.NewScanner(in)}, out)
}

func run(ctx context.Context, processor *CommandProcessor, reader lineReader, out io.Writer) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := reader.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		cmd, err := ParseCommand(line)
		if errors.Is(err, ErrEmptyCommand) {
			continue
		}
		if err != nil {
			_, _ = fmt.Fprintf(out, "エラー: %v\n", err)
			continue
		}

		err = processor.Execute(ctx, cmd)
		if errors.Is(err, ErrQuit) {
			return nil
		}
		if err != nil {
			_, _ = fmt.Fprintf(out, "エラー: %v\n", err)
		}
	}
}
