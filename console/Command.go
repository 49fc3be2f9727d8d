package console

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HuzefaGadi/echowand/echonet_lite"
)

// コマンドの種類を表す型
type CommandType int

const (
	CmdUnknown CommandType = iota
	CmdQuit
	CmdHelp
	CmdDiscover
	CmdNodes
	CmdGet
	CmdSet
	CmdSetGet
	CmdInfReq
	CmdLocal
	CmdAnnounce
	CmdObserve
	CmdCapture
	CmdTimeout
)

const (
	defaultObserveDuration = 10 * time.Second
	defaultCaptureDuration = 5 * time.Second
)

// GroupNodeName は宛先にグループ (一斉同報) を指定するときの名前
const GroupNodeName = "*"

var ErrEmptyCommand = errors.New("empty command")

// コマンドを表す構造体
type Command struct {
	Type       CommandType
	Node       string                  // 宛先ノード。GroupNodeName ならグループ
	EOJ        echonet_lite.EOJ        // 対象オブジェクト
	HasEOJ     bool                    // nodes / local / observe で EOJ が指定されたか
	EPCs       []echonet_lite.EPCType  // get / infreq / setget の Get 側 / observe の絞り込み
	Properties echonet_lite.Properties // set / setget / announce
	NoResponse bool                    // set で応答不要 (SetI) にする
	Duration   time.Duration           // observe / capture の時間, timeout の設定値
	Topic      string                  // help の対象コマンド
}

func newCommand(cmdType CommandType) *Command {
	return &Command{Type: cmdType}
}

// ParseCommand は入力行をコマンドに変換する。空行なら ErrEmptyCommand を返す
func ParseCommand(line string) (*Command, error) {
	parts := splitWords(strings.TrimSpace(line))
	if len(parts) == 0 || parts[0] == "" {
		return nil, ErrEmptyCommand
	}
	def, ok := lookupCommand(parts[0])
	if !ok {
		return nil, fmt.Errorf("unknown command: %s (help で一覧を表示)", parts[0])
	}
	return def.ParseFunc(parts[1:])
}

// parseProperty は "EPC:EDT" (例: 80:30) をプロパティに変換する。EDT は省略できる (80:)
func parseProperty(s string) (echonet_lite.Property, error) {
	epcStr, edtStr, found := strings.Cut(s, ":")
	if !found {
		return echonet_lite.Property{}, fmt.Errorf("property must be EPC:EDT: %s", s)
	}
	epc, err := echonet_lite.ParseEPCString(epcStr)
	if err != nil {
		return echonet_lite.Property{}, err
	}
	edt, err := echonet_lite.ParseHexString(edtStr)
	if err != nil {
		return echonet_lite.Property{}, err
	}
	return echonet_lite.Property{EPC: epc, EDT: edt}, nil
}

func parseEPCs(args []string) ([]echonet_lite.EPCType, error) {
	epcs := make([]echonet_lite.EPCType, 0, len(args))
	for _, arg := range args {
		epc, err := echonet_lite.ParseEPCString(arg)
		if err != nil {
			return nil, err
		}
		epcs = append(epcs, epc)
	}
	return epcs, nil
}

func parseProperties(args []string) (echonet_lite.Properties, error) {
	props := make(echonet_lite.Properties, 0, len(args))
	for _, arg := range args {
		p, err := parseProperty(arg)
		if err != nil {
			return nil, err
		}
		props = append(props, p)
	}
	return props, nil
}

// parseTarget は先頭の <node> <eoj> を読み取る
func parseTarget(cmd *Command, args []string) ([]string, error) {
	if len(args) < 2 {
		return nil, errors.New("node and EOJ are required")
	}
	eoj, err := echonet_lite.ParseEOJString(args[1])
	if err != nil {
		return nil, err
	}
	cmd.Node = args[0]
	cmd.EOJ = eoj
	cmd.HasEOJ = true
	return args[2:], nil
}

// parseDurationOption は先頭の "-t <duration>" を読み取る
func parseDurationOption(cmd *Command, args []string, def time.Duration) ([]string, error) {
	cmd.Duration = def
	if len(args) == 0 || args[0] != "-t" {
		return args, nil
	}
	if len(args) < 2 {
		return nil, errors.New("-t requires a duration (例: 10s)")
	}
	d, err := time.ParseDuration(args[1])
	if err != nil {
		return nil, fmt.Errorf("invalid duration: %w", err)
	}
	if d <= 0 {
		return nil, fmt.Errorf("duration must be positive: %v", d)
	}
	cmd.Duration = d
	return args[2:], nil
}
