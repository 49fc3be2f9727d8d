package console

import (
	"errors"
	"fmt"
	"time"

	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/c-bata/go-prompt"
	"golang.org/x/exp/slices"
)

// CommandDefinition はコマンドの定義を保持する構造体
type CommandDefinition struct {
	Name        string   // コマンド名
	Aliases     []string // 別名
	Summary     string   // 概要（短い説明）
	Syntax      string   // 構文
	Description []string // 詳細説明（各行が1つの要素）
	// ParseFunc はコマンド名を除いた引数からコマンドを作る
	ParseFunc func(args []string) (*Command, error)
	// GetCandidatesFunc は引数の補完候補を返す。words はコマンド名を含む入力中の単語
	GetCandidatesFunc func(src CandidateSource, words []string) []prompt.Suggest
}

// CommandTable はコマンドの定義を格納するテーブル
var CommandTable = []CommandDefinition{
	{
		Name:    "discover",
		Summary: "ノードの検出",
		Syntax:  "discover",
		Description: []string{
			"ノードプロファイルの自ノードインスタンスリストSを一斉同報で要求し、",
			"応答したノードとそのオブジェクトを表示します。",
		},
		ParseFunc: func(args []string) (*Command, error) {
			return newCommand(CmdDiscover), nil
		},
	},
	{
		Name:    "nodes",
		Aliases: []string{"list"},
		Summary: "検出済みノードの一覧表示",
		Syntax:  "nodes [classCode[:instanceCode]]",
		Description: []string{
			"classCode: 指定したクラスのオブジェクトを持つノードだけを表示（例: 0291）",
		},
		ParseFunc: func(args []string) (*Command, error) {
			cmd := newCommand(CmdNodes)
			if len(args) > 1 {
				return nil, errors.New("too many arguments")
			}
			if len(args) == 1 {
				eoj, err := echonet_lite.ParseEOJString(args[0])
				if err != nil {
					return nil, err
				}
				cmd.EOJ, cmd.HasEOJ = eoj, true
			}
			return cmd, nil
		},
	},
	{
		Name:    "get",
		Summary: "プロパティ値の読み出し",
		Syntax:  "get <node|*> <classCode[:instanceCode]> <epc> [epc...]",
		Description: []string{
			"node: ノード名（IPアドレスなど）。* で一斉同報",
			"epc: 2桁の16進数（例: 80）",
		},
		ParseFunc: func(args []string) (*Command, error) {
			cmd := newCommand(CmdGet)
			rest, err := parseTarget(cmd, args)
			if err != nil {
				return nil, err
			}
			if len(rest) == 0 {
				return nil, errors.New("at least one EPC is required")
			}
			if cmd.EPCs, err = parseEPCs(rest); err != nil {
				return nil, err
			}
			return cmd, nil
		},
		GetCandidatesFunc: targetCandidates,
	},
	{
		Name:    "set",
		Summary: "プロパティ値の書き込み",
		Syntax:  "set <node|*> <classCode[:instanceCode]> <epc:edt> [epc:edt...] [-noresp]",
		Description: []string{
			"epc:edt: EPC と 16進数の EDT（例: 80:30）",
			"-noresp: 応答不要 (SetI) で送信する",
		},
		ParseFunc: func(args []string) (*Command, error) {
			cmd := newCommand(CmdSet)
			rest, err := parseTarget(cmd, args)
			if err != nil {
				return nil, err
			}
			if i := slices.Index(rest, "-noresp"); i >= 0 {
				cmd.NoResponse = true
				rest = slices.Delete(slices.Clone(rest), i, i+1)
			}
			if len(rest) == 0 {
				return nil, errors.New("at least one property is required")
			}
			if cmd.Properties, err = parseProperties(rest); err != nil {
				return nil, err
			}
			return cmd, nil
		},
		GetCandidatesFunc: func(src CandidateSource, words []string) []prompt.Suggest {
			if len(words) <= 3 {
				return targetCandidates(src, words)
			}
			return []prompt.Suggest{{Text: "-noresp", Description: "応答不要 (SetI)"}}
		},
	},
	{
		Name:    "setget",
		Summary: "プロパティ値の書き込みと読み出し",
		Syntax:  "setget <node|*> <classCode[:instanceCode]> <epc:edt>... -get <epc>...",
		ParseFunc: func(args []string) (*Command, error) {
			cmd := newCommand(CmdSetGet)
			rest, err := parseTarget(cmd, args)
			if err != nil {
				return nil, err
			}
			i := slices.Index(rest, "-get")
			if i < 0 {
				return nil, errors.New("-get is required")
			}
			if cmd.Properties, err = parseProperties(rest[:i]); err != nil {
				return nil, err
			}
			if cmd.EPCs, err = parseEPCs(rest[i+1:]); err != nil {
				return nil, err
			}
			if len(cmd.Properties) == 0 && len(cmd.EPCs) == 0 {
				return nil, errors.New("no properties")
			}
			return cmd, nil
		},
		GetCandidatesFunc: func(src CandidateSource, words []string) []prompt.Suggest {
			if len(words) <= 3 {
				return targetCandidates(src, words)
			}
			return []prompt.Suggest{{Text: "-get", Description: "以降は読み出す EPC"}}
		},
	},
	{
		Name:    "infreq",
		Summary: "プロパティ値の通知要求",
		Syntax:  "infreq <node|*> <classCode[:instanceCode]> <epc> [epc...]",
		Description: []string{
			"応答は INF として届くので、observe と組み合わせて確認します。",
		},
		ParseFunc: func(args []string) (*Command, error) {
			cmd := newCommand(CmdInfReq)
			rest, err := parseTarget(cmd, args)
			if err != nil {
				return nil, err
			}
			if len(rest) == 0 {
				return nil, errors.New("at least one EPC is required")
			}
			if cmd.EPCs, err = parseEPCs(rest); err != nil {
				return nil, err
			}
			return cmd, nil
		},
		GetCandidatesFunc: targetCandidates,
	},
	{
		Name:    "local",
		Summary: "自ノードのオブジェクトの表示",
		Syntax:  "local [classCode:instanceCode [epc...]]",
		Description: []string{
			"引数なしでオブジェクトの一覧、EOJ と EPC を指定するとプロパティ値を表示します。",
		},
		ParseFunc: func(args []string) (*Command, error) {
			cmd := newCommand(CmdLocal)
			if len(args) == 0 {
				return cmd, nil
			}
			eoj, err := echonet_lite.ParseEOJString(args[0])
			if err != nil {
				return nil, err
			}
			cmd.EOJ, cmd.HasEOJ = eoj, true
			if cmd.EPCs, err = parseEPCs(args[1:]); err != nil {
				return nil, err
			}
			return cmd, nil
		},
		GetCandidatesFunc: func(src CandidateSource, words []string) []prompt.Suggest {
			if len(words) == 2 {
				return localEOJCandidates(src)
			}
			return nil
		},
	},
	{
		Name:    "announce",
		Summary: "自ノードのプロパティ値の更新",
		Syntax:  "announce <classCode:instanceCode> <epc:edt> [epc:edt...]",
		Description: []string{
			"値が変化した状変アナウンス対象のプロパティは INF で通知されます。",
		},
		ParseFunc: func(args []string) (*Command, error) {
			cmd := newCommand(CmdAnnounce)
			if len(args) < 2 {
				return nil, errors.New("EOJ and at least one property are required")
			}
			eoj, err := echonet_lite.ParseEOJString(args[0])
			if err != nil {
				return nil, err
			}
			cmd.EOJ, cmd.HasEOJ = eoj, true
			if cmd.Properties, err = parseProperties(args[1:]); err != nil {
				return nil, err
			}
			return cmd, nil
		},
		GetCandidatesFunc: func(src CandidateSource, words []string) []prompt.Suggest {
			if len(words) == 2 {
				return localEOJCandidates(src)
			}
			return nil
		},
	},
	{
		Name:    "observe",
		Summary: "通知 (INF/INFC) の観測",
		Syntax:  "observe [-t duration] [node|*] [classCode[:instanceCode]] [epc...]",
		Description: []string{
			fmt.Sprintf("duration: 観測する時間（デフォルト %v）", defaultObserveDuration),
			"node, classCode, epc で絞り込みます。* はすべてのノード",
		},
		ParseFunc: func(args []string) (*Command, error) {
			cmd := newCommand(CmdObserve)
			rest, err := parseDurationOption(cmd, args, defaultObserveDuration)
			if err != nil {
				return nil, err
			}
			if len(rest) > 0 {
				if rest[0] != GroupNodeName {
					cmd.Node = rest[0]
				}
				rest = rest[1:]
			}
			if len(rest) > 0 {
				eoj, err := echonet_lite.ParseEOJString(rest[0])
				if err != nil {
					return nil, err
				}
				cmd.EOJ, cmd.HasEOJ = eoj, true
				rest = rest[1:]
			}
			if cmd.EPCs, err = parseEPCs(rest); err != nil {
				return nil, err
			}
			return cmd, nil
		},
		GetCandidatesFunc: func(src CandidateSource, words []string) []prompt.Suggest {
			if len(words) == 2 {
				return append([]prompt.Suggest{{Text: "-t", Description: "観測する時間"}}, nodeCandidates(src)...)
			}
			return nil
		},
	},
	{
		Name:    "capture",
		Summary: "送受信フレームのキャプチャ",
		Syntax:  "capture [-t duration]",
		Description: []string{
			fmt.Sprintf("duration: キャプチャする時間（デフォルト %v）", defaultCaptureDuration),
		},
		ParseFunc: func(args []string) (*Command, error) {
			cmd := newCommand(CmdCapture)
			rest, err := parseDurationOption(cmd, args, defaultCaptureDuration)
			if err != nil {
				return nil, err
			}
			if len(rest) > 0 {
				return nil, errors.New("too many arguments")
			}
			return cmd, nil
		},
	},
	{
		Name:    "timeout",
		Summary: "応答待ち時間の表示・変更",
		Syntax:  "timeout [duration]",
		ParseFunc: func(args []string) (*Command, error) {
			cmd := newCommand(CmdTimeout)
			if len(args) == 0 {
				return cmd, nil
			}
			d, err := time.ParseDuration(args[0])
			if err != nil {
				return nil, fmt.Errorf("invalid duration: %w", err)
			}
			if d < 0 {
				return nil, fmt.Errorf("timeout must not be negative: %v", d)
			}
			cmd.Duration = d
			return cmd, nil
		},
	},
	{
		Name:    "help",
		Summary: "ヘルプの表示",
		Syntax:  "help [command]",
		ParseFunc: func(args []string) (*Command, error) {
			cmd := newCommand(CmdHelp)
			if len(args) > 0 {
				cmd.Topic = args[0]
			}
			return cmd, nil
		},
	},
	{
		Name:    "quit",
		Aliases: []string{"exit"},
		Summary: "終了",
		Syntax:  "quit",
		ParseFunc: func(args []string) (*Command, error) {
			return newCommand(CmdQuit), nil
		},
	},
}

// lookupCommand は名前か別名からコマンド定義を探す
func lookupCommand(name string) (CommandDefinition, bool) {
	for _, def := range CommandTable {
		if def.Name == name || slices.Contains(def.Aliases, name) {
			return def, true
		}
	}
	return CommandDefinition{}, false
}
