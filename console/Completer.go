package console

import (
	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/HuzefaGadi/echowand/echonet_lite/service"
	"github.com/c-bata/go-prompt"
	"github.com/chzyer/readline"
	"golang.org/x/exp/slices"
)

// CandidateSource は補完候補の元になる情報。*service.Service が満たす
type CandidateSource interface {
	RemoteNodes() []service.RemoteNode
	LocalEOJs() []echonet_lite.EOJ
}

// completer は readline.AutoCompleter を実装する
type completer struct {
	src CandidateSource
}

var _ readline.AutoCompleter = (*completer)(nil)

func newCompleter(src CandidateSource) *completer {
	return &completer{src: src}
}

// Do は line[:pos] の最後の単語を補完する
func (c *completer) Do(line []rune, pos int) (newLine [][]rune, length int) {
	words := splitWords(string(line[:pos]))
	lastWord := ""
	if len(words) > 0 {
		lastWord = words[len(words)-1]
	}

	var candidates []prompt.Suggest
	if len(words) <= 1 || (len(words) == 2 && words[0] == "help") {
		// help の引数もコマンド名
		candidates = commandCandidates()
	} else if def, ok := lookupCommand(words[0]); ok && def.GetCandidatesFunc != nil {
		candidates = def.GetCandidatesFunc(c.src, words)
	}

	lastRunes := []rune(lastWord)
	for _, s := range prompt.FilterHasPrefix(candidates, lastWord, false) {
		newLine = append(newLine, append([]rune(s.Text)[len(lastRunes):], ' '))
	}
	return newLine, len(lastRunes)
}

func commandCandidates() []prompt.Suggest {
	suggests := make([]prompt.Suggest, 0, len(CommandTable))
	for _, def := range CommandTable {
		suggests = append(suggests, prompt.Suggest{Text: def.Name, Description: def.Summary})
		for _, alias := range def.Aliases {
			suggests = append(suggests, prompt.Suggest{Text: alias, Description: def.Summary})
		}
	}
	return suggests
}

// nodeCandidates はグループと検出済みノードの候補を返す
func nodeCandidates(src CandidateSource) []prompt.Suggest {
	nodes := src.RemoteNodes()
	suggests := make([]prompt.Suggest, 0, len(nodes)+1)
	suggests = append(suggests, prompt.Suggest{Text: GroupNodeName, Description: "一斉同報"})
	for _, n := range nodes {
		suggests = append(suggests, prompt.Suggest{Text: n.Node.String()})
	}
	return suggests
}

// remoteEOJCandidates は検出済みノードのオブジェクトの候補を返す。
// node が登録済みならそのノードのものに限る
func remoteEOJCandidates(src CandidateSource, node string) []prompt.Suggest {
	nodes := src.RemoteNodes()
	if i := slices.IndexFunc(nodes, func(n service.RemoteNode) bool { return n.Node.String() == node }); i >= 0 {
		nodes = nodes[i : i+1]
	}
	seen := make(map[echonet_lite.EOJ]struct{})
	var suggests []prompt.Suggest
	for _, n := range nodes {
		for _, eoj := range n.EOJs {
			if _, ok := seen[eoj]; ok {
				continue
			}
			seen[eoj] = struct{}{}
			suggests = append(suggests, prompt.Suggest{Text: eoj.Specifier(), Description: eoj.ClassCode().String()})
		}
	}
	return suggests
}

func localEOJCandidates(src CandidateSource) []prompt.Suggest {
	eojs := src.LocalEOJs()
	suggests := make([]prompt.Suggest, 0, len(eojs))
	for _, eoj := range eojs {
		suggests = append(suggests, prompt.Suggest{Text: eoj.Specifier(), Description: eoj.ClassCode().String()})
	}
	return suggests
}

// targetCandidates は <node> <eoj> を取るコマンドの補完
func targetCandidates(src CandidateSource, words []string) []prompt.Suggest {
	switch len(words) {
	case 2:
		return nodeCandidates(src)
	case 3:
		return remoteEOJCandidates(src, words[1])
	}
	return nil
}

// splitWords は入力行を単語に分割する。クォート内の空白は区切りにしない。
// 末尾が空白なら、次の単語を入力中として空文字列を1つ加える
func splitWords(line string) []string {
	if line == "" {
		return []string{}
	}

	words := make([]string, 0)
	var word []rune
	inQuote := false
	lastWasSpace := true

	for _, r := range line {
		switch r {
		case ' ', '\t':
			if inQuote {
				word = append(word, r)
				lastWasSpace = false
				continue
			}
			if !lastWasSpace && len(word) > 0 {
				words = append(words, string(word))
				word = word[:0]
			}
			lastWasSpace = true
		case '"', '\'':
			inQuote = !inQuote
			lastWasSpace = false
		default:
			word = append(word, r)
			lastWasSpace = false
		}
	}

	if len(word) > 0 {
		words = append(words, string(word))
	}
	if lastWasSpace {
		words = append(words, "")
	}
	return words
}
