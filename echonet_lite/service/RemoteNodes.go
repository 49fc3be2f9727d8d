package service

import (
	"strings"
	"time"

	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/HuzefaGadi/echowand/echonet_lite/network"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/exp/slices"
)

// RemoteNode は他ノードとそのノードが持つオブジェクトです
type RemoteNode struct {
	Node    network.Node
	EOJs    []echonet_lite.EOJ
	Updated time.Time
}

// RemoteNodes はインスタンスリストの通知や応答から分かった他ノードの一覧です
type RemoteNodes struct {
	nodes *xsync.MapOf[string, RemoteNode]
}

func newRemoteNodes() *RemoteNodes {
	return &RemoteNodes{nodes: xsync.NewMapOf[string, RemoteNode]()}
}

// Process はノードプロファイルからの 0xD5 / 0xD6 を記録します。
// 他のハンドラの処理を妨げないよう、常に false を返します
func (r *RemoteNodes) Process(_ network.Subnet, frame network.Frame, _ bool) bool {
	r.updateFromFrame(frame)
	return false
}

func (r *RemoteNodes) updateFromFrame(frame network.Frame) {
	eojs, ok := instanceListOf(frame)
	if !ok {
		return
	}
	now := time.Now()
	r.nodes.Compute(frame.Sender.String(), func(old RemoteNode, loaded bool) (RemoteNode, bool) {
		return RemoteNode{
			Node:    frame.Sender,
			EOJs:    appendUniqueEOJs(slices.Clone(old.EOJs), eojs),
			Updated: now,
		}, false
	})
}

// Len は登録されているノード数を返します
func (r *RemoteNodes) Len() int {
	return r.nodes.Size()
}

// Get は name (ノードの文字列表現) のノードを返します
func (r *RemoteNodes) Get(name string) (RemoteNode, bool) {
	return r.nodes.Load(name)
}

// All は全ノードを名前順に返します
func (r *RemoteNodes) All() []RemoteNode {
	var result []RemoteNode
	r.nodes.Range(func(_ string, node RemoteNode) bool {
		result = append(result, node)
		return true
	})
	slices.SortFunc(result, func(a, b RemoteNode) int {
		return strings.Compare(a.Node.String(), b.Node.String())
	})
	return result
}

// Find は eoj (全インスタンス指定可) に該当するオブジェクトを持つノードを返します
func (r *RemoteNodes) Find(eoj echonet_lite.EOJ) []RemoteNode {
	var result []RemoteNode
	for _, node := range r.All() {
		for _, e := range node.EOJs {
			if e.Matches(eoj) {
				result = append(result, node)
				break
			}
		}
	}
	return result
}

func (r *RemoteNodes) Clear() {
	r.nodes.Clear()
}

// instanceListOf はノードプロファイルが送ったインスタンスリストを読み出します。
// 複数ページに分かれている場合はすべてのページをつなげます
func instanceListOf(frame network.Frame) ([]echonet_lite.EOJ, bool) {
	msg := frame.Message
	if msg == nil || frame.Sender == nil || msg.SEOJ.ClassCode() != echonet_lite.NodeProfile_ClassCode {
		return nil, false
	}
	switch msg.ESV {
	case echonet_lite.ESVINF, echonet_lite.ESVINFC, echonet_lite.ESVGet_Res:
	default:
		return nil, false
	}

	var eojs []echonet_lite.EOJ
	found := false
	for _, p := range msg.Properties {
		if p.EPC != echonet_lite.EPCInstanceListNotification && p.EPC != echonet_lite.EPCSelfNodeInstanceListS {
			continue
		}
		if len(p.EDT) == 0 {
			continue
		}
		found = true
		_, page := echonet_lite.DecodeInstanceListPage(p.EDT)
		eojs = append(eojs, page...)
	}
	return eojs, found
}

func appendUniqueEOJs(list []echonet_lite.EOJ, eojs []echonet_lite.EOJ) []echonet_lite.EOJ {
	for _, eoj := range eojs {
		if !slices.Contains(list, eoj) {
			list = append(list, eoj)
		}
	}
	return list
}
