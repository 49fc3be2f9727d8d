package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/HuzefaGadi/echowand/echonet_lite/network"
	"github.com/HuzefaGadi/echowand/echonet_lite/transaction"
)

// ResultFrame は受信したフレームと受信時刻です
type ResultFrame struct {
	Frame network.Frame
	Time  time.Time
}

// RequestFrame は送信したフレームと送信結果です
type RequestFrame struct {
	Frame   network.Frame
	Success bool
	Time    time.Time
}

// ResultData はフレームに含まれるプロパティを1つずつに分けたものです
type ResultData struct {
	Node network.Node
	ESV  echonet_lite.ESVType
	EOJ  echonet_lite.EOJ
	EPC  echonet_lite.EPCType
	EDT  []byte
	Time time.Time
	// Secondary は SetGet 応答の Get 側のプロパティであることを示します
	Secondary bool
}

func (d ResultData) String() string {
	return fmt.Sprintf("%v %v %v %v:%X", d.Node, d.EOJ, d.ESV, d.EPC, d.EDT)
}

// IsEmpty は EDT を持たないかどうかを返します。Set の成功応答や Get の失敗応答は EDT が空になります
func (d ResultData) IsEmpty() bool {
	return len(d.EDT) == 0
}

func resultDataOf(frame network.Frame, at time.Time) []ResultData {
	msg := frame.Message
	if msg == nil {
		return nil
	}
	data := make([]ResultData, 0, len(msg.Properties)+len(msg.SetGetProperties))
	add := func(props echonet_lite.Properties, secondary bool) {
		for _, p := range props {
			data = append(data, ResultData{
				Node:      frame.Sender,
				ESV:       msg.ESV,
				EOJ:       msg.SEOJ,
				EPC:       p.EPC,
				EDT:       p.EDT,
				Time:      at,
				Secondary: secondary,
			})
		}
	}
	add(msg.Properties, false)
	if msg.ESV.ISSetGet() {
		add(msg.SetGetProperties, true)
	}
	return data
}

// Result はトランザクション1つ分の結果です。
// トランザクションのリスナーとして送受信したフレームを記録し、終了すると Done が閉じられます
type Result struct {
	mu       sync.Mutex
	requests []RequestFrame
	frames   []ResultFrame
	data     []ResultData
	finished bool
	done     chan struct{}
}

func newResult() *Result {
	return &Result{done: make(chan struct{})}
}

func (r *Result) HandleEvent(event transaction.Event) {
	switch event.Kind {
	case transaction.EventSend:
		r.addRequestFrame(event.Frame, event.Success)
	case transaction.EventReceive:
		r.addFrame(event.Frame)
	case transaction.EventFinish:
		r.finish()
	}
}

func (r *Result) addRequestFrame(frame network.Frame, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, RequestFrame{Frame: frame, Success: success, Time: time.Now()})
}

func (r *Result) addFrame(frame network.Frame) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, ResultFrame{Frame: frame, Time: now})
	r.data = append(r.data, resultDataOf(frame, now)...)
}

func (r *Result) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	r.finished = true
	close(r.done)
}

// Done は結果が確定したときに閉じられるチャンネルを返します
func (r *Result) Done() <-chan struct{} {
	return r.done
}

func (r *Result) IsDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// Join はトランザクションの終了を待ちます
func (r *Result) Join() {
	<-r.done
}

// JoinContext は ctx が終わるまでトランザクションの終了を待ちます
func (r *Result) JoinContext(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Result) Requests() []RequestFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RequestFrame(nil), r.requests...)
}

func (r *Result) Frames() []ResultFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ResultFrame(nil), r.frames...)
}

func (r *Result) Data() []ResultData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ResultData(nil), r.data...)
}

// DataMatching は match が true を返すデータだけを返します
func (r *Result) DataMatching(match func(ResultData) bool) []ResultData {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []ResultData
	for _, d := range r.data {
		if match(d) {
			result = append(result, d)
		}
	}
	return result
}

// UpdateRemoteInfoResult は DoUpdateRemoteInfo の結果です。
// 応答に含まれるインスタンスリストをノードごとにまとめます
type UpdateRemoteInfoResult struct {
	*Result
	remotes *RemoteNodes
}

func (u *UpdateRemoteInfoResult) HandleEvent(event transaction.Event) {
	// Join から戻った時点で登録が済んでいるよう、受信時に反映する
	if event.Kind == transaction.EventReceive {
		u.remotes.updateFromFrame(event.Frame)
	}
	u.Result.HandleEvent(event)
}

// Nodes は応答したノードとそのインスタンスを、応答の順に返します
func (u *UpdateRemoteInfoResult) Nodes() []RemoteNode {
	var nodes []RemoteNode
	index := make(map[network.Node]int)
	for _, f := range u.Frames() {
		eojs, ok := instanceListOf(f.Frame)
		if !ok {
			continue
		}
		i, exists := index[f.Frame.Sender]
		if !exists {
			i = len(nodes)
			index[f.Frame.Sender] = i
			nodes = append(nodes, RemoteNode{Node: f.Frame.Sender, Updated: f.Time})
		}
		nodes[i].EOJs = appendUniqueEOJs(nodes[i].EOJs, eojs)
	}
	return nodes
}
