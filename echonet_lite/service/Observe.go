package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/HuzefaGadi/echowand/echonet_lite/network"
	"golang.org/x/exp/slices"
)

// FrameMatcher は受信フレームを送信元ノード、SEOJ、EPC で選びます。
// 空のリストはすべてに一致します。EOJs に全インスタンス指定を入れると同じクラスのすべてに一致します
type FrameMatcher struct {
	Nodes []network.Node
	EOJs  []echonet_lite.EOJ
	EPCs  []echonet_lite.EPCType
}

func (m FrameMatcher) Match(frame network.Frame) bool {
	if frame.Message == nil {
		return false
	}
	return m.matchNode(frame.Sender) && m.matchEOJ(frame.Message.SEOJ) && m.matchEPCs(frame.Message.Properties)
}

func (m FrameMatcher) matchNode(node network.Node) bool {
	return len(m.Nodes) == 0 || slices.Contains(m.Nodes, node)
}

func (m FrameMatcher) matchEOJ(seoj echonet_lite.EOJ) bool {
	return len(m.EOJs) == 0 || slices.Contains(m.EOJs, seoj) || slices.Contains(m.EOJs, seoj.AllInstance())
}

func (m FrameMatcher) matchEPCs(props echonet_lite.Properties) bool {
	if len(m.EPCs) == 0 {
		return true
	}
	for _, p := range props {
		if slices.Contains(m.EPCs, p.EPC) {
			return true
		}
	}
	return false
}

func (m FrameMatcher) String() string {
	return fmt.Sprintf("FrameMatcher{Nodes: %v, EOJs: %v, EPCs: %v}", m.Nodes, m.EOJs, m.EPCs)
}

const observeUpdatesSize = 64

// ObserveResult は DoObserve で観測を始めた通知を記録します。StopObserve するまで記録を続けます
type ObserveResult struct {
	matcher   FrameMatcher
	processor *observeProcessor

	mu      sync.Mutex
	frames  []ResultFrame
	data    []ResultData
	done    bool
	updates chan ResultFrame
}

// StopObserve は観測を終了します。Updates のチャンネルも閉じられます
func (o *ObserveResult) StopObserve() {
	o.processor.remove(o)
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.done {
		o.done = true
		close(o.updates)
	}
}

func (o *ObserveResult) IsDone() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

func (o *ObserveResult) Matcher() FrameMatcher {
	return o.matcher
}

// Updates は記録したフレームを順に流すチャンネルを返します。
// 読み出しが追いつかないときは新しいフレームから捨てられます (記録には残ります)
func (o *ObserveResult) Updates() <-chan ResultFrame {
	return o.updates
}

func (o *ObserveResult) addFrame(frame network.Frame) {
	now := time.Now()
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return
	}
	rf := ResultFrame{Frame: frame, Time: now}
	o.frames = append(o.frames, rf)
	o.data = append(o.data, resultDataOf(frame, now)...)
	select {
	case o.updates <- rf:
	default:
	}
}

func (o *ObserveResult) Frames() []ResultFrame {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ResultFrame(nil), o.frames...)
}

func (o *ObserveResult) Data() []ResultData {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ResultData(nil), o.data...)
}

// observeProcessor は INF / INFC を観測中の ObserveResult に配ります
type observeProcessor struct {
	mu      sync.RWMutex
	results []*ObserveResult
}

func newObserveProcessor() *observeProcessor {
	return &observeProcessor{}
}

func (p *observeProcessor) add(o *ObserveResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, o)
}

func (p *observeProcessor) remove(o *ObserveResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i := slices.Index(p.results, o); i >= 0 {
		p.results = slices.Delete(p.results, i, i+1)
	}
}

func (p *observeProcessor) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.results)
}

// Process は通知を記録します。INF_REQ の応答としてトランザクションが受け取った INF も記録されます。
// 他のハンドラの処理を妨げないよう、常に false を返します
func (p *observeProcessor) Process(_ network.Subnet, frame network.Frame, _ bool) bool {
	if frame.Message == nil || !frame.Message.ESV.IsNotification() {
		return false
	}
	p.mu.RLock()
	results := slices.Clone(p.results)
	p.mu.RUnlock()
	for _, o := range results {
		if o.matcher.Match(frame) {
			o.addFrame(frame)
		}
	}
	return false
}

// CaptureResult は DoCapture 以降にサブネットを通過したフレームを記録します。
// 送信は成功したものだけを記録します
type CaptureResult struct {
	observer *captureObserver

	mu     sync.Mutex
	sent   []ResultFrame
	recv   []ResultFrame
	frames []ResultFrame
	done   bool
}

func (c *CaptureResult) StopCapture() {
	c.observer.remove(c)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done = true
}

func (c *CaptureResult) IsDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *CaptureResult) addSent(frame network.Frame) {
	rf := ResultFrame{Frame: frame, Time: time.Now()}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.sent = append(c.sent, rf)
	c.frames = append(c.frames, rf)
}

func (c *CaptureResult) addReceived(frame network.Frame) {
	rf := ResultFrame{Frame: frame, Time: time.Now()}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.recv = append(c.recv, rf)
	c.frames = append(c.frames, rf)
}

// Frames は送受信したフレームを通過した順に返します
func (c *CaptureResult) Frames() []ResultFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ResultFrame(nil), c.frames...)
}

func (c *CaptureResult) SentFrames() []ResultFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ResultFrame(nil), c.sent...)
}

func (c *CaptureResult) ReceivedFrames() []ResultFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ResultFrame(nil), c.recv...)
}

// captureObserver は CaptureSubnet からの通知を CaptureResult に配ります
type captureObserver struct {
	mu      sync.RWMutex
	results []*CaptureResult
}

func newCaptureObserver() *captureObserver {
	return &captureObserver{}
}

func (o *captureObserver) add(c *CaptureResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, c)
}

func (o *captureObserver) remove(c *CaptureResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i := slices.Index(o.results, c); i >= 0 {
		o.results = slices.Delete(o.results, i, i+1)
	}
}

func (o *captureObserver) snapshot() []*CaptureResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.results)
}

func (o *captureObserver) NotifySent(frame network.Frame, success bool) {
	if !success {
		return
	}
	for _, c := range o.snapshot() {
		c.addSent(frame)
	}
}

func (o *captureObserver) NotifyReceived(frame network.Frame) {
	for _, c := range o.snapshot() {
		c.addReceived(frame)
	}
}
