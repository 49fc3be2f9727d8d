package transaction

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/HuzefaGadi/echowand/echonet_lite/network"
)

// DefaultTimeout は応答待ちの既定の時間です
const DefaultTimeout = 2 * time.Second

type State int

const (
	StateCreated State = iota
	StateWaiting
	StateFinishing
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateWaiting:
		return "waiting"
	case StateFinishing:
		return "finishing"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RequestResult は送信したフレームとその成否です
type RequestResult struct {
	Frame   network.Frame
	Success bool
}

// Transaction は1回の要求と、それに対する (複数の) 応答のやりとりです。
// 応答は TID で対応付けられ、タイムアウトまで受け付けます
type Transaction struct {
	subnet  network.Subnet
	manager *Manager
	config  Config
	timeout time.Duration
	logger  *slog.Logger

	mu          sync.Mutex
	state       State
	tid         echonet_lite.TIDType
	requests    []RequestResult
	responses   []network.Frame
	listeners   []Listener
	requestESVs map[echonet_lite.ESVType]bool
	single      bool

	dispatching sync.WaitGroup
	sent        chan struct{}
	early       chan struct{}
	done        chan struct{}
}

// NewTransaction はトランザクションを作成します。Start するまで何も送信しません
func NewTransaction(subnet network.Subnet, manager *Manager, config Config) *Transaction {
	return &Transaction{
		subnet:  subnet,
		manager: manager,
		config:  config,
		timeout: DefaultTimeout,
		logger:  manager.logger,
		sent:    make(chan struct{}),
		early:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// SetTimeout は応答を待つ時間を設定します。0 なら応答を待たずに終了します
func (t *Transaction) SetTimeout(timeout time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = timeout
}

func (t *Transaction) Timeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeout
}

func (t *Transaction) AddListener(listener Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, listener)
}

func (t *Transaction) TID() echonet_lite.TIDType {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tid
}

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) IsFinished() bool {
	return t.State() == StateFinished
}

// Requests は送信したフレームを返します
func (t *Transaction) Requests() []RequestResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]RequestResult(nil), t.requests...)
}

// Responses はこれまでに受信した応答を返します
func (t *Transaction) Responses() []network.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]network.Frame(nil), t.responses...)
}

// Done は終了時に閉じられるチャンネルを返します
func (t *Transaction) Done() <-chan struct{} {
	return t.done
}

// Execute は Start して終了まで待ちます
func (t *Transaction) Execute() error {
	if err := t.Start(); err != nil {
		return err
	}
	t.Wait()
	return nil
}

// Wait は終了まで待ちます
func (t *Transaction) Wait() {
	<-t.done
}

// Start は TID を割り当ててフレームを送信し、応答待ちを開始します。
// 送信の失敗はリスナーに Success=false で通知されるだけで、トランザクションは続行します
func (t *Transaction) Start() error {
	t.mu.Lock()
	if t.state != StateCreated {
		t.mu.Unlock()
		return ErrAlreadyExecuted
	}
	tid, err := t.manager.allocate(t)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	frames, err := t.config.Frames(t.subnet, tid)
	if err != nil {
		t.manager.release(tid, t)
		t.mu.Unlock()
		return err
	}
	t.tid = tid
	t.state = StateWaiting
	t.requestESVs = make(map[echonet_lite.ESVType]bool)
	for _, frame := range frames {
		t.requestESVs[frame.Message.ESV] = true
	}
	t.single = len(frames) == 1 && isSingleDestination(t.subnet, frames[0])
	timeout := t.timeout
	t.mu.Unlock()

	t.logger.Debug("トランザクション開始", "tid", tid, "frames", len(frames), "timeout", timeout)
	t.fire(Event{Kind: EventBegin})

	for _, frame := range frames {
		err := t.subnet.Send(frame)
		if err != nil {
			t.logger.Warn("フレームの送信に失敗しました", "tid", tid, "to", frame.Receiver, "err", err)
		}
		t.mu.Lock()
		t.requests = append(t.requests, RequestResult{Frame: frame, Success: err == nil})
		t.mu.Unlock()
		t.fire(Event{Kind: EventSend, Frame: frame, Success: err == nil})
	}
	close(t.sent)

	if !t.config.ResponseRequired() || timeout <= 0 {
		t.finish()
		return nil
	}
	go t.waitResponses(timeout)
	return nil
}

// isSingleDestination は応答が1つしか来ない宛先かどうかを返します。
// グループ宛や全インスタンス指定の宛先には複数の応答があり得ます
func isSingleDestination(subnet network.Subnet, frame network.Frame) bool {
	return frame.Receiver != subnet.GroupNode() && !frame.Message.DEOJ.IsAllInstance()
}

func (t *Transaction) waitResponses(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-t.early:
	}
	t.finish()
}

// receive は Manager から呼ばれます。このトランザクションへの応答であれば受け取って true を返します
func (t *Transaction) receive(frame network.Frame) bool {
	t.mu.Lock()
	if t.state != StateWaiting || frame.Message.TID != t.tid || !t.isResponse(frame.Message.ESV) {
		t.mu.Unlock()
		return false
	}
	t.dispatching.Add(1)
	t.responses = append(t.responses, frame)
	single := t.single
	t.mu.Unlock()

	// 送信イベントより先に受信イベントが届かないようにする
	<-t.sent
	t.fire(Event{Kind: EventReceive, Frame: frame})
	t.dispatching.Done()

	if single {
		select {
		case t.early <- struct{}{}:
		default:
		}
	}
	return true
}

func (t *Transaction) isResponse(esv echonet_lite.ESVType) bool {
	for req := range t.requestESVs {
		if esv.IsResponseTo(req) {
			return true
		}
	}
	return false
}

// finish は受信中のリスナー呼び出しが終わるのを待ってから TID を解放します
func (t *Transaction) finish() {
	t.mu.Lock()
	if t.state != StateWaiting {
		t.mu.Unlock()
		return
	}
	t.state = StateFinishing
	tid := t.tid
	t.mu.Unlock()

	t.dispatching.Wait()
	t.fire(Event{Kind: EventFinish})
	t.manager.release(tid, t)

	t.mu.Lock()
	t.state = StateFinished
	responses := len(t.responses)
	t.mu.Unlock()
	t.logger.Debug("トランザクション終了", "tid", tid, "responses", responses)
	close(t.done)
}

// fire はリスナーを順に呼びます。リスナーのパニックは他のリスナーやトランザクションに影響しません
func (t *Transaction) fire(event Event) {
	event.Transaction = t
	event.Subnet = t.subnet

	t.mu.Lock()
	listeners := append([]Listener(nil), t.listeners...)
	t.mu.Unlock()

	for _, listener := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Error("リスナーでパニックが発生しました", "event", event.Kind, "tid", t.TID(), "panic", r)
				}
			}()
			listener.HandleEvent(event)
		}()
	}
}
