package transaction

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/HuzefaGadi/echowand/echonet_lite/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	controllerEOJ  = echonet_lite.MakeEOJ(echonet_lite.Controller_ClassCode, 1)
	nodeProfileEOJ = echonet_lite.MakeEOJ(echonet_lite.NodeProfile_ClassCode, 1)
)

type testEnv struct {
	network    *network.InternalNetwork
	controller *network.InternalSubnet
	manager    *Manager
	peers      []*network.InternalSubnet
}

// newTestEnv はコントローラと、Get に応答するピアを作成します
func newTestEnv(t *testing.T, peers ...string) *testEnv {
	t.Helper()
	env := &testEnv{network: network.NewInternalNetwork(t.Name())}

	ctl, err := network.NewInternalSubnet(env.network, "controller", nil)
	require.NoError(t, err)
	env.controller = ctl
	env.manager = NewManager(nil)

	loop := NewMainLoop(ctl, nil)
	loop.AddHandler(env.manager)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = loop.Run()
	}()
	t.Cleanup(func() {
		ctl.Close()
		<-loopDone
	})

	for _, name := range peers {
		peer, err := network.NewInternalSubnet(env.network, name, nil)
		require.NoError(t, err)
		t.Cleanup(peer.Close)
		startResponder(peer)
		env.peers = append(env.peers, peer)
	}
	return env
}

func startResponder(s *network.InternalSubnet) {
	go func() {
		for {
			frame, err := s.Receive()
			if err != nil {
				return
			}
			msg := frame.Message
			if msg.ESV != echonet_lite.ESVGet {
				continue
			}
			reply := &echonet_lite.ECHONETLiteMessage{
				EHD:  echonet_lite.EHD_ECHONETLite,
				TID:  msg.TID,
				SEOJ: nodeProfileEOJ,
				DEOJ: msg.SEOJ,
				ESV:  echonet_lite.ESVGet_Res,
				Properties: echonet_lite.Properties{
					{EPC: echonet_lite.EPCOperationStatus, EDT: []byte{0x30}},
				},
			}
			_ = s.Send(network.Frame{Sender: s.LocalNode(), Receiver: frame.Sender, Message: reply})
		}
	}()
}

func (env *testEnv) node(t *testing.T, name string) network.Node {
	t.Helper()
	node, err := env.controller.RemoteNode(name)
	require.NoError(t, err)
	return node
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	times  []time.Time
}

func (r *eventRecorder) HandleEvent(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.times = append(r.times, time.Now())
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func (r *eventRecorder) count(kind EventKind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (r *eventRecorder) timeOf(kind EventKind) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.events {
		if e.Kind == kind {
			return r.times[i]
		}
	}
	return time.Time{}
}

func getConfig(receiver network.Node) SetGetConfig {
	return SetGetConfig{
		Receiver: receiver,
		SEOJ:     controllerEOJ,
		DEOJ:     nodeProfileEOJ,
		Get:      []echonet_lite.EPCType{echonet_lite.EPCOperationStatus},
	}
}

func TestTransaction_SingleDestinationGet(t *testing.T) {
	env := newTestEnv(t, "peer1")

	tr := NewTransaction(env.controller, env.manager, getConfig(env.node(t, "peer1")))
	tr.SetTimeout(5 * time.Second)
	recorder := &eventRecorder{}
	tr.AddListener(recorder)

	start := time.Now()
	require.NoError(t, tr.Execute())
	assert.Less(t, time.Since(start), 2*time.Second, "single destination should finish on reply")

	assert.Equal(t, []EventKind{EventBegin, EventSend, EventReceive, EventFinish}, recorder.kinds())
	assert.True(t, tr.IsFinished())
	require.Len(t, tr.Responses(), 1)
	resp := tr.Responses()[0]
	assert.Equal(t, tr.TID(), resp.Message.TID)
	assert.Equal(t, echonet_lite.ESVGet_Res, resp.Message.ESV)

	requests := tr.Requests()
	require.Len(t, requests, 1)
	assert.True(t, requests[0].Success)
	assert.Equal(t, 0, env.manager.Len())
}

func TestTransaction_BroadcastGetWaitsForTimeout(t *testing.T) {
	env := newTestEnv(t, "peer1", "peer2", "peer3")

	tr := NewTransaction(env.controller, env.manager, getConfig(env.controller.GroupNode()))
	tr.SetTimeout(100 * time.Millisecond)
	recorder := &eventRecorder{}
	tr.AddListener(recorder)

	start := time.Now()
	require.NoError(t, tr.Execute())

	assert.Equal(t, 3, recorder.count(EventReceive))
	assert.Equal(t, 1, recorder.count(EventFinish))
	assert.GreaterOrEqual(t, recorder.timeOf(EventFinish).Sub(start), 100*time.Millisecond)

	senders := map[string]bool{}
	for _, f := range tr.Responses() {
		senders[f.Sender.String()] = true
	}
	assert.Len(t, senders, 3)
}

func TestTransaction_ClassAliasWaitsForTimeout(t *testing.T) {
	env := newTestEnv(t, "peer1")

	config := getConfig(env.node(t, "peer1"))
	config.DEOJ = nodeProfileEOJ.AllInstance()
	tr := NewTransaction(env.controller, env.manager, config)
	tr.SetTimeout(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, tr.Execute())
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Len(t, tr.Responses(), 1)
}

func TestTransaction_NoResponseFinishesAfterSend(t *testing.T) {
	env := newTestEnv(t, "peer1")

	setI := SetGetConfig{
		Receiver: env.node(t, "peer1"),
		SEOJ:     controllerEOJ,
		DEOJ:     nodeProfileEOJ,
		Set:      echonet_lite.Properties{{EPC: echonet_lite.EPCOperationStatus, EDT: []byte{0x30}}},
	}
	require.Equal(t, echonet_lite.ESVSetI, setI.ESV())

	tr := NewTransaction(env.controller, env.manager, setI)
	recorder := &eventRecorder{}
	tr.AddListener(recorder)
	require.NoError(t, tr.Start())
	// Start から戻った時点で終了している
	assert.True(t, tr.IsFinished())
	assert.Equal(t, []EventKind{EventBegin, EventSend, EventFinish}, recorder.kinds())

	// タイムアウト 0 も応答を待たない
	tr = NewTransaction(env.controller, env.manager, getConfig(env.controller.GroupNode()))
	tr.SetTimeout(0)
	require.NoError(t, tr.Start())
	assert.True(t, tr.IsFinished())
	assert.Empty(t, tr.Responses())
}

func TestTransaction_TimeoutWithoutResponse(t *testing.T) {
	env := newTestEnv(t)
	silent, err := network.NewInternalSubnet(env.network, "silent", nil)
	require.NoError(t, err)
	t.Cleanup(silent.Close)

	tr := NewTransaction(env.controller, env.manager, getConfig(env.node(t, "silent")))
	tr.SetTimeout(50 * time.Millisecond)
	require.NoError(t, tr.Execute())
	assert.Empty(t, tr.Responses())
	assert.True(t, tr.IsFinished())
}

func TestTransaction_SendFailureDoesNotAbort(t *testing.T) {
	env := newTestEnv(t, "peer1")
	other := network.NewInternalNetwork("other")
	stranger, err := network.NewInternalSubnet(other, "stranger", nil)
	require.NoError(t, err)
	t.Cleanup(stranger.Close)

	config := MultiConfig{
		getConfig(stranger.LocalNode()),
		getConfig(env.node(t, "peer1")),
	}
	tr := NewTransaction(env.controller, env.manager, config)
	tr.SetTimeout(100 * time.Millisecond)
	recorder := &eventRecorder{}
	tr.AddListener(recorder)
	require.NoError(t, tr.Execute())

	requests := tr.Requests()
	require.Len(t, requests, 2)
	assert.False(t, requests[0].Success)
	assert.True(t, requests[1].Success)
	assert.Equal(t, 2, recorder.count(EventSend))
	assert.Equal(t, 1, recorder.count(EventReceive))
}

func TestTransaction_LateFrameIsNotDelivered(t *testing.T) {
	env := newTestEnv(t)
	silent, err := network.NewInternalSubnet(env.network, "silent", nil)
	require.NoError(t, err)
	t.Cleanup(silent.Close)

	tr := NewTransaction(env.controller, env.manager, getConfig(env.node(t, "silent")))
	tr.SetTimeout(20 * time.Millisecond)
	recorder := &eventRecorder{}
	tr.AddListener(recorder)
	require.NoError(t, tr.Execute())

	tid := tr.TID()
	_, ok := env.manager.Lookup(tid)
	assert.False(t, ok)

	late := network.Frame{
		Sender:   silent.LocalNode(),
		Receiver: env.controller.LocalNode(),
		Message: &echonet_lite.ECHONETLiteMessage{
			EHD: echonet_lite.EHD_ECHONETLite, TID: tid,
			SEOJ: nodeProfileEOJ, DEOJ: controllerEOJ, ESV: echonet_lite.ESVGet_Res,
		},
	}
	assert.False(t, env.manager.Process(env.controller, late, false))
	assert.False(t, tr.receive(late))
	assert.Zero(t, recorder.count(EventReceive))
	assert.Empty(t, tr.Responses())
}

func TestTransaction_RequestWithSameTIDIsNotClaimed(t *testing.T) {
	env := newTestEnv(t)
	silent, err := network.NewInternalSubnet(env.network, "silent", nil)
	require.NoError(t, err)
	t.Cleanup(silent.Close)

	tr := NewTransaction(env.controller, env.manager, getConfig(env.node(t, "silent")))
	tr.SetTimeout(time.Second)
	require.NoError(t, tr.Start())
	defer tr.Wait()

	request := network.Frame{
		Sender:   silent.LocalNode(),
		Receiver: env.controller.LocalNode(),
		Message: &echonet_lite.ECHONETLiteMessage{
			EHD: echonet_lite.EHD_ECHONETLite, TID: tr.TID(),
			SEOJ: nodeProfileEOJ, DEOJ: controllerEOJ, ESV: echonet_lite.ESVGet,
		},
	}
	assert.False(t, env.manager.Process(env.controller, request, false))

	// 別のハンドラが処理済みのフレームは扱わない
	response := request
	response.Message = &echonet_lite.ECHONETLiteMessage{
		EHD: echonet_lite.EHD_ECHONETLite, TID: tr.TID(),
		SEOJ: nodeProfileEOJ, DEOJ: controllerEOJ, ESV: echonet_lite.ESVGet_Res,
	}
	assert.False(t, env.manager.Process(env.controller, response, true))
	assert.True(t, env.manager.Process(env.controller, response, false))
}

func TestTransaction_ListenerPanicIsIsolated(t *testing.T) {
	env := newTestEnv(t, "peer1")

	tr := NewTransaction(env.controller, env.manager, getConfig(env.node(t, "peer1")))
	tr.SetTimeout(2 * time.Second)
	tr.AddListener(ListenerFunc(func(event Event) {
		panic("listener failure on " + event.Kind.String())
	}))
	recorder := &eventRecorder{}
	tr.AddListener(recorder)

	require.NoError(t, tr.Execute())
	assert.Equal(t, []EventKind{EventBegin, EventSend, EventReceive, EventFinish}, recorder.kinds())
	assert.Equal(t, 0, env.manager.Len())
}

func TestTransaction_StartTwice(t *testing.T) {
	env := newTestEnv(t, "peer1")

	tr := NewTransaction(env.controller, env.manager, getConfig(env.node(t, "peer1")))
	tr.SetTimeout(0)
	require.NoError(t, tr.Start())
	assert.True(t, errors.Is(tr.Start(), ErrAlreadyExecuted))
	assert.True(t, errors.Is(tr.Execute(), ErrAlreadyExecuted))
}

func TestTransaction_InvalidConfigReleasesTID(t *testing.T) {
	env := newTestEnv(t)

	tr := NewTransaction(env.controller, env.manager, SetGetConfig{SEOJ: controllerEOJ, DEOJ: nodeProfileEOJ})
	assert.True(t, errors.Is(tr.Start(), ErrNoReceiver))
	assert.Equal(t, 0, env.manager.Len())
	assert.Equal(t, StateCreated, tr.State())
}

func TestManager_TIDExhausted(t *testing.T) {
	env := newTestEnv(t)
	placeholder := NewTransaction(env.controller, env.manager, getConfig(env.controller.GroupNode()))
	for i := 0; i < tidSpace; i++ {
		env.manager.transactions.Store(echonet_lite.TIDType(i), placeholder)
	}

	tr := NewTransaction(env.controller, env.manager, getConfig(env.controller.GroupNode()))
	assert.True(t, errors.Is(tr.Start(), ErrTIDExhausted))

	// 1つ空けば割り当てられる
	env.manager.release(echonet_lite.TIDType(42), placeholder)
	tr = NewTransaction(env.controller, env.manager, getConfig(env.controller.GroupNode()))
	tr.SetTimeout(0)
	require.NoError(t, tr.Start())
	assert.Equal(t, echonet_lite.TIDType(42), tr.TID())
}

func TestManager_ReleaseOnlyOwner(t *testing.T) {
	env := newTestEnv(t)
	t1 := NewTransaction(env.controller, env.manager, getConfig(env.controller.GroupNode()))
	t2 := NewTransaction(env.controller, env.manager, getConfig(env.controller.GroupNode()))

	tid, err := env.manager.allocate(t1)
	require.NoError(t, err)
	env.manager.release(tid, t2)
	got, ok := env.manager.Lookup(tid)
	require.True(t, ok)
	assert.Same(t, t1, got)

	env.manager.release(tid, t1)
	_, ok = env.manager.Lookup(tid)
	assert.False(t, ok)
}

func TestSetGetConfig_ESV(t *testing.T) {
	set := echonet_lite.Properties{{EPC: echonet_lite.EPCOperationStatus, EDT: []byte{0x30}}}
	get := []echonet_lite.EPCType{echonet_lite.EPCOperationStatus}

	tests := []struct {
		name     string
		config   SetGetConfig
		want     echonet_lite.ESVType
		response bool
	}{
		{"get", SetGetConfig{Get: get}, echonet_lite.ESVGet, true},
		{"setC", SetGetConfig{Set: set, ResponseRequiredFlag: true}, echonet_lite.ESVSetC, true},
		{"setI", SetGetConfig{Set: set}, echonet_lite.ESVSetI, false},
		{"setGet", SetGetConfig{Set: set, Get: get}, echonet_lite.ESVSetGet, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.ESV())
			assert.Equal(t, tt.response, tt.config.ResponseRequired())
		})
	}
}

func TestConfig_Frames(t *testing.T) {
	nw := network.NewInternalNetwork("frames")
	s, err := network.NewInternalSubnet(nw, "a", nil)
	require.NoError(t, err)

	frames, err := SetGetConfig{
		Receiver: s.GroupNode(),
		Set:      echonet_lite.Properties{{EPC: 0x80, EDT: []byte{0x31}}},
		Get:      []echonet_lite.EPCType{0x80},
	}.Frames(s, 7)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, s.LocalNode(), frames[0].Sender)
	assert.Equal(t, echonet_lite.TIDType(7), frames[0].Message.TID)
	assert.Len(t, frames[0].Message.SetGetProperties, 1)

	frames, err = AnnounceConfig{ResponseRequiredFlag: true}.Frames(s, 8)
	require.NoError(t, err)
	assert.Equal(t, s.GroupNode(), frames[0].Receiver)
	assert.Equal(t, echonet_lite.ESVINFC, frames[0].Message.ESV)
	assert.False(t, AnnounceConfig{}.ResponseRequired())

	_, err = InfRequestConfig{}.Frames(s, 9)
	assert.True(t, errors.Is(err, ErrNoReceiver))

	multi := MultiConfig{AnnounceConfig{}, InfRequestConfig{Receiver: s.GroupNode()}}
	assert.True(t, multi.ResponseRequired())
	frames, err = multi.Frames(s, 10)
	require.NoError(t, err)
	assert.Len(t, frames, 2)
}
