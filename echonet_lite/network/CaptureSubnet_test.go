package network

import (
	"sync"
	"testing"

	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	sent     []Frame
	success  []bool
	received []Frame
}

func (o *recordingObserver) NotifySent(frame Frame, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, frame)
	o.success = append(o.success, success)
}

func (o *recordingObserver) NotifyReceived(frame Frame) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.received = append(o.received, frame)
}

func TestCaptureSubnet_NotifiesObservers(t *testing.T) {
	subnets := newInternalSubnets(t, "a", "b")
	capture := NewCaptureSubnet(subnets[0])
	peer := subnets[1]

	observer := &recordingObserver{}
	capture.AddObserver(observer)

	to, err := capture.RemoteNode("b")
	require.NoError(t, err)
	require.NoError(t, capture.Send(Frame{Sender: capture.LocalNode(), Receiver: to, Message: testMessage(1, echonet_lite.ESVGet)}))

	req, err := peer.Receive()
	require.NoError(t, err)
	require.NoError(t, peer.Send(Frame{Sender: peer.LocalNode(), Receiver: req.Sender, Message: testMessage(1, echonet_lite.ESVGet_Res)}))

	frame, err := capture.Receive()
	require.NoError(t, err)
	assert.Equal(t, echonet_lite.ESVGet_Res, frame.Message.ESV)

	require.Len(t, observer.sent, 1)
	assert.Equal(t, []bool{true}, observer.success)
	require.Len(t, observer.received, 1)
	assert.Equal(t, frame, observer.received[0])

	// 失敗した送信も通知される
	capture.StopService()
	assert.False(t, capture.IsInService())
	assert.Error(t, capture.Send(Frame{Sender: capture.LocalNode(), Receiver: to, Message: testMessage(2, echonet_lite.ESVGet)}))
	assert.Equal(t, []bool{true, false}, observer.success)

	assert.True(t, capture.RemoveObserver(observer))
	assert.False(t, capture.RemoveObserver(observer))
	ok, err := capture.StartService()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, capture.Send(Frame{Sender: capture.LocalNode(), Receiver: to, Message: testMessage(3, echonet_lite.ESVGet)}))
	assert.Len(t, observer.sent, 2)
	assert.Same(t, subnets[0], capture.Inner())
}
