package network

import (
	"errors"
	"testing"
	"time"

	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInternalSubnets(t *testing.T, names ...string) []*InternalSubnet {
	t.Helper()
	network := NewInternalNetwork("test")
	subnets := make([]*InternalSubnet, 0, len(names))
	for _, name := range names {
		s, err := NewInternalSubnet(network, name, nil)
		require.NoError(t, err)
		t.Cleanup(s.Close)
		subnets = append(subnets, s)
	}
	return subnets
}

func TestInternalSubnet_Unicast(t *testing.T) {
	subnets := newInternalSubnets(t, "a", "b")
	a, b := subnets[0], subnets[1]

	to, err := a.RemoteNode("b")
	require.NoError(t, err)
	msg := testMessage(5, echonet_lite.ESVGet)
	require.NoError(t, a.Send(Frame{Sender: a.LocalNode(), Receiver: to, Message: msg}))

	frame, err := b.Receive()
	require.NoError(t, err)
	assert.Equal(t, a.LocalNode(), frame.Sender)
	assert.Equal(t, b.LocalNode(), frame.Receiver)
	assert.Equal(t, msg.Encode(), frame.Message.Encode())
	// 受信側のメッセージは送信側と共有されない
	assert.NotSame(t, msg, frame.Message)
}

func TestInternalSubnet_GroupExcludesSelf(t *testing.T) {
	subnets := newInternalSubnets(t, "a", "b", "c")
	a := subnets[0]

	require.NoError(t, a.Send(Frame{Sender: a.LocalNode(), Receiver: a.GroupNode(), Message: testMessage(1, echonet_lite.ESVGet)}))

	for _, s := range subnets[1:] {
		frame, err := s.Receive()
		require.NoError(t, err)
		assert.Equal(t, a.GroupNode(), frame.Receiver)
		assert.True(t, frame.Receiver.(InternalNode).IsGroup())
	}

	ch := receiveAsync(a)
	select {
	case r := <-ch:
		t.Fatalf("sender received its own group frame: %v", r.frame)
	case <-time.After(50 * time.Millisecond):
	}
	a.StopService()
	r := waitReceive(t, ch)
	assert.True(t, errors.Is(r.err, ErrNotEnabled))
}

func TestInternalSubnet_StopAndStart(t *testing.T) {
	subnets := newInternalSubnets(t, "a", "b")
	a, b := subnets[0], subnets[1]

	assert.True(t, a.IsInService())
	ok, err := a.StartService()
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, b.StopService())
	assert.False(t, b.StopService())
	_, err = b.Receive()
	assert.True(t, errors.Is(err, ErrNotEnabled))

	// 停止中の宛先への送信は黙って捨てられる
	to, err := a.RemoteNode("b")
	require.NoError(t, err)
	require.NoError(t, a.Send(Frame{Sender: a.LocalNode(), Receiver: to, Message: testMessage(1, echonet_lite.ESVGet)}))

	ok, err = b.StartService()
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, a.Send(Frame{Sender: a.LocalNode(), Receiver: to, Message: testMessage(2, echonet_lite.ESVGet)}))
	frame, err := b.Receive()
	require.NoError(t, err)
	assert.Equal(t, echonet_lite.TIDType(2), frame.Message.TID)

	assert.True(t, a.StopService())
	err = a.Send(Frame{Sender: a.LocalNode(), Receiver: to, Message: testMessage(3, echonet_lite.ESVGet)})
	assert.True(t, errors.Is(err, ErrNotEnabled))
}

func TestInternalSubnet_InvalidFrames(t *testing.T) {
	subnets := newInternalSubnets(t, "a", "b")
	a, b := subnets[0], subnets[1]
	other := newInternalSubnets(t, "x")[0]
	msg := testMessage(1, echonet_lite.ESVGet)

	err := a.Send(Frame{Sender: b.LocalNode(), Receiver: a.GroupNode(), Message: msg})
	assert.NoError(t, err, "sender on the same network is a member")

	err = a.Send(Frame{Sender: other.LocalNode(), Receiver: a.GroupNode(), Message: msg})
	assert.True(t, errors.Is(err, ErrInvalidSender))

	err = a.Send(Frame{Sender: a.LocalNode(), Receiver: other.LocalNode(), Message: msg})
	assert.True(t, errors.Is(err, ErrInvalidReceiver))

	err = a.Send(Frame{Sender: a.LocalNode(), Receiver: InternalNode{network: a.network, name: "gone"}, Message: msg})
	assert.True(t, errors.Is(err, ErrInvalidReceiver))

	err = a.Send(Frame{Sender: a.LocalNode(), Receiver: b.LocalNode(), Message: msg, Conn: &TCPConnection{}})
	assert.True(t, errors.Is(err, ErrInvalidConnection))
}

func TestInternalSubnet_Names(t *testing.T) {
	network := NewInternalNetwork("net")
	a, err := NewInternalSubnet(network, "a", nil)
	require.NoError(t, err)

	_, err = NewInternalSubnet(network, "a", nil)
	assert.True(t, errors.Is(err, ErrInvalidName))
	_, err = NewInternalSubnet(network, "", nil)
	assert.True(t, errors.Is(err, ErrInvalidName))

	_, err = a.RemoteNode("nobody")
	assert.True(t, errors.Is(err, ErrInvalidName))

	assert.Equal(t, "net:a", a.LocalNode().String())
	assert.Equal(t, "net:*", a.GroupNode().String())

	a.Close()
	_, err = NewInternalSubnet(network, "a", nil)
	assert.NoError(t, err)
}
