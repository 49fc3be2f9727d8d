package object

import (
	"testing"
	"time"

	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/HuzefaGadi/echowand/echonet_lite/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var controllerEOJ = echonet_lite.MakeEOJ(echonet_lite.Controller_ClassCode, 1)

type processorEnv struct {
	node      *network.InternalSubnet
	peer      *network.InternalSubnet
	other     *network.InternalSubnet
	processor *RequestProcessor
	light     *LocalObject
}

func newProcessorEnv(t *testing.T) *processorEnv {
	t.Helper()
	nw := network.NewInternalNetwork(t.Name())
	node, err := network.NewInternalSubnet(nw, "node", nil)
	require.NoError(t, err)
	t.Cleanup(node.Close)
	peer, err := network.NewInternalSubnet(nw, "peer", nil)
	require.NoError(t, err)
	t.Cleanup(peer.Close)
	other, err := network.NewInternalSubnet(nw, "other", nil)
	require.NoError(t, err)
	t.Cleanup(other.Close)

	m := NewLocalObjectManager()
	_, err = NewNodeProfileObject(m)
	require.NoError(t, err)
	light := NewLocalObject(echonet_lite.SingleFunctionLighting_ClassCode,
		Property{EPC: echonet_lite.EPCOperationStatus, EDT: []byte{0x30}},
	)
	light.SetSettable(echonet_lite.EPCOperationStatus)
	light.SetAnnounce(echonet_lite.EPCOperationStatus)
	_, err = m.Add(light)
	require.NoError(t, err)

	return &processorEnv{node: node, peer: peer, other: other, processor: NewRequestProcessor(m, nil), light: light}
}

// request は peer から node に届いた要求フレームを作ります
func (env *processorEnv) request(t *testing.T, esv echonet_lite.ESVType, deoj EOJ, props Properties) network.Frame {
	t.Helper()
	from, err := env.node.RemoteNode("peer")
	require.NoError(t, err)
	return network.Frame{
		Sender:   from,
		Receiver: env.node.LocalNode(),
		Message: &echonet_lite.ECHONETLiteMessage{
			EHD:        echonet_lite.EHD_ECHONETLite,
			TID:        0x1234,
			SEOJ:       controllerEOJ,
			DEOJ:       deoj,
			ESV:        esv,
			Properties: props,
		},
	}
}

func receiveWithin(t *testing.T, s *network.InternalSubnet) network.Frame {
	t.Helper()
	ch := make(chan network.Frame, 1)
	go func() {
		frame, err := s.Receive()
		if err == nil {
			ch <- frame
		}
	}()
	select {
	case frame := <-ch:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return network.Frame{}
	}
}

func TestRequestProcessor_Get(t *testing.T) {
	env := newProcessorEnv(t)

	req := env.request(t, echonet_lite.ESVGet, echonet_lite.NodeProfileObject,
		echonet_lite.EPCsToProperties(echonet_lite.EPCSelfNodeInstanceListS))
	assert.True(t, env.processor.Process(env.node, req, false))

	resp := receiveWithin(t, env.peer)
	msg := resp.Message
	assert.Equal(t, echonet_lite.ESVGet_Res, msg.ESV)
	assert.Equal(t, echonet_lite.TIDType(0x1234), msg.TID)
	assert.Equal(t, echonet_lite.NodeProfileObject, msg.SEOJ)
	assert.Equal(t, controllerEOJ, msg.DEOJ)
	require.Len(t, msg.Properties, 1)
	assert.Equal(t, []byte{0x01, 0x02, 0x91, 0x01}, msg.Properties[0].EDT)
}

func TestRequestProcessor_GetUnknownProperty(t *testing.T) {
	env := newProcessorEnv(t)

	req := env.request(t, echonet_lite.ESVGet, env.light.EOJ(), echonet_lite.EPCsToProperties(0x80, 0xB0))
	assert.True(t, env.processor.Process(env.node, req, false))

	msg := receiveWithin(t, env.peer).Message
	assert.Equal(t, echonet_lite.ESVGet_SNA, msg.ESV)
	assert.Equal(t, Properties{{EPC: 0x80, EDT: []byte{0x30}}, {EPC: 0xB0}}, msg.Properties)
}

func TestRequestProcessor_SetCAnnounces(t *testing.T) {
	env := newProcessorEnv(t)

	req := env.request(t, echonet_lite.ESVSetC, env.light.EOJ().AllInstance(),
		Properties{{EPC: echonet_lite.EPCOperationStatus, EDT: []byte{0x31}}})
	assert.True(t, env.processor.Process(env.node, req, false))

	// 通知はグループ宛、応答は送信元宛に届く
	var gotRes, gotInf bool
	for i := 0; i < 2; i++ {
		msg := receiveWithin(t, env.peer).Message
		switch msg.ESV {
		case echonet_lite.ESVSet_Res:
			gotRes = true
			assert.Equal(t, env.light.EOJ(), msg.SEOJ)
		case echonet_lite.ESVINF:
			gotInf = true
			assert.Equal(t, Properties{{EPC: 0x80, EDT: []byte{0x31}}}, msg.Properties)
		}
	}
	assert.True(t, gotRes)
	assert.True(t, gotInf)

	inf := receiveWithin(t, env.other).Message
	assert.Equal(t, echonet_lite.ESVINF, inf.ESV)
}

func TestRequestProcessor_SetIFailureOnly(t *testing.T) {
	env := newProcessorEnv(t)

	req := env.request(t, echonet_lite.ESVSetI, env.light.EOJ(),
		Properties{{EPC: echonet_lite.EPCFaultStatus, EDT: []byte{0x41}}})
	assert.True(t, env.processor.Process(env.node, req, false))
	msg := receiveWithin(t, env.peer).Message
	assert.Equal(t, echonet_lite.ESVSetI_SNA, msg.ESV)
}

func TestRequestProcessor_SetGet(t *testing.T) {
	env := newProcessorEnv(t)

	req := env.request(t, echonet_lite.ESVSetGet, env.light.EOJ(),
		Properties{{EPC: echonet_lite.EPCOperationStatus, EDT: []byte{0x30}}})
	req.Message.SetGetProperties = echonet_lite.EPCsToProperties(echonet_lite.EPCOperationStatus)
	assert.True(t, env.processor.Process(env.node, req, false))

	msg := receiveWithin(t, env.peer).Message
	assert.Equal(t, echonet_lite.ESVSetGet_Res, msg.ESV)
	assert.Equal(t, Properties{{EPC: 0x80}}, msg.Properties)
	assert.Equal(t, Properties{{EPC: 0x80, EDT: []byte{0x30}}}, msg.SetGetProperties)
}

func TestRequestProcessor_InfRequestAndINFC(t *testing.T) {
	env := newProcessorEnv(t)

	req := env.request(t, echonet_lite.ESVINF_REQ, env.light.EOJ(), echonet_lite.EPCsToProperties(0x80))
	assert.True(t, env.processor.Process(env.node, req, false))
	msg := receiveWithin(t, env.peer).Message
	assert.Equal(t, echonet_lite.ESVINF, msg.ESV)
	assert.Equal(t, echonet_lite.TIDType(0x1234), msg.TID)
	assert.Equal(t, echonet_lite.ESVINF, receiveWithin(t, env.other).Message.ESV)

	req = env.request(t, echonet_lite.ESVINFC, echonet_lite.NodeProfileObject,
		Properties{{EPC: 0xD5, EDT: []byte{0x01, 0x05, 0xff, 0x01}}})
	assert.True(t, env.processor.Process(env.node, req, false))
	msg = receiveWithin(t, env.peer).Message
	assert.Equal(t, echonet_lite.ESVINFC_Res, msg.ESV)
	assert.Equal(t, Properties{{EPC: 0xD5}}, msg.Properties)
}

func TestRequestProcessor_Ignores(t *testing.T) {
	env := newProcessorEnv(t)

	req := env.request(t, echonet_lite.ESVGet, echonet_lite.MakeEOJ(echonet_lite.Refrigerator_ClassCode, 1),
		echonet_lite.EPCsToProperties(0x80))
	assert.False(t, env.processor.Process(env.node, req, false))

	req = env.request(t, echonet_lite.ESVGet_Res, env.light.EOJ(), nil)
	assert.False(t, env.processor.Process(env.node, req, false))

	req = env.request(t, echonet_lite.ESVGet, env.light.EOJ(), echonet_lite.EPCsToProperties(0x80))
	assert.False(t, env.processor.Process(env.node, req, true))
}
