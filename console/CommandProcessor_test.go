package console

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/HuzefaGadi/echowand/echonet_lite/network"
	"github.com/HuzefaGadi/echowand/echonet_lite/object"
	"github.com/HuzefaGadi/echowand/echonet_lite/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, nw *network.InternalNetwork, name string, withLight bool) *service.Service {
	t.Helper()
	subnet, err := network.NewInternalSubnet(nw, name, nil)
	require.NoError(t, err)
	t.Cleanup(subnet.Close)

	core, err := service.NewCore(subnet, nil)
	require.NoError(t, err)
	if withLight {
		light := object.NewLocalObject(echonet_lite.SingleFunctionLighting_ClassCode,
			echonet_lite.Property{EPC: echonet_lite.EPCOperationStatus, EDT: []byte{0x30}},
		)
		light.SetSettable(echonet_lite.EPCOperationStatus)
		light.SetAnnounce(echonet_lite.EPCOperationStatus)
		_, err := core.AddLocalObject(light)
		require.NoError(t, err)
	}
	require.NoError(t, core.StartService())
	t.Cleanup(func() { assert.NoError(t, core.Close()) })

	s := service.NewService(core)
	s.SetTimeout(300 * time.Millisecond)
	return s
}

func runLines(t *testing.T, s *service.Service, lines ...string) string {
	t.Helper()
	var out strings.Builder
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, Run(ctx, s, strings.NewReader(strings.Join(lines, "\n")), &out))
	return out.String()
}

func TestRun_DiscoverGetSet(t *testing.T) {
	nw := network.NewInternalNetwork(t.Name())
	controller := newTestService(t, nw, "controller", false)
	device := newTestService(t, nw, "device", true)

	out := runLines(t, controller, "discover")
	assert.Contains(t, out, t.Name()+":device: 0291:1\n")
	assert.Contains(t, out, "1 node(s) found")

	// 検出済みノードの表記でも、サブネットの名前でも指定できる
	out = runLines(t, controller,
		"get "+t.Name()+":device 0291:1 80",
		"set device 0291:1 80:31",
		"get device 0291:1 80",
	)
	assert.Contains(t, out, "0291:1 Get_Res\n  80: 30\n")
	assert.Contains(t, out, "0291:1 Set_Res\n  80: \n")
	assert.Contains(t, out, "0291:1 Get_Res\n  80: 31\n")

	props, err := device.LocalData(lightingEOJ, echonet_lite.EPCOperationStatus)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x31}, props[0].EDT)

	out = runLines(t, controller, "set device 0291:1 80:30 -noresp")
	assert.Contains(t, out, "sent\n")
	assert.Eventually(t, func() bool {
		props, err := device.LocalData(lightingEOJ, echonet_lite.EPCOperationStatus)
		return err == nil && props[0].EDT[0] == 0x30
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRun_NoResponseAndErrors(t *testing.T) {
	nw := network.NewInternalNetwork(t.Name())
	controller := newTestService(t, nw, "controller", false)
	newTestService(t, nw, "device", true)

	out := runLines(t, controller,
		"get device 0130:1 80",
		"get nowhere 0291:1 80",
		"bogus",
		"local 0291:1 80",
	)
	assert.Contains(t, out, "no response\n")
	assert.Equal(t, 3, strings.Count(out, "エラー: "), out)
}

func TestRun_ObserveAnnounce(t *testing.T) {
	nw := network.NewInternalNetwork(t.Name())
	controller := newTestService(t, nw, "controller", false)
	device := newTestService(t, nw, "device", true)

	done := make(chan string)
	go func() {
		done <- runLines(t, controller, "observe -t 500ms * 0291 80")
	}()

	// observe が登録されるのを待ってから通知させる
	time.Sleep(100 * time.Millisecond)
	out := runLines(t, device, "announce 0291:1 80:31", "local 0291:1 80")
	assert.Contains(t, out, "80: 31\n")

	observed := <-done
	assert.Contains(t, observed, "0291:1 INF\n  80: 31\n")
	assert.Contains(t, observed, "1 notification(s) observed")
}

func TestRun_CaptureTimeoutHelp(t *testing.T) {
	nw := network.NewInternalNetwork(t.Name())
	controller := newTestService(t, nw, "controller", false)
	newTestService(t, nw, "device", true)

	done := make(chan string)
	go func() {
		done <- runLines(t, controller, "capture -t 500ms")
	}()
	time.Sleep(100 * time.Millisecond)
	runLines(t, controller, "get device 0291:1 80")

	captured := <-done
	assert.Contains(t, captured, "sent "+t.Name()+":controller -> "+t.Name()+":device")
	assert.Contains(t, captured, "recv "+t.Name()+":device -> "+t.Name()+":controller")
	assert.Contains(t, captured, "1 sent, 1 received")

	out := runLines(t, controller, "timeout 1s", "timeout", "help", "help set", "quit", "discover")
	assert.Contains(t, out, "timeout: 1s\ntimeout: 1s\n")
	assert.Equal(t, time.Second, controller.Timeout())
	assert.Contains(t, out, "discover")
	assert.Contains(t, out, "-noresp: 応答不要 (SetI) で送信する")
	// quit 以降は実行しない
	assert.NotContains(t, out, "node(s) found")
}
