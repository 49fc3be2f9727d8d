package network

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkMonitorEnabled(t *testing.T) {
	// CI環境では net.Interfaces() が hang する可能性があるためスキップ
	if os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != "" {
		t.Skip("スキップ: ネットワーク監視テストはCI環境では実行しません")
	}

	port, err := getFreePort()
	require.NoError(t, err)

	conn, err := CreateUDPConnection(context.Background(), UDPConfig{
		Port:           port,
		MulticastIP:    net.ParseIP("224.0.23.0"),
		NetworkMonitor: &NetworkMonitorConfig{Enabled: true, Interval: 50 * time.Millisecond},
	})
	require.NoError(t, err)

	assert.True(t, conn.IsNetworkMonitorEnabled(), "ネットワーク監視が有効になっていません")

	// 何回か監視ループを回す
	time.Sleep(120 * time.Millisecond)

	require.NoError(t, conn.Close())
	assert.False(t, conn.IsNetworkMonitorEnabled())
}

func TestNetworkMonitorDisabled(t *testing.T) {
	port, err := getFreePort()
	require.NoError(t, err)

	conn, err := CreateUDPConnection(context.Background(), UDPConfig{
		Port:           port,
		MulticastIP:    net.ParseIP("224.0.23.0"),
		NetworkMonitor: &NetworkMonitorConfig{Enabled: false},
	})
	require.NoError(t, err)
	defer conn.Close()
	assert.False(t, conn.IsNetworkMonitorEnabled())

	port2, err := getFreePort()
	require.NoError(t, err)
	conn2, err := CreateUDPConnection(context.Background(), UDPConfig{
		Port:        port2,
		MulticastIP: net.ParseIP("224.0.23.0"),
	})
	require.NoError(t, err)
	defer conn2.Close()
	assert.False(t, conn2.IsNetworkMonitorEnabled(), "nil config でネットワーク監視が無効になっていません")
}

func TestHasNetworkChanged(t *testing.T) {
	a := []net.Interface{{Name: "eth0", Flags: net.FlagUp}}
	b := []net.Interface{{Name: "eth0", Flags: net.FlagUp | net.FlagMulticast}}
	c := []net.Interface{{Name: "eth0", Flags: net.FlagUp}, {Name: "wlan0", Flags: net.FlagUp}}

	assert.False(t, hasNetworkChanged(a, a))
	assert.True(t, hasNetworkChanged(a, b))
	assert.True(t, hasNetworkChanged(a, c))
}
