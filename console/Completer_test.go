package console

import (
	"sort"
	"testing"

	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/HuzefaGadi/echowand/echonet_lite/network"
	"github.com/HuzefaGadi/echowand/echonet_lite/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	nodes []service.RemoteNode
	local []echonet_lite.EOJ
}

func (s stubSource) RemoteNodes() []service.RemoteNode {
	return s.nodes
}

func (s stubSource) LocalEOJs() []echonet_lite.EOJ {
	return s.local
}

func complete(c *completer, line string) []string {
	candidates, _ := c.Do([]rune(line), len([]rune(line)))
	result := make([]string, len(candidates))
	for i, r := range candidates {
		result[i] = string(r)
	}
	sort.Strings(result)
	return result
}

func TestCompleter(t *testing.T) {
	nw := network.NewInternalNetwork("home")
	subnet, err := network.NewInternalSubnet(nw, "ctrl", nil)
	require.NoError(t, err)
	defer subnet.Close()
	for _, name := range []string{"light", "aircon"} {
		s, err := network.NewInternalSubnet(nw, name, nil)
		require.NoError(t, err)
		defer s.Close()
	}
	light, err := subnet.RemoteNode("light")
	require.NoError(t, err)
	aircon, err := subnet.RemoteNode("aircon")
	require.NoError(t, err)
	airconEOJ := echonet_lite.MakeEOJ(echonet_lite.HomeAirConditioner_ClassCode, 1)

	c := newCompleter(stubSource{
		nodes: []service.RemoteNode{
			{Node: aircon, EOJs: []echonet_lite.EOJ{echonet_lite.NodeProfileObject, airconEOJ}},
			{Node: light, EOJs: []echonet_lite.EOJ{echonet_lite.NodeProfileObject, lightingEOJ}},
		},
		local: []echonet_lite.EOJ{echonet_lite.NodeProfileObject},
	})

	// コマンド名
	assert.Equal(t, []string{"et ", "etget "}, complete(c, "s"))
	assert.Equal(t, []string{"ist ", "ocal "}, complete(c, "help l"))

	// ノード名
	assert.Equal(t, []string{"home:light "}, complete(c, "get home:l"))
	assert.Contains(t, complete(c, "get "), "* ")

	// 登録済みノードならそのノードのオブジェクトだけ
	assert.Equal(t, []string{"0291:1 ", "0EF0:1 "}, complete(c, "get home:light "))
	// グループなら全ノードのオブジェクト
	assert.Equal(t, []string{"0130:1 ", "0291:1 ", "0EF0:1 "}, complete(c, "get * "))

	assert.Equal(t, []string{"noresp "}, complete(c, "set * 0291:1 80:30 -"))
	assert.Equal(t, []string{"0EF0:1 "}, complete(c, "local "))
	assert.Empty(t, complete(c, "capture "))
	assert.Empty(t, complete(c, "unknown "))
}
