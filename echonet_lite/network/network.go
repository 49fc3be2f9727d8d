package network

import (
	"fmt"
	"log/slog"
	"net"
)

// GetLocalIPv4s はローカルマシンの非ループバックIPv4アドレスのリストを取得します
func GetLocalIPv4s() ([]net.IP, error) {
	localIPs := []net.IP{}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to get interfaces: %w", err)
	}
	for _, i := range ifaces {
		// インターフェースがダウンしている、またはループバックの場合はスキップ
		if (i.Flags&net.FlagUp == 0) || (i.Flags&net.FlagLoopback != 0) {
			continue
		}
		addrs, err := i.Addrs()
		if err != nil {
			// エラーが発生しても他のインターフェースの処理を続ける
			slog.Warn("インターフェースのアドレス取得に失敗", "interface", i.Name, "err", err)
			continue
		}
		localIPs = append(localIPs, ipv4Addrs(addrs)...)
	}
	return localIPs, nil
}

func ipv4Addrs(addrs []net.Addr) []net.IP {
	var ips []net.IP
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil {
			ips = append(ips, ip4)
		}
	}
	return ips
}

// InterfacesByName は名前からネットワークインターフェースを求めます。
func InterfacesByName(names []string) ([]*net.Interface, error) {
	ifaces := make([]*net.Interface, 0, len(names))
	for _, name := range names {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("interface %q: %w", name, err)
		}
		ifaces = append(ifaces, ifi)
	}
	return ifaces, nil
}

// InterfaceByIP は ip が割り当てられているインターフェースを返します。見つからなければ nil です。
func InterfaceByIP(ip net.IP) *net.Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range ipv4Addrs(addrs) {
			if a.Equal(ip) {
				return &ifaces[i]
			}
		}
	}
	return nil
}

// InterfaceIPv4 はインターフェースの最初の IPv4 アドレスを返します。
func InterfaceIPv4(ifi *net.Interface) (net.IP, error) {
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, err
	}
	ips := ipv4Addrs(addrs)
	if len(ips) == 0 {
		return nil, fmt.Errorf("interface %s has no IPv4 address", ifi.Name)
	}
	return ips[0], nil
}
