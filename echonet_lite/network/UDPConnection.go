package network

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
)

// UDPConnection は UDP ソケットを管理します
type UDPConnection struct {
	conn           *ipv4.PacketConn
	LocalAddr      *net.UDPAddr
	localIPs       []net.IP // ローカルインターフェースのIPリスト
	Port           int
	multicastIP    net.IP // マルチキャストIPアドレス
	controlMessage bool   // 宛先アドレスを取得できるか
	logger         *slog.Logger
	mu             sync.RWMutex
	networkMonitor *NetworkMonitor
}

// NetworkMonitor はネットワークインターフェースの監視を行います
type NetworkMonitor struct {
	ctx          context.Context
	cancel       context.CancelFunc
	interfaces   []net.Interface
	interfacesMu sync.RWMutex
	interval     time.Duration
	done         chan struct{} // goroutine終了通知用
}

// NetworkMonitorConfig はネットワーク監視の設定を表します
type NetworkMonitorConfig struct {
	Enabled  bool
	Interval time.Duration
}

// UDPConfig は CreateUDPConnection の設定です
type UDPConfig struct {
	Port        int
	MulticastIP net.IP
	// Interface はマルチキャスト送信に使うインターフェース。nil ならOSに任せる
	Interface *net.Interface
	// ReceiverInterfaces はマルチキャストグループに参加するインターフェース。空なら既定のインターフェース
	ReceiverInterfaces []*net.Interface
	// LocalIP は自分自身の送信を判定するために追加するアドレス
	LocalIP        net.IP
	NetworkMonitor *NetworkMonitorConfig
	Logger         *slog.Logger
}

// CreateUDPConnection は IPv4 の unicast と multicast を受信するソケットを作成します。
// マルチキャストを受信するためワイルドカードアドレスで listen し、
// ReceiverInterfaces のそれぞれでグループに参加します。
func CreateUDPConnection(ctx context.Context, cfg UDPConfig) (*UDPConnection, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	multicastIP := cfg.MulticastIP.To4()
	if multicastIP == nil || !multicastIP.IsMulticast() {
		return nil, fmt.Errorf("multicastIP is not an IPv4 multicast address: %v", cfg.MulticastIP)
	}

	pc, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen UDP port %d: %w", cfg.Port, err)
	}
	conn := ipv4.NewPacketConn(pc)

	group := &net.UDPAddr{IP: multicastIP}
	if len(cfg.ReceiverInterfaces) == 0 {
		if err := conn.JoinGroup(nil, group); err != nil {
			logger.Warn("マルチキャストグループへの参加に失敗", "group", multicastIP, "err", err)
		}
	}
	for _, ifi := range cfg.ReceiverInterfaces {
		if err := conn.JoinGroup(ifi, group); err != nil {
			logger.Warn("マルチキャストグループへの参加に失敗", "group", multicastIP, "interface", ifi.Name, "err", err)
		}
	}
	if cfg.Interface != nil {
		if err := conn.SetMulticastInterface(cfg.Interface); err != nil {
			logger.Warn("マルチキャスト送信インターフェースの設定に失敗", "interface", cfg.Interface.Name, "err", err)
		}
	}
	_ = conn.SetMulticastLoopback(true)
	_ = conn.SetMulticastTTL(1)

	controlMessage := true
	if err := conn.SetControlMessage(ipv4.FlagDst, true); err != nil {
		logger.Debug("宛先アドレスの取得は利用できません", "err", err)
		controlMessage = false
	}

	// ローカルのIPv4アドレスを取得
	localIPs, err := GetLocalIPv4s()
	if err != nil {
		logger.Warn("could not reliably determine local IPs for self-message filtering", "err", err)
		localIPs = []net.IP{}
	}
	if cfg.LocalIP != nil && cfg.LocalIP.To4() != nil && !cfg.LocalIP.IsUnspecified() {
		localIPs = appendUniqueIP(localIPs, cfg.LocalIP.To4())
	}

	udpConn := &UDPConnection{
		conn:           conn,
		LocalAddr:      pc.LocalAddr().(*net.UDPAddr),
		localIPs:       localIPs,
		Port:           pc.LocalAddr().(*net.UDPAddr).Port,
		multicastIP:    multicastIP,
		controlMessage: controlMessage,
		logger:         logger,
	}

	// ネットワーク監視機能を初期化
	if cfg.NetworkMonitor != nil && cfg.NetworkMonitor.Enabled {
		udpConn.initNetworkMonitor(ctx, cfg.NetworkMonitor.Interval)
	}

	return udpConn, nil
}

func appendUniqueIP(ips []net.IP, ip net.IP) []net.IP {
	for _, v := range ips {
		if v.Equal(ip) {
			return ips
		}
	}
	return append(ips, ip)
}

// isSelfPacket は指定されたアドレスが自身のいずれかのローカルIPとポートから送信されたものかを確認します
func (c *UDPConnection) isSelfPacket(src *net.UDPAddr) bool {
	if src == nil {
		return false
	}
	if src.Port != c.Port {
		return false
	}
	return c.IsLocalIP(src.IP)
}

// IsLocalIP は指定されたIPアドレスが自身のローカルIPのいずれかと一致するかを確認します
func (c *UDPConnection) IsLocalIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, localIP := range c.localIPs {
		if ip.Equal(localIP) {
			return true
		}
	}
	return false
}

// Interrupt は受信待ちを中断させます。以後の Receive はタイムアウトで失敗します。
func (c *UDPConnection) Interrupt() error {
	return c.conn.SetReadDeadline(time.Now())
}

// Close はソケットを閉じます
func (c *UDPConnection) Close() error {
	c.stopNetworkMonitor()
	return c.conn.Close()
}

// SendTo は指定先にデータを送信します。port が 0 なら自身のポート番号を使います
func (c *UDPConnection) SendTo(dstIP net.IP, port int, data []byte) (int, error) {
	if port == 0 {
		port = c.Port
	}
	return c.conn.WriteTo(data, nil, &net.UDPAddr{IP: dstIP, Port: port})
}

// maxDatagramSize は UDP ペイロードの最大長です
const maxDatagramSize = 65535

// bufferPool は受信バッファのプールです
var bufferPool = sync.Pool{
	New: func() interface{} { return make([]byte, maxDatagramSize) },
}

// Receive は UDP パケットを1つ受信し、データと送信元、宛先アドレスを返します。
// 自送信パケットの場合は data が nil になります。
// 宛先アドレスが取得できない環境では dst は nil です。
func (c *UDPConnection) Receive() (data []byte, src *net.UDPAddr, dst net.IP, err error) {
	buf := bufferPool.Get().([]byte)
	defer bufferPool.Put(buf)

	n, cm, addr, err := c.conn.ReadFrom(buf)
	if err != nil {
		return nil, nil, nil, err
	}
	src, _ = addr.(*net.UDPAddr)
	if c.isSelfPacket(src) {
		return nil, src, nil, nil
	}
	if cm != nil {
		dst = cm.Dst
	}
	data = make([]byte, n)
	copy(data, buf[:n])
	return data, src, dst, nil
}

// IsMulticast は dst がこのソケットのマルチキャストグループかどうかを返します。
func (c *UDPConnection) IsMulticast(dst net.IP) bool {
	return dst != nil && dst.Equal(c.multicastIP)
}

// initNetworkMonitor はネットワーク監視機能を初期化します
func (c *UDPConnection) initNetworkMonitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	monitorCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.networkMonitor = &NetworkMonitor{
		ctx:        monitorCtx,
		cancel:     cancel,
		interfaces: []net.Interface{},
		interval:   interval,
		done:       make(chan struct{}),
	}
	networkMonitor := c.networkMonitor
	c.mu.Unlock()

	// 初期のネットワークインターフェース情報を取得
	if err := networkMonitor.updateNetworkInterfaces(); err != nil {
		c.logger.Warn("ネットワークインターフェース情報の取得に失敗", "err", err)
	}

	go c.networkMonitorLoop(networkMonitor)

	c.logger.Info("ネットワーク監視が開始されました")
}

// stopNetworkMonitor はネットワーク監視機能を停止します
func (c *UDPConnection) stopNetworkMonitor() {
	c.mu.Lock()
	networkMonitor := c.networkMonitor
	c.networkMonitor = nil
	c.mu.Unlock()

	if networkMonitor != nil {
		networkMonitor.cancel()
		<-networkMonitor.done
		c.logger.Info("ネットワーク監視が停止されました")
	}
}

// networkMonitorLoop はネットワーク監視のメインループです
func (c *UDPConnection) networkMonitorLoop(networkMonitor *NetworkMonitor) {
	defer close(networkMonitor.done)

	ticker := time.NewTicker(networkMonitor.interval)
	defer ticker.Stop()

	for {
		select {
		case <-networkMonitor.ctx.Done():
			c.logger.Debug("ネットワーク監視ループを終了します")
			return
		case <-ticker.C:
			c.monitorNetworkChanges(networkMonitor)
		}
	}
}

// monitorNetworkChanges はネットワークインターフェースの変更を検出し、自送信判定用のIPリストを更新します
func (c *UDPConnection) monitorNetworkChanges(networkMonitor *NetworkMonitor) {
	currentInterfaces, err := net.Interfaces()
	if err != nil {
		c.logger.Warn("ネットワークインターフェース情報の取得に失敗", "err", err)
		return
	}

	networkMonitor.interfacesMu.Lock()
	previousInterfaces := networkMonitor.interfaces
	changed := hasNetworkChanged(previousInterfaces, currentInterfaces)
	if changed {
		networkMonitor.interfaces = currentInterfaces
	}
	networkMonitor.interfacesMu.Unlock()

	if !changed {
		return
	}
	c.logger.Info("ネットワークインターフェースの変更を検出しました")

	newLocalIPs, err := GetLocalIPv4s()
	if err != nil {
		c.logger.Warn("ローカルIPアドレスの再取得に失敗", "err", err)
		return
	}
	c.mu.Lock()
	for _, ip := range c.localIPs {
		// 設定で追加されたアドレスは残す
		newLocalIPs = appendUniqueIP(newLocalIPs, ip)
	}
	c.localIPs = newLocalIPs
	c.mu.Unlock()
	c.logger.Debug("ローカルIPアドレスを更新しました", "count", len(newLocalIPs))
}

// hasNetworkChanged はネットワークインターフェースが変更されたかをチェックします
func hasNetworkChanged(previous, current []net.Interface) bool {
	if len(previous) != len(current) {
		return true
	}

	prevMap := make(map[string]net.Flags)
	for _, iface := range previous {
		prevMap[iface.Name] = iface.Flags
	}

	for _, iface := range current {
		if prevFlags, exists := prevMap[iface.Name]; !exists || prevFlags != iface.Flags {
			return true
		}
	}

	return false
}

// updateNetworkInterfaces はネットワークインターフェース情報を更新します
func (nm *NetworkMonitor) updateNetworkInterfaces() error {
	interfaces, err := net.Interfaces()
	if err != nil {
		return err
	}

	nm.interfacesMu.Lock()
	nm.interfaces = interfaces
	nm.interfacesMu.Unlock()

	return nil
}

// IsNetworkMonitorEnabled はネットワーク監視が有効かどうかを返します
func (c *UDPConnection) IsNetworkMonitorEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.networkMonitor != nil
}
