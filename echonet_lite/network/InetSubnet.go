package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/HuzefaGadi/echowand/echonet_lite"
)

// InetNode は IPv4 ネットワーク上のノードです。
// ポート番号は、リモートポートを認識する設定のときだけ保持されます (0 はサブネットのポート)。
type InetNode struct {
	subnet *InetSubnet
	addr   netip.AddrPort
}

func (n InetNode) IP() net.IP {
	return net.IP(n.addr.Addr().AsSlice())
}

func (n InetNode) Addr() netip.Addr {
	return n.addr.Addr()
}

func (n InetNode) Port() int {
	return int(n.addr.Port())
}

func (n InetNode) IsMemberOf(subnet Subnet) bool {
	s, ok := subnet.(*InetSubnet)
	return ok && n.subnet == s
}

func (n InetNode) String() string {
	if n.addr.Port() == 0 {
		return n.addr.Addr().String()
	}
	return n.addr.String()
}

// InetSubnetConfig は InetSubnet の設定です。
// アドレスの決め方は LocalAddress, Interface, ReceiverInterfaces の順に優先され、
// いずれも無ければループバックアドレスをローカルノードとします。
type InetSubnetConfig struct {
	LocalAddress       net.IP
	Interface          string
	ReceiverInterfaces []string
	MulticastAddress   net.IP
	Port               int
	TCPAcceptorEnabled bool
	RemotePortEnabled  bool
	NetworkMonitor     *NetworkMonitorConfig
	Logger             *slog.Logger
}

// InetSubnet は UDP マルチキャストと TCP 接続をまとめて1つの受信キューにするサブネットです
type InetSubnet struct {
	lifecycleMu sync.Mutex // StartService / StopService の直列化
	mu          sync.Mutex

	localAddress   net.IP
	iface          *net.Interface
	receiverIfaces []*net.Interface
	multicastIP    net.IP
	port           int
	tcpEnabled     bool
	remotePort     bool
	monitor        *NetworkMonitorConfig
	logger         *slog.Logger

	running   bool
	udp       *UDPConnection
	acceptor  *TCPAcceptor
	conns     map[*TCPConnection]*tcpReceiver
	frames    chan Frame
	done      chan struct{}
	wg        sync.WaitGroup
	localNode Node
	groupNode Node
}

var loopbackIP = net.IPv4(127, 0, 0, 1).To4()

// NewInetSubnet は設定を検証して InetSubnet を作成します。サービスは開始されません。
func NewInetSubnet(cfg InetSubnetConfig) (*InetSubnet, error) {
	s := &InetSubnet{
		port:       cfg.Port,
		tcpEnabled: cfg.TCPAcceptorEnabled,
		remotePort: cfg.RemotePortEnabled,
		monitor:    cfg.NetworkMonitor,
		logger:     cfg.Logger,
		conns:      make(map[*TCPConnection]*tcpReceiver),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.port == 0 {
		s.port = echonet_lite.ECHONETLitePort
	}
	if s.port < 0 || s.port > 65535 {
		return nil, fmt.Errorf("invalid port number: %d", cfg.Port)
	}

	s.multicastIP = cfg.MulticastAddress.To4()
	if cfg.MulticastAddress == nil {
		s.multicastIP = net.ParseIP(echonet_lite.ECHONETLiteMulticastAddress).To4()
	}
	if s.multicastIP == nil || !s.multicastIP.IsMulticast() {
		return nil, fmt.Errorf("invalid multicast address: %v", cfg.MulticastAddress)
	}

	receivers, err := InterfacesByName(cfg.ReceiverInterfaces)
	if err != nil {
		return nil, err
	}

	switch {
	case cfg.LocalAddress != nil:
		s.localAddress = cfg.LocalAddress.To4()
		if s.localAddress == nil {
			return nil, fmt.Errorf("invalid local address: %v", cfg.LocalAddress)
		}
		s.iface = InterfaceByIP(s.localAddress)
	case cfg.Interface != "":
		ifi, err := net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("interface %q: %w", cfg.Interface, err)
		}
		ip, err := InterfaceIPv4(ifi)
		if err != nil {
			return nil, err
		}
		s.iface = ifi
		s.localAddress = ip
	}
	if len(receivers) == 0 && s.iface != nil {
		receivers = []*net.Interface{s.iface}
	}
	s.receiverIfaces = receivers

	return s, nil
}

func (s *InetSubnet) nodeFor(ip net.IP, port int) InetNode {
	addr, _ := netip.AddrFromSlice(ip.To4())
	s.mu.Lock()
	remotePort := s.remotePort
	s.mu.Unlock()
	if !remotePort {
		port = 0
	}
	return InetNode{subnet: s, addr: netip.AddrPortFrom(addr, uint16(port))}
}

// LocalNode はこのサブネットのローカルノードを返します
func (s *InetSubnet) LocalNode() Node {
	s.mu.Lock()
	node := s.localNode
	s.mu.Unlock()
	if node != nil {
		return node
	}

	ip := s.localAddress
	if ip == nil {
		ip = loopbackIP
	}
	n := s.nodeFor(ip, 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localNode == nil {
		s.localNode = n
	}
	return s.localNode
}

// GroupNode はマルチキャストグループのノードを返します。このノード宛のフレームはマルチキャストで送られます
func (s *InetSubnet) GroupNode() Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groupNode == nil {
		addr, _ := netip.AddrFromSlice(s.multicastIP)
		s.groupNode = InetNode{subnet: s, addr: netip.AddrPortFrom(addr, 0)}
	}
	return s.groupNode
}

// RemoteNode は IP アドレスまたはホスト名からノードを求めます
func (s *InetSubnet) RemoteNode(name string) (Node, error) {
	if ip := net.ParseIP(name); ip != nil {
		return s.RemoteNodeFor(ip, 0)
	}
	host, portStr, err := net.SplitHostPort(name)
	if err == nil {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidName, name)
		}
		if ip := net.ParseIP(host); ip != nil {
			return s.RemoteNodeFor(ip, port)
		}
		name = host
	}
	ips, err := net.LookupIP(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidName, name, err)
	}
	for _, ip := range ips {
		if ip.To4() != nil {
			return s.RemoteNodeFor(ip, 0)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidName, name)
}

// RemoteNodeFor は IP アドレスとポート番号からノードを作成します。port が 0 ならサブネットのポートです
func (s *InetSubnet) RemoteNodeFor(ip net.IP, port int) (Node, error) {
	if ip.To4() == nil {
		return nil, fmt.Errorf("%w: IPv6 not supported: %v", ErrInvalidName, ip)
	}
	return s.nodeFor(ip, port), nil
}

func (s *InetSubnet) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// SetPort はポート番号を変更します。実行中は変更できず false を返します
func (s *InetSubnet) SetPort(port int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || port <= 0 || port > 65535 {
		return false
	}
	s.port = port
	return true
}

// EnableTCPAcceptor は TCP 接続の受け付けを有効にします。実行中は変更できず false を返します
func (s *InetSubnet) EnableTCPAcceptor() bool {
	return s.setTCPAcceptor(true)
}

// DisableTCPAcceptor は TCP 接続の受け付けを無効にします。実行中は変更できず false を返します
func (s *InetSubnet) DisableTCPAcceptor() bool {
	return s.setTCPAcceptor(false)
}

func (s *InetSubnet) setTCPAcceptor(enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.tcpEnabled = enabled
	return true
}

func (s *InetSubnet) IsTCPAcceptorEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tcpEnabled
}

// EnableRemotePort は送信元ポート番号を区別するようにします。以後作られるノードに反映されます
func (s *InetSubnet) EnableRemotePort() {
	s.mu.Lock()
	s.remotePort = true
	s.mu.Unlock()
}

func (s *InetSubnet) DisableRemotePort() {
	s.mu.Lock()
	s.remotePort = false
	s.mu.Unlock()
}

func (s *InetSubnet) IsRemotePortEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remotePort
}

func (s *InetSubnet) IsInService() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// StartService はソケットを開いて受信を開始します。
// 既に実行中なら false を返します。途中で失敗した場合は開いたソケットを閉じてエラーを返します
func (s *InetSubnet) StartService() (bool, error) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false, nil
	}
	port, tcpEnabled := s.port, s.tcpEnabled
	s.mu.Unlock()

	udp, err := CreateUDPConnection(context.Background(), UDPConfig{
		Port:               port,
		MulticastIP:        s.multicastIP,
		Interface:          s.iface,
		ReceiverInterfaces: s.receiverIfaces,
		LocalIP:            s.localAddress,
		NetworkMonitor:     s.monitor,
		Logger:             s.logger,
	})
	if err != nil {
		return false, subnetError("start", err)
	}

	var acceptor *TCPAcceptor
	if tcpEnabled {
		acceptor, err = listenTCP(s.localAddress, port)
		if err != nil {
			_ = udp.Close()
			return false, subnetError("start", err)
		}
	}

	s.mu.Lock()
	s.udp = udp
	s.acceptor = acceptor
	s.frames = make(chan Frame)
	s.done = make(chan struct{})
	s.running = true
	frames, done := s.frames, s.done

	s.wg.Add(1)
	go s.udpLoop(udp, frames, done)
	if acceptor != nil {
		s.wg.Add(1)
		go s.acceptLoop(acceptor, done)
	}
	for conn := range s.conns {
		s.startConnLoop(conn)
	}
	s.mu.Unlock()

	s.logger.Info("サブネットを開始しました", "port", port, "multicast", s.multicastIP, "tcp", tcpEnabled)
	return true, nil
}

// StopService は受信ループをすべて終了させてからソケットを閉じます。実行中でなければ false を返します
func (s *InetSubnet) StopService() bool {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.running = false
	close(s.done)
	udp, acceptor := s.udp, s.acceptor
	s.udp, s.acceptor = nil, nil
	conns := make([]*TCPConnection, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.conns = make(map[*TCPConnection]*tcpReceiver)
	s.mu.Unlock()

	_ = udp.Interrupt()
	if acceptor != nil {
		acceptor.interrupt()
	}
	for _, conn := range conns {
		conn.interrupt()
	}
	s.wg.Wait()

	_ = udp.Close()
	if acceptor != nil {
		_ = acceptor.Close()
	}
	for _, conn := range conns {
		_ = conn.Close()
	}

	s.logger.Info("サブネットを停止しました")
	return true
}

// Send はフレームを送信します。Conn が指定されていればその TCP 接続、そうでなければ UDP を使います
func (s *InetSubnet) Send(frame Frame) error {
	s.mu.Lock()
	running, udp := s.running, s.udp
	s.mu.Unlock()
	if !running {
		return subnetError("send", ErrNotEnabled)
	}
	if err := checkMembers(s, frame); err != nil {
		return subnetError("send", err)
	}

	if frame.Conn != nil {
		if frame.Conn.IsClosed() {
			return subnetError("send", fmt.Errorf("%w: %v", ErrInvalidConnection, frame.Conn))
		}
		if err := frame.Conn.Send(frame.Message); err != nil {
			return subnetError("send", err)
		}
		return nil
	}

	node, ok := frame.Receiver.(InetNode)
	if !ok {
		return subnetError("send", ErrInvalidReceiver)
	}
	if _, err := udp.SendTo(node.IP(), node.Port(), frame.Message.Encode()); err != nil {
		return subnetError("send", err)
	}
	return nil
}

// Receive はフレームを1つ受け取るまで待ちます。停止されると ErrNotEnabled を返します
func (s *InetSubnet) Receive() (Frame, error) {
	s.mu.Lock()
	running, frames, done := s.running, s.frames, s.done
	s.mu.Unlock()
	if !running {
		return Frame{}, subnetError("receive", ErrNotEnabled)
	}

	select {
	case frame := <-frames:
		return frame, nil
	case <-done:
		return Frame{}, subnetError("receive", ErrNotEnabled)
	}
}

// NewTCPConnection は node に TCP 接続します。登録は RegisterTCPConnection で別に行います
func (s *InetSubnet) NewTCPConnection(node Node, timeout time.Duration) (*TCPConnection, error) {
	inetNode, ok := node.(InetNode)
	if !ok || !inetNode.IsMemberOf(s) {
		return nil, subnetError("connect", ErrInvalidReceiver)
	}
	port := inetNode.Port()
	if port == 0 {
		port = s.Port()
	}
	dialer := net.Dialer{Timeout: timeout}
	if s.localAddress != nil {
		dialer.LocalAddr = &net.TCPAddr{IP: s.localAddress}
	}
	c, err := dialer.Dial("tcp4", net.JoinHostPort(inetNode.IP().String(), strconv.Itoa(port)))
	if err != nil {
		return nil, subnetError("connect", err)
	}
	return newTCPConnection(c, s.LocalNode(), node), nil
}

// tcpReceiver は登録された TCP 接続1つ分の受信ループの状態です。
// サービス停止中に登録された接続は、開始されるまで stop / exited が nil のままです
type tcpReceiver struct {
	stop   chan struct{}
	exited chan struct{}
}

// RegisterTCPConnection は接続を受信対象に加えます。実行中であればすぐに受信を始めます
func (s *InetSubnet) RegisterTCPConnection(conn *TCPConnection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registerLocked(conn)
}

// registerAccepted は acceptLoop から呼ばれます。
// 受け付けた時点のサービスが既に停止していれば登録しません
func (s *InetSubnet) registerAccepted(conn *TCPConnection, done <-chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.done != done {
		return false
	}
	return s.registerLocked(conn)
}

func (s *InetSubnet) registerLocked(conn *TCPConnection) bool {
	if _, ok := s.conns[conn]; ok || conn.IsClosed() {
		return false
	}
	s.conns[conn] = &tcpReceiver{}
	if s.running {
		s.startConnLoop(conn)
	}
	return true
}

// UnregisterTCPConnection は接続を受信対象から外します。接続は閉じません。
// 受信ループが動いていれば、終了するまで待ってから戻ります
func (s *InetSubnet) UnregisterTCPConnection(conn *TCPConnection) bool {
	s.mu.Lock()
	loop, ok := s.conns[conn]
	delete(s.conns, conn)
	s.mu.Unlock()
	if !ok {
		return false
	}
	if loop.stop != nil {
		close(loop.stop)
		conn.interrupt()
		<-loop.exited
	}
	return true
}

// startConnLoop は s.mu を保持した状態で呼ぶこと
func (s *InetSubnet) startConnLoop(conn *TCPConnection) {
	loop := &tcpReceiver{
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	s.conns[conn] = loop
	_ = conn.conn.SetReadDeadline(time.Time{})
	s.wg.Add(1)
	go s.connLoop(conn, loop, s.frames, s.done)
}

// dropConn は受信ループ自身が接続を外すときに使います。既に別の登録に置き換わっていれば何もしません
func (s *InetSubnet) dropConn(conn *TCPConnection, loop *tcpReceiver) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[conn] != loop {
		return false
	}
	delete(s.conns, conn)
	return true
}

func (s *InetSubnet) udpLoop(udp *UDPConnection, frames chan<- Frame, done <-chan struct{}) {
	defer s.wg.Done()
	for {
		data, src, dst, err := udp.Receive()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("UDP受信エラー", "err", err)
			continue
		}
		if data == nil {
			continue
		}

		msg, err := echonet_lite.ParseECHONETLiteMessage(data)
		if err != nil {
			s.logger.Debug("不正なフレームを破棄しました", "from", src, "err", err, "data", fmt.Sprintf("%X", data))
			continue
		}
		receiver := s.LocalNode()
		if udp.IsMulticast(dst) {
			receiver = s.GroupNode()
		}
		frame := Frame{
			Sender:   s.nodeFor(src.IP, src.Port),
			Receiver: receiver,
			Message:  msg,
		}
		select {
		case frames <- frame:
		case <-done:
			return
		}
	}
}

func (s *InetSubnet) acceptLoop(acceptor *TCPAcceptor, done <-chan struct{}) {
	defer s.wg.Done()
	for {
		c, err := acceptor.Accept()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("TCP接続の受け付けに失敗", "err", err)
			continue
		}
		remote, _ := c.RemoteAddr().(*net.TCPAddr)
		conn := newTCPConnection(c, s.LocalNode(), s.nodeFor(remote.IP, remote.Port))
		if !s.registerAccepted(conn, done) {
			_ = conn.Close()
			continue
		}
		s.logger.Debug("TCP接続を受け付けました", "remote", remote)
	}
}

func (s *InetSubnet) connLoop(conn *TCPConnection, loop *tcpReceiver, frames chan<- Frame, done <-chan struct{}) {
	defer s.wg.Done()
	defer close(loop.exited)
	for {
		msg, err := conn.Receive()
		if err != nil {
			select {
			case <-done:
				return
			case <-loop.stop:
				return
			default:
			}
			if errors.Is(err, echonet_lite.ErrMalformedMessage) {
				s.logger.Debug("不正なフレームを破棄しました", "conn", conn, "err", err)
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				s.logger.Debug("TCP接続が切断されました", "conn", conn)
			} else {
				s.logger.Warn("TCP受信エラー", "conn", conn, "err", err)
			}
			if s.dropConn(conn, loop) {
				_ = conn.Close()
			}
			return
		}

		frame := Frame{
			Sender:   conn.RemoteNode(),
			Receiver: conn.LocalNode(),
			Message:  msg,
			Conn:     conn,
		}
		select {
		case frames <- frame:
		case <-done:
			return
		case <-loop.stop:
			return
		}
	}
}
