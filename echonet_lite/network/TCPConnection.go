package network

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/HuzefaGadi/echowand/echonet_lite"
)

// TCPConnection は ECHONET Lite メッセージを TCP で送受信する接続です
type TCPConnection struct {
	conn       net.Conn
	reader     *bufio.Reader
	localNode  Node
	remoteNode Node
	writeMu    sync.Mutex
	closeOnce  sync.Once
	closed     chan struct{}
}

func newTCPConnection(conn net.Conn, local, remote Node) *TCPConnection {
	return &TCPConnection{
		conn:       conn,
		reader:     bufio.NewReader(conn),
		localNode:  local,
		remoteNode: remote,
		closed:     make(chan struct{}),
	}
}

func (c *TCPConnection) LocalNode() Node {
	return c.localNode
}

func (c *TCPConnection) RemoteNode() Node {
	return c.remoteNode
}

// Send はメッセージを1つ書き込みます
func (c *TCPConnection) Send(msg *echonet_lite.ECHONETLiteMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(msg.Encode())
	return err
}

// Receive はメッセージを1つ読み込むまで待ちます
func (c *TCPConnection) Receive() (*echonet_lite.ECHONETLiteMessage, error) {
	return echonet_lite.ReadECHONETLiteMessage(c.reader)
}

func (c *TCPConnection) interrupt() {
	_ = c.conn.SetReadDeadline(time.Now())
}

func (c *TCPConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// IsClosed は Close 済みかどうかを返します
func (c *TCPConnection) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *TCPConnection) String() string {
	return fmt.Sprintf("TCP(%v <-> %v)", c.localNode, c.remoteNode)
}

// TCPAcceptor は TCP 接続を受け付けます
type TCPAcceptor struct {
	listener *net.TCPListener
}

func listenTCP(ip net.IP, port int) (*TCPAcceptor, error) {
	l, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: ip, Port: port})
	if err != nil {
		return nil, err
	}
	return &TCPAcceptor{listener: l}, nil
}

func (a *TCPAcceptor) Accept() (net.Conn, error) {
	return a.listener.Accept()
}

func (a *TCPAcceptor) Addr() *net.TCPAddr {
	return a.listener.Addr().(*net.TCPAddr)
}

func (a *TCPAcceptor) interrupt() {
	_ = a.listener.SetDeadline(time.Now())
}

func (a *TCPAcceptor) Close() error {
	return a.listener.Close()
}
