package network

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/HuzefaGadi/echowand/echonet_lite"
)

const internalQueueSize = 256

// InternalNetwork はプロセス内の InternalSubnet 同士をつなぐ仮想ネットワークです。テストやシミュレーションに使います
type InternalNetwork struct {
	name    string
	mu      sync.RWMutex
	members map[string]*InternalSubnet
}

func NewInternalNetwork(name string) *InternalNetwork {
	return &InternalNetwork{
		name:    name,
		members: make(map[string]*InternalSubnet),
	}
}

func (n *InternalNetwork) Name() string {
	return n.name
}

func (n *InternalNetwork) lookup(name string) (*InternalSubnet, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s, ok := n.members[name]
	return s, ok
}

func (n *InternalNetwork) snapshot() []*InternalSubnet {
	n.mu.RLock()
	defer n.mu.RUnlock()
	members := make([]*InternalSubnet, 0, len(n.members))
	for _, s := range n.members {
		members = append(members, s)
	}
	return members
}

// InternalNode は InternalNetwork 上のノードです。名前が空のノードはグループを表します
type InternalNode struct {
	network *InternalNetwork
	name    string
}

func (n InternalNode) Name() string {
	return n.name
}

func (n InternalNode) IsGroup() bool {
	return n.name == ""
}

func (n InternalNode) IsMemberOf(subnet Subnet) bool {
	s, ok := subnet.(*InternalSubnet)
	return ok && s.network == n.network
}

func (n InternalNode) String() string {
	if n.IsGroup() {
		return fmt.Sprintf("%s:*", n.network.name)
	}
	return fmt.Sprintf("%s:%s", n.network.name, n.name)
}

// InternalSubnet は InternalNetwork に参加するサブネットです。作成時点で実行中になります
type InternalSubnet struct {
	network *InternalNetwork
	name    string
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	queue   chan Frame
	done    chan struct{}
}

// NewInternalSubnet は network に name という名前のノードとして参加するサブネットを作成します
func NewInternalSubnet(network *InternalNetwork, name string, logger *slog.Logger) (*InternalSubnet, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &InternalSubnet{
		network: network,
		name:    name,
		logger:  logger,
		running: true,
		queue:   make(chan Frame, internalQueueSize),
		done:    make(chan struct{}),
	}

	network.mu.Lock()
	defer network.mu.Unlock()
	if _, exists := network.members[name]; exists {
		return nil, fmt.Errorf("%w: %s already exists in %s", ErrInvalidName, name, network.name)
	}
	network.members[name] = s
	return s, nil
}

// Close はネットワークから離脱します
func (s *InternalSubnet) Close() {
	s.StopService()
	s.network.mu.Lock()
	delete(s.network.members, s.name)
	s.network.mu.Unlock()
}

func (s *InternalSubnet) LocalNode() Node {
	return InternalNode{network: s.network, name: s.name}
}

func (s *InternalSubnet) GroupNode() Node {
	return InternalNode{network: s.network}
}

func (s *InternalSubnet) RemoteNode(name string) (Node, error) {
	if _, ok := s.network.lookup(name); !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	return InternalNode{network: s.network, name: name}, nil
}

func (s *InternalSubnet) StartService() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false, nil
	}
	s.running = true
	s.done = make(chan struct{})
	return true, nil
}

func (s *InternalSubnet) StopService() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.running = false
	close(s.done)
	return true
}

func (s *InternalSubnet) IsInService() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Send はフレームを宛先のキューに入れます。グループ宛なら自分以外の全メンバーに配送します。
// メッセージは一度エンコードしてから読み直すため、送信側と受信側でデータを共有しません
func (s *InternalSubnet) Send(frame Frame) error {
	if !s.IsInService() {
		return subnetError("send", ErrNotEnabled)
	}
	if err := checkMembers(s, frame); err != nil {
		return subnetError("send", err)
	}
	if frame.Conn != nil {
		return subnetError("send", ErrInvalidConnection)
	}

	receiver, ok := frame.Receiver.(InternalNode)
	if !ok {
		return subnetError("send", ErrInvalidReceiver)
	}
	data := frame.Message.Encode()

	if receiver.IsGroup() {
		for _, member := range s.network.snapshot() {
			if member == s {
				continue
			}
			member.deliver(frame, data)
		}
		return nil
	}

	member, ok := s.network.lookup(receiver.name)
	if !ok {
		return subnetError("send", fmt.Errorf("%w: %v", ErrInvalidReceiver, receiver))
	}
	member.deliver(frame, data)
	return nil
}

func (s *InternalSubnet) deliver(frame Frame, data []byte) {
	msg, err := echonet_lite.ParseECHONETLiteMessage(data)
	if err != nil {
		s.logger.Debug("不正なフレームを破棄しました", "err", err)
		return
	}
	frame.Message = msg

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return
	}
	select {
	case s.queue <- frame:
	default:
		s.logger.Warn("受信キューが一杯のためフレームを破棄しました", "subnet", s.name, "frame", frame)
	}
}

func (s *InternalSubnet) Receive() (Frame, error) {
	s.mu.Lock()
	running, done := s.running, s.done
	s.mu.Unlock()
	if !running {
		return Frame{}, subnetError("receive", ErrNotEnabled)
	}
	select {
	case frame := <-s.queue:
		return frame, nil
	case <-done:
		return Frame{}, subnetError("receive", ErrNotEnabled)
	}
}
