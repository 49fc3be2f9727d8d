package network

import "sync"

// CaptureObserver は CaptureSubnet を通過したフレームの通知を受けます
type CaptureObserver interface {
	NotifySent(frame Frame, success bool)
	NotifyReceived(frame Frame)
}

// CaptureSubnet は別のサブネットを包み、送受信したフレームをオブザーバに通知します
type CaptureSubnet struct {
	Subnet
	mu        sync.RWMutex
	observers []CaptureObserver
}

func NewCaptureSubnet(inner Subnet) *CaptureSubnet {
	return &CaptureSubnet{Subnet: inner}
}

// Inner は包まれているサブネットを返します
func (c *CaptureSubnet) Inner() Subnet {
	return c.Subnet
}

func (c *CaptureSubnet) AddObserver(observer CaptureObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, observer)
}

func (c *CaptureSubnet) RemoveObserver(observer CaptureObserver) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, o := range c.observers {
		if o == observer {
			c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
			return true
		}
	}
	return false
}

func (c *CaptureSubnet) snapshot() []CaptureObserver {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]CaptureObserver(nil), c.observers...)
}

func (c *CaptureSubnet) Send(frame Frame) error {
	err := c.Subnet.Send(frame)
	for _, o := range c.snapshot() {
		o.NotifySent(frame, err == nil)
	}
	return err
}

func (c *CaptureSubnet) Receive() (Frame, error) {
	frame, err := c.Subnet.Receive()
	if err != nil {
		return frame, err
	}
	for _, o := range c.snapshot() {
		o.NotifyReceived(frame)
	}
	return frame, nil
}

// StartService は内側のサブネットが Service であれば開始します
func (c *CaptureSubnet) StartService() (bool, error) {
	if s, ok := c.Subnet.(Service); ok {
		return s.StartService()
	}
	return false, nil
}

func (c *CaptureSubnet) StopService() bool {
	if s, ok := c.Subnet.(Service); ok {
		return s.StopService()
	}
	return false
}

func (c *CaptureSubnet) IsInService() bool {
	if s, ok := c.Subnet.(Service); ok {
		return s.IsInService()
	}
	return true
}
