package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/HuzefaGadi/echowand/echonet_lite/network"
	"github.com/HuzefaGadi/echowand/echonet_lite/object"
	"github.com/HuzefaGadi/echowand/echonet_lite/transaction"
)

var ErrAlreadyStarted = errors.New("core already started")

// Core はサブネット、トランザクション、自ノードのオブジェクトを組み立てて受信ループを動かします。
//
// 受信フレームは次の順にハンドラへ渡されます:
//  1. トランザクションマネージャ (応答の対応付け)
//  2. 観測 (DoObserve)
//  3. 自ノード宛要求への応答
//  4. リモートノード情報の更新
type Core struct {
	subnet    *network.CaptureSubnet
	manager   *transaction.Manager
	loop      *transaction.MainLoop
	objects   *object.LocalObjectManager
	profile   *object.LocalObject
	processor *object.RequestProcessor
	observer  *observeProcessor
	capture   *captureObserver
	remotes   *RemoteNodes
	logger    *slog.Logger

	mu      sync.Mutex
	started bool
	loopErr chan error
}

// NewCore は subnet を使う Core を作成します。ノードプロファイルオブジェクトはこの時点で登録されます
func NewCore(subnet network.Subnet, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}
	capture := network.NewCaptureSubnet(subnet)
	objects := object.NewLocalObjectManager()
	profile, err := object.NewNodeProfileObject(objects)
	if err != nil {
		return nil, fmt.Errorf("ノードプロファイルの作成に失敗: %w", err)
	}

	c := &Core{
		subnet:    capture,
		manager:   transaction.NewManager(logger),
		loop:      transaction.NewMainLoop(capture, logger),
		objects:   objects,
		profile:   profile,
		processor: object.NewRequestProcessor(objects, logger),
		observer:  newObserveProcessor(),
		capture:   newCaptureObserver(),
		remotes:   newRemoteNodes(),
		logger:    logger,
	}
	capture.AddObserver(c.capture)

	c.loop.AddHandler(c.manager)
	c.loop.AddHandler(c.observer)
	c.loop.AddHandler(c.processor)
	c.loop.AddHandler(c.remotes)
	return c, nil
}

func (c *Core) Subnet() *network.CaptureSubnet {
	return c.subnet
}

func (c *Core) TransactionManager() *transaction.Manager {
	return c.manager
}

func (c *Core) LocalObjectManager() *object.LocalObjectManager {
	return c.objects
}

func (c *Core) NodeProfile() *object.LocalObject {
	return c.profile
}

func (c *Core) RemoteNodes() *RemoteNodes {
	return c.remotes
}

func (c *Core) Logger() *slog.Logger {
	return c.logger
}

// AddLocalObject は自ノードの機器オブジェクトを登録し、割り当てられた EOJ を返します
func (c *Core) AddLocalObject(o *object.LocalObject) (echonet_lite.EOJ, error) {
	return c.objects.Add(o)
}

// AddCaptureObserver はサブネットを通過した全フレームの通知先を追加します
func (c *Core) AddCaptureObserver(observer network.CaptureObserver) {
	c.subnet.AddObserver(observer)
}

func (c *Core) RemoveCaptureObserver(observer network.CaptureObserver) bool {
	return c.subnet.RemoveObserver(observer)
}

// StartService はサブネットを開始して受信ループを起動します
func (c *Core) StartService() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	if _, err := c.subnet.StartService(); err != nil {
		return err
	}
	c.started = true
	c.loopErr = make(chan error, 1)
	go func(ch chan<- error) {
		ch <- c.loop.Run()
	}(c.loopErr)
	c.logger.Info("サービスを開始しました", "node", c.subnet.LocalNode())
	return nil
}

// Close はサブネットを停止し、受信ループの終了を待ちます
func (c *Core) Close() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	ch := c.loopErr
	c.mu.Unlock()

	c.subnet.StopService()
	err := <-ch
	c.logger.Info("サービスを停止しました")
	return err
}

func (c *Core) IsStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}
