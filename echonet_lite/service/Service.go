package service

import (
	"sync"
	"time"

	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/HuzefaGadi/echowand/echonet_lite/network"
	"github.com/HuzefaGadi/echowand/echonet_lite/transaction"
)

// Service は Core の上で要求の送信や通知の観測を行うための窓口です。
// Do で始まるメソッドはトランザクションを開始してすぐに戻ります。結果は Join で待ちます
type Service struct {
	core *Core

	mu      sync.Mutex
	timeout time.Duration
}

func NewService(core *Core) *Service {
	return &Service{core: core, timeout: transaction.DefaultTimeout}
}

func (s *Service) Core() *Core {
	return s.core
}

// SetTimeout は以降のトランザクションで応答を待つ時間を設定します
func (s *Service) SetTimeout(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = timeout
}

func (s *Service) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

func (s *Service) subnet() network.Subnet {
	return s.core.Subnet()
}

// RemoteNode は名前からノードを求めます
func (s *Service) RemoteNode(name string) (network.Node, error) {
	return s.subnet().RemoteNode(name)
}

func (s *Service) GroupNode() network.Node {
	return s.subnet().GroupNode()
}

// start はトランザクションを作成して listener を登録してから開始します
func (s *Service) start(config transaction.Config, listener transaction.Listener) error {
	t := transaction.NewTransaction(s.subnet(), s.core.TransactionManager(), config)
	t.SetTimeout(s.Timeout())
	t.AddListener(listener)
	return t.Start()
}

// DoGet は node の eoj に epcs の Get を送ります。node にグループノードを指定すると全ノードに問い合わせます
func (s *Service) DoGet(node network.Node, eoj echonet_lite.EOJ, epcs ...echonet_lite.EPCType) (*Result, error) {
	result := newResult()
	err := s.start(transaction.SetGetConfig{
		Receiver: node,
		SEOJ:     echonet_lite.NodeProfileObject,
		DEOJ:     eoj,
		Get:      epcs,
	}, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DoSet は node の eoj に props を書き込みます。responseRequired なら SetC、そうでなければ SetI を送ります
func (s *Service) DoSet(node network.Node, eoj echonet_lite.EOJ, props echonet_lite.Properties, responseRequired bool) (*Result, error) {
	result := newResult()
	err := s.start(transaction.SetGetConfig{
		Receiver:             node,
		SEOJ:                 echonet_lite.NodeProfileObject,
		DEOJ:                 eoj,
		Set:                  props,
		ResponseRequiredFlag: responseRequired,
	}, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DoSetGet は書き込みと読み出しを1つの SetGet で行います
func (s *Service) DoSetGet(node network.Node, eoj echonet_lite.EOJ, set echonet_lite.Properties, get []echonet_lite.EPCType) (*Result, error) {
	result := newResult()
	err := s.start(transaction.SetGetConfig{
		Receiver: node,
		SEOJ:     echonet_lite.NodeProfileObject,
		DEOJ:     eoj,
		Set:      set,
		Get:      get,
	}, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DoNotify は自ノードの seoj から props を通知します。node が nil ならグループに送ります。
// responseRequired なら INFC を送り、INFC_Res を待ちます
func (s *Service) DoNotify(node network.Node, seoj, deoj echonet_lite.EOJ, props echonet_lite.Properties, responseRequired bool) (*Result, error) {
	result := newResult()
	err := s.start(transaction.AnnounceConfig{
		Receiver:             node,
		SEOJ:                 seoj,
		DEOJ:                 deoj,
		Properties:           props,
		ResponseRequiredFlag: responseRequired,
	}, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DoNotifyInstanceList は自ノードのインスタンスリスト (0xD5) をグループに通知します
func (s *Service) DoNotifyInstanceList() (*Result, error) {
	props, ok := s.core.NodeProfile().Get(echonet_lite.EPCInstanceListNotification)
	if !ok {
		return nil, ErrNoInstanceList
	}
	return s.DoNotify(nil, echonet_lite.NodeProfileObject, echonet_lite.NodeProfileObject, props, false)
}

// DoInfRequest は node の eoj に INF_REQ を送ります。応答の INF は Result に記録されます
func (s *Service) DoInfRequest(node network.Node, eoj echonet_lite.EOJ, epcs ...echonet_lite.EPCType) (*Result, error) {
	result := newResult()
	err := s.start(transaction.InfRequestConfig{
		Receiver: node,
		SEOJ:     echonet_lite.NodeProfileObject,
		DEOJ:     eoj,
		EPCs:     epcs,
	}, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DoUpdateRemoteInfo はグループに 0xD6 の Get を送り、応答したノードとインスタンスを RemoteNodes に登録します
func (s *Service) DoUpdateRemoteInfo() (*UpdateRemoteInfoResult, error) {
	result := &UpdateRemoteInfoResult{Result: newResult(), remotes: s.core.RemoteNodes()}
	err := s.start(transaction.SetGetConfig{
		Receiver: s.GroupNode(),
		SEOJ:     echonet_lite.NodeProfileObject,
		DEOJ:     echonet_lite.NodeProfileObject,
		Get:      []echonet_lite.EPCType{echonet_lite.EPCSelfNodeInstanceListS},
	}, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DoObserve は matcher に一致する通知 (INF / INFC) の記録を始めます
func (s *Service) DoObserve(matcher FrameMatcher) *ObserveResult {
	o := &ObserveResult{
		matcher:   matcher,
		processor: s.core.observer,
		updates:   make(chan ResultFrame, observeUpdatesSize),
	}
	s.core.observer.add(o)
	return o
}

// DoCapture はサブネットを通過する全フレームの記録を始めます
func (s *Service) DoCapture() *CaptureResult {
	c := &CaptureResult{observer: s.core.capture}
	s.core.capture.add(c)
	return c
}

// LocalEOJs は自ノードのオブジェクトの EOJ を返します
func (s *Service) LocalEOJs() []echonet_lite.EOJ {
	objects := s.core.LocalObjectManager().All()
	eojs := make([]echonet_lite.EOJ, len(objects))
	for i, o := range objects {
		eojs[i] = o.EOJ()
	}
	return eojs
}

// LocalData は自ノードのオブジェクトのプロパティを読み出します
func (s *Service) LocalData(eoj echonet_lite.EOJ, epc echonet_lite.EPCType) (echonet_lite.Properties, error) {
	o, ok := s.core.LocalObjectManager().Get(eoj)
	if !ok {
		return nil, objectNotFound(eoj)
	}
	props, ok := o.Get(epc)
	if !ok {
		return nil, ErrPropertyNotFound{EOJ: eoj, EPC: epc}
	}
	return props, nil
}

// SetLocalData は自ノードのオブジェクトのプロパティを書き換えます。
// 通知対象のプロパティが変化したときはグループに INF を送ります
func (s *Service) SetLocalData(eoj echonet_lite.EOJ, prop echonet_lite.Property) error {
	o, ok := s.core.LocalObjectManager().Get(eoj)
	if !ok {
		return objectNotFound(eoj)
	}
	if !o.Update(prop) || !o.IsAnnounced(prop.EPC) {
		return nil
	}
	_, err := s.DoNotify(nil, eoj, echonet_lite.NodeProfileObject.AllInstance(), echonet_lite.Properties{prop}, false)
	return err
}

// RemoteNodes はこれまでに分かった他ノードを返します
func (s *Service) RemoteNodes() []RemoteNode {
	return s.core.RemoteNodes().All()
}
