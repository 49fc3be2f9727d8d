package transaction

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/HuzefaGadi/echowand/echonet_lite/network"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrTIDExhausted は 16bit の TID がすべて使用中のときに返されます
	ErrTIDExhausted = errors.New("all transaction IDs are in use")
	// ErrAlreadyExecuted は開始済みのトランザクションを再度開始しようとしたときに返されます
	ErrAlreadyExecuted = errors.New("transaction already executed")
)

const tidSpace = 1 << 16

// Manager は実行中のトランザクションを TID で管理し、受信フレームを振り分けます
type Manager struct {
	transactions *xsync.MapOf[echonet_lite.TIDType, *Transaction]
	nextTID      atomic.Uint32
	logger       *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		transactions: xsync.NewMapOf[echonet_lite.TIDType, *Transaction](),
		logger:       logger,
	}
}

// Len は実行中のトランザクション数を返します
func (m *Manager) Len() int {
	return m.transactions.Size()
}

// Lookup は tid を使用中のトランザクションを返します
func (m *Manager) Lookup(tid echonet_lite.TIDType) (*Transaction, bool) {
	return m.transactions.Load(tid)
}

// allocate は未使用の TID を探して t を登録します。
// 全ての TID が使用中なら一周したところで ErrTIDExhausted を返します
func (m *Manager) allocate(t *Transaction) (echonet_lite.TIDType, error) {
	for i := 0; i < tidSpace; i++ {
		tid := echonet_lite.TIDType(m.nextTID.Add(1))
		if _, loaded := m.transactions.LoadOrStore(tid, t); !loaded {
			return tid, nil
		}
	}
	return 0, ErrTIDExhausted
}

// release は tid が t のものであるときだけ登録を解除します
func (m *Manager) release(tid echonet_lite.TIDType, t *Transaction) {
	m.transactions.Compute(tid, func(old *Transaction, loaded bool) (*Transaction, bool) {
		return old, !loaded || old == t
	})
}

// Process は受信フレームを実行中のトランザクションに渡します。受け取られたら true を返します。
// MainLoop のハンドラとして登録して使います
func (m *Manager) Process(subnet network.Subnet, frame network.Frame, processed bool) bool {
	if processed || frame.Message == nil {
		return false
	}
	msg := frame.Message
	if !msg.ESV.IsResponse() && !msg.ESV.IsNotification() {
		return false
	}

	t, ok := m.transactions.Load(msg.TID)
	if ok && t.receive(frame) {
		return true
	}
	if msg.ESV.IsResponse() {
		m.logger.Debug("対応するトランザクションがない応答を破棄しました", "tid", msg.TID, "from", frame.Sender, "esv", msg.ESV)
	}
	return false
}
