package object

import (
	"errors"
	"fmt"
	"sync"

	"github.com/HuzefaGadi/echowand/echonet_lite"
)

// MaxInstanceCode はローカルオブジェクトに割り当てるインスタンスコードの上限です
const MaxInstanceCode = 0x7F

var (
	ErrTooManyObjects = errors.New("no unused instance code")
	ErrObjectNotFound = errors.New("object not found")
	ErrAlreadyAdded   = errors.New("object already added")
)

// LocalObjectManager は自ノードのオブジェクトを登録順に保持します
type LocalObjectManager struct {
	mu      sync.RWMutex
	objects []*LocalObject
	byEOJ   map[EOJ]*LocalObject
}

func NewLocalObjectManager() *LocalObjectManager {
	return &LocalObjectManager{
		byEOJ: make(map[EOJ]*LocalObject),
	}
}

func (m *LocalObjectManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Add は同じクラスで未使用のインスタンスコード (1〜0x7F) を割り当てて object を登録します
func (m *LocalObjectManager) Add(object *LocalObject) (EOJ, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.byEOJ[object.EOJ()]; ok && current == object {
		return 0, fmt.Errorf("%w: %v", ErrAlreadyAdded, object.EOJ())
	}

	class := object.EOJ().ClassCode()
	for i := 1; i <= MaxInstanceCode; i++ {
		eoj := echonet_lite.MakeEOJ(class, echonet_lite.EOJInstanceCode(i))
		if _, used := m.byEOJ[eoj]; used {
			continue
		}
		object.setInstanceCode(echonet_lite.EOJInstanceCode(i))
		m.byEOJ[eoj] = object
		m.objects = append(m.objects, object)
		return eoj, nil
	}
	return 0, fmt.Errorf("%w: class %v", ErrTooManyObjects, class)
}

func (m *LocalObjectManager) Get(eoj EOJ) (*LocalObject, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.byEOJ[eoj]
	return o, ok
}

// Find は宛先 dest に該当するオブジェクトを返します。インスタンスコード 0 なら同じクラスのすべてです
func (m *LocalObjectManager) Find(dest EOJ) []*LocalObject {
	return m.Select(func(o *LocalObject) bool {
		return o.EOJ().Matches(dest)
	})
}

// Select は条件に合うオブジェクトを登録順に返します
func (m *LocalObjectManager) Select(match func(*LocalObject) bool) []*LocalObject {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*LocalObject
	for _, o := range m.objects {
		if match(o) {
			result = append(result, o)
		}
	}
	return result
}

func (m *LocalObjectManager) WithClass(class echonet_lite.EOJClassCode) []*LocalObject {
	return m.Select(func(o *LocalObject) bool {
		return o.EOJ().ClassCode() == class
	})
}

// DeviceObjects は機器オブジェクト (プロファイル以外) を返します
func (m *LocalObjectManager) DeviceObjects() []*LocalObject {
	return m.Select(func(o *LocalObject) bool {
		return o.EOJ().IsDeviceObject()
	})
}

func (m *LocalObjectManager) All() []*LocalObject {
	return m.Select(func(*LocalObject) bool { return true })
}
