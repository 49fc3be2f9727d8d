package object

import (
	"sync"

	"github.com/HuzefaGadi/echowand/echonet_lite"
	"golang.org/x/exp/slices"
)

type (
	EOJ         = echonet_lite.EOJ
	EPCType     = echonet_lite.EPCType
	Property    = echonet_lite.Property
	Properties  = echonet_lite.Properties
	PropertyMap = echonet_lite.PropertyMap
)

// Delegate は LocalObject のプロパティ値を動的に生成します。
// GetData が false を返した場合は LocalObject に保持している値が使われます
type Delegate interface {
	// EPCs は Delegate が生成するプロパティの一覧です。Get プロパティマップに含まれます
	EPCs() []EPCType
	// GetData は epc の値を返します。値が複数のプロパティに分かれる場合は複数返します
	GetData(object *LocalObject, epc EPCType) (Properties, bool)
}

// LocalObject は自ノードが公開する ECHONET オブジェクトです
type LocalObject struct {
	mu         sync.RWMutex
	eoj        EOJ
	properties map[EPCType][]byte
	settable   PropertyMap
	announce   PropertyMap
	delegates  []Delegate
}

// NewLocalObject はクラス classCode のオブジェクトを作成します。
// インスタンスコードは LocalObjectManager.Add で割り当てられます
func NewLocalObject(classCode echonet_lite.EOJClassCode, props ...Property) *LocalObject {
	o := &LocalObject{
		eoj:        echonet_lite.MakeEOJ(classCode, 0),
		properties: make(map[EPCType][]byte),
	}
	for _, p := range props {
		o.properties[p.EPC] = slices.Clone(p.EDT)
	}
	return o
}

func (o *LocalObject) EOJ() EOJ {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.eoj
}

func (o *LocalObject) setInstanceCode(instance echonet_lite.EOJInstanceCode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.eoj = echonet_lite.MakeEOJ(o.eoj.ClassCode(), instance)
}

// AddDelegate は動的なプロパティを追加します
func (o *LocalObject) AddDelegate(delegate Delegate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delegates = append(o.delegates, delegate)
}

// SetSettable は Set 要求で書き込めるプロパティを指定します
func (o *LocalObject) SetSettable(epcs ...EPCType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, epc := range epcs {
		o.settable.Set(epc)
	}
}

// SetAnnounce は値が変わったときに INF で通知するプロパティを指定します
func (o *LocalObject) SetAnnounce(epcs ...EPCType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, epc := range epcs {
		o.announce.Set(epc)
	}
}

func (o *LocalObject) IsSettable(epc EPCType) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.settable.Has(epc)
}

func (o *LocalObject) IsAnnounced(epc EPCType) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.announce.Has(epc)
}

// GetPropertyMap は読み出せるプロパティのマップです。プロパティマップ自身も含みます
func (o *LocalObject) GetPropertyMap() PropertyMap {
	o.mu.RLock()
	defer o.mu.RUnlock()
	m := echonet_lite.NewPropertyMap(
		echonet_lite.EPCStatusAnnouncementPropertyMap,
		echonet_lite.EPCSetPropertyMap,
		echonet_lite.EPCGetPropertyMap,
	)
	for epc := range o.properties {
		m.Set(epc)
	}
	for _, d := range o.delegates {
		for _, epc := range d.EPCs() {
			m.Set(epc)
		}
	}
	return m
}

func (o *LocalObject) SetPropertyMap() PropertyMap {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.settable
}

func (o *LocalObject) AnnouncementPropertyMap() PropertyMap {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.announce
}

// Get は epc の値を返します。プロパティマップは現在の状態から生成されます
func (o *LocalObject) Get(epc EPCType) (Properties, bool) {
	switch epc {
	case echonet_lite.EPCGetPropertyMap:
		return Properties{{EPC: epc, EDT: o.GetPropertyMap().Encode()}}, true
	case echonet_lite.EPCSetPropertyMap:
		return Properties{{EPC: epc, EDT: o.SetPropertyMap().Encode()}}, true
	case echonet_lite.EPCStatusAnnouncementPropertyMap:
		return Properties{{EPC: epc, EDT: o.AnnouncementPropertyMap().Encode()}}, true
	}

	o.mu.RLock()
	delegates := slices.Clone(o.delegates)
	edt, ok := o.properties[epc]
	o.mu.RUnlock()

	for _, d := range delegates {
		if props, ok := d.GetData(o, epc); ok {
			return props, true
		}
	}
	if !ok {
		return nil, false
	}
	return Properties{{EPC: epc, EDT: slices.Clone(edt)}}, true
}

// Update は書き込み可否に関係なく値を更新します。値が変わったら true を返します
func (o *LocalObject) Update(prop Property) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	old, ok := o.properties[prop.EPC]
	if ok && slices.Equal(old, prop.EDT) {
		return false
	}
	o.properties[prop.EPC] = slices.Clone(prop.EDT)
	return true
}

// GetProperties は要求されたプロパティの値を返します。第2返り値はすべて取得できたときに true。
// 取得できなかったプロパティは EDT が空で返されます
func (o *LocalObject) GetProperties(requested Properties) (Properties, bool) {
	result := make(Properties, 0, len(requested))
	success := true
	for _, p := range requested {
		props, ok := o.Get(p.EPC)
		if !ok {
			success = false
			result = append(result, Property{EPC: p.EPC, EDT: []byte{}})
			continue
		}
		result = append(result, props...)
	}
	return result, success
}

// SetProperties は要求されたプロパティを書き込みます。第2返り値はすべて書き込めたときに true。
// 書き込めたプロパティは EDT が空、書き込めなかったプロパティは要求の値のまま返されます。
// 第3返り値は値が変わった通知対象のプロパティです
func (o *LocalObject) SetProperties(requested Properties) (Properties, bool, Properties) {
	result := make(Properties, 0, len(requested))
	var announce Properties
	success := true
	for _, p := range requested {
		if len(p.EDT) == 0 || !o.IsSettable(p.EPC) {
			success = false
			result = append(result, p)
			continue
		}
		if o.Update(p) && o.IsAnnounced(p.EPC) {
			announce = append(announce, p)
		}
		result = append(result, Property{EPC: p.EPC, EDT: []byte{}})
	}
	return result, success, announce
}
