package object

import (
	"github.com/HuzefaGadi/echowand/echonet_lite"
)

// NodeProfileDelegate はノードプロファイルの自ノード情報 (0xD3〜0xD7) を
// LocalObjectManager に登録されている機器オブジェクトから生成します
type NodeProfileDelegate struct {
	manager *LocalObjectManager
}

func NewNodeProfileDelegate(manager *LocalObjectManager) *NodeProfileDelegate {
	return &NodeProfileDelegate{manager: manager}
}

func (d *NodeProfileDelegate) EPCs() []EPCType {
	return []EPCType{
		echonet_lite.EPCNumberOfSelfNodeInstances,
		echonet_lite.EPCNumberOfSelfNodeClasses,
		echonet_lite.EPCInstanceListNotification,
		echonet_lite.EPCSelfNodeInstanceListS,
		echonet_lite.EPCSelfNodeClassListS,
	}
}

func (d *NodeProfileDelegate) GetData(_ *LocalObject, epc EPCType) (Properties, bool) {
	switch epc {
	case echonet_lite.EPCNumberOfSelfNodeInstances:
		n := len(d.manager.DeviceObjects())
		return Properties{{EPC: epc, EDT: echonet_lite.Uint32ToBytes(uint32(n), 3)}}, true
	case echonet_lite.EPCNumberOfSelfNodeClasses:
		n := d.classList().Len()
		return Properties{{EPC: epc, EDT: echonet_lite.Uint32ToBytes(uint32(n), 2)}}, true
	case echonet_lite.EPCInstanceListNotification, echonet_lite.EPCSelfNodeInstanceListS:
		// 0xD6 も 0xD5 と同じリストを返す
		return pagesToProperties(epc, d.instanceList().Pages()), true
	case echonet_lite.EPCSelfNodeClassListS:
		return pagesToProperties(epc, d.classList().Pages()), true
	}
	return nil, false
}

func (d *NodeProfileDelegate) instanceList() *echonet_lite.PagedList[EOJ] {
	list := echonet_lite.NewInstanceList()
	for _, o := range d.manager.DeviceObjects() {
		list.Add(o.EOJ())
	}
	return list
}

func (d *NodeProfileDelegate) classList() *echonet_lite.PagedList[echonet_lite.EOJClassCode] {
	list := echonet_lite.NewClassList()
	for _, o := range d.manager.DeviceObjects() {
		list.Add(o.EOJ().ClassCode())
	}
	return list
}

// InstanceListProperties は 0xD5 で通知するインスタンスリストを返します
func (d *NodeProfileDelegate) InstanceListProperties() Properties {
	return pagesToProperties(echonet_lite.EPCInstanceListNotification, d.instanceList().Pages())
}

func pagesToProperties(epc EPCType, pages [][]byte) Properties {
	props := make(Properties, len(pages))
	for i, page := range pages {
		props[i] = Property{EPC: epc, EDT: page}
	}
	return props
}

// NewNodeProfileObject はノードプロファイルオブジェクトを作成して manager に登録します。
// extra で標準のプロパティを上書き・追加できます
func NewNodeProfileObject(manager *LocalObjectManager, extra ...Property) (*LocalObject, error) {
	identification := echonet_lite.IdentificationNumber{
		ManufacturerCode: echonet_lite.ManufacturerCodeExperimental,
	}
	props := Properties{
		*echonet_lite.OperationStatus(true).Property(),
		*echonet_lite.ECHONETLite_Version.Property(),
		*identification.Property(),
		*echonet_lite.ManufacturerCodeExperimental.Property(),
	}
	props = append(props, extra...)

	npo := NewLocalObject(echonet_lite.NodeProfile_ClassCode, props...)
	npo.AddDelegate(NewNodeProfileDelegate(manager))
	npo.SetAnnounce(echonet_lite.EPCOperationStatus, echonet_lite.EPCInstanceListNotification)
	if _, err := manager.Add(npo); err != nil {
		return nil, err
	}
	return npo, nil
}
