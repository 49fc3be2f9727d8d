package object

import (
	"log/slog"

	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/HuzefaGadi/echowand/echonet_lite/network"
)

// RequestProcessor は自ノードのオブジェクト宛の要求に応答します。
// transaction.MainLoop のハンドラとして登録して使います
type RequestProcessor struct {
	manager *LocalObjectManager
	logger  *slog.Logger
}

func NewRequestProcessor(manager *LocalObjectManager, logger *slog.Logger) *RequestProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestProcessor{manager: manager, logger: logger}
}

// Process は要求を処理したら true を返します。宛先のオブジェクトが無い要求は処理しません
func (p *RequestProcessor) Process(subnet network.Subnet, frame network.Frame, processed bool) bool {
	if processed || frame.Message == nil {
		return false
	}
	msg := frame.Message
	if !msg.ESV.IsRequest() && msg.ESV != echonet_lite.ESVINFC {
		return false
	}

	objects := p.manager.Find(msg.DEOJ)
	if len(objects) == 0 {
		p.logger.Debug("宛先のオブジェクトがありません", "from", frame.Sender, "DEOJ", msg.DEOJ, "esv", msg.ESV)
		return false
	}

	// 全インスタンス指定なら該当するオブジェクトがそれぞれ応答する
	for _, object := range objects {
		p.processObject(subnet, frame, object)
	}
	return true
}

func (p *RequestProcessor) processObject(subnet network.Subnet, frame network.Frame, object *LocalObject) {
	msg := frame.Message
	eoj := object.EOJ()

	switch msg.ESV {
	case echonet_lite.ESVGet:
		responses, ok := object.GetProperties(msg.Properties)
		esv := echonet_lite.ESVGet_Res
		if !ok {
			esv = echonet_lite.ESVGet_SNA
		}
		p.reply(subnet, frame, eoj, esv, responses, nil)

	case echonet_lite.ESVSetC, echonet_lite.ESVSetI:
		responses, ok, changed := object.SetProperties(msg.Properties)
		if ok {
			p.announce(subnet, eoj, changed)
		}
		switch {
		case msg.ESV == echonet_lite.ESVSetC && ok:
			p.reply(subnet, frame, eoj, echonet_lite.ESVSet_Res, responses, nil)
		case msg.ESV == echonet_lite.ESVSetC:
			p.reply(subnet, frame, eoj, echonet_lite.ESVSetC_SNA, responses, nil)
		case !ok:
			// SetI は失敗したときだけ応答する
			p.reply(subnet, frame, eoj, echonet_lite.ESVSetI_SNA, responses, nil)
		}

	case echonet_lite.ESVSetGet:
		setResult, setOK, changed := object.SetProperties(msg.Properties)
		getResult, getOK := object.GetProperties(msg.SetGetProperties)
		if setOK {
			p.announce(subnet, eoj, changed)
		}
		esv := echonet_lite.ESVSetGet_Res
		if !setOK || !getOK {
			esv = echonet_lite.ESVSetGet_SNA
		}
		p.reply(subnet, frame, eoj, esv, setResult, getResult)

	case echonet_lite.ESVINF_REQ:
		result, ok := object.GetProperties(msg.Properties)
		if !ok {
			p.reply(subnet, frame, eoj, echonet_lite.ESVINF_REQ_SNA, result, nil)
			return
		}
		// 通知要求への応答は同じ TID でグループに送る
		p.send(subnet, network.Frame{
			Sender:   subnet.LocalNode(),
			Receiver: subnet.GroupNode(),
			Message: &echonet_lite.ECHONETLiteMessage{
				EHD:        echonet_lite.EHD_ECHONETLite,
				TID:        msg.TID,
				SEOJ:       eoj,
				DEOJ:       msg.SEOJ,
				ESV:        echonet_lite.ESVINF,
				Properties: result,
			},
		})

	case echonet_lite.ESVINFC:
		p.reply(subnet, frame, eoj, echonet_lite.ESVINFC_Res, echonet_lite.EPCsToProperties(epcsOf(msg.Properties)...), nil)

	default:
		p.logger.Debug("未対応のESV", "esv", msg.ESV)
	}
}

func epcsOf(props Properties) []EPCType {
	epcs := make([]EPCType, len(props))
	for i, p := range props {
		epcs[i] = p.EPC
	}
	return epcs
}

// reply は要求の送信元に、同じ TID と同じ接続で応答します
func (p *RequestProcessor) reply(subnet network.Subnet, req network.Frame, seoj EOJ, esv echonet_lite.ESVType, props, setGetProps Properties) {
	p.send(subnet, network.Frame{
		Sender:   subnet.LocalNode(),
		Receiver: req.Sender,
		Conn:     req.Conn,
		Message: &echonet_lite.ECHONETLiteMessage{
			EHD:              echonet_lite.EHD_ECHONETLite,
			TID:              req.Message.TID,
			SEOJ:             seoj,
			DEOJ:             req.Message.SEOJ,
			ESV:              esv,
			Properties:       props,
			SetGetProperties: setGetProps,
		},
	})
}

// announce は通知対象のプロパティが変わったときに INF をグループへ送ります
func (p *RequestProcessor) announce(subnet network.Subnet, eoj EOJ, changed Properties) {
	if len(changed) == 0 {
		return
	}
	p.send(subnet, network.Frame{
		Sender:   subnet.LocalNode(),
		Receiver: subnet.GroupNode(),
		Message: &echonet_lite.ECHONETLiteMessage{
			EHD:        echonet_lite.EHD_ECHONETLite,
			SEOJ:       eoj,
			DEOJ:       echonet_lite.NodeProfileObject.AllInstance(),
			ESV:        echonet_lite.ESVINF,
			Properties: changed,
		},
	})
}

func (p *RequestProcessor) send(subnet network.Subnet, frame network.Frame) {
	if err := subnet.Send(frame); err != nil {
		p.logger.Warn("応答の送信に失敗しました", "to", frame.Receiver, "esv", frame.Message.ESV, "err", err)
	}
}
