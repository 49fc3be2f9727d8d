package echonet_lite

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ECHONET Lite 資料
// https://echonet.jp/spec_g/
//  https://echonet.jp/spec_v114_lite/ (ECHONET Lite)
//  https://echonet.jp/spec_object_rr2/ (ECHONET Liteオブジェクト)

// ECHONETLiteMessage はECHONET Liteのメッセージを表します。
type ECHONETLiteMessage struct {
	EHD              EHDType    // ヘッダ
	TID              TIDType    // トランザクションID
	SEOJ             EOJ        // 送信元ECHONETオブジェクト
	DEOJ             EOJ        // 宛先ECHONETオブジェクト
	ESV              ESVType    // サービスコード
	Properties       Properties // プロパティリスト
	SetGetProperties Properties // SetGetのときのGetプロパティ
}

const (
	EHD_ECHONETLite EHDType = 0x1081 // ECHONET Liteのヘッダ

	ECHONETLitePort = 3610 // ECHONET Liteのポート番号

	// ECHONETLiteMulticastAddress はECHONET Liteの標準マルチキャストグループ
	ECHONETLiteMulticastAddress = "224.0.23.0"

	// minMessageLength は EHD(2)+TID(2)+SEOJ(3)+DEOJ(3)+ESV(1)+OPC(1)
	minMessageLength = 12
)

var (
	ErrShortMessage    = errors.New("message too short")
	ErrInvalidProperty = errors.New("invalid property length")
	// ErrMalformedMessage はストリームから1メッセージ分を読み切ったが中身が不正だったことを表します。
	// 区切りは保たれているので、続きのメッセージはそのまま読めます
	ErrMalformedMessage = errors.New("malformed message")
)

type EHDType uint16

func DecodeEHD(data []byte) EHDType {
	if len(data) < 2 {
		return 0
	}
	return EHDType(data[0])<<8 + EHDType(data[1])
}
func (e EHDType) Encode() []byte {
	return []byte{byte(e >> 8), byte(e & 0xff)}
}

func (e EHDType) String() string {
	switch e {
	case EHD_ECHONETLite:
		return "ECHONET Lite"
	default:
		return fmt.Sprintf("(%X)", uint16(e))
	}
}

// TIDType はトランザクションIDです。応答と要求の対応付けに使われます。
type TIDType uint16

func DecodeTID(data []byte) TIDType {
	if len(data) < 2 {
		return 0
	}
	return TIDType(data[0])<<8 + TIDType(data[1])
}
func (t TIDType) Encode() []byte {
	return []byte{byte(t >> 8), byte(t & 0xff)}
}

// EOJ はメッセージの主体となるオブジェクトを返します。応答・通知なら SEOJ、要求なら DEOJ です。
func (m *ECHONETLiteMessage) EOJ() EOJ {
	switch m.ESV {
	case ESVSet_Res, ESVGet_Res, ESVINF, ESVINFC, ESVINFC_Res, ESVSetGet_Res,
		ESVSetI_SNA, ESVSetC_SNA, ESVGet_SNA, ESVINF_REQ_SNA, ESVSetGet_SNA:
		return m.SEOJ
	}
	return m.DEOJ
}

func (m *ECHONETLiteMessage) String() string {
	parts := []string{
		fmt.Sprintf("EHD:%v", m.EHD),
		fmt.Sprintf("TID:%v", m.TID),
		fmt.Sprintf("SEOJ:%v", m.SEOJ),
		fmt.Sprintf("DEOJ:%v", m.DEOJ),
		fmt.Sprintf("ESV:%v", m.ESV),
	}
	if m.ESV.ISSetGet() {
		parts = append(parts,
			fmt.Sprintf("Properties(Set):%v", m.Properties),
			fmt.Sprintf("Properties(Get):%v", m.SetGetProperties),
		)
	} else {
		parts = append(parts,
			fmt.Sprintf("Properties:%v", m.Properties),
		)
	}
	return strings.Join(parts, ", ")
}

type ESVType byte

func (e ESVType) Encode() []byte {
	return []byte{byte(e)}
}

const (
	ESVSetI    ESVType = 0x60 // SetI プロパティ値書き込み要求（応答不要）
	ESVSetC    ESVType = 0x61 // SetC プロパティ値書き込み要求（応答要）
	ESVGet     ESVType = 0x62 // Get プロパティ値読み出し要求
	ESVINF_REQ ESVType = 0x63 // INF_REQ プロパティ値通知要求
	ESVSetGet  ESVType = 0x6e // SetGet プロパティ値書き込み・読み出し要求

	ESVSet_Res    ESVType = 0x71 // Set_Res プロパティ値書き込み応答
	ESVGet_Res    ESVType = 0x72 // Get_Res プロパティ値読み出し応答
	ESVINF        ESVType = 0x73 // INF プロパティ値通知
	ESVINFC       ESVType = 0x74 // INFC プロパティ値通知（応答要）
	ESVINFC_Res   ESVType = 0x7a // INFC_Res プロパティ値通知応答
	ESVSetGet_Res ESVType = 0x7e // SetGet_Res プロパティ値書き込み・読み出し応答

	ESVSetI_SNA    ESVType = 0x50 // SetI_SNA プロパティ値書き込み要求不可応答
	ESVSetC_SNA    ESVType = 0x51 // SetC_SNA プロパティ値書き込み要求不可応答
	ESVGet_SNA     ESVType = 0x52 // Get_SNA プロパティ値読み出し要求不可応答
	ESVINF_REQ_SNA ESVType = 0x53 // INF_REQ_SNA プロパティ値通知要求不可応答
	ESVSetGet_SNA  ESVType = 0x5e // SetGet_SNA プロパティ値書き込み・読み出し要求不可応答
)

func (e ESVType) String() string {
	switch e {
	case ESVSetI:
		return "SetI"
	case ESVSetC:
		return "SetC"
	case ESVGet:
		return "Get"
	case ESVINF_REQ:
		return "INF_REQ"
	case ESVSetGet:
		return "SetGet"
	case ESVINF:
		return "INF"
	case ESVINFC:
		return "INFC"
	case ESVINFC_Res:
		return "INFC_Res"
	case ESVSet_Res:
		return "Set_Res"
	case ESVGet_Res:
		return "Get_Res"
	case ESVSetGet_Res:
		return "SetGet_Res"
	case ESVSetI_SNA:
		return "SetI_SNA"
	case ESVSetC_SNA:
		return "SetC_SNA"
	case ESVGet_SNA:
		return "Get_SNA"
	case ESVINF_REQ_SNA:
		return "INF_REQ_SNA"
	case ESVSetGet_SNA:
		return "SetGet_SNA"

	default:
		return fmt.Sprintf("(%X)", byte(e))
	}
}

// ESVSetI -> 成功:応答無し, 失敗: ESVSetI_SNA
// ESVSetC -> 成功:ESVSet_Res, 失敗: ESVSetC_SNA
// ESVGet -> 成功:ESVGet_Res, 失敗: ESVGet_SNA
// ESVINF_REQ -> 成功:ESVINF, 失敗: ESVINF_REQ_SNA
// ESVSetGet -> 成功:ESVSetGet_Res, 失敗: ESVSetGet_SNA
// ESVINFC -> 成功:ESVINFC_Res
func (e ESVType) ResponseESVs() []ESVType {
	switch e {
	case ESVSetI:
		return []ESVType{ESVSetI_SNA}
	case ESVSetC:
		return []ESVType{ESVSet_Res, ESVSetC_SNA}
	case ESVGet:
		return []ESVType{ESVGet_Res, ESVGet_SNA}
	case ESVINF_REQ:
		return []ESVType{ESVINF, ESVINF_REQ_SNA}
	case ESVSetGet:
		return []ESVType{ESVSetGet_Res, ESVSetGet_SNA}
	case ESVINFC:
		return []ESVType{ESVINFC_Res}
	default:
		return nil
	}
}

// IsResponseTo は e が req に対する応答コードかどうかを返します。
func (e ESVType) IsResponseTo(req ESVType) bool {
	for _, r := range req.ResponseESVs() {
		if r == e {
			return true
		}
	}
	return false
}

// IsRequest は相手に処理を要求するサービスコードかどうかを返します。
func (e ESVType) IsRequest() bool {
	switch e {
	case ESVSetI, ESVSetC, ESVGet, ESVINF_REQ, ESVSetGet:
		return true
	}
	return false
}

// IsResponse は要求に対する応答 (INF_REQ に対する INF を除く) かどうかを返します。
func (e ESVType) IsResponse() bool {
	switch e {
	case ESVSet_Res, ESVGet_Res, ESVINFC_Res, ESVSetGet_Res,
		ESVSetI_SNA, ESVSetC_SNA, ESVGet_SNA, ESVINF_REQ_SNA, ESVSetGet_SNA:
		return true
	}
	return false
}

// IsNotification は INF / INFC かどうかを返します。
func (e ESVType) IsNotification() bool {
	return e == ESVINF || e == ESVINFC
}

func (e ESVType) ISSetGet() bool {
	return e == ESVSetGet || e == ESVSetGet_Res || e == ESVSetGet_SNA
}

func parseProperties(data []byte, pos int) (int, []Property, error) {
	if pos >= len(data) {
		return pos, nil, fmt.Errorf("OPC がありません: %w", ErrInvalidProperty)
	}
	OPC := data[pos]
	pos++
	properties := make([]Property, 0, OPC)
	for i := 0; i < int(OPC); i++ {
		if pos+2 > len(data) {
			return pos, nil, fmt.Errorf("プロパティの長さが不正です: %w", ErrInvalidProperty)
		}
		prop := Property{
			EPC: EPCType(data[pos]),
		}
		PDC := int(data[pos+1])
		pos += 2
		if PDC > 0 {
			if pos+PDC > len(data) {
				return pos, nil, fmt.Errorf("EDTの長さが不正です: %w", ErrInvalidProperty)
			}
			prop.EDT = append([]byte(nil), data[pos:pos+PDC]...)
			pos += PDC
		}
		properties = append(properties, prop)
	}
	return pos, properties, nil
}

// ParseECHONETLiteMessage は受信したバイト列からECHONET Liteメッセージをパースします。
func ParseECHONETLiteMessage(data []byte) (*ECHONETLiteMessage, error) {
	if len(data) < minMessageLength {
		return nil, fmt.Errorf("パケットが短すぎます: %d バイト: %w", len(data), ErrShortMessage)
	}

	msg := &ECHONETLiteMessage{
		EHD:  DecodeEHD(data[0:2]),
		TID:  DecodeTID(data[2:4]),
		SEOJ: DecodeEOJ(data[4:7]),
		DEOJ: DecodeEOJ(data[7:10]),
		ESV:  ESVType(data[10]),
	}
	if msg.EHD != EHD_ECHONETLite {
		return nil, fmt.Errorf("EHD が不正です: %v", msg.EHD)
	}
	pos, properties, err := parseProperties(data, 11)
	if err != nil {
		return nil, err
	}
	msg.Properties = properties

	if msg.ESV.ISSetGet() {
		_, properties, err = parseProperties(data, pos)
		if err != nil {
			return nil, err
		}
		msg.SetGetProperties = properties
	}
	return msg, nil
}

// ReadECHONETLiteMessage は TCP のようなストリームから1メッセージ分だけ読み込みます。
// ストリームには区切りが無いため、OPC と PDC を順に読んで長さを決定します。
func ReadECHONETLiteMessage(r *bufio.Reader) (*ECHONETLiteMessage, error) {
	header := make([]byte, minMessageLength-1)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	buf := append([]byte(nil), header...)

	readProperties := func() error {
		opc, err := r.ReadByte()
		if err != nil {
			return err
		}
		buf = append(buf, opc)
		for i := 0; i < int(opc); i++ {
			head := make([]byte, 2)
			if _, err := io.ReadFull(r, head); err != nil {
				return err
			}
			edt := make([]byte, head[1])
			if _, err := io.ReadFull(r, edt); err != nil {
				return err
			}
			buf = append(buf, head...)
			buf = append(buf, edt...)
		}
		return nil
	}

	if err := readProperties(); err != nil {
		return nil, err
	}
	if ESVType(header[10]).ISSetGet() {
		if err := readProperties(); err != nil {
			return nil, err
		}
	}
	msg, err := ParseECHONETLiteMessage(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return msg, nil
}

type IEncodable interface {
	Encode() []byte
}

func encode(encodables ...IEncodable) []byte {
	data := make([][]byte, len(encodables))
	for i, encodable := range encodables {
		data[i] = encodable.Encode()
	}
	return flattenBytes(data)
}

func (m *ECHONETLiteMessage) Encode() []byte {
	EHD := m.EHD
	if EHD == 0 {
		EHD = EHD_ECHONETLite
	}
	if m.ESV.ISSetGet() {
		return encode(EHD, m.TID, m.SEOJ, m.DEOJ, m.ESV, m.Properties, m.SetGetProperties)
	}
	return encode(EHD, m.TID, m.SEOJ, m.DEOJ, m.ESV, m.Properties)
}
