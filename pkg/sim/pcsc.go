package sim

import (
	"encoding/hex"
	"errors"

	"github.com/vowifi/ikev2client/pkg/logger"
)

// PCSCSIMProvider PC/SC 智能卡读卡器接口
// 用于与物理 SIM 卡通信
// 注意: 完整实现需要 CGO 和 libpcsclite
type PCSCSIMProvider struct {
	readerName string
	// 实际实现需要:
	// context *scard.Context
	// card    *scard.Card
}

// NewPCSCSIMProvider 创建 PC/SC 读卡器接口
func NewPCSCSIMProvider(readerName string) (*PCSCSIMProvider, error) {
	logger.Info("PC/SC SIM: 尝试连接到读卡器", logger.String("reader", readerName))

	// 实际实现需要 CGO:
	// context, err := scard.EstablishContext()
	// readers, err := context.ListReaders()
	// card, err := context.Connect(readerName, scard.ShareShared, scard.ProtocolAny)

	return &PCSCSIMProvider{
		readerName: readerName,
	}, nil
}

// GetIMSI 读取 IMSI
func (p *PCSCSIMProvider) GetIMSI() (string, error) {
	// APDU 命令: SELECT DF_GSM (3F00/7F20) 然后 READ BINARY EF_IMSI (6F07)
	// 或对于 USIM: SELECT ADF_USIM 然后 READ BINARY EF_IMSI

	// 示例 APDU:
	// SELECT MF:    00 A4 04 00 02 3F 00
	// SELECT USIM:  00 A4 04 04 10 A0 00 00 00 87 10 02 FF FF FF FF 89 01 00 00 FF
	// READ IMSI:    00 B0 00 00 09

	return "", errors.New("未实现: 需要 CGO 支持")
}

// CalculateAKA 执行 AKA 认证
func (p *PCSCSIMProvider) CalculateAKA(rand, autn []byte) (res, ck, ik, auts []byte, err error) {
	// USIM AUTHENTICATE 命令
	// APDU: 00 88 00 81 22 10 <RAND> 10 <AUTN>
	// 响应: DB <len> <RES> <len> <CK> <len> <IK> [<len> <Kc>]

	// 构造 AUTHENTICATE APDU
	apdu := make([]byte, 0, 40)
	apdu = append(apdu, 0x00, 0x88, 0x00, 0x81)      // CLA, INS, P1, P2
	apdu = append(apdu, byte(2+len(rand)+len(autn))) // Lc
	apdu = append(apdu, byte(len(rand)))
	apdu = append(apdu, rand...)
	apdu = append(apdu, byte(len(autn)))
	apdu = append(apdu, autn...)

	logger.Debug("AUTHENTICATE APDU", logger.String("data", hex.EncodeToString(apdu)))

	return nil, nil, nil, nil, errors.New("未实现: 需要 CGO 支持")
}

// Close 关闭连接
func (p *PCSCSIMProvider) Close() error {
	// card.Disconnect(scard.LeaveCard)
	// context.Release()
	return nil
}
