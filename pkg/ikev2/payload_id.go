package ikev2

import (
	"errors"

	"github.com/vowifi/ikev2client/pkg/ikeerr"
)

// 身份标识载荷 (RFC 7296 3.5 节)
type EncryptedPayloadID struct {
	IDType      uint8
	IDData      []byte
	IsInitiator bool // 辅助字段，用于确定 Type() 返回值
}

const (
	ID_IPV4_ADDR   = 1
	ID_FQDN        = 2
	ID_RFC822_ADDR = 3
	ID_IPV6_ADDR   = 5
	ID_DER_ASN1_DN = 9
	ID_DER_ASN1_GN = 10
	ID_KEY_ID      = 11
)

func (p *EncryptedPayloadID) Type() PayloadType {
	if p.IsInitiator {
		return IDi
	}
	return IDr
}

func (p *EncryptedPayloadID) Encode() ([]byte, error) {
	// 头部: 1 字节 ID 类型 + 3 字节保留 + 数据
	buf := make([]byte, 4+len(p.IDData))
	buf[0] = p.IDType
	// buf[1:4] 保留 = 0
	copy(buf[4:], p.IDData)
	return buf, nil
}

func DecodePayloadID(data []byte, isInitiator bool) (*EncryptedPayloadID, error) {
	if len(data) < 4 {
		return nil, errors.New("ID 载荷太短")
	}
	idType := data[0]
	idData := data[4:]

	if err := validateIDData(idType, idData); err != nil {
		return nil, err
	}

	return &EncryptedPayloadID{
		IDType:      idType,
		IDData:      idData,
		IsInitiator: isInitiator,
	}, nil
}

// validateIDData 按 RFC 7296 3.5 节对各 ID 类型的数据形状做校验：
// IPv4/IPv6 地址类型是定长的裸地址字节，其余类型至少要求非空。
func validateIDData(idType uint8, data []byte) error {
	switch idType {
	case ID_IPV4_ADDR:
		if len(data) != 4 {
			return ikeerr.Wrapf(ikeerr.InvalidSyntax, "ID_IPV4_ADDR 长度应为 4 字节，实际 %d", len(data))
		}
	case ID_IPV6_ADDR:
		if len(data) != 16 {
			return ikeerr.Wrapf(ikeerr.InvalidSyntax, "ID_IPV6_ADDR 长度应为 16 字节，实际 %d", len(data))
		}
	case ID_FQDN, ID_RFC822_ADDR, ID_DER_ASN1_DN, ID_DER_ASN1_GN, ID_KEY_ID:
		if len(data) == 0 {
			return ikeerr.Wrapf(ikeerr.InvalidSyntax, "ID 类型 %d 的数据不能为空", idType)
		}
	default:
		return ikeerr.Wrapf(ikeerr.UnsupportedPayload, "不支持的 ID 类型: %d", idType)
	}
	return nil
}
