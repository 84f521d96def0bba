package ikev2

import "errors"

// EncryptedPayloadSK 是加密载荷 (RFC 7296 3.14 节)。编解码层不持有密钥material，
// 所以 DecodePayloadSK 阶段只保留原始 IV‖Ciphertext‖ICV 字节；真正按算法参数
// 切分三段、以及解密，都留给握手状态机在协商出加密/完整性算法之后调用 Split。
type EncryptedPayloadSK struct {
	IV         []byte
	Ciphertext []byte // AEAD 变体含尾部 tag；CBC+HMAC 变体不含 ICV
	ICV        []byte // 仅 CBC+HMAC 变体非空
	Raw        []byte
}

func (p *EncryptedPayloadSK) Type() PayloadType { return SK }

func (p *EncryptedPayloadSK) Encode() ([]byte, error) {
	if p.IV == nil && p.Ciphertext == nil {
		return append([]byte(nil), p.Raw...), nil
	}
	out := append([]byte(nil), p.IV...)
	out = append(out, p.Ciphertext...)
	out = append(out, p.ICV...)
	return out, nil
}

// DecodePayloadSK 解析 SK 载荷主体。此时尚不知道协商的 IV/ICV 长度，
// 原样保留为 Raw；调用方在拿到算法参数后调用 Split 完成切分。
func DecodePayloadSK(data []byte) (*EncryptedPayloadSK, error) {
	if len(data) == 0 {
		return nil, errors.New("SK 载荷为空")
	}
	return &EncryptedPayloadSK{Raw: append([]byte(nil), data...)}, nil
}

// Split 按协商结果切出 IV、密文与 ICV。AEAD 算法传入 icvSize=0：认证标签
// 已经附着在密文尾部，由 EncryptionAlgorithm.Decrypt 自行处理。
func (p *EncryptedPayloadSK) Split(ivSize, icvSize int) error {
	data := p.Raw
	if len(data) < ivSize {
		return errors.New("SK 内容对于 IV 来说太短")
	}
	p.IV = data[:ivSize]
	rest := data[ivSize:]
	if icvSize > 0 {
		if len(rest) < icvSize {
			return errors.New("SK 内容对于 ICV 来说太短")
		}
		p.ICV = rest[len(rest)-icvSize:]
		p.Ciphertext = rest[:len(rest)-icvSize]
	} else {
		p.Ciphertext = rest
		p.ICV = nil
	}
	return nil
}
