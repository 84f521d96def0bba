package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"hash"
)

// PRF (伪随机函数) 接口。Compute 是唯一需要的原语：
// prf(K, S) 产生一块固定长度输出，PrfPlus 在此基础上做 RFC 7296 2.13 节的扩展。
type PRF interface {
	Compute(key, data []byte) []byte
	KeyLen() int
}

type hmacPRF struct {
	newHash func() hash.Hash
	keyLen  int
}

func (h *hmacPRF) Compute(key, data []byte) []byte {
	mac := hmac.New(h.newHash, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func (h *hmacPRF) KeyLen() int {
	return h.keyLen
}

// aes128XcbcPRF 实现 PRF_AES128_XCBC (RFC 4434)：以 AES-XCBC-MAC-96 的底层
// 全长 (128 位) 输出作为 PRF，而不是 HMAC 构造。
type aes128XcbcPRF struct{}

func (a *aes128XcbcPRF) Compute(key, data []byte) []byte {
	mac, err := aesXCBCMAC(padOrTruncateKey(key, 16), data)
	if err != nil {
		// 与其它 PRF 一样，输入由调用方保证合法；这里仅作为防御。
		return make([]byte, 16)
	}
	return mac
}

func (a *aes128XcbcPRF) KeyLen() int { return 16 }

// padOrTruncateKey 让变长输入密钥适配 AES-128-XCBC 固定的 16 字节密钥，
// 做法与 RFC 4434 附录 A 的 K1/K2/K3 派生前提一致：先用 PRF 本身把密钥
// 规整到 KeyLen()。
func padOrTruncateKey(key []byte, size int) []byte {
	if len(key) == size {
		return key
	}
	out := make([]byte, size)
	if len(key) > size {
		mac, err := aesXCBCMAC(make([]byte, size), key)
		if err == nil {
			copy(out, mac)
			return out
		}
		copy(out, key[:size])
		return out
	}
	copy(out, key)
	return out
}

var (
	PRF_HMAC_MD5      = &hmacPRF{newHash: md5.New, keyLen: 16}
	PRF_HMAC_SHA1     = &hmacPRF{newHash: sha1.New, keyLen: 20}
	PRF_HMAC_SHA2_256 = &hmacPRF{newHash: sha256.New, keyLen: 32}
	PRF_HMAC_SHA2_384 = &hmacPRF{newHash: sha512.New384, keyLen: 48}
	PRF_HMAC_SHA2_512 = &hmacPRF{newHash: sha512.New, keyLen: 64}
	PRF_AES128_XCBC   = &aes128XcbcPRF{}
)

// RFC 7296 2.13 节. 生成密钥材料
// prf+ (K,S) = T1 | T2 | T3 | T4 | ...
// T1 = prf (K, S | 0x01)
// T2 = prf (K, T1 | S | 0x02)
// T3 = prf (K, T2 | S | 0x03)
func PrfPlus(prf PRF, key []byte, seed []byte, totalBytes int) ([]byte, error) {
	var result []byte
	var lastBlock []byte
	blockIndex := 1

	for len(result) < totalBytes {
		var block []byte
		if blockIndex == 1 {
			// T1 = prf (K, S | 0x01)
			block = append(append([]byte(nil), seed...), byte(blockIndex))
		} else {
			// Tn = prf (K, Tn-1 | S | n)
			block = append(append(append([]byte(nil), lastBlock...), seed...), byte(blockIndex))
		}

		lastBlock = prf.Compute(key, block)
		result = append(result, lastBlock...)
		blockIndex++

		if blockIndex > 255 {
			return nil, errors.New("PRF+ 溢出: 块太多")
		}
	}

	return result[:totalBytes], nil
}

func GetPRF(id uint16) (PRF, error) {
	// 载荷定义中的 ID
	switch id {
	case 1:
		return PRF_HMAC_MD5, nil
	case 2:
		return PRF_HMAC_SHA1, nil
	case 4:
		return PRF_AES128_XCBC, nil
	case 5:
		return PRF_HMAC_SHA2_256, nil
	case 6:
		return PRF_HMAC_SHA2_384, nil
	case 7:
		return PRF_HMAC_SHA2_512, nil
	default:
		return nil, errors.New("不支持的 PRF ID")
	}
}

// aesXCBCMAC 实现 RFC 3566 的 AES-XCBC-MAC 核心算法 (128 位密钥、128 位输出，
// 未做 96 位截断)，供 PRF_AES128_XCBC 与 AUTH_AES_XCBC_96 共用。
func aesXCBCMAC(key, message []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	k1 := deriveXCBCSubkey(block, 0x01)
	k2 := deriveXCBCSubkey(block, 0x02)
	k3 := deriveXCBCSubkey(block, 0x03)

	k1Cipher, err := aes.NewCipher(k1)
	if err != nil {
		return nil, err
	}

	const blockSize = aes.BlockSize
	e := make([]byte, blockSize)

	n := len(message)
	numBlocks := (n + blockSize - 1) / blockSize
	if numBlocks == 0 {
		numBlocks = 1
	}

	for i := 0; i < numBlocks; i++ {
		isLast := i == numBlocks-1
		start := i * blockSize
		var m []byte
		if isLast {
			end := n
			m = append([]byte(nil), message[start:end]...)
			if len(m) < blockSize {
				m = append(m, 0x80)
				for len(m) < blockSize {
					m = append(m, 0x00)
				}
				xorInto(e, k3)
			} else {
				xorInto(e, k2)
			}
		} else {
			m = message[start : start+blockSize]
		}

		xorInto(e, m)
		k1Cipher.Encrypt(e, e)
	}

	return e, nil
}

func deriveXCBCSubkey(block cipher.Block, n byte) []byte {
	in := make([]byte, aes.BlockSize)
	for i := range in {
		in[i] = n
	}
	out := make([]byte, aes.BlockSize)
	block.Encrypt(out, in)
	return out
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}
