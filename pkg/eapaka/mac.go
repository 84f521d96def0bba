package eapaka

import (
	"crypto/hmac"
	"crypto/sha1"
	"errors"

	"github.com/vowifi/ikev2client/pkg/eap"
)

var (
	errMissingRandAutn     = errors.New("AKA challenge missing AT_RAND or AT_AUTN")
	errMissingMAC          = errors.New("AKA challenge missing AT_MAC")
	errMissingKDF          = errors.New("AKA' challenge missing AT_KDF")
	errUnsupportedKDF      = errors.New("AKA' challenge proposes unsupported AT_KDF")
	errMissingKDFInput     = errors.New("AKA' challenge missing AT_KDF_INPUT")
	errEmptyNetworkName    = errors.New("AKA' challenge carries an empty network name")
	errNetworkNameMismatch = errors.New("AKA' network name does not match configuration")
	errAttributeTooShort   = errors.New("attribute value shorter than expected fixed field")
	errMACAttrNotFound     = errors.New("AT_MAC offset not found while verifying MAC")
	errMACOutOfBounds      = errors.New("AT_MAC offset out of bounds of the EAP packet")
	errMACMismatch         = errors.New("EAP-AKA AT_MAC verification failed")
	errBadTransition       = errors.New("EAP request subtype not valid from the current state")
)

// verifyMAC recomputes HMAC-SHA1 over the full EAP message with the
// AT_MAC value field zeroed (RFC 4187 §10.15) and compares the first
// 16 bytes against the value the peer sent.
func verifyMAC(rawPacket []byte, attrs map[uint8]*eap.Attribute, macAttrType uint8, kAut, recvMAC []byte) error {
	macAttr, ok := attrs[macAttrType]
	if !ok {
		return errMACAttrNotFound
	}
	offset, ok := findAttrOffset(attrsDataOf(rawPacket), macAttrType)
	if !ok {
		return errMACAttrNotFound
	}
	_ = macAttr

	macPos := 8 + offset + 4 // EAP header(8) + attrs-preceding-bytes + Type/Length/Reserved(4)
	if macPos < 0 || macPos+16 > len(rawPacket) {
		return errMACOutOfBounds
	}

	tmp := make([]byte, len(rawPacket))
	copy(tmp, rawPacket)
	for i := 0; i < 16; i++ {
		tmp[macPos+i] = 0
	}

	mac := hmac.New(sha1.New, kAut)
	mac.Write(tmp)
	full := mac.Sum(nil)

	if !hmac.Equal(full[:16], recvMAC) {
		return errMACMismatch
	}
	return nil
}

// attrsDataOf strips the fixed EAP/AKA-framing header (8 bytes) to
// return just the attribute TLV stream, matching how ParseAttributes
// is invoked elsewhere.
func attrsDataOf(rawPacket []byte) []byte {
	if len(rawPacket) <= 8 {
		return nil
	}
	return rawPacket[8:]
}

func findAttrOffset(data []byte, attrType uint8) (int, bool) {
	offset := 0
	for offset+2 <= len(data) {
		t := data[offset]
		l := int(data[offset+1]) * 4
		if l == 0 || offset+l > len(data) {
			return 0, false
		}
		if t == attrType {
			return offset, true
		}
		offset += l
	}
	return 0, false
}
