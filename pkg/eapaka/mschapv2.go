// EAP-MSCHAPv2 (RFC 2759 challenge/response payload, framed per RFC
// 2548 inside EAP Type 26). Recovered as a fourth sibling method named
// in the purpose statement; used only as a legacy-compatibility
// fallback — AKA/AKA'/SIM are preferred whenever a UICC is present.
package eapaka

import (
	"crypto/des"
	"crypto/sha1"
	"errors"
)

const (
	mschapOpChallenge = 1
	mschapOpResponse  = 2
	mschapOpSuccess   = 3
	mschapOpFailure   = 4
)

var (
	errMSCHAPNoCredentials  = errors.New("EAP-MSCHAPv2 requires a Credentials collaborator")
	errMSCHAPBadChallenge   = errors.New("EAP-MSCHAPv2 challenge payload malformed")
	errMSCHAPUnexpectedOp   = errors.New("EAP-MSCHAPv2 unexpected opcode for current state")
)

// StepMSCHAPv2 processes one EAP-MSCHAPv2 request. Unlike AKA/AKA'/SIM
// this method does not use the AT_* TLV framing: its Data is the raw
// MS-CHAP-v2 packet (OpCode, MS-CHAPv2-ID, MS-Length, Value...).
func (s *Session) StepMSCHAPv2(eapID uint8, opcode uint8, data []byte) ([]byte, error) {
	if s.Credentials == nil {
		return nil, errMSCHAPNoCredentials
	}

	switch opcode {
	case mschapOpChallenge:
		if s.State != StateCreated {
			return nil, errMSCHAPUnexpectedOp
		}
		if len(data) < 4 {
			return nil, errMSCHAPBadChallenge
		}
		// 跳过 OpCode, MS-CHAPv2-ID, MS-Length，剩下的是 Value-Size + Challenge + Name
		return s.mschapBuildResponse(eapID, data[4:])
	case mschapOpSuccess:
		s.State = StateFinal
		s.Outcome = OutcomeSuccess
		s.hadSuccessfulChallenge = true
		return mschapAck(eapID), nil
	case mschapOpFailure:
		s.State = StateFinal
		s.Outcome = OutcomeFailure
		return mschapAck(eapID), nil
	default:
		return nil, errMSCHAPUnexpectedOp
	}
}

// mschapBuildResponse implements RFC 2759 §8.1: derive PeerChallenge
// (random 16 bytes), compute the 24-byte NTResponse via
// ChallengeHash -> DES-ECB(NtPasswordHash) per 7-byte key triplet.
func (s *Session) mschapBuildResponse(eapID uint8, challengeValue []byte) ([]byte, error) {
	if len(challengeValue) < 1 || int(challengeValue[0]) != 16 || len(challengeValue) < 17 {
		return nil, errMSCHAPBadChallenge
	}
	authChallenge := challengeValue[1:17]

	peerChallenge := mustRandom16()
	ntHash, err := s.Credentials.NTPasswordHash()
	if err != nil {
		return nil, err
	}

	challengeHash := mschapChallengeHash(peerChallenge, authChallenge, s.Credentials.Username())
	ntResponse := mschapNTResponse(challengeHash, ntHash)

	s.State = StateChallenge
	s.hadSuccessfulChallenge = false

	value := make([]byte, 0, 49)
	value = append(value, peerChallenge...)
	value = append(value, make([]byte, 8)...) // reserved
	value = append(value, ntResponse...)
	value = append(value, 0) // flags

	return mschapEncodePacket(mschapOpResponse, eapID, append([]byte{byte(len(value))}, value...)), nil
}

func mschapAck(eapID uint8) []byte {
	return mschapEncodePacket(mschapOpSuccess, eapID, nil)
}

func mschapEncodePacket(opcode, mschapID uint8, value []byte) []byte {
	buf := make([]byte, 4+len(value))
	buf[0] = opcode
	buf[1] = mschapID
	buf[2] = byte(len(buf) >> 8)
	buf[3] = byte(len(buf))
	copy(buf[4:], value)
	return buf
}

// mschapChallengeHash is RFC 2759 §8.2 ChallengeHash: the first 8 bytes
// of SHA1(PeerChallenge | AuthenticatorChallenge | Username).
func mschapChallengeHash(peerChallenge, authChallenge []byte, username string) []byte {
	h := sha1.New()
	h.Write(peerChallenge)
	h.Write(authChallenge)
	h.Write([]byte(username))
	return h.Sum(nil)[:8]
}

// mschapNTResponse is RFC 2759 §8.3 ChallengeResponse: three DES-ECB
// encryptions of the 8-byte challenge hash keyed by 7-byte thirds of
// the 16-byte NT password hash, each expanded to a DES key by
// inserting a parity bit every 7 bits.
func mschapNTResponse(challengeHash []byte, ntHash [16]byte) []byte {
	keys := [3][7]byte{}
	copy(keys[0][:], ntHash[0:7])
	copy(keys[1][:], ntHash[7:14])
	keys[2][0], keys[2][1] = ntHash[14], ntHash[15]

	out := make([]byte, 0, 24)
	for _, k7 := range keys {
		desKey := desKeyFrom7Bytes(k7)
		block, err := des.NewCipher(desKey[:])
		if err != nil {
			out = append(out, make([]byte, 8)...)
			continue
		}
		dst := make([]byte, 8)
		block.Encrypt(dst, challengeHash[:])
		out = append(out, dst...)
	}
	return out
}

func desKeyFrom7Bytes(k [7]byte) [8]byte {
	var out [8]byte
	out[0] = k[0] >> 1
	out[1] = (k[0]&0x01)<<6 | k[1]>>2
	out[2] = (k[1]&0x03)<<5 | k[2]>>3
	out[3] = (k[2]&0x07)<<4 | k[3]>>4
	out[4] = (k[3]&0x0f)<<3 | k[4]>>5
	out[5] = (k[4]&0x1f)<<2 | k[5]>>6
	out[6] = (k[5]&0x3f)<<1 | k[6]>>7
	out[7] = k[6] & 0x7f
	for i := range out {
		out[i] <<= 1 // parity bit left as 0; DES ignores parity correctness
	}
	return out
}

// GenerateAuthenticatorResponse is RFC 2759 §8.7 — used to validate
// the server's Success message against the password, per the
// "M=" field convention; not required for the client to authenticate,
// kept for completeness of the method. Nothing in the module calls it.
func GenerateAuthenticatorResponse(ntHash [16]byte, ntResponse, peerChallenge, authChallenge []byte, username string) []byte {
	magic1 := []byte("Magic server to client signing constant")
	magic2 := []byte("Pad to make it do more than one iteration")

	h := sha1.New()
	h.Write(ntHash[:])
	h.Write(ntResponse)
	h.Write(magic1)
	digest := h.Sum(nil)

	challengeHash := mschapChallengeHash(peerChallenge, authChallenge, username)

	h2 := sha1.New()
	h2.Write(digest)
	h2.Write(challengeHash)
	h2.Write(magic2)
	return h2.Sum(nil)
}
