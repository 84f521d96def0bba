package eapaka

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"

	"github.com/vowifi/ikev2client/pkg/crypto"
	"github.com/vowifi/ikev2client/pkg/eap"
	"github.com/vowifi/ikev2client/pkg/ikeerr"
	"github.com/vowifi/ikev2client/pkg/sim"
)

// HandleAKAChallenge implements the spec §4.5 Challenge state for both
// EAP-AKA and EAP-AKA': validate AT_RAND/AT_AUTN/AT_MAC, run the UICC
// collaborator, derive keys, verify AT_MAC, and build the response (or
// a synchronization-failure response on AUTS).
func (s *Session) HandleAKAChallenge(rawPacket []byte, reqID uint8, attrs map[uint8]*eap.Attribute) ([]byte, error) {
	s.State = StateChallenge

	atRand, okRand := attrs[eap.AT_RAND]
	atAutn, okAutn := attrs[eap.AT_AUTN]
	atMac, okMac := attrs[eap.AT_MAC]
	if !okRand || !okAutn {
		return nil, ikeerr.Wrap(ikeerr.InvalidSyntax, errMissingRandAutn)
	}
	if !okMac {
		return nil, ikeerr.Wrap(ikeerr.InvalidSyntax, errMissingMAC)
	}

	if s.Method == MethodAKAPrime {
		if err := s.validateAKAPrimeAttributes(attrs); err != nil {
			return nil, err
		}
	}

	randVal, err := last16(atRand.Value)
	if err != nil {
		return nil, ikeerr.Wrap(ikeerr.InvalidSyntax, err)
	}
	autnVal, err := last16(atAutn.Value)
	if err != nil {
		return nil, ikeerr.Wrap(ikeerr.InvalidSyntax, err)
	}

	if s.SIM == nil {
		return nil, ikeerr.Wrap(ikeerr.IdentityUnavailable, errNoSIMProvider)
	}
	res, ck, ik, auts, err := s.SIM.CalculateAKA(randVal, autnVal)
	if err != nil {
		if err == sim.ErrSyncFailure || auts != nil {
			return s.buildSyncFailureResponse(reqID, auts)
		}
		return nil, ikeerr.Wrap(ikeerr.AuthenticationFailed, err)
	}

	if len(s.Identity) == 0 {
		imsi, err := s.SIM.GetIMSI()
		if err != nil {
			return nil, ikeerr.Wrap(ikeerr.IdentityUnavailable, err)
		}
		s.Identity = append([]byte{s.identityPrefix()}, []byte(imsi)...)
	}

	kEncr, kAut, msk, emsk := deriveAKAKeys(s.Identity, ik, ck)

	recvMac, err := last16(atMac.Value)
	if err != nil {
		return nil, ikeerr.Wrap(ikeerr.InvalidSyntax, err)
	}
	if !s.DisableMACValidation {
		if err := verifyMAC(rawPacket, attrs, eap.AT_MAC, kAut, recvMac); err != nil {
			return nil, ikeerr.Wrap(ikeerr.IntegrityFailure, err)
		}
	}
	_ = kEncr

	s.KAut = kAut
	s.MSK = msk
	s.EMSK = emsk
	s.hadSuccessfulChallenge = true

	return s.buildChallengeResponse(reqID, res, kAut)
}

// deriveAKAKeys implements RFC 4187 §7: MK = SHA1(Identity|IK|CK);
// K_encr|K_aut|MSK|EMSK = FIPS-186-2-PRF(MK), truncated to 16/16/64/64.
func deriveAKAKeys(identity, ik, ck []byte) (kEncr, kAut, msk, emsk []byte) {
	h := sha1.New()
	h.Write(identity)
	h.Write(ik)
	h.Write(ck)
	mk := h.Sum(nil)

	keyMat := crypto.NewFIPS1862PRFSHA1(mk).Bytes(nil, 16+16+64+64)
	return keyMat[0:16], keyMat[16:32], keyMat[32:96], keyMat[96:160]
}

func (s *Session) buildChallengeResponse(reqID uint8, res, kAut []byte) ([]byte, error) {
	var respAttrs []byte

	resBits := make([]byte, 2)
	binary.BigEndian.PutUint16(resBits, uint16(len(res)*8))
	atRes := &eap.Attribute{Type: eap.AT_RES, Value: append(resBits, res...)}
	respAttrs = append(respAttrs, atRes.Encode()...)

	macOffset := len(respAttrs)
	atMac := &eap.Attribute{Type: eap.AT_MAC, Value: make([]byte, 18)} // 2 reserved + 16 zero MAC
	respAttrs = append(respAttrs, atMac.Encode()...)

	respPkt := &eap.EAPPacket{
		Code:       eap.CodeResponse,
		Identifier: reqID,
		Type:       eapType(s.Method),
		Subtype:    eap.SubtypeChallenge,
		Data:       respAttrs,
	}
	eapBytes := respPkt.Encode()

	mac := hmac.New(sha1.New, kAut)
	mac.Write(eapBytes)
	fullMAC := mac.Sum(nil)

	macPos := 8 + macOffset + 4 // EAP header(8) + AT_RES block + AT_MAC's 4-byte type/len/reserved
	copy(eapBytes[macPos:macPos+16], fullMAC[:16])

	return eapBytes, nil
}

func (s *Session) buildSyncFailureResponse(reqID uint8, auts []byte) ([]byte, error) {
	atAuts := &eap.Attribute{Type: eap.AT_AUTS, Value: auts}
	respPkt := &eap.EAPPacket{
		Code:       eap.CodeResponse,
		Identifier: reqID,
		Type:       eapType(s.Method),
		Subtype:    eap.SubtypeSyncFailure,
		Data:       atAuts.Encode(),
	}
	return respPkt.Encode(), nil
}

// validateAKAPrimeAttributes enforces RFC 5448 §3: AT_KDF must equal 1
// and AT_KDF_INPUT must carry a non-empty network name matching the
// configured one (unless mismatch is explicitly allowed).
func (s *Session) validateAKAPrimeAttributes(attrs map[uint8]*eap.Attribute) error {
	atKDF, ok := attrs[eap.AT_KDF]
	if !ok {
		return ikeerr.Wrap(ikeerr.InvalidSyntax, errMissingKDF)
	}
	if len(atKDF.Value) < 2 || binary.BigEndian.Uint16(atKDF.Value[:2]) != 1 {
		return ikeerr.Wrap(ikeerr.AuthenticationFailed, errUnsupportedKDF)
	}

	atKDFInput, ok := attrs[eap.AT_KDF_INPUT]
	if !ok || len(atKDFInput.Value) < 2 {
		return ikeerr.Wrap(ikeerr.InvalidSyntax, errMissingKDFInput)
	}
	nameLen := int(binary.BigEndian.Uint16(atKDFInput.Value[:2]))
	if nameLen == 0 || 2+nameLen > len(atKDFInput.Value) {
		return ikeerr.Wrap(ikeerr.InvalidSyntax, errEmptyNetworkName)
	}
	serverName := string(atKDFInput.Value[2 : 2+nameLen])

	if s.RejectNameMismatch && !MatchNetworkName(s.NetworkName, serverName) {
		return ikeerr.Wrap(ikeerr.AuthenticationFailed, errNetworkNameMismatch)
	}
	return nil
}

func last16(v []byte) ([]byte, error) {
	if len(v) < 16 {
		return nil, errAttributeTooShort
	}
	return v[len(v)-16:], nil
}
