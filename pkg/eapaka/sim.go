package eapaka

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"errors"

	"github.com/vowifi/ikev2client/pkg/crypto"
	"github.com/vowifi/ikev2client/pkg/eap"
	"github.com/vowifi/ikev2client/pkg/ikeerr"
	"github.com/vowifi/ikev2client/pkg/sim"
)

var (
	errSIMNotGSMCapable = errors.New("SIM provider does not implement GSMProvider")
	errSIMNoRAND        = errors.New("EAP-SIM challenge carries no AT_RAND triplets")
)

// StepSIM processes one EAP-SIM (RFC 4186) request. EAP-SIM shares the
// AKA/AKA' wire framing but runs n (2 or 3) GSM triplets instead of a
// single AKA challenge, and its MK formula differs (RFC 4186 §7).
func (s *Session) StepSIM(raw []byte) ([]byte, error) {
	pkt, err := eap.Parse(raw)
	if err != nil {
		return nil, ikeerr.Wrap(ikeerr.MalformedMessage, err)
	}
	if pkt.Code != eap.CodeRequest {
		return s.Step(raw) // Success/Failure handled identically to AKA
	}
	attrs, err := eap.ParseAttributes(pkt.Data)
	if err != nil {
		return s.buildClientError(pkt.Identifier), nil
	}

	switch pkt.Subtype {
	case eap.SubtypeSIMStart:
		return s.handleSIMStart(pkt.Identifier, attrs)
	case eap.SubtypeChallenge:
		return s.handleSIMChallenge(raw, pkt.Identifier, attrs)
	default:
		return s.buildClientError(pkt.Identifier), nil
	}
}

func (s *Session) handleSIMStart(reqID uint8, attrs map[uint8]*eap.Attribute) ([]byte, error) {
	s.State = StateIdentity
	if s.SIM == nil {
		return nil, ikeerr.Wrap(ikeerr.IdentityUnavailable, errNoSIMProvider)
	}
	imsi, err := s.SIM.GetIMSI()
	if err != nil {
		return nil, ikeerr.Wrap(ikeerr.IdentityUnavailable, err)
	}
	s.Identity = append([]byte{s.identityPrefix()}, []byte(imsi)...)

	nonce := make([]byte, 16)
	if _, err := crypto.RandomBytes(16); err == nil {
		copy(nonce, mustRandom16())
	}

	var respAttrs []byte
	atNonce := &eap.Attribute{Type: eap.AT_NONCE_MT, Value: append(make([]byte, 2), nonce...)}
	respAttrs = append(respAttrs, atNonce.Encode()...)
	sel := make([]byte, 4)
	binary.BigEndian.PutUint16(sel[2:4], 1) // select version 1 per RFC 4186 §10.5
	atSel := &eap.Attribute{Type: eap.AT_SELECTED_VERSION, Value: sel[2:4]}
	respAttrs = append(respAttrs, atSel.Encode()...)

	s.simNonceMT = nonce
	respPkt := &eap.EAPPacket{Code: eap.CodeResponse, Identifier: reqID, Type: eap.TypeSIM, Subtype: eap.SubtypeSIMStart, Data: respAttrs}
	return respPkt.Encode(), nil
}

func mustRandom16() []byte {
	b, err := crypto.RandomBytes(16)
	if err != nil {
		return make([]byte, 16)
	}
	return b
}

func (s *Session) handleSIMChallenge(raw []byte, reqID uint8, attrs map[uint8]*eap.Attribute) ([]byte, error) {
	s.State = StateChallenge

	atRand, ok := attrs[eap.AT_RAND]
	if !ok || len(atRand.Value) < 16 {
		return nil, ikeerr.Wrap(ikeerr.InvalidSyntax, errSIMNoRAND)
	}
	gsm, ok := s.SIM.(sim.GSMProvider)
	if !ok {
		return nil, ikeerr.Wrap(ikeerr.IdentityUnavailable, errSIMNotGSMCapable)
	}

	n := len(atRand.Value) / 16
	var kcs, sress []byte
	for i := 0; i < n; i++ {
		kc, sres, err := gsm.RunGSMTriplet(atRand.Value[i*16 : i*16+16])
		if err != nil {
			return nil, ikeerr.Wrap(ikeerr.AuthenticationFailed, err)
		}
		kcs = append(kcs, kc...)
		sress = append(sress, sres...)
	}

	kAut, msk, emsk := deriveSIMKeys(s.Identity, kcs, s.simNonceMT)

	atMac, ok := attrs[eap.AT_MAC]
	if !ok {
		return nil, ikeerr.Wrap(ikeerr.InvalidSyntax, errMissingMAC)
	}
	recvMAC, err := last16(atMac.Value)
	if err != nil {
		return nil, ikeerr.Wrap(ikeerr.InvalidSyntax, err)
	}
	if !s.DisableMACValidation {
		if err := verifyMAC(raw, attrs, eap.AT_MAC, kAut, recvMAC); err != nil {
			return nil, ikeerr.Wrap(ikeerr.IntegrityFailure, err)
		}
	}

	s.KAut = kAut
	s.MSK = msk
	s.EMSK = emsk
	s.hadSuccessfulChallenge = true

	var respAttrs []byte
	macOffset := len(respAttrs)
	atMacResp := &eap.Attribute{Type: eap.AT_MAC, Value: make([]byte, 18)}
	respAttrs = append(respAttrs, atMacResp.Encode()...)

	respPkt := &eap.EAPPacket{Code: eap.CodeResponse, Identifier: reqID, Type: eap.TypeSIM, Subtype: eap.SubtypeChallenge, Data: respAttrs}
	eapBytes := respPkt.Encode()
	mac := hmac.New(sha1.New, kAut)
	mac.Write(eapBytes)
	full := mac.Sum(nil)
	macPos := 8 + macOffset + 4
	copy(eapBytes[macPos:macPos+16], full[:16])
	_ = sress

	return eapBytes, nil
}

// deriveSIMKeys implements RFC 4186 §7: MK = SHA1(Identity|n*Kc|NONCE_MT|
// Version_List|Selected_Version); K_encr|K_aut|MSK|EMSK = FIPS-186-2-PRF(MK).
func deriveSIMKeys(identity, kcs, nonceMT []byte) (kAut, msk, emsk []byte) {
	h := sha1.New()
	h.Write(identity)
	h.Write(kcs)
	h.Write(nonceMT)
	mk := h.Sum(nil)
	keyMat := crypto.NewFIPS1862PRFSHA1(mk).Bytes(nil, 16+16+64+64)
	return keyMat[16:32], keyMat[32:96], keyMat[96:160]
}
