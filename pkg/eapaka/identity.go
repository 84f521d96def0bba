package eapaka

import (
	"github.com/vowifi/ikev2client/pkg/eap"
	"github.com/vowifi/ikev2client/pkg/ikeerr"
)

// HandleIdentityRequest implements the spec §4.5 Identity state:
// validate exactly one of the three ID-request attributes is present
// and none of AT_MAC/AT_IV/AT_ENCR_DATA, fetch the IMSI from the
// telephony collaborator, and emit an AT_IDENTITY response carrying
// the method-prefixed identity.
func (s *Session) HandleIdentityRequest(reqID uint8, attrs map[uint8]*eap.Attribute) ([]byte, error) {
	s.State = StateIdentity

	idReqCount := 0
	for _, t := range []uint8{eap.AT_PERMANENT_ID_REQ, eap.AT_ANY_ID_REQ, eap.AT_FULLAUTH_ID_REQ} {
		if _, ok := attrs[t]; ok {
			idReqCount++
		}
	}
	if idReqCount != 1 {
		return nil, ikeerr.Wrapf(ikeerr.InvalidSyntax, "identity request must carry exactly one ID-request attribute, got %d", idReqCount)
	}
	for _, t := range []uint8{eap.AT_MAC, eap.AT_IV, eap.AT_ENCR_DATA} {
		if _, ok := attrs[t]; ok {
			return nil, ikeerr.Wrapf(ikeerr.InvalidSyntax, "identity request must not carry attribute %d", t)
		}
	}

	if len(s.Identity) == 0 {
		if s.SIM == nil {
			return nil, ikeerr.Wrap(ikeerr.IdentityUnavailable, errNoSIMProvider)
		}
		imsi, err := s.SIM.GetIMSI()
		if err != nil || imsi == "" {
			return nil, ikeerr.Wrap(ikeerr.IdentityUnavailable, err)
		}
		s.Identity = append([]byte{s.identityPrefix()}, []byte(imsi)...)
	}

	atIdentity := &eap.Attribute{Type: eap.AT_IDENTITY, Value: encodeIdentityValue(s.Identity)}

	respPkt := &eap.EAPPacket{
		Code:       eap.CodeResponse,
		Identifier: reqID,
		Type:       eapType(s.Method),
		Subtype:    eap.SubtypeIdentity,
		Data:       atIdentity.Encode(),
	}
	return respPkt.Encode(), nil
}

// encodeIdentityValue prefixes AT_IDENTITY's value with its 2-byte
// actual-length field per RFC 4187 §4.1.1.6.
func encodeIdentityValue(identity []byte) []byte {
	out := make([]byte, 2+len(identity))
	out[0] = byte(len(identity) >> 8)
	out[1] = byte(len(identity))
	copy(out[2:], identity)
	return out
}

func eapType(m Method) uint8 {
	switch m {
	case MethodAKAPrime:
		return eap.TypeAKAPrime
	case MethodSIM:
		return eap.TypeSIM
	case MethodMSCHAPv2:
		return eap.TypeMSCHAPV2
	default:
		return eap.TypeAKA
	}
}
