package eapaka

import (
	"github.com/vowifi/ikev2client/pkg/eap"
	"github.com/vowifi/ikev2client/pkg/ikeerr"
)

// Step processes one inbound EAP-Request for AKA/AKA' and returns the
// EAP-Response bytes to send back (the IKE_AUTH layer wraps them in
// an EncryptedPayloadEAP). Only MethodAKA/MethodAKAPrime are handled
// here; MethodSIM and MethodMSCHAPv2 have their own Step functions in
// sim.go / mschapv2.go because their wire framing differs.
func (s *Session) Step(raw []byte) ([]byte, error) {
	pkt, err := eap.Parse(raw)
	if err != nil {
		return nil, ikeerr.Wrap(ikeerr.MalformedMessage, err)
	}

	switch pkt.Code {
	case eap.CodeSuccess:
		return nil, s.OnEAPSuccess()
	case eap.CodeFailure:
		s.OnEAPFailure()
		return nil, nil
	case eap.CodeRequest:
		// fall through
	default:
		return nil, ikeerr.Wrapf(ikeerr.UnexpectedState, "unexpected EAP code %d", pkt.Code)
	}

	attrs, err := eap.ParseAttributes(pkt.Data)
	if err != nil {
		return s.buildClientError(pkt.Identifier), nil //nolint:nilerr // client-error is the non-fatal spec-mandated reply
	}

	if _, ok := attrs[eap.AT_NOTIFICATION]; ok {
		return s.handleNotification(pkt.Identifier, attrs)
	}

	switch pkt.Subtype {
	case eap.SubtypeIdentity:
		if s.State != StateCreated && s.State != StateIdentity {
			return nil, ikeerr.Wrap(ikeerr.UnexpectedState, errBadTransition)
		}
		resp, err := s.HandleIdentityRequest(pkt.Identifier, attrs)
		if err != nil {
			return s.buildClientError(pkt.Identifier), nil
		}
		return resp, nil
	case eap.SubtypeChallenge:
		if s.State != StateCreated && s.State != StateIdentity {
			return nil, ikeerr.Wrap(ikeerr.UnexpectedState, errBadTransition)
		}
		resp, err := s.HandleAKAChallenge(raw, pkt.Identifier, attrs)
		if err != nil {
			return nil, err
		}
		return resp, nil
	default:
		return s.buildClientError(pkt.Identifier), nil
	}
}

// handleNotification implements "Notification subtype may appear at
// any state at most once" (spec §4.5): the peer simply echoes the
// notification subtype back once, or fails if it has already seen one.
func (s *Session) handleNotification(reqID uint8, attrs map[uint8]*eap.Attribute) ([]byte, error) {
	if s.notificationSeen {
		return nil, ikeerr.Wrap(ikeerr.UnexpectedState, ErrNotificationAlreadySeen)
	}
	s.notificationSeen = true

	notify, ok := attrs[eap.AT_NOTIFICATION]
	if !ok || len(notify.Value) < 2 {
		return s.buildClientError(reqID), nil
	}
	successBit := notify.Value[0]&0x80 == 0
	if !successBit {
		// Failure notification: terminate without a response.
		s.State = StateFinal
		s.Outcome = OutcomeFailure
		return nil, nil
	}

	atNotify := &eap.Attribute{Type: eap.AT_NOTIFICATION, Value: notify.Value}
	respPkt := &eap.EAPPacket{
		Code:       eap.CodeResponse,
		Identifier: reqID,
		Type:       eapType(s.Method),
		Subtype:    eap.SubtypeNotification,
		Data:       atNotify.Encode(),
	}
	return respPkt.Encode(), nil
}

func (s *Session) buildClientError(reqID uint8) []byte {
	errCode := make([]byte, 2)
	atErr := &eap.Attribute{Type: eap.AT_CLIENT_ERROR_CODE, Value: errCode}
	respPkt := &eap.EAPPacket{
		Code:       eap.CodeResponse,
		Identifier: reqID,
		Type:       eapType(s.Method),
		Subtype:    eap.SubtypeClientError,
		Data:       atErr.Encode(),
	}
	return respPkt.Encode()
}
