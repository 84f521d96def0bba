// Package eapaka implements the inner EAP authentication method state
// machines consumed by the IKE_AUTH exchange: EAP-AKA (RFC 4187),
// EAP-AKA' (RFC 5448), EAP-SIM (RFC 4186), and EAP-MSCHAPv2 (RFC 2759
// payload framed per RFC 2548). Each method shares the same shape —
// Created -> {Identity, Challenge} -> Final — but differs in how the
// Challenge state derives keying material and validates the peer.
//
// A Step call is the state-machine's one mutating action per inbound
// EAP request, matching the "(state, event) -> (state, [effect])"
// shape called for by the design notes: effects here are limited to
// "send this EAP response" or "authentication finished with this
// outcome", so Step returns the response bytes directly rather than a
// generic effect list.
package eapaka

import (
	"errors"

	"github.com/vowifi/ikev2client/pkg/ikeerr"
	"github.com/vowifi/ikev2client/pkg/sim"
)

type Method int

const (
	MethodAKA Method = iota
	MethodAKAPrime
	MethodSIM
	MethodMSCHAPv2
)

type State int

const (
	StateCreated State = iota
	StateIdentity
	StateChallenge
	StateFinal
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateIdentity:
		return "Identity"
	case StateChallenge:
		return "Challenge"
	case StateFinal:
		return "Final"
	default:
		return "Unknown"
	}
}

// Outcome is returned once the method reaches Final.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "Success"
	case OutcomeFailure:
		return "Failure"
	default:
		return "Pending"
	}
}

// Session drives one inner EAP authentication method for the lifetime
// of a single IKE_AUTH exchange. It is not safe for concurrent use;
// the owning IkeSession serializes EAP steps like every other state
// transition (see spec §5).
type Session struct {
	Method Method
	State  State

	SIM sim.SIMProvider

	// Identity is the NAI the session authenticates as (IMSI-derived,
	// already formatted by the caller — e.g. "0"+IMSI for AKA permanent
	// identity, "6"+IMSI for AKA'). Filled in on AT_IDENTITY emission.
	Identity []byte

	// DisableMACValidation skips AT_MAC verification — test/debug only.
	DisableMACValidation bool

	// NetworkName configures the AKA' network-name match (RFC 5448 §3.1).
	// Empty means "accept any peer network name" per the spec's default.
	NetworkName         string
	RejectNameMismatch  bool

	Credentials Credentials // only consulted by MethodMSCHAPv2

	hadSuccessfulChallenge bool
	notificationSeen       bool
	simNonceMT             []byte

	KAut []byte
	MSK  []byte
	EMSK []byte

	Outcome Outcome
}

// Credentials is the collaborator MSCHAPv2 consults for a username and
// NT-password hash; out of scope per spec §1 ("certificate/identity
// store… resolves local identity… on demand") but the method needs
// *some* such interface to be exercised at all.
type Credentials interface {
	Username() string
	NTPasswordHash() ([16]byte, error)
}

var (
	ErrNotificationAlreadySeen = errors.New("EAP notification already handled once")
	ErrEarlySuccess            = errors.New("EAP-Success received before a successful challenge")
	errNoSIMProvider           = errors.New("no SIM/UICC collaborator configured")
)

// New creates a fresh method state machine in state Created.
func New(method Method, provider sim.SIMProvider) *Session {
	return &Session{Method: method, State: StateCreated, SIM: provider}
}

// identityPrefix returns the NAI decoration byte required by RFC 4187
// §4.1.1.6 / RFC 5448 §3 / RFC 4186 §4.1.
func (s *Session) identityPrefix() byte {
	switch s.Method {
	case MethodAKAPrime:
		return '6'
	default: // AKA, SIM share "0" for permanent identity
		return '0'
	}
}

// OnEAPSuccess handles a bare EAP-Success arriving from the IKE layer.
// Per spec §4.5, success before a completed Challenge is an error.
func (s *Session) OnEAPSuccess() error {
	if !s.hadSuccessfulChallenge {
		return ikeerr.Wrap(ikeerr.UnexpectedState, ErrEarlySuccess)
	}
	s.State = StateFinal
	s.Outcome = OutcomeSuccess
	return nil
}

// OnEAPFailure handles a bare EAP-Failure.
func (s *Session) OnEAPFailure() {
	s.State = StateFinal
	s.Outcome = OutcomeFailure
}
