// Package protocol holds the protocol-version variant and the constants
// shared between netchan, the decoder, and the handshake state machine.
package protocol

import "fmt"

// Version identifies the wire-protocol dialect spoken by the server, with
// an optional minor version negotiated during the SERVERDATA tail.
type Version struct {
	Kind  Kind
	Minor uint16
}

// Kind is the four-way sum type over the supported server families.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindVanilla
	KindR1Q2
	KindQ2PRO
	KindAQtion
)

// Protocol numbers as advertised on the wire (also the `p=` challenge list entries).
const (
	ProtocolVanilla = 34
	ProtocolR1Q2    = 35
	ProtocolQ2PRO   = 36
	ProtocolAQtion  = 38

	// ProtocolVersionOld is a legacy protocol this decoder has no branch
	// for; it resolves to a decode error rather than a silent fallback.
	ProtocolVersionOld = 26
)

// KindFromWire maps a wire protocol number to its Kind. Unknown numbers,
// including ProtocolVersionOld, return KindUnknown.
func KindFromWire(n int32) Kind {
	switch n {
	case ProtocolVanilla:
		return KindVanilla
	case ProtocolR1Q2:
		return KindR1Q2
	case ProtocolQ2PRO:
		return KindQ2PRO
	case ProtocolAQtion:
		return KindAQtion
	default:
		return KindUnknown
	}
}

// Wire returns the protocol number for Kind, or 0 for KindUnknown.
func (k Kind) Wire() int32 {
	switch k {
	case KindVanilla:
		return ProtocolVanilla
	case KindR1Q2:
		return ProtocolR1Q2
	case KindQ2PRO:
		return ProtocolQ2PRO
	case KindAQtion:
		return ProtocolAQtion
	default:
		return 0
	}
}

func (k Kind) String() string {
	switch k {
	case KindVanilla:
		return "vanilla"
	case KindR1Q2:
		return "r1q2"
	case KindQ2PRO:
		return "q2pro"
	case KindAQtion:
		return "aqtion"
	default:
		return "unknown"
	}
}

// preferenceOrder is the challenge-response protocol selection order:
// prefer AQtion, then Q2PRO, then R1Q2, then vanilla.
var preferenceOrder = []Kind{KindAQtion, KindQ2PRO, KindR1Q2, KindVanilla}

// SelectBest picks the highest-preference protocol advertised in a
// challenge response's `p=` list (a comma-separated list of wire numbers).
func SelectBest(offered []int32) (Kind, error) {
	set := make(map[Kind]bool, len(offered))
	for _, n := range offered {
		if k := KindFromWire(n); k != KindUnknown {
			set[k] = true
		}
	}
	for _, k := range preferenceOrder {
		if set[k] {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("protocol: no supported protocol in offer %v", offered)
}

// QportSize returns the wire size in bytes of the qport field the client
// appends after the ack word: 1 byte for the extended protocols, 2 for vanilla.
func (k Kind) QportSize() int {
	if k == KindVanilla {
		return 2
	}
	return 1
}
