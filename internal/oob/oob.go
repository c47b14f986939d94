// Package oob implements the connectionless text protocol used before a
// netchan connection exists: challenge/connect negotiation replies and
// the status-query monitor poller. Every OOB packet is four 0xFF bytes
// followed by ASCII command text terminated by a newline.
package oob

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Prefix is the four-byte connectionless marker every OOB datagram starts with.
var Prefix = [4]byte{0xFF, 0xFF, 0xFF, 0xFF}

// Kind classifies an OOB packet by its first whitespace-delimited token.
type Kind int

const (
	KindUnknown Kind = iota
	KindChallenge
	KindPrint
	KindClientConnect
	KindDisconnect
	KindAck
	KindStatusResponse
	KindInfo
)

// Packet is a classified, parsed OOB datagram.
type Packet struct {
	Kind Kind
	Text string // the text following the four 0xFF bytes, newline trimmed
}

// IsOOB reports whether datagram starts with the four-byte OOB prefix.
func IsOOB(datagram []byte) bool {
	return len(datagram) >= 4 && bytes.Equal(datagram[:4], Prefix[:])
}

// Parse classifies an OOB datagram. The caller must have already
// confirmed IsOOB(datagram).
func Parse(datagram []byte) (Packet, error) {
	if !IsOOB(datagram) {
		return Packet{}, fmt.Errorf("oob: missing 0xFFFFFFFF prefix")
	}
	text := strings.TrimRight(string(datagram[4:]), "\n\r\x00")

	token := text
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		token = text[:i]
	}

	return Packet{Kind: classify(token), Text: text}, nil
}

func classify(token string) Kind {
	switch token {
	case "challenge":
		return KindChallenge
	case "print":
		return KindPrint
	case "client_connect":
		return KindClientConnect
	case "disconnect":
		return KindDisconnect
	case "ack":
		return KindAck
	case "statusResponse", "print\\status":
		return KindStatusResponse
	case "info":
		return KindInfo
	default:
		return KindUnknown
	}
}

// Build wraps cmd with the OOB prefix, ready to send.
func Build(cmd string) []byte {
	out := make([]byte, 0, 4+len(cmd))
	out = append(out, Prefix[:]...)
	out = append(out, cmd...)
	return out
}

// ParseChallenge extracts the challenge number and the offered protocol
// list (`p=34,35,36,38`) from a `challenge N [p=list]` packet.
func ParseChallenge(text string) (number int32, offered []int32, err error) {
	fields := strings.Fields(text)
	if len(fields) < 2 || fields[0] != "challenge" {
		return 0, nil, fmt.Errorf("oob: not a challenge packet: %q", text)
	}
	n, err := strconv.ParseInt(fields[1], 10, 32)
	if err != nil {
		return 0, nil, fmt.Errorf("oob: parse challenge number: %w", err)
	}
	number = int32(n)

	for _, f := range fields[2:] {
		if !strings.HasPrefix(f, "p=") {
			continue
		}
		for _, part := range strings.Split(strings.TrimPrefix(f, "p="), ",") {
			v, err := strconv.ParseInt(part, 10, 32)
			if err != nil {
				continue
			}
			offered = append(offered, int32(v))
		}
	}
	return number, offered, nil
}

// ParseDisconnectReason extracts the human-readable reason text from a
// `disconnect <reason>` or bare `disconnect` packet.
func ParseDisconnectReason(text string) string {
	fields := strings.SplitN(text, " ", 2)
	if len(fields) == 2 {
		return strings.Trim(fields[1], "\"")
	}
	return "server disconnected"
}
