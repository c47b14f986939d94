// Package netchan implements the custom reliable-ordered transport the
// Quake 2 protocol family runs over UDP: a sequence/ack header plus a
// single-bit reliable channel and optional fragment reassembly.
package netchan

import (
	"encoding/binary"
	"fmt"

	"q2mon-go/internal/protocol"
)

const (
	reliableBit = 1 << 31
	fragmentBit = 1 << 30
	sequenceMask = (1 << 30) - 1

	moreFragmentsBit = 1 << 15
	fragmentOffsetMask = (1 << 15) - 1
)

// Channel owns one connection's netchan state. It is not safe for
// concurrent use: callers must serialize access (client.Client holds its
// mutex around every Process and Build call).
type Channel struct {
	version protocol.Version
	qport   uint16

	OutgoingSequence uint32
	IncomingSequence uint32

	IncomingAcknowledged           uint32
	ReliableSequence               bool
	LastReliableSequence           uint32
	IncomingReliableSequence       bool
	IncomingReliableAcknowledged   bool

	fragmentSequence uint32
	fragmentBuffer   []byte
	fragmenting      bool
}

// New returns a Channel for the given negotiated protocol and qport, with
// the outgoing sequence seeded at 1.
func New(version protocol.Version, qport uint16) *Channel {
	return &Channel{
		version:          version,
		qport:            qport,
		OutgoingSequence: 1,
	}
}

// Reset restores a Channel to its just-constructed state, used on reconnect.
func (c *Channel) Reset() {
	*c = *New(c.version, c.qport)
}

// Received is the decoded result of processing one incoming datagram.
type Received struct {
	// Payload is nil when the datagram was a duplicate, an out-of-order
	// fragment, or an in-progress (not yet complete) fragment.
	Payload []byte
	// Dropped is true for duplicates, out-of-order fragments and
	// in-progress (not yet complete) fragments — no ack should be
	// considered for such a datagram's sequence.
	Dropped bool
}

// Process decodes one incoming sequenced datagram: duplicate and
// out-of-order detection, fragment reassembly, and reliable-bit tracking.
// datagram is the full payload following OOB/sequenced classification,
// i.e. it starts at the sequence word.
func (c *Channel) Process(datagram []byte) (Received, error) {
	if len(datagram) < 8 {
		return Received{}, fmt.Errorf("netchan: short header (%d bytes)", len(datagram))
	}

	seqWord := binary.LittleEndian.Uint32(datagram[0:4])
	ackWord := binary.LittleEndian.Uint32(datagram[4:8])

	reliable := seqWord&reliableBit != 0
	fragmented := c.version.Kind != protocol.KindVanilla && seqWord&fragmentBit != 0
	sequence := seqWord & sequenceMask

	ackReliable := ackWord&reliableBit != 0
	ack := ackWord & sequenceMask

	if sequence <= c.IncomingSequence && !fragmented {
		return Received{Dropped: true}, nil
	}

	c.IncomingAcknowledged = ack
	c.IncomingReliableAcknowledged = ackReliable

	offset := 8
	var payload []byte

	if fragmented {
		if len(datagram) < offset+2 {
			return Received{}, fmt.Errorf("netchan: short fragment header")
		}
		fragHeader := binary.LittleEndian.Uint16(datagram[offset : offset+2])
		offset += 2
		more := fragHeader&moreFragmentsBit != 0
		fragOffset := int(fragHeader & fragmentOffsetMask)

		body := datagram[offset:]

		if sequence != c.fragmentSequence || !c.fragmenting {
			c.fragmentSequence = sequence
			c.fragmentBuffer = nil
			c.fragmenting = true
		}

		if fragOffset != len(c.fragmentBuffer) {
			// Out-of-order fragment: drop and restart reassembly for
			// this sequence on the next in-order fragment.
			c.fragmenting = false
			return Received{Dropped: true}, nil
		}

		c.fragmentBuffer = append(c.fragmentBuffer, body...)

		if more {
			return Received{Dropped: true}, nil
		}

		payload = c.fragmentBuffer
		c.fragmentBuffer = nil
		c.fragmenting = false
	} else {
		payload = datagram[offset:]
	}

	c.IncomingSequence = sequence
	if reliable {
		c.IncomingReliableSequence = !c.IncomingReliableSequence
	}

	return Received{Payload: payload}, nil
}

// Build produces one complete outgoing datagram (sequence word, ack word,
// qport, payload). Quake 2 clients never need to fragment an outbound
// message (they send only string commands and no-op moves), so Build
// always emits a single, unfragmented datagram.
func (c *Channel) Build(payload []byte, reliable bool) []byte {
	seqWord := c.OutgoingSequence
	if reliable {
		seqWord |= reliableBit
		c.ReliableSequence = !c.ReliableSequence
		c.LastReliableSequence = c.OutgoingSequence
	}

	ackWord := c.IncomingSequence
	if c.IncomingReliableSequence {
		ackWord |= reliableBit
	}

	qportSize := c.version.Kind.QportSize()
	out := make([]byte, 8+qportSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], seqWord)
	binary.LittleEndian.PutUint32(out[4:8], ackWord)

	if qportSize == 1 {
		out[8] = byte(c.qport)
	} else {
		binary.LittleEndian.PutUint16(out[8:10], c.qport)
	}
	copy(out[8+qportSize:], payload)

	c.OutgoingSequence++
	return out
}
