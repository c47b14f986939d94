package netchan

import (
	"encoding/binary"
	"testing"

	"q2mon-go/internal/protocol"
)

func aqtionVersion() protocol.Version {
	return protocol.Version{Kind: protocol.KindAQtion}
}

func buildDatagram(seq uint32, reliable bool, ack uint32, ackReliable bool, payload []byte) []byte {
	seqWord := seq
	if reliable {
		seqWord |= reliableBit
	}
	ackWord := ack
	if ackReliable {
		ackWord |= reliableBit
	}
	buf := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], seqWord)
	binary.LittleEndian.PutUint32(buf[4:8], ackWord)
	copy(buf[8:], payload)
	return buf
}

func TestProcessDuplicateDropped(t *testing.T) {
	c := New(aqtionVersion(), 1234)

	first := buildDatagram(1, false, 0, false, []byte("hello"))
	r, err := c.Process(first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Dropped {
		t.Fatal("first packet should not be dropped")
	}
	if c.IncomingSequence != 1 {
		t.Fatalf("IncomingSequence = %d, want 1", c.IncomingSequence)
	}

	dup := buildDatagram(1, false, 0, false, []byte("hello again"))
	r, err = c.Process(dup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Dropped {
		t.Fatal("duplicate sequence should be dropped")
	}
	if c.IncomingSequence != 1 {
		t.Fatalf("IncomingSequence changed on duplicate: %d", c.IncomingSequence)
	}
}

func TestReliableBitTogglesOnce(t *testing.T) {
	c := New(aqtionVersion(), 1)
	before := c.IncomingReliableSequence

	r, err := c.Process(buildDatagram(1, true, 0, false, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Dropped {
		t.Fatal("reliable packet should not be dropped")
	}
	if c.IncomingReliableSequence == before {
		t.Fatal("reliable bit did not toggle")
	}

	afterFirst := c.IncomingReliableSequence
	if _, err := c.Process(buildDatagram(2, false, 0, false, nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.IncomingReliableSequence != afterFirst {
		t.Fatal("unreliable packet toggled the reliable bit")
	}
}

func TestOutgoingSequenceMonotonic(t *testing.T) {
	c := New(aqtionVersion(), 1)
	var last uint32
	for i := 0; i < 5; i++ {
		before := c.OutgoingSequence
		c.Build([]byte("x"), i%2 == 0)
		if c.OutgoingSequence <= before {
			t.Fatalf("outgoing sequence did not increase: %d -> %d", before, c.OutgoingSequence)
		}
		if before <= last && i > 0 {
			t.Fatalf("non-monotonic sequence at iteration %d", i)
		}
		last = before
	}
}

func TestFragmentReassembly(t *testing.T) {
	c := New(aqtionVersion(), 1)

	full := []byte("the quick brown fox jumps over the lazy dog")
	part1, part2 := full[:20], full[20:]

	buildFrag := func(seq uint32, fragOffset int, more bool, body []byte) []byte {
		seqWord := seq | fragmentBit
		buf := make([]byte, 10+len(body))
		binary.LittleEndian.PutUint32(buf[0:4], seqWord)
		binary.LittleEndian.PutUint32(buf[4:8], 0)
		fragHeader := uint16(fragOffset)
		if more {
			fragHeader |= moreFragmentsBit
		}
		binary.LittleEndian.PutUint16(buf[8:10], fragHeader)
		copy(buf[10:], body)
		return buf
	}

	r, err := c.Process(buildFrag(5, 0, true, part1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Dropped || r.Payload != nil {
		t.Fatal("in-progress fragment should not yield a payload yet")
	}

	r, err = c.Process(buildFrag(5, len(part1), false, part2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Dropped || string(r.Payload) != string(full) {
		t.Fatalf("reassembled payload = %q, want %q", r.Payload, full)
	}
}

func TestOutOfOrderFragmentDiscardsReassembly(t *testing.T) {
	c := New(aqtionVersion(), 1)

	buildFrag := func(seq uint32, fragOffset int, more bool, body []byte) []byte {
		seqWord := seq | fragmentBit
		buf := make([]byte, 10+len(body))
		binary.LittleEndian.PutUint32(buf[0:4], seqWord)
		binary.LittleEndian.PutUint32(buf[4:8], 0)
		fragHeader := uint16(fragOffset)
		if more {
			fragHeader |= moreFragmentsBit
		}
		binary.LittleEndian.PutUint16(buf[8:10], fragHeader)
		copy(buf[10:], body)
		return buf
	}

	if _, err := c.Process(buildFrag(9, 0, true, []byte("0123456789"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Wrong offset: should be dropped and reassembly abandoned.
	r, err := c.Process(buildFrag(9, 999, true, []byte("garbage")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Dropped {
		t.Fatal("out-of-order fragment should be dropped")
	}

	// A fresh in-order fragment at offset 0 restarts reassembly.
	r, err = c.Process(buildFrag(9, 0, false, []byte("restarted!")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Dropped || string(r.Payload) != "restarted!" {
		t.Fatalf("reassembly did not restart cleanly: %+v", r)
	}
}

func TestBuildEncodesQportAfterAckWord(t *testing.T) {
	c := New(protocol.Version{Kind: protocol.KindVanilla}, 0xBEEF)
	out := c.Build([]byte("payload"), false)

	if len(out) < 10 {
		t.Fatalf("datagram too short: %d", len(out))
	}
	qport := binary.LittleEndian.Uint16(out[8:10])
	if qport != 0xBEEF {
		t.Fatalf("qport = %#x, want 0xBEEF", qport)
	}
	if string(out[10:]) != "payload" {
		t.Fatalf("payload = %q", out[10:])
	}
}
