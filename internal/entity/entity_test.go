package entity

import (
	"testing"

	"q2mon-go/internal/protocol"
	"q2mon-go/internal/wire"
)

func TestSetBaselinePersistsUntilReset(t *testing.T) {
	tr := NewTracker()
	tr.SetBaseline(5, State{Origin: Vec3{X: 1, Y: 2, Z: 3}})

	if got := tr.Baseline(5); got.Origin != (Vec3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("baseline = %+v", got)
	}

	// Unrelated current-state mutation must not touch the baseline.
	tr.ApplyDelta(5, protocol.UOrigin1, Delta{Origin: Vec3{X: 99}}, false)
	if got := tr.Baseline(5); got.Origin.X != 1 {
		t.Fatalf("baseline mutated by delta application: %+v", got)
	}

	tr.Reset()
	if got := tr.Baseline(5); got.Active {
		t.Fatalf("baseline survived Reset: %+v", got)
	}
}

func TestApplyDeltaRemoveDeactivates(t *testing.T) {
	tr := NewTracker()
	tr.SetBaseline(7, State{})

	if _, active := tr.Current(7); !active {
		t.Fatal("entity should be active after baseline")
	}

	tr.ApplyDelta(7, protocol.URemove, Delta{}, true)

	s, active := tr.Current(7)
	if active || s.Active {
		t.Fatal("entity should be inactive after U_REMOVE delta")
	}
}

func TestApplyDeltaBuildsOnCurrentNotBaseline(t *testing.T) {
	tr := NewTracker()
	tr.SetBaseline(3, State{Origin: Vec3{X: 10}})

	tr.ApplyDelta(3, protocol.UOrigin2, Delta{Origin: Vec3{Y: 20}}, false)
	s, _ := tr.Current(3)
	if s.Origin.X != 10 || s.Origin.Y != 20 {
		t.Fatalf("expected delta to layer on current state, got %+v", s)
	}

	// A second delta only touching Z must preserve the X/Y set above.
	tr.ApplyDelta(3, protocol.UOrigin3, Delta{Origin: Vec3{Z: 30}}, false)
	s, _ = tr.Current(3)
	if s.Origin != (Vec3{X: 10, Y: 20, Z: 30}) {
		t.Fatalf("deltas did not accumulate on current state: %+v", s)
	}
}

func TestReadBitsChainsAllMoreBits(t *testing.T) {
	// base byte sets MOREBITS1, byte1 sets MOREBITS2, byte2 sets MOREBITS3,
	// byte3 sets the top marker bit. Every other bit is also set to
	// verify the full 32-bit mask assembles correctly.
	data := []byte{
		0xFF, // base: all low 8 bits including U_MOREBITS1 (0x80)
		0xFF, // extension 1: includes U_MOREBITS2 (0x80 within this byte -> bit15)
		0xFF, // extension 2: includes U_MOREBITS3
		0xFF, // extension 3
	}
	r := wire.NewReader(data)
	bits, err := ReadBits(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bits != 0xFFFFFFFF {
		t.Fatalf("bits = %#x, want 0xFFFFFFFF", bits)
	}
	if r.Offset() != 4 {
		t.Fatalf("offset = %d, want 4 (all four bytes consumed)", r.Offset())
	}
}

func TestReadBitsStopsWithoutMoreBits(t *testing.T) {
	data := []byte{0x01, 0xFF, 0xFF, 0xFF} // base byte has no MOREBITS1
	r := wire.NewReader(data)
	bits, err := ReadBits(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bits != 0x01 {
		t.Fatalf("bits = %#x, want 0x01", bits)
	}
	if r.Offset() != 1 {
		t.Fatalf("offset = %d, want 1 (only base byte consumed)", r.Offset())
	}
}

func TestReadNumberSizedByBit(t *testing.T) {
	r := wire.NewReader([]byte{0x42})
	n, err := ReadNumber(r, 0)
	if err != nil || n != 0x42 {
		t.Fatalf("n=%d err=%v, want 0x42", n, err)
	}

	r = wire.NewReader([]byte{0x34, 0x12})
	n, err = ReadNumber(r, protocol.UNumber16)
	if err != nil || n != 0x1234 {
		t.Fatalf("n=%#x err=%v, want 0x1234", n, err)
	}
}

func TestClassifyPlayerVsEntity(t *testing.T) {
	if Classify(1, 0, 0) != ClassPlayer {
		t.Fatal("entity 1 should classify as player")
	}
	if Classify(protocol.MaxClients, 0, 0) != ClassPlayer {
		t.Fatal("entity at MaxClients boundary should classify as player")
	}
	if Classify(protocol.MaxClients+1, 0, 0) == ClassPlayer {
		t.Fatal("entity above MaxClients should not classify as player")
	}
}
