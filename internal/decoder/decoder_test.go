package decoder

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/flate"

	"q2mon-go/internal/entity"
	"q2mon-go/internal/events"
	"q2mon-go/internal/protocol"
	"q2mon-go/internal/wire"
)

func newTestDecoder() (*Decoder, *events.Dispatcher) {
	disp := events.NewDispatcher(32)
	tr := entity.NewTracker()
	dec := New(tr, disp, func() int64 { return 1000 })
	return dec, disp
}

func TestDecodeVanillaServerData(t *testing.T) {
	w := wire.NewWriter()
	w.WriteByte(byte(protocol.SvcServerData))
	w.WriteInt32(protocol.ProtocolVanilla)
	w.WriteInt32(1)
	w.WriteByte(0)
	w.WriteString("baseq2")
	w.WriteUint16(0) // clientnum (int16, written as uint16 bit pattern)
	w.WriteString("base1")

	dec, disp := newTestDecoder()
	res, err := dec.Decode(w.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ServerData == nil {
		t.Fatal("expected ServerData to be populated")
	}
	if res.ServerData.MapName != "base1" {
		t.Fatalf("mapname = %q", res.ServerData.MapName)
	}
	if dec.Version().Kind != protocol.KindVanilla {
		t.Fatalf("version kind = %v", dec.Version().Kind)
	}

	// server_info emission lives in the client package now, since it
	// depends on the handshake machine's mapChanged verdict; the decoder
	// only hands back the parsed ServerData.
	select {
	case e := <-disp.Events():
		t.Fatalf("expected no event from the decoder alone, got %v", e.Kind)
	default:
	}
}

func TestDecodeUnsupportedProtocolErrors(t *testing.T) {
	w := wire.NewWriter()
	w.WriteByte(byte(protocol.SvcServerData))
	w.WriteInt32(protocol.ProtocolVersionOld)
	w.WriteInt32(1)
	w.WriteByte(0)
	w.WriteString("baseq2")
	w.WriteUint16(0)
	w.WriteString("base1")

	dec, _ := newTestDecoder()
	_, err := dec.Decode(w.Bytes())
	if err == nil {
		t.Fatal("expected a decode error for the legacy protocol number")
	}
}

func TestDecodePrintEmitsConsoleMessage(t *testing.T) {
	w := wire.NewWriter()
	w.WriteByte(byte(protocol.SvcPrint))
	w.WriteByte(byte(protocol.PrintChat))
	w.WriteString("Player: hello")

	dec, disp := newTestDecoder()
	if _, err := dec.Decode(w.Bytes()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := <-disp.Events()
	cm, ok := e.Payload.(events.ConsoleMessage)
	if !ok {
		t.Fatalf("payload type = %T", e.Payload)
	}
	if cm.Text != "Player: hello" || cm.Level != "CHAT" {
		t.Fatalf("console message = %+v", cm)
	}
}

func TestDecodeStuffTextAccumulates(t *testing.T) {
	w := wire.NewWriter()
	w.WriteByte(byte(protocol.SvcStuffText))
	w.WriteString("precache\n")
	w.WriteByte(byte(protocol.SvcStuffText))
	w.WriteString("begin\n")

	dec, _ := newTestDecoder()
	res, err := dec.Decode(w.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.StuffTexts) != 2 || res.StuffTexts[0] != "precache\n" || res.StuffTexts[1] != "begin\n" {
		t.Fatalf("stufftexts = %v", res.StuffTexts)
	}
}

func TestDecodeGameStateTerminatesOnSentinel(t *testing.T) {
	w := wire.NewWriter()
	w.WriteByte(byte(protocol.SvcGameState))
	w.WriteUint16(0)
	w.WriteString("maps/base1.bsp")
	w.WriteUint16(1)
	w.WriteString("baseq2\\server1")
	w.WriteUint16(protocol.GameStateTerminator)

	dec, _ := newTestDecoder()
	res, err := dec.Decode(w.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.GameState == nil || len(res.GameState.ConfigStrings) != 2 {
		t.Fatalf("gamestate = %+v", res.GameState)
	}
	if res.ConfigStrings[1] != "baseq2\\server1" {
		t.Fatalf("configstrings = %v", res.ConfigStrings)
	}
}

func TestDecodeDisconnectStopsAtOpcode(t *testing.T) {
	w := wire.NewWriter()
	w.WriteByte(byte(protocol.SvcPrint))
	w.WriteByte(byte(protocol.PrintLow))
	w.WriteString("before")
	w.WriteByte(byte(protocol.SvcDisconnect))
	w.WriteByte(byte(protocol.SvcPrint)) // must never be reached
	w.WriteByte(byte(protocol.PrintLow))
	w.WriteString("after")

	dec, disp := newTestDecoder()
	res, err := dec.Decode(w.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Disconnected {
		t.Fatal("expected Disconnected to be set")
	}

	select {
	case e := <-disp.Events():
		cm := e.Payload.(events.ConsoleMessage)
		if cm.Text != "before" {
			t.Fatalf("expected only the pre-disconnect message, got %q", cm.Text)
		}
	default:
		t.Fatal("expected one console message before disconnect")
	}
	select {
	case e := <-disp.Events():
		t.Fatalf("did not expect a second message, got %+v", e)
	default:
	}
}

func TestDecodeTruncatedPayloadReturnsPartialResult(t *testing.T) {
	w := wire.NewWriter()
	w.WriteByte(byte(protocol.SvcStuffText))
	w.WriteString("precache\n")
	w.WriteByte(byte(protocol.SvcConfigString))
	w.WriteUint16(5) // index only, value missing: truncated

	dec, _ := newTestDecoder()
	res, err := dec.Decode(w.Bytes())
	if err == nil {
		t.Fatal("expected a protocol decode error for the truncated configstring")
	}
	if len(res.StuffTexts) != 1 {
		t.Fatalf("expected the stufftext decoded before truncation to survive, got %v", res.StuffTexts)
	}
}

func TestDecodeZPacketInflatesAndRecurses(t *testing.T) {
	inner := wire.NewWriter()
	inner.WriteByte(byte(protocol.SvcPrint))
	inner.WriteByte(byte(protocol.PrintHigh))
	inner.WriteString("compressed message")
	innerBytes := inner.Bytes()

	var buf bytes.Buffer
	fw, _ := flate.NewWriter(&buf, flate.DefaultCompression)
	fw.Write(innerBytes)
	fw.Close()

	w := wire.NewWriter()
	w.WriteByte(byte(protocol.SvcZPacket))
	w.WriteUint16(uint16(buf.Len()))
	w.WriteUint16(uint16(len(innerBytes)))
	w.WriteBytes(buf.Bytes())

	dec, disp := newTestDecoder()
	if _, err := dec.Decode(w.Bytes()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := <-disp.Events()
	cm := e.Payload.(events.ConsoleMessage)
	if cm.Text != "compressed message" {
		t.Fatalf("console message = %+v", cm)
	}
}

func TestMaybeInflateSkipsKnownOpcodeLeadByte(t *testing.T) {
	raw := []byte{byte(protocol.SvcPrint), 0x02, 0x03}
	out := MaybeInflate(raw)
	if !bytes.Equal(out, raw) {
		t.Fatalf("expected passthrough for a known opcode lead byte, got %v", out)
	}
}

func TestMaybeInflateFallsBackWhenBothFormsFail(t *testing.T) {
	raw := []byte{0x19, 0xDE, 0xAD, 0xBE, 0xEF}
	out := MaybeInflate(raw)
	if !bytes.Equal(out, raw) {
		t.Fatalf("expected passthrough when neither inflate form succeeds, got %v", out)
	}
}

func TestRawDeflateInflateRoundTrip(t *testing.T) {
	inner := []byte{byte(protocol.SvcPrint), 0, 'h', 'i', 0}
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		t.Fatalf("flate.NewWriter: %v", err)
	}
	fw.Write(inner)
	fw.Close()

	out, ok := tryRawInflate(buf.Bytes())
	if !ok {
		t.Fatal("expected raw-deflate inflate to succeed")
	}
	if !bytes.Equal(out, inner) {
		t.Fatalf("inflated = %v, want %v", out, inner)
	}
}

func TestFramedInflateRoundTrip(t *testing.T) {
	inner := []byte{byte(protocol.SvcPrint), 0, 'h', 'i', 0}
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		t.Fatalf("flate.NewWriter: %v", err)
	}
	fw.Write(inner)
	fw.Close()

	w := wire.NewWriter()
	w.WriteUint16(uint16(buf.Len()))
	w.WriteUint16(uint16(len(inner)))
	w.WriteBytes(buf.Bytes())

	out, ok := tryFramedInflate(w.Bytes())
	if !ok {
		t.Fatal("expected header-framed inflate to succeed")
	}
	if !bytes.Equal(out, inner) {
		t.Fatalf("inflated = %v, want %v", out, inner)
	}
}

func TestDecodeSpawnBaselineSeedsTracker(t *testing.T) {
	w := wire.NewWriter()
	w.WriteByte(byte(protocol.SvcSpawnBaseline))
	// base byte: U_ORIGIN1 only, so the entity number fits in one byte
	// and no extension bytes are needed.
	w.WriteByte(byte(protocol.UOrigin1))
	w.WriteByte(42)           // entity number
	w.WriteUint16(uint16(80)) // origin.x = 80 * 0.125 = 10.0

	tr := entity.NewTracker()
	disp := events.NewDispatcher(8)
	dec := New(tr, disp, func() int64 { return 0 })
	if _, err := dec.Decode(w.Bytes()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	base := tr.Baseline(42)
	if !base.Active || base.Origin.X != 10.0 {
		t.Fatalf("baseline = %+v", base)
	}
}
