// Package decoder implements the variable-length server-message opcode
// stream: per-opcode argument parsing, zlib-compressed sub-packets, and
// the baseline/frame handoff into internal/entity. Every field read is
// bounds-checked; a truncation aborts the current payload and is
// reported as a *q2err.ProtocolDecodeError rather than a panic, so a
// malformed message never tears down the connection.
package decoder

import (
	"fmt"

	"q2mon-go/internal/entity"
	"q2mon-go/internal/events"
	"q2mon-go/internal/protocol"
	"q2mon-go/internal/q2err"
	"q2mon-go/internal/wire"
)

// ServerData is the decoded SERVERDATA payload.
type ServerData struct {
	Version     protocol.Version
	ServerCount int32
	AttractLoop bool
	GameDir     string
	ClientNum   int16
	MapName     string
}

// GameState is the decoded embedded configstring table carried by a
// GAMESTATE message. No baseline table is read: parsing stops at the
// configstring terminator and any bytes after it are decoded as further
// opcodes.
type GameState struct {
	ConfigStrings map[uint16]string
}

// Result accumulates everything one call to Decode produced. StuffTexts
// are handed back raw; internal/handshake owns interpreting them.
type Result struct {
	StuffTexts    []string
	ServerData    *ServerData
	GameState     *GameState
	ConfigStrings map[uint16]string
	Disconnected  bool
	Reconnect     bool
	LastFrameNum  uint32
	FrameSeen     bool
}

// Decoder owns the per-connection protocol version (fixed once SERVERDATA
// is seen) and dispatches the opcode stream into a Result plus emitted
// events. It holds no netchan or handshake state: those subsystems talk
// to each other through the values Decode returns, not shared structs.
type Decoder struct {
	version protocol.Version
	hasVersion bool
	tracker *entity.Tracker
	sink    *events.Dispatcher
	nowMS   func() int64
	debug   bool

	lastPlayerState entity.PlayerState
}

// PlayerState returns the most recently decoded local player-state.
func (d *Decoder) PlayerState() entity.PlayerState { return d.lastPlayerState }

// New returns a Decoder that applies entity/player deltas to tracker and
// emits events to sink. nowMS supplies the millisecond timestamp stamped
// on every emitted event (injected so tests are deterministic).
func New(tracker *entity.Tracker, sink *events.Dispatcher, nowMS func() int64) *Decoder {
	return &Decoder{tracker: tracker, sink: sink, nowMS: nowMS}
}

// SetDebug toggles verbose raw-message event emission.
func (d *Decoder) SetDebug(debug bool) { d.debug = debug }

// Version returns the protocol negotiated by the most recently decoded
// SERVERDATA message.
func (d *Decoder) Version() protocol.Version { return d.version }

func (d *Decoder) emit(kind events.Kind, payload interface{}) {
	d.sink.Emit(events.Event{Kind: kind, TimestampMS: d.nowMS(), Payload: payload})
}

// Decode parses one reassembled netchan payload. A truncation aborts
// decoding of the *current* payload only — the result accumulated so far
// is still returned, wrapped with a *q2err.ProtocolDecodeError the caller
// should log but never treat as connection-fatal.
func (d *Decoder) Decode(payload []byte) (Result, error) {
	var res Result
	r := wire.NewReader(payload)

	for r.Len() > 0 {
		opByte, err := r.ReadByte()
		if err != nil {
			return res, nil // exactly zero bytes remained; not an error
		}
		op := int(opByte) & protocol.OpcodeMask
		if op == protocol.Extend {
			ext, err := r.ReadByte()
			if err != nil {
				return res, &q2err.ProtocolDecodeError{Context: "extended opcode", Err: err}
			}
			op = int(ext)
		}

		if err := d.dispatch(op, r, &res); err != nil {
			return res, &q2err.ProtocolDecodeError{Context: fmt.Sprintf("opcode %d", op), Err: err}
		}
		if res.Disconnected || res.Reconnect {
			break
		}
	}
	return res, nil
}

func (d *Decoder) dispatch(op int, r *wire.Reader, res *Result) error {
	switch op {
	case protocol.SvcNop:
		return nil

	case protocol.SvcDisconnect:
		res.Disconnected = true
		return nil

	case protocol.SvcReconnect:
		res.Reconnect = true
		return nil

	case protocol.SvcSound:
		return d.skipSound(r)

	case protocol.SvcPrint:
		return d.readPrint(r)

	case protocol.SvcStuffText:
		s, err := r.ReadString()
		if err != nil {
			return fmt.Errorf("read stufftext: %w", err)
		}
		res.StuffTexts = append(res.StuffTexts, s)
		return nil

	case protocol.SvcServerData:
		sd, err := d.readServerData(r)
		if err != nil {
			return err
		}
		res.ServerData = sd
		return nil

	case protocol.SvcConfigString:
		idx, err := r.ReadUint16()
		if err != nil {
			return fmt.Errorf("read configstring index: %w", err)
		}
		s, err := r.ReadString()
		if err != nil {
			return fmt.Errorf("read configstring value: %w", err)
		}
		if res.ConfigStrings == nil {
			res.ConfigStrings = make(map[uint16]string)
		}
		res.ConfigStrings[idx] = s
		return nil

	case protocol.SvcSpawnBaseline:
		return d.readSpawnBaseline(r)

	case protocol.SvcCenterPrint:
		_, err := r.ReadString()
		return err

	case protocol.SvcDownload:
		return d.skipDownload(r)

	case protocol.SvcFrame:
		return d.readFrame(r, res)

	case protocol.SvcZPacket:
		return d.readZPacket(r, res)

	case protocol.SvcGameState:
		gs, err := d.readGameState(r)
		if err != nil {
			return err
		}
		res.GameState = gs
		if res.ConfigStrings == nil {
			res.ConfigStrings = make(map[uint16]string, len(gs.ConfigStrings))
		}
		for k, v := range gs.ConfigStrings {
			res.ConfigStrings[k] = v
		}
		return nil

	case protocol.SvcSetting:
		_, err := r.ReadBytes(8)
		return err

	default:
		// Unknown top-level opcode: its argument length is unknowable,
		// so the rest of this payload is unparseable and decoding stops.
		return fmt.Errorf("unknown opcode %d", op)
	}
}

// skipSound consumes SOUND's flag-driven variable-length argument block
// without interpreting it — the core never plays audio.
func (d *Decoder) skipSound(r *wire.Reader) error {
	flags, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read sound flags: %w", err)
	}
	const (
		sndVolume     = 1 << 0
		sndAttenuation = 1 << 1
		sndPos        = 1 << 2
		sndEntity     = 1 << 3
		sndOffset     = 1 << 4
	)
	if _, err := r.ReadByte(); err != nil { // sound index, always present
		return fmt.Errorf("read sound index: %w", err)
	}
	if flags&sndVolume != 0 {
		if _, err := r.ReadByte(); err != nil {
			return err
		}
	}
	if flags&sndAttenuation != 0 {
		if _, err := r.ReadByte(); err != nil {
			return err
		}
	}
	if flags&sndOffset != 0 {
		if _, err := r.ReadByte(); err != nil {
			return err
		}
	}
	if flags&sndEntity != 0 {
		if _, err := r.ReadUint16(); err != nil {
			return err
		}
	}
	if flags&sndPos != 0 {
		for i := 0; i < 3; i++ {
			if _, err := r.Coord(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Decoder) readPrint(r *wire.Reader) error {
	lvl, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read print level: %w", err)
	}
	s, err := r.ReadString()
	if err != nil {
		return fmt.Errorf("read print text: %w", err)
	}
	d.emit(events.KindConsoleMessage, events.ConsoleMessage{
		Level: protocol.PrintLevel(lvl).String(),
		Text:  Sanitize(s),
	})
	return nil
}

func (d *Decoder) skipDownload(r *wire.Reader) error {
	size, err := r.ReadInt16()
	if err != nil {
		return fmt.Errorf("read download size: %w", err)
	}
	if _, err := r.ReadByte(); err != nil { // percent
		return fmt.Errorf("read download percent: %w", err)
	}
	if size > 0 {
		if _, err := r.ReadBytes(int(size)); err != nil {
			return fmt.Errorf("read download payload: %w", err)
		}
	}
	return nil
}

func (d *Decoder) readSpawnBaseline(r *wire.Reader) error {
	bits, err := entity.ReadBits(r)
	if err != nil {
		return fmt.Errorf("read baseline bits: %w", err)
	}
	number, err := entity.ReadNumber(r, bits)
	if err != nil {
		return fmt.Errorf("read baseline number: %w", err)
	}
	delta, err := entity.ReadDelta(r, bits)
	if err != nil {
		return fmt.Errorf("read baseline delta: %w", err)
	}
	s := entity.State{
		ModelIndex: delta.ModelIndex, ModelIndex2: delta.ModelIndex2,
		ModelIndex3: delta.ModelIndex3, ModelIndex4: delta.ModelIndex4,
		Frame: delta.Frame, Skin: delta.Skin, Effects: delta.Effects,
		RenderFX: delta.RenderFX, Origin: delta.Origin, Angles: delta.Angles,
		OldOrigin: delta.OldOrigin, Sound: delta.Sound, Event: delta.Event,
		Solid: delta.Solid,
	}
	d.tracker.SetBaseline(number, s)
	return nil
}

// Sanitize down-samples color characters (high bit set) by clearing the
// bit and drops other non-printable control bytes.
func Sanitize(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b&0x80 != 0 {
			b &^= 0x80
		}
		if b == '\n' || b == '\t' || (b >= 0x20 && b < 0x7F) {
			out = append(out, b)
		}
	}
	return string(out)
}
