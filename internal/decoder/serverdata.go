package decoder

import (
	"fmt"

	"q2mon-go/internal/entity"
	"q2mon-go/internal/protocol"
	"q2mon-go/internal/wire"
)

// readServerData parses SVC_SERVERDATA: a fixed common header followed by
// a protocol-specific tail whose shape depends on the wire protocol
// number carried in the first field. The Kind derived here becomes the
// Decoder's fixed version for the remainder of the connection.
func (d *Decoder) readServerData(r *wire.Reader) (*ServerData, error) {
	protoNum, err := r.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("serverdata: read protocol: %w", err)
	}
	kind := protocol.KindFromWire(protoNum)
	if kind == protocol.KindUnknown {
		return nil, fmt.Errorf("serverdata: unsupported protocol %d", protoNum)
	}

	sd := &ServerData{Version: protocol.Version{Kind: kind}}

	sd.ServerCount, err = r.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("serverdata: read servercount: %w", err)
	}
	al, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("serverdata: read attractloop: %w", err)
	}
	sd.AttractLoop = al != 0

	sd.GameDir, err = r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("serverdata: read gamedir: %w", err)
	}
	sd.ClientNum, err = r.ReadInt16()
	if err != nil {
		return nil, fmt.Errorf("serverdata: read clientnum: %w", err)
	}
	sd.MapName, err = r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("serverdata: read mapname: %w", err)
	}

	// The tail bytes below must be consumed regardless of whether this
	// client interprets them: skipping them would desync every opcode
	// that follows in the same payload.
	switch kind {
	case protocol.KindVanilla:
		// No tail.
	case protocol.KindR1Q2:
		if _, err := r.ReadByte(); err != nil { // enhanced
			return nil, fmt.Errorf("serverdata: read r1q2 enhanced: %w", err)
		}
		sd.Version.Minor, err = r.ReadUint16()
		if err != nil {
			return nil, fmt.Errorf("serverdata: read r1q2 minor version: %w", err)
		}
		if _, err := r.ReadByte(); err != nil { // advanced_deltas
			return nil, fmt.Errorf("serverdata: read r1q2 advanced deltas: %w", err)
		}
		if _, err := r.ReadByte(); err != nil { // strafejump_hack
			return nil, fmt.Errorf("serverdata: read r1q2 strafejump hack: %w", err)
		}
	case protocol.KindQ2PRO:
		sd.Version.Minor, err = r.ReadUint16()
		if err != nil {
			return nil, fmt.Errorf("serverdata: read q2pro minor version: %w", err)
		}
		if _, err := r.ReadByte(); err != nil { // server_state
			return nil, fmt.Errorf("serverdata: read q2pro server state: %w", err)
		}
		if sd.Version.Minor >= 1024 {
			if _, err := r.ReadUint16(); err != nil { // flags
				return nil, fmt.Errorf("serverdata: read q2pro flags: %w", err)
			}
		} else {
			if _, err := r.ReadBytes(3); err != nil { // strafejump, qw_mode, waterjump
				return nil, fmt.Errorf("serverdata: read q2pro legacy flags: %w", err)
			}
		}
	case protocol.KindAQtion:
		sd.Version.Minor, err = r.ReadUint16()
		if err != nil {
			return nil, fmt.Errorf("serverdata: read aqtion minor version: %w", err)
		}
		if _, err := r.ReadBytes(4); err != nil { // server_state, strafejump, qw_mode, waterjump
			return nil, fmt.Errorf("serverdata: read aqtion tail: %w", err)
		}
	}

	d.version = sd.Version
	d.hasVersion = true
	d.tracker.Reset()
	d.lastPlayerState = entity.PlayerState{}

	return sd, nil
}

// readGameState parses SVC_GAMESTATE: a run of (index uint16, value
// string) configstring pairs terminated by GameStateTerminator. It returns
// as soon as it reads the terminator and consumes nothing after it; the
// caller's opcode loop decodes whatever bytes follow.
func (d *Decoder) readGameState(r *wire.Reader) (*GameState, error) {
	gs := &GameState{ConfigStrings: make(map[uint16]string)}
	for {
		idx, err := r.ReadUint16()
		if err != nil {
			return gs, fmt.Errorf("gamestate: read configstring index: %w", err)
		}
		if idx == protocol.GameStateTerminator {
			return gs, nil
		}
		if idx >= protocol.MaxConfigStrings {
			return gs, fmt.Errorf("gamestate: configstring index %d out of range", idx)
		}
		val, err := r.ReadString()
		if err != nil {
			return gs, fmt.Errorf("gamestate: read configstring %d value: %w", idx, err)
		}
		gs.ConfigStrings[idx] = val
	}
}
