package decoder

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"q2mon-go/internal/protocol"
	"q2mon-go/internal/wire"
)

// readZPacket parses SVC_ZPACKET: a raw-deflate (no zlib header)
// sub-message framed by its compressed and uncompressed lengths. The
// inflated bytes are themselves a full opcode stream and are decoded
// recursively, with the nested Result merged into res.
func (d *Decoder) readZPacket(r *wire.Reader, res *Result) error {
	inLen, err := r.ReadUint16()
	if err != nil {
		return fmt.Errorf("zpacket: read compressed length: %w", err)
	}
	outLen, err := r.ReadUint16()
	if err != nil {
		return fmt.Errorf("zpacket: read uncompressed length: %w", err)
	}
	compressed, err := r.ReadBytes(int(inLen))
	if err != nil {
		return fmt.Errorf("zpacket: read compressed payload: %w", err)
	}

	fr := flate.NewReader(bytes.NewReader(compressed))
	defer fr.Close()

	out := make([]byte, outLen)
	if _, err := io.ReadFull(fr, out); err != nil {
		return fmt.Errorf("zpacket: inflate: %w", err)
	}

	nested, err := d.Decode(out)
	mergeResult(res, nested)
	if err != nil {
		return fmt.Errorf("zpacket: nested decode: %w", err)
	}
	return nil
}

// looksLikeKnownOpcode reports whether the low 5 bits of b name one of
// the svc_ commands this decoder recognizes. MaybeInflate only attempts
// inflation when the leading byte of a payload fails this check, since a
// genuine opcode stream always starts with one.
func looksLikeKnownOpcode(b byte) bool {
	switch int(b) & protocol.OpcodeMask {
	case protocol.SvcBad, protocol.SvcMuzzleFlash, protocol.SvcMuzzleFlash2,
		protocol.SvcTempEntity, protocol.SvcLayout, protocol.SvcInventory,
		protocol.SvcNop, protocol.SvcDisconnect, protocol.SvcReconnect,
		protocol.SvcSound, protocol.SvcPrint, protocol.SvcStuffText,
		protocol.SvcServerData, protocol.SvcConfigString, protocol.SvcSpawnBaseline,
		protocol.SvcCenterPrint, protocol.SvcDownload, protocol.SvcPlayerInfo,
		protocol.SvcPacketEntities, protocol.SvcDeltaPacketEntities, protocol.SvcFrame,
		protocol.SvcZPacket, protocol.SvcZDownload, protocol.SvcGameState,
		protocol.SvcSetting, protocol.Extend:
		return true
	default:
		return false
	}
}

// MaybeInflate opportunistically inflates an entire netchan payload
// before opcode decoding begins: some servers wrap the whole reliable
// stream in a raw-deflate envelope instead of (or in addition to)
// per-message ZPACKET framing. It is only attempted when the leading
// byte doesn't name a known opcode — a real opcode stream is left
// untouched. Raw inflation of the whole payload is tried first; failing
// that, the payload is reinterpreted as a {u16 inlen, u16 outlen}
// length-framed form, matching ZPACKET's own framing. Either form
// restarts parsing on the inflated output; if neither succeeds the
// payload is returned unchanged, not treated as an error.
func MaybeInflate(payload []byte) []byte {
	if len(payload) == 0 || looksLikeKnownOpcode(payload[0]) {
		return payload
	}
	if out, ok := tryRawInflate(payload); ok {
		return out
	}
	if out, ok := tryFramedInflate(payload); ok {
		return out
	}
	return payload
}

func tryRawInflate(payload []byte) ([]byte, bool) {
	fr := flate.NewReader(bytes.NewReader(payload))
	defer fr.Close()
	out, err := io.ReadAll(fr)
	if err != nil || len(out) == 0 {
		return nil, false
	}
	return out, true
}

func tryFramedInflate(payload []byte) ([]byte, bool) {
	r := wire.NewReader(payload)
	inLen, err := r.ReadUint16()
	if err != nil {
		return nil, false
	}
	outLen, err := r.ReadUint16()
	if err != nil {
		return nil, false
	}
	compressed, err := r.ReadBytes(int(inLen))
	if err != nil {
		return nil, false
	}

	fr := flate.NewReader(bytes.NewReader(compressed))
	defer fr.Close()
	out := make([]byte, outLen)
	if _, err := io.ReadFull(fr, out); err != nil {
		return nil, false
	}
	return out, true
}

func mergeResult(dst *Result, src Result) {
	dst.StuffTexts = append(dst.StuffTexts, src.StuffTexts...)
	if src.ServerData != nil {
		dst.ServerData = src.ServerData
	}
	if src.GameState != nil {
		dst.GameState = src.GameState
	}
	if len(src.ConfigStrings) > 0 {
		if dst.ConfigStrings == nil {
			dst.ConfigStrings = make(map[uint16]string, len(src.ConfigStrings))
		}
		for k, v := range src.ConfigStrings {
			dst.ConfigStrings[k] = v
		}
	}
	if src.Disconnected {
		dst.Disconnected = true
	}
	if src.Reconnect {
		dst.Reconnect = true
	}
	if src.FrameSeen {
		dst.FrameSeen = true
		dst.LastFrameNum = src.LastFrameNum
	}
}
