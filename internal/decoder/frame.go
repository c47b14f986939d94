package decoder

import (
	"fmt"

	"q2mon-go/internal/entity"
	"q2mon-go/internal/events"
	"q2mon-go/internal/protocol"
	"q2mon-go/internal/wire"
)

// readFrame parses SVC_FRAME: a version-dependent frame header, an
// inline player-state delta, and a packet-entities block terminated by
// an all-zero bits/number pair.
func (d *Decoder) readFrame(r *wire.Reader, res *Result) error {
	var serverFrame uint32

	if d.version.Kind == protocol.KindVanilla {
		fn, err := r.ReadInt32()
		if err != nil {
			return fmt.Errorf("frame: read framenum: %w", err)
		}
		if _, err := r.ReadInt32(); err != nil { // delta_num
			return fmt.Errorf("frame: read delta_num: %w", err)
		}
		if _, err := r.ReadByte(); err != nil { // suppress_count
			return fmt.Errorf("frame: read suppress_count: %w", err)
		}
		serverFrame = uint32(fn)
	} else {
		packed, err := r.ReadUint32()
		if err != nil {
			return fmt.Errorf("frame: read packed framenum/delta_num: %w", err)
		}
		if _, err := r.ReadByte(); err != nil { // suppress_flags
			return fmt.Errorf("frame: read suppress_flags: %w", err)
		}
		serverFrame = packed & 0x07FFFFFF
	}

	arLen, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("frame: read areabits length: %w", err)
	}
	if arLen > 0 {
		if _, err := r.ReadBytes(int(arLen)); err != nil {
			return fmt.Errorf("frame: read areabits: %w", err)
		}
	}

	if err := d.readInlinePlayerState(r); err != nil {
		return err
	}
	if err := d.readPacketEntities(r); err != nil {
		return err
	}

	res.FrameSeen = true
	res.LastFrameNum = serverFrame
	return nil
}

func (d *Decoder) readInlinePlayerState(r *wire.Reader) error {
	bits, err := r.ReadUint16()
	if err != nil {
		return fmt.Errorf("frame: read playerstate bits: %w", err)
	}
	vanilla := d.version.Kind == protocol.KindVanilla
	ps, err := entity.ReadPlayerStateDelta(r, bits, vanilla, d.lastPlayerState)
	if err != nil {
		return fmt.Errorf("frame: %w", err)
	}
	d.lastPlayerState = ps

	d.emit(events.KindPlayerUpdate, events.PlayerUpdate{
		IsLocalPlayer: true,
		Origin:        [3]float32{ps.PMove.Origin.X, ps.PMove.Origin.Y, ps.PMove.Origin.Z},
		ViewAngles:    [3]float32{ps.ViewAngles.X, ps.ViewAngles.Y, ps.ViewAngles.Z},
		Health:        ps.Stats[statHealth],
		Armor:         ps.Stats[statArmor],
	})
	return nil
}

// statHealth and statArmor are the conventional stat-array slots used by
// the game DLL this client targets; they are not renegotiated on the wire.
const (
	statHealth = 1
	statArmor  = 4
)

func (d *Decoder) readPacketEntities(r *wire.Reader) error {
	for {
		bits, err := entity.ReadBits(r)
		if err != nil {
			return fmt.Errorf("packetentities: read bits: %w", err)
		}
		number, err := entity.ReadNumber(r, bits)
		if err != nil {
			return fmt.Errorf("packetentities: read number: %w", err)
		}
		if bits == 0 && number == 0 {
			return nil
		}

		remove := bits&protocol.URemove != 0
		var delta entity.Delta
		if !remove {
			delta, err = entity.ReadDelta(r, bits)
			if err != nil {
				return fmt.Errorf("packetentities: entity %d: %w", number, err)
			}
		}
		d.tracker.ApplyDelta(number, bits, delta, remove)

		s, _ := d.tracker.Current(number)
		class := entity.Classify(number, s.Effects, s.RenderFX)
		d.emit(events.KindEntityUpdate, events.EntityUpdate{
			Number:     number,
			Class:      classString(class),
			Origin:     [3]float32{s.Origin.X, s.Origin.Y, s.Origin.Z},
			Angles:     [3]float32{s.Angles.X, s.Angles.Y, s.Angles.Z},
			ModelIndex: s.ModelIndex,
			Effects:    s.Effects,
			Removed:    remove,
		})
	}
}

func classString(c entity.Class) string {
	switch c {
	case entity.ClassPlayer:
		return "player"
	case entity.ClassProjectile:
		return "projectile"
	case entity.ClassItem:
		return "item"
	default:
		return "entity"
	}
}
