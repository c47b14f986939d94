package entity

import (
	"fmt"

	"q2mon-go/internal/protocol"
	"q2mon-go/internal/wire"
)

// PMove is the movement sub-block of a player-state.
type PMove struct {
	Type        uint8
	Origin      Vec3
	Velocity    Vec3
	Flags       uint8
	Time        uint8
	Gravity     int16
	DeltaAngles Vec3
}

// PlayerState is the single per-connection player-state record.
type PlayerState struct {
	PMove PMove

	ViewOffset Vec3
	ViewAngles Vec3
	KickAngles Vec3

	WeaponIndex uint8
	WeaponFrame uint8

	Blend [4]float32
	FOV   float32
	RDFlags uint16

	Stats [protocol.StatWords]int16
}

// ReadPlayerStateDelta applies a PS_* bit-masked delta on top of base,
// returning the updated state. Vanilla always sends the full 32-short
// stats block; extended protocols gate individual stat words behind a
// 32-bit presence mask that follows immediately after the fields
// selected by bits.
func ReadPlayerStateDelta(r *wire.Reader, bits uint16, vanilla bool, base PlayerState) (PlayerState, error) {
	ps := base

	if bits&protocol.PSMType != 0 {
		v, err := r.ReadByte()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read pm_type: %w", err)
		}
		ps.PMove.Type = v
	}
	if bits&protocol.PSMOrigin != 0 {
		x, err := r.Coord()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read pm_origin.x: %w", err)
		}
		y, err := r.Coord()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read pm_origin.y: %w", err)
		}
		z, err := r.Coord()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read pm_origin.z: %w", err)
		}
		ps.PMove.Origin = Vec3{X: x, Y: y, Z: z}
	}
	if bits&protocol.PSMVelocity != 0 {
		x, err := r.Coord()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read pm_velocity.x: %w", err)
		}
		y, err := r.Coord()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read pm_velocity.y: %w", err)
		}
		z, err := r.Coord()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read pm_velocity.z: %w", err)
		}
		ps.PMove.Velocity = Vec3{X: x, Y: y, Z: z}
	}
	if bits&protocol.PSMTime != 0 {
		v, err := r.ReadByte()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read pm_time: %w", err)
		}
		ps.PMove.Time = v
	}
	if bits&protocol.PSMFlags != 0 {
		v, err := r.ReadByte()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read pm_flags: %w", err)
		}
		ps.PMove.Flags = v
	}
	if bits&protocol.PSMGravity != 0 {
		v, err := r.ReadInt16()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read pm_gravity: %w", err)
		}
		ps.PMove.Gravity = v
	}
	if bits&protocol.PSMDeltaAngles != 0 {
		x, err := r.ReadInt16()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read delta_angles.x: %w", err)
		}
		y, err := r.ReadInt16()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read delta_angles.y: %w", err)
		}
		z, err := r.ReadInt16()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read delta_angles.z: %w", err)
		}
		ps.PMove.DeltaAngles = Vec3{X: float32(x), Y: float32(y), Z: float32(z)}
	}
	if bits&protocol.PSViewOffset != 0 {
		x, err := r.Char()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read view_offset.x: %w", err)
		}
		y, err := r.Char()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read view_offset.y: %w", err)
		}
		z, err := r.Char()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read view_offset.z: %w", err)
		}
		ps.ViewOffset = Vec3{X: x, Y: y, Z: z}
	}
	if bits&protocol.PSViewAngles != 0 {
		x, err := r.AngleShort()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read view_angles.x: %w", err)
		}
		y, err := r.AngleShort()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read view_angles.y: %w", err)
		}
		z, err := r.AngleShort()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read view_angles.z: %w", err)
		}
		ps.ViewAngles = Vec3{X: x, Y: y, Z: z}
	}
	if bits&protocol.PSKickAngles != 0 {
		x, err := r.Char()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read kick_angles.x: %w", err)
		}
		y, err := r.Char()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read kick_angles.y: %w", err)
		}
		z, err := r.Char()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read kick_angles.z: %w", err)
		}
		ps.KickAngles = Vec3{X: x, Y: y, Z: z}
	}
	if bits&protocol.PSWeaponIndex != 0 {
		v, err := r.ReadByte()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read weapon index: %w", err)
		}
		ps.WeaponIndex = v
	}
	if bits&protocol.PSWeaponFrame != 0 {
		v, err := r.ReadByte()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read weapon frame: %w", err)
		}
		ps.WeaponFrame = v
	}
	if bits&protocol.PSBlend != 0 {
		for i := 0; i < 4; i++ {
			v, err := r.ReadByte()
			if err != nil {
				return ps, fmt.Errorf("playerstate: read blend[%d]: %w", i, err)
			}
			ps.Blend[i] = float32(v) / 255.0
		}
	}
	if bits&protocol.PSFOV != 0 {
		v, err := r.ReadByte()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read fov: %w", err)
		}
		ps.FOV = float32(v)
	}
	if bits&protocol.PSRDFlags != 0 {
		v, err := r.ReadByte()
		if err != nil {
			return ps, fmt.Errorf("playerstate: read rdflags: %w", err)
		}
		ps.RDFlags = uint16(v)
	}

	if err := readStats(r, vanilla, &ps); err != nil {
		return ps, err
	}

	return ps, nil
}

// readStats honors the Q2PRO/AQtion stats presence mask rather than
// eliding it, so this tracker stays useful to more than console-only
// consumers. Vanilla has no mask and always sends all 32 words.
func readStats(r *wire.Reader, vanilla bool, ps *PlayerState) error {
	if vanilla {
		for i := 0; i < protocol.StatWords; i++ {
			v, err := r.ReadInt16()
			if err != nil {
				return fmt.Errorf("playerstate: read stat[%d]: %w", i, err)
			}
			ps.Stats[i] = v
		}
		return nil
	}

	mask, err := r.ReadUint32()
	if err != nil {
		return fmt.Errorf("playerstate: read stats mask: %w", err)
	}
	for i := 0; i < protocol.StatWords; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		v, err := r.ReadInt16()
		if err != nil {
			return fmt.Errorf("playerstate: read masked stat[%d]: %w", i, err)
		}
		ps.Stats[i] = v
	}
	return nil
}
