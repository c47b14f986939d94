package entity

import (
	"fmt"

	"q2mon-go/internal/protocol"
	"q2mon-go/internal/wire"
)

// ReadBits assembles the 32-bit delta mask from the base byte plus the
// chained U_MOREBITS1/2/3 extension bytes.
func ReadBits(r *wire.Reader) (uint32, error) {
	b0, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("entity: read delta base byte: %w", err)
	}
	bits := uint32(b0)

	if bits&protocol.UMoreBits1 != 0 {
		b1, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("entity: read U_MOREBITS1 byte: %w", err)
		}
		bits |= uint32(b1) << 8

		if bits&protocol.UMoreBits2 != 0 {
			b2, err := r.ReadByte()
			if err != nil {
				return 0, fmt.Errorf("entity: read U_MOREBITS2 byte: %w", err)
			}
			bits |= uint32(b2) << 16

			if bits&protocol.UMoreBits3 != 0 {
				b3, err := r.ReadByte()
				if err != nil {
					return 0, fmt.Errorf("entity: read U_MOREBITS3 byte: %w", err)
				}
				bits |= uint32(b3) << 24
			}
		}
	}
	return bits, nil
}

// ReadNumber reads the entity number, sized by U_NUMBER16: a plain byte
// when absent, an u16 when set. Bits, number, and fields are each read
// exactly once per delta — never re-read.
func ReadNumber(r *wire.Reader, bits uint32) (int, error) {
	if bits&protocol.UNumber16 != 0 {
		n, err := r.ReadUint16()
		if err != nil {
			return 0, fmt.Errorf("entity: read u16 number: %w", err)
		}
		return int(n), nil
	}
	n, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("entity: read u8 number: %w", err)
	}
	return int(n), nil
}

// ReadDelta reads the fields selected by bits, in wire order: model
// indices, frame, skin, effects, renderfx, origin, angles, old_origin,
// sound, event, solid.
func ReadDelta(r *wire.Reader, bits uint32) (Delta, error) {
	var d Delta

	if bits&protocol.UModel != 0 {
		v, err := r.ReadByte()
		if err != nil {
			return d, fmt.Errorf("entity: read model index: %w", err)
		}
		d.ModelIndex = v
	}
	if bits&protocol.UModel2 != 0 {
		v, err := r.ReadByte()
		if err != nil {
			return d, fmt.Errorf("entity: read model2: %w", err)
		}
		d.ModelIndex2 = v
	}
	if bits&protocol.UModel3 != 0 {
		v, err := r.ReadByte()
		if err != nil {
			return d, fmt.Errorf("entity: read model3: %w", err)
		}
		d.ModelIndex3 = v
	}
	if bits&protocol.UModel4 != 0 {
		v, err := r.ReadByte()
		if err != nil {
			return d, fmt.Errorf("entity: read model4: %w", err)
		}
		d.ModelIndex4 = v
	}

	switch {
	case bits&protocol.UFrame16 != 0:
		v, err := r.ReadUint16()
		if err != nil {
			return d, fmt.Errorf("entity: read frame16: %w", err)
		}
		d.Frame = v
	case bits&protocol.UFrame8 != 0:
		v, err := r.ReadByte()
		if err != nil {
			return d, fmt.Errorf("entity: read frame8: %w", err)
		}
		d.Frame = uint16(v)
	}

	switch {
	case bits&protocol.USkin16 != 0 && bits&protocol.USkin8 != 0:
		v, err := r.ReadInt32()
		if err != nil {
			return d, fmt.Errorf("entity: read skin32: %w", err)
		}
		d.Skin = v
	case bits&protocol.USkin16 != 0:
		v, err := r.ReadUint16()
		if err != nil {
			return d, fmt.Errorf("entity: read skin16: %w", err)
		}
		d.Skin = int32(v)
	case bits&protocol.USkin8 != 0:
		v, err := r.ReadByte()
		if err != nil {
			return d, fmt.Errorf("entity: read skin8: %w", err)
		}
		d.Skin = int32(v)
	}

	switch {
	case bits&protocol.UEffects32 != 0:
		v, err := r.ReadInt32()
		if err != nil {
			return d, fmt.Errorf("entity: read effects32: %w", err)
		}
		d.Effects = v
	case bits&protocol.UEffects16 != 0:
		v, err := r.ReadUint16()
		if err != nil {
			return d, fmt.Errorf("entity: read effects16: %w", err)
		}
		d.Effects = int32(v)
	case bits&protocol.UEffects8 != 0:
		v, err := r.ReadByte()
		if err != nil {
			return d, fmt.Errorf("entity: read effects8: %w", err)
		}
		d.Effects = int32(v)
	}

	switch {
	case bits&protocol.URenderFX32 != 0:
		v, err := r.ReadInt32()
		if err != nil {
			return d, fmt.Errorf("entity: read renderfx32: %w", err)
		}
		d.RenderFX = v
	case bits&protocol.URenderFX16 != 0:
		v, err := r.ReadUint16()
		if err != nil {
			return d, fmt.Errorf("entity: read renderfx16: %w", err)
		}
		d.RenderFX = int32(v)
	case bits&protocol.URenderFX8 != 0:
		v, err := r.ReadByte()
		if err != nil {
			return d, fmt.Errorf("entity: read renderfx8: %w", err)
		}
		d.RenderFX = int32(v)
	}

	if bits&protocol.UOrigin1 != 0 {
		v, err := r.Coord()
		if err != nil {
			return d, fmt.Errorf("entity: read origin.x: %w", err)
		}
		d.Origin.X = v
	}
	if bits&protocol.UOrigin2 != 0 {
		v, err := r.Coord()
		if err != nil {
			return d, fmt.Errorf("entity: read origin.y: %w", err)
		}
		d.Origin.Y = v
	}
	if bits&protocol.UOrigin3 != 0 {
		v, err := r.Coord()
		if err != nil {
			return d, fmt.Errorf("entity: read origin.z: %w", err)
		}
		d.Origin.Z = v
	}

	if bits&protocol.UAngle1 != 0 {
		v, err := r.AngleByte()
		if err != nil {
			return d, fmt.Errorf("entity: read angle.x: %w", err)
		}
		d.Angles.X = v
	}
	if bits&protocol.UAngle2 != 0 {
		v, err := r.AngleByte()
		if err != nil {
			return d, fmt.Errorf("entity: read angle.y: %w", err)
		}
		d.Angles.Y = v
	}
	if bits&protocol.UAngle3 != 0 {
		v, err := r.AngleByte()
		if err != nil {
			return d, fmt.Errorf("entity: read angle.z: %w", err)
		}
		d.Angles.Z = v
	}

	if bits&protocol.UOldOrigin != 0 {
		x, err := r.Coord()
		if err != nil {
			return d, fmt.Errorf("entity: read old_origin.x: %w", err)
		}
		y, err := r.Coord()
		if err != nil {
			return d, fmt.Errorf("entity: read old_origin.y: %w", err)
		}
		z, err := r.Coord()
		if err != nil {
			return d, fmt.Errorf("entity: read old_origin.z: %w", err)
		}
		d.OldOrigin = Vec3{X: x, Y: y, Z: z}
	}

	if bits&protocol.USound != 0 {
		v, err := r.ReadByte()
		if err != nil {
			return d, fmt.Errorf("entity: read sound: %w", err)
		}
		d.Sound = v
	}
	if bits&protocol.UEvent != 0 {
		v, err := r.ReadByte()
		if err != nil {
			return d, fmt.Errorf("entity: read event: %w", err)
		}
		d.Event = v
	}
	if bits&protocol.USolid != 0 {
		v, err := r.ReadUint16()
		if err != nil {
			return d, fmt.Errorf("entity: read solid: %w", err)
		}
		d.Solid = v
	}

	return d, nil
}
