// Package wire implements the little-endian byte-cursor primitives shared
// by netchan, the opcode decoder, and the entity/player delta parsers.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Reader walks a byte slice with an explicit cursor, offering the signed,
// fixed-point and NUL-terminated string forms the Quake 2 wire format needs.
type Reader struct {
	data   []byte
	offset int
}

// NewReader wraps data for sequential reads starting at offset 0.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Offset returns the current cursor position.
func (r *Reader) Offset() int { return r.offset }

// Len returns the number of unread bytes remaining.
func (r *Reader) Len() int { return len(r.data) - r.offset }

// Remaining returns the unread tail of the buffer without advancing the cursor.
func (r *Reader) Remaining() []byte { return r.data[r.offset:] }

func (r *Reader) need(n int) error {
	if r.offset+n > len(r.data) {
		return fmt.Errorf("wire: short read: need %d bytes, have %d", n, r.Len())
	}
	return nil
}

// ReadByte returns the next byte.
func (r *Reader) ReadByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.data[r.offset]
	r.offset++
	return b, nil
}

// ReadBytes returns the next n bytes as a sub-slice (not a copy).
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

// ReadUint16 reads a little-endian u16.
func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadInt16 reads a little-endian i16.
func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

// ReadUint32 reads a little-endian u32.
func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadInt32 reads a little-endian i32.
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadFloat32 reads a little-endian IEEE-754 float.
func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadString reads a NUL-terminated latin-1 string.
func (r *Reader) ReadString() (string, error) {
	start := r.offset
	for r.offset < len(r.data) {
		if r.data[r.offset] == 0 {
			s := string(r.data[start:r.offset])
			r.offset++ // consume the NUL
			return s, nil
		}
		r.offset++
	}
	r.offset = start
	return "", fmt.Errorf("wire: unterminated string")
}

// Coord reads a 0.125-scaled fixed-point world coordinate (i16).
func (r *Reader) Coord() (float32, error) {
	v, err := r.ReadInt16()
	if err != nil {
		return 0, err
	}
	return float32(v) * 0.125, nil
}

// AngleByte reads a 360/256-scaled fixed-point angle (u8).
func (r *Reader) AngleByte() (float32, error) {
	v, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	return float32(v) * (360.0 / 256.0), nil
}

// AngleShort reads a 360/65536-scaled fixed-point angle (i16).
func (r *Reader) AngleShort() (float32, error) {
	v, err := r.ReadInt16()
	if err != nil {
		return 0, err
	}
	return float32(v) * (360.0 / 65536.0), nil
}

// Char reads a 0.25-scaled fixed-point value from a signed byte (used for
// kick angles and view offsets in the player-state delta).
func (r *Reader) Char() (float32, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	return float32(int8(b)) * 0.25, nil
}
