package wire

import (
	"encoding/binary"
	"math"
)

// Writer appends little-endian fields to a growable buffer, with signed
// and float forms alongside the raw byte primitives.
type Writer struct {
	data []byte
}

// NewWriter returns an empty writer.
func NewWriter() *Writer {
	return &Writer{data: make([]byte, 0, 64)}
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.data }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.data) }

// WriteByte appends a single byte.
func (w *Writer) WriteByte(b byte) {
	w.data = append(w.data, b)
}

// WriteBytes appends raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.data = append(w.data, b...)
}

// WriteUint16 appends a little-endian u16.
func (w *Writer) WriteUint16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	w.data = append(w.data, buf[:]...)
}

// WriteUint32 appends a little-endian u32.
func (w *Writer) WriteUint32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.data = append(w.data, buf[:]...)
}

// WriteInt32 appends a little-endian i32.
func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

// WriteFloat32 appends a little-endian IEEE-754 float.
func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

// WriteString appends a NUL-terminated string.
func (w *Writer) WriteString(s string) {
	w.data = append(w.data, s...)
	w.data = append(w.data, 0)
}
