// Package wire implements the broker's compact binary framing for C6/C8:
// length-prefixed, stable field ordering, one fresh encoder or decoder per
// call. The shape follows the request/response encode/decode split seen in
// Kafka-style wire protocols — a packetEncoder that appends typed fields in
// a fixed order, and a packetDecoder that reads them back in the same
// order, failing closed on truncated input.
package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrTruncated is returned when a decode reads past the end of the buffer.
var ErrTruncated = errors.New("wire: truncated buffer")

// encoder appends typed fields to a growing byte buffer. It is never
// shared across concurrent calls — each Encode* function in this package
// constructs a fresh one.
type encoder struct {
	buf []byte
}

func newEncoder() *encoder {
	return &encoder{buf: make([]byte, 0, 256)}
}

func (e *encoder) putBool(v bool) {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

func (e *encoder) putInt32(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) putInt64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) putFloat64(v float64) {
	e.putInt64(int64(math.Float64bits(v)))
}

func (e *encoder) putBytes(v []byte) {
	e.putInt32(int32(len(v)))
	e.buf = append(e.buf, v...)
}

func (e *encoder) putString(v string) {
	e.putBytes([]byte(v))
}

func (e *encoder) putStringSlice(v []string) {
	e.putInt32(int32(len(v)))
	for _, s := range v {
		e.putString(s)
	}
}

func (e *encoder) putInt32Slice(v []int32) {
	e.putInt32(int32(len(v)))
	for _, n := range v {
		e.putInt32(n)
	}
}

// frame returns the length-prefixed frame: a 4-byte big-endian length
// header followed by the accumulated payload.
func (e *encoder) frame() []byte {
	framed := make([]byte, 4+len(e.buf))
	binary.BigEndian.PutUint32(framed, uint32(len(e.buf)))
	copy(framed[4:], e.buf)
	return framed
}

// decoder reads typed fields back off a byte buffer in the order an
// encoder wrote them. Every getter bounds-checks before reading.
type decoder struct {
	buf []byte
	off int
}

func newDecoder(buf []byte) *decoder {
	return &decoder{buf: buf}
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.off
}

func (d *decoder) getBool() (bool, error) {
	if d.remaining() < 1 {
		return false, ErrTruncated
	}
	v := d.buf[d.off] != 0
	d.off++
	return v, nil
}

func (d *decoder) getInt32() (int32, error) {
	if d.remaining() < 4 {
		return 0, ErrTruncated
	}
	v := int32(binary.BigEndian.Uint32(d.buf[d.off:]))
	d.off += 4
	return v, nil
}

func (d *decoder) getInt64() (int64, error) {
	if d.remaining() < 8 {
		return 0, ErrTruncated
	}
	v := int64(binary.BigEndian.Uint64(d.buf[d.off:]))
	d.off += 8
	return v, nil
}

func (d *decoder) getFloat64() (float64, error) {
	v, err := d.getInt64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(v)), nil
}

func (d *decoder) getBytes() ([]byte, error) {
	n, err := d.getInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 || d.remaining() < int(n) {
		return nil, ErrTruncated
	}
	v := d.buf[d.off : d.off+int(n)]
	d.off += int(n)
	return v, nil
}

func (d *decoder) getString() (string, error) {
	b, err := d.getBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) getInt32Slice() ([]int32, error) {
	n, err := d.getInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, ErrTruncated
	}
	out := make([]int32, n)
	for i := range out {
		if out[i], err = d.getInt32(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *decoder) getStringSlice() ([]string, error) {
	n, err := d.getInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, ErrTruncated
	}
	out := make([]string, n)
	for i := range out {
		s, err := d.getString()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// unframe strips the 4-byte length header and returns a decoder positioned
// at the start of the payload, validating the declared length fits.
func unframe(data []byte) (*decoder, error) {
	if len(data) < 4 {
		return nil, ErrTruncated
	}
	n := binary.BigEndian.Uint32(data)
	if uint32(len(data)-4) < n {
		return nil, ErrTruncated
	}
	return newDecoder(data[4 : 4+n]), nil
}
