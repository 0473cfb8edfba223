package sacodec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var errShort = errors.New("input too short")

type writer struct {
	b []byte
}

func (w *writer) u8(v uint8) {
	w.b = append(w.b, v)
}

func (w *writer) u16(v uint16) {
	w.b = binary.LittleEndian.AppendUint16(w.b, v)
}

func (w *writer) u32(v uint32) {
	w.b = binary.LittleEndian.AppendUint32(w.b, v)
}

func (w *writer) u64(v uint64) {
	w.b = binary.LittleEndian.AppendUint64(w.b, v)
}

func (w *writer) raw(b []byte) {
	w.b = append(w.b, b...)
}

// fixed writes b padded or required to be exactly n bytes.
// A nil b is written as n zero bytes.
func (w *writer) fixed(b []byte, n int, what string) error {
	if b == nil {
		w.b = append(w.b, make([]byte, n)...)
		return nil
	}
	if len(b) != n {
		return fmt.Errorf("%s must be %d bytes, got %d", what, n, len(b))
	}
	w.b = append(w.b, b...)
	return nil
}

func (w *writer) bytes16(b []byte, what string) error {
	if len(b) > 0xFFFF {
		return fmt.Errorf("%s too long: %d bytes", what, len(b))
	}
	w.u16(uint16(len(b)))
	w.raw(b)
	return nil
}

type reader struct {
	b []byte
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || len(r.b) < n {
		return nil, errShort
	}
	out := r.b[:n]
	r.b = r.b[n:]
	return out, nil
}

func (r *reader) u8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// copyN returns a copy of the next n bytes.
func (r *reader) copyN(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// fixedOrNil is like copyN but returns nil if every byte is zero.
func (r *reader) fixedOrNil(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	for _, c := range b {
		if c != 0 {
			out := make([]byte, n)
			copy(out, b)
			return out, nil
		}
	}
	return nil, nil
}

func (r *reader) bytes16() ([]byte, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	return r.copyN(int(n))
}
