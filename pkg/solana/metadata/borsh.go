package metadata

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/pkg/errors"
)

// reader decodes the borsh layouts used by the program. Options carry a one
// byte tag, and strings and vectors a little endian u32 length.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.b) {
		r.err = errors.Errorf("unexpected end of data at offset %d (want %d bytes)", r.off, n)
		return nil
	}

	v := r.b[r.off : r.off+n]
	r.off += n
	return v
}

func (r *reader) u8() uint8 {
	v := r.take(1)
	if v == nil {
		return 0
	}
	return v[0]
}

func (r *reader) bool() bool {
	return r.u8() != 0
}

func (r *reader) u16() uint16 {
	v := r.take(2)
	if v == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(v)
}

func (r *reader) u32() uint32 {
	v := r.take(4)
	if v == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(v)
}

func (r *reader) u64() uint64 {
	v := r.take(8)
	if v == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(v)
}

func (r *reader) key() ed25519.PublicKey {
	v := r.take(ed25519.PublicKeySize)
	if v == nil {
		return nil
	}
	return append(ed25519.PublicKey{}, v...)
}

func (r *reader) string() string {
	n := r.u32()
	return string(r.take(int(n)))
}

// option reads an Option tag, reporting whether a value follows.
func (r *reader) option() bool {
	switch tag := r.u8(); tag {
	case 0:
		return false
	case 1:
		return true
	default:
		if r.err == nil {
			r.err = errors.Errorf("invalid option tag %d at offset %d", tag, r.off-1)
		}
		return false
	}
}

type writer struct {
	b []byte
}

func (w *writer) u8(v uint8) {
	w.b = append(w.b, v)
}

func (w *writer) bool(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
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

func (w *writer) key(v ed25519.PublicKey) {
	var k [ed25519.PublicKeySize]byte
	copy(k[:], v)
	w.b = append(w.b, k[:]...)
}

func (w *writer) string(v string) {
	w.u32(uint32(len(v)))
	w.b = append(w.b, v...)
}
