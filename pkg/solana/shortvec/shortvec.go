// Package shortvec implements the compact length prefix used in transaction
// wire encoding.
package shortvec

import (
	"io"
	"math"

	"github.com/pkg/errors"
)

// maxEncodedSize is the number of bytes needed to encode math.MaxUint16.
const maxEncodedSize = 3

// EncodeLen writes length to w as 7 bit groups, least significant first, with
// the high bit of each byte marking a continuation.
func EncodeLen(w io.Writer, length int) (int, error) {
	if length < 0 || length > math.MaxUint16 {
		return 0, errors.Errorf("length %d out of range [0, %d]", length, math.MaxUint16)
	}

	var buf [maxEncodedSize]byte
	n := 0
	for {
		buf[n] = byte(length & 0x7f)
		length >>= 7
		if length == 0 {
			n++
			break
		}

		buf[n] |= 0x80
		n++
	}

	return w.Write(buf[:n])
}

// DecodeLen reads a length written by EncodeLen.
func DecodeLen(r io.Reader) (int, error) {
	var val int
	var b [1]byte

	for i := 0; ; i++ {
		if i == maxEncodedSize {
			return 0, errors.Errorf("invalid size: more than %d bytes", maxEncodedSize)
		}
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}

		val |= int(b[0]&0x7f) << (i * 7)
		if b[0]&0x80 == 0 {
			break
		}
	}

	if val > math.MaxUint16 {
		return 0, errors.Errorf("length %d exceeds %d", val, math.MaxUint16)
	}
	return val, nil
}
