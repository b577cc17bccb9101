// Copyright 2026 The stagemux Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bitval implements packed binary values of arbitrary bit width.
//
// A Value stores its bits in packet order: bit 0 is the most significant bit
// of the first byte. The storage is rounded up to whole bytes; the padding
// bits at the end of the last byte are zero unless written explicitly through
// Modify. Numeric constructors (FromUint, FromHex) place the most significant
// bit of the number at bit 0, so a 12 bit value 0xabc is stored as ab c0.
//
// Values are used to assemble wide ternary match keys out of several fields
// that live at different bit offsets:
//
//	v := bitval.New(112)
//	err := v.Modify(bitval.FromUint16(0x0800), 96)
package bitval

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/stagemux/stagemux/pkg/private/serrors"
)

// ErrOutOfRange indicates a bit range that does not fit into a value.
var ErrOutOfRange = errors.New("bit range out of bounds")

// ErrOverflow indicates a number that does not fit into the requested width.
var ErrOverflow = errors.New("value exceeds bit width")

// Value is a packed binary value of a declared bit width. The zero value is
// an empty value of width 0.
type Value struct {
	bits int
	buf  []byte
}

// New returns an all-zero value of the given width. It panics on negative
// widths.
func New(bits int) Value {
	if bits < 0 {
		panic(fmt.Sprintf("negative bit width %d", bits))
	}
	return Value{bits: bits, buf: make([]byte, byteLen(bits))}
}

// Ones returns a value of the given width with all bits set.
func Ones(bits int) Value {
	v := New(bits)
	for i := range v.buf {
		v.buf[i] = 0xff
	}
	v.clearPadding()
	return v
}

// FromUint returns a value of the given width holding the low bits of x. It
// panics if bits is not in [0, 64].
func FromUint(x uint64, bits int) Value {
	if bits > 64 {
		panic(fmt.Sprintf("bit width %d exceeds 64", bits))
	}
	v := New(bits)
	for i := 0; i < bits; i++ {
		v.setBit(i, (x>>(bits-1-i))&1 == 1)
	}
	return v
}

// FromUint8 returns an 8 bit value.
func FromUint8(x uint8) Value { return FromUint(uint64(x), 8) }

// FromUint16 returns a 16 bit value.
func FromUint16(x uint16) Value { return FromUint(uint64(x), 16) }

// FromUint32 returns a 32 bit value.
func FromUint32(x uint32) Value { return FromUint(uint64(x), 32) }

// FromUint64 returns a 64 bit value.
func FromUint64(x uint64) Value { return FromUint(x, 64) }

// FromHex parses a hexadecimal literal, with or without 0x prefix, into a
// value of the given width. Literals wider than 64 bits are supported. The
// number must fit into bits.
func FromHex(s string, bits int) (Value, error) {
	if bits < 0 {
		return Value{}, serrors.New("negative bit width", "bits", bits)
	}
	digits := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	digits = strings.ReplaceAll(digits, "_", "")
	if digits == "" {
		return Value{}, serrors.New("empty hex literal", "literal", s)
	}
	n, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return Value{}, serrors.New("invalid hex literal", "literal", s)
	}
	if n.BitLen() > bits {
		return Value{}, serrors.JoinNoStack(ErrOverflow, nil, "literal", s, "bits", bits)
	}
	v := New(bits)
	n.Lsh(n, uint(8*len(v.buf)-bits))
	n.FillBytes(v.buf)
	return v, nil
}

// MustFromHex is like FromHex but panics on error. It is intended for
// constants and tests.
func MustFromHex(s string, bits int) Value {
	v, err := FromHex(s, bits)
	if err != nil {
		panic(err)
	}
	return v
}

// FromBytes returns a value of the given width holding the leading bits of b.
// b must be exactly as long as the storage of the value.
func FromBytes(b []byte, bits int) (Value, error) {
	if bits < 0 || len(b) != byteLen(bits) {
		return Value{}, serrors.JoinNoStack(ErrOutOfRange, nil,
			"bytes", len(b), "bits", bits)
	}
	v := Value{bits: bits, buf: append([]byte(nil), b...)}
	v.clearPadding()
	return v, nil
}

// Len returns the declared bit width.
func (v Value) Len() int {
	return v.bits
}

// ByteLen returns the number of bytes allocated for the value.
func (v Value) ByteLen() int {
	return len(v.buf)
}

// Bytes returns a copy of the raw storage.
func (v Value) Bytes() []byte {
	return append([]byte(nil), v.buf...)
}

// Bit returns bit i, counted from the most significant bit of the first byte.
// Bits outside the storage are reported as unset.
func (v Value) Bit(i int) bool {
	if i < 0 || i >= 8*len(v.buf) {
		return false
	}
	return v.buf[i/8]&(0x80>>(i%8)) != 0
}

// IsZero reports whether no bit is set.
func (v Value) IsZero() bool {
	for _, b := range v.buf {
		if b != 0 {
			return false
		}
	}
	return true
}

// Equal compares bit width and raw bytes.
func (v Value) Equal(o Value) bool {
	return v.bits == o.bits && bytes.Equal(v.buf, o.buf)
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	return Value{bits: v.bits, buf: v.Bytes()}
}

// Modify writes the bits of src into v starting at bit offset. Bits outside
// [offset, offset+src.Len()) are left untouched. The write must stay within
// the allocated bytes of v.
func (v *Value) Modify(src Value, offset int) error {
	if offset < 0 || offset+src.bits > 8*len(v.buf) {
		return serrors.JoinNoStack(ErrOutOfRange, nil,
			"offset", offset, "length", src.bits, "capacity", 8*len(v.buf))
	}
	for i := 0; i < src.bits; i++ {
		v.setBit(offset+i, src.Bit(i))
	}
	return nil
}

// Slice returns the bits [offset, offset+bits) as a new value.
func (v Value) Slice(offset, bits int) (Value, error) {
	if offset < 0 || bits < 0 || offset+bits > 8*len(v.buf) {
		return Value{}, serrors.JoinNoStack(ErrOutOfRange, nil,
			"offset", offset, "length", bits, "capacity", 8*len(v.buf))
	}
	r := New(bits)
	for i := 0; i < bits; i++ {
		r.setBit(i, v.Bit(offset+i))
	}
	return r, nil
}

// And returns the bitwise conjunction of two values of equal width.
func (v Value) And(o Value) (Value, error) {
	if v.bits != o.bits {
		return Value{}, serrors.New("bit width mismatch", "left", v.bits, "right", o.bits)
	}
	r := v.Clone()
	for i := range r.buf {
		r.buf[i] &= o.buf[i]
	}
	return r, nil
}

// Uint64 returns the numeric value of the low 64 bits.
func (v Value) Uint64() uint64 {
	var x uint64
	for i := 0; i < v.bits; i++ {
		x <<= 1
		if v.Bit(i) {
			x |= 1
		}
	}
	return x
}

// String returns the numeric value as zero-padded hex literal, e.g. 0x0800
// for a 16 bit value.
func (v Value) String() string {
	if v.bits == 0 {
		return "0x0"
	}
	n := new(big.Int).SetBytes(v.buf)
	n.Rsh(n, uint(8*len(v.buf)-v.bits))
	return fmt.Sprintf("0x%0*x", (v.bits+3)/4, n)
}

// MatchesTernary reports whether data matches v under mask, comparing only
// the first v.Len() bits of data. mask must have the width of v.
func (v Value) MatchesTernary(data, mask Value) bool {
	if v.bits != mask.bits || data.bits < v.bits {
		return false
	}
	for i := 0; i < v.bits; i++ {
		if mask.Bit(i) && data.Bit(i) != v.Bit(i) {
			return false
		}
	}
	return true
}

func (v *Value) setBit(i int, set bool) {
	m := byte(0x80 >> (i % 8))
	if set {
		v.buf[i/8] |= m
	} else {
		v.buf[i/8] &^= m
	}
}

func (v *Value) clearPadding() {
	if pad := 8*len(v.buf) - v.bits; pad > 0 {
		v.buf[len(v.buf)-1] &= byte(0xff << pad)
	}
}

func byteLen(bits int) int {
	return (bits + 7) / 8
}
