package schema

import "bytes"

// Str32 is a fixed-size string used for client order identifiers so that
// payloads stay fixed-layout. Longer input is truncated.
type Str32 [32]byte

// NewStr32 copies up to 32 bytes of s.
func NewStr32(s string) Str32 {
	var k Str32
	copy(k[:], s)
	return k
}

// Slice returns the bytes before the zero padding.
func (k Str32) Slice() []byte {
	if i := bytes.IndexByte(k[:], 0); i >= 0 {
		return append([]byte(nil), k[:i]...)
	}
	return append([]byte(nil), k[:]...)
}

// String returns the string form without zero padding.
func (k Str32) String() string {
	return string(k.Slice())
}

// IsZero reports whether the string is empty.
func (k Str32) IsZero() bool {
	return k == Str32{}
}
