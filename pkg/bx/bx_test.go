package bx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	b := make([]byte, 16)

	PutU16(b, 0xBEEF)
	require.Equal(t, uint16(0xBEEF), U16(b))

	PutU32(b, 0xDEADBEEF)
	require.Equal(t, uint32(0xDEADBEEF), U32(b))

	PutU64(b, 0x0102030405060708)
	require.Equal(t, uint64(0x0102030405060708), U64(b))

	PutI64(b, -42)
	require.Equal(t, int64(-42), I64(b))

	PutI32(b, -1)
	require.Equal(t, int32(-1), I32(b))
}

func TestOffsetVariants(t *testing.T) {
	b := make([]byte, 32)

	PutU32At(b, 4, 7)
	PutI64At(b, 8, -99)
	PutU16At(b, 20, 513)

	require.Equal(t, uint32(7), U32At(b, 4))
	require.Equal(t, int64(-99), I64At(b, 8))
	require.Equal(t, uint16(513), U16At(b, 20))

	// Neighbouring bytes stay untouched.
	require.Equal(t, byte(0), b[0])
	require.Equal(t, byte(0), b[22])
}
