package transport

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fragments(data []byte, size int) []Frame {
	var out []Frame
	for off := 0; off < len(data); off += size {
		end := min(off+size, len(data))
		out = append(out, Frame{Data: data[off:end], Final: end == len(data)})
	}
	return out
}

func TestReassemblerSingleFrame(t *testing.T) {
	r := NewReassembler(0)
	msg, ok, err := r.Push(Frame{Data: []byte(`[{"Ok":{"Id":1}}]`), Final: true})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"Ok":{"Id":1}}]`, string(msg))
	assert.Equal(t, 0, r.Buffered())
}

func TestReassemblerTwoFragmentsMatchUnfragmented(t *testing.T) {
	whole := []byte(`[{"DeviceList":{"Id":2,"Devices":[]}}]`)

	r := NewReassembler(0)
	_, ok, err := r.Push(Frame{Data: whole[:10]})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 10, r.Buffered())

	msg, ok, err := r.Push(Frame{Data: whole[10:], Final: true})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, whole, msg)
}

func TestReassemblerManyFragments(t *testing.T) {
	whole := []byte(`[{"SensorReading":{"Id":0,"DeviceIndex":1,"SensorIndex":0,"SensorType":"Pressure","Data":[` +
		strings.Repeat("1,", 3000) + `1]}}]`)

	for _, size := range []int{1, 7, 100, 4096} {
		r := NewReassembler(0)
		var got []byte
		for _, f := range fragments(whole, size) {
			msg, ok, err := r.Push(f)
			require.NoError(t, err)
			if ok {
				require.Nil(t, got, "completed twice")
				got = msg
			}
		}
		assert.True(t, bytes.Equal(whole, got), "size=%d", size)
	}
}

func TestReassemblerBackToBackMessages(t *testing.T) {
	r := NewReassembler(0)
	first := []byte(`[{"Ok":{"Id":1}}]`)
	second := []byte(`[{"Ok":{"Id":2}}]`)

	var got [][]byte
	for _, f := range append(fragments(first, 5), fragments(second, 3)...) {
		msg, ok, err := r.Push(f)
		require.NoError(t, err)
		if ok {
			got = append(got, msg)
		}
	}
	require.Len(t, got, 2)
	assert.Equal(t, first, got[0])
	assert.Equal(t, second, got[1])
}

func TestReassemblerTooLarge(t *testing.T) {
	r := NewReassembler(16)

	_, _, err := r.Push(Frame{Data: bytes.Repeat([]byte("a"), 10)})
	require.NoError(t, err)
	_, ok, err := r.Push(Frame{Data: bytes.Repeat([]byte("a"), 10)})
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrMessageTooLarge))

	// The rest of the oversized message is dropped silently.
	_, ok, err = r.Push(Frame{Data: []byte("tail"), Final: true})
	assert.NoError(t, err)
	assert.False(t, ok)

	msg, ok, err := r.Push(Frame{Data: []byte("[]"), Final: true})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "[]", string(msg))
}

func TestReassemblerInvalidUTF8(t *testing.T) {
	r := NewReassembler(0)
	_, ok, err := r.Push(Frame{Data: []byte{'[', 0xff, ']'}, Final: true})
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrInvalidUTF8))

	// A multi-byte rune split across fragments is fine.
	euro := []byte("[\"€\"]")
	_, _, err = r.Push(Frame{Data: euro[:3]})
	require.NoError(t, err)
	msg, ok, err := r.Push(Frame{Data: euro[3:], Final: true})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, euro, msg)
}

func TestReassemblerReset(t *testing.T) {
	r := NewReassembler(0)
	_, _, _ = r.Push(Frame{Data: []byte("[{")})
	r.Reset()
	assert.Equal(t, 0, r.Buffered())
}
