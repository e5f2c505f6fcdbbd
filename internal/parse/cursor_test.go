package parse_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"respkv/internal/frame"
	"respkv/internal/parse"
)

func arrayOf(items ...frame.Frame) frame.Frame { return frame.Array(items) }

func TestCursorBasicStrings(t *testing.T) {
	c, err := parse.New(arrayOf(frame.BulkString("SET"), frame.BulkString("foo"), frame.BulkString("bar")))
	require.NoError(t, err)

	s, err := c.NextString()
	require.NoError(t, err)
	assert.Equal(t, "SET", s)

	peeked, ok := c.PeekString()
	require.True(t, ok)
	assert.Equal(t, "foo", peeked)

	s, err = c.NextString()
	require.NoError(t, err)
	assert.Equal(t, "foo", s)

	s, err = c.NextString()
	require.NoError(t, err)
	assert.Equal(t, "bar", s)

	require.NoError(t, c.Finish())
}

func TestCursorRejectsUnconsumedArgs(t *testing.T) {
	c, err := parse.New(arrayOf(frame.BulkString("a"), frame.BulkString("b")))
	require.NoError(t, err)
	_, err = c.NextString()
	require.NoError(t, err)
	assert.Error(t, c.Finish())
}

func TestCursorIntegerChargesFlatEightBytes(t *testing.T) {
	c, err := parse.New(arrayOf(frame.BulkString("12345")))
	require.NoError(t, err)
	n, err := c.NextUint()
	require.NoError(t, err)
	assert.EqualValues(t, 12345, n)
	assert.Equal(t, 8, c.Consumed())
}

func TestCursorStringChargesActualByteLength(t *testing.T) {
	c, err := parse.New(arrayOf(frame.BulkString("hello")))
	require.NoError(t, err)
	_, err = c.NextString()
	require.NoError(t, err)
	assert.Equal(t, len("hello"), c.Consumed())
}

func TestCursorNextBytesBinarySafe(t *testing.T) {
	payload := []byte{0x00, 0xff, 0x10}
	c, err := parse.New(arrayOf(frame.Bulk(payload)))
	require.NoError(t, err)
	got, err := c.NextBytes()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestCursorExhaustedErrors(t *testing.T) {
	c, err := parse.New(arrayOf())
	require.NoError(t, err)
	_, err = c.NextString()
	assert.Error(t, err)
}

func TestCursorRejectsNonArrayFrame(t *testing.T) {
	_, err := parse.New(frame.BulkString("not an array"))
	assert.Error(t, err)
}
