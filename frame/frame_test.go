package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteMessageRoundTripsShortMessage(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	assert.NoError(WriteMessage(&buf, 1, []byte("hello iovm")))

	r := NewReader(&buf)
	chn, msg, err := r.ReadMessage()
	assert.NoError(err)
	assert.Equal(uint8(1), chn)
	assert.Equal([]byte("hello iovm"), msg)
}

func TestWriteMessageSplitsAcrossMultipleFrames(t *testing.T) {
	assert := assert.New(t)

	payload := bytes.Repeat([]byte{0x5A}, 200)

	var buf bytes.Buffer
	assert.NoError(WriteMessage(&buf, 0, payload))

	r := NewReader(&buf)
	chn, msg, err := r.ReadMessage()
	assert.NoError(err)
	assert.Equal(uint8(0), chn)
	assert.Equal(payload, msg)
}

func TestEmptyMessageProducesOneFinalEmptyFrame(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	assert.NoError(WriteMessage(&buf, 0, nil))
	assert.Equal(1, buf.Len())
	assert.Equal(byte(0x80), buf.Bytes()[0])
}
