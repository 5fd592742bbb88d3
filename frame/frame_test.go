package frame

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Scenario(t *testing.T) {
	b, err := Encode(0x96, 0x1E, scenarioPayload())
	require.NoError(t, err)

	want := []byte{0xAA, 0x0D, 0x96, 0x1E}
	want = append(want, []byte("DEV0000001")...)
	want = append(want, 0x00, 0x01, 0x01, 0x55)

	assert.Equal(t, want, b)
}

func TestEncode_InvalidLength(t *testing.T) {
	_, err := Encode(0, 0, make([]byte, MinLength-1))
	assert.True(t, errors.Is(err, ErrInvalidLength))

	_, err = Encode(0, 0, make([]byte, MaxLength+1))
	assert.True(t, errors.Is(err, ErrInvalidLength))

	_, err = Encode(0, 0, make([]byte, MaxLength))
	assert.NoError(t, err)
}

func TestRawFrame_Bytes(t *testing.T) {
	f := &RawFrame{Length: 13, RSSIByte: 0x96, SNRByte: 0x1E, Payload: scenarioPayload()}
	assert.Equal(t, mustEncode(t, scenarioPayload()), f.Bytes())

	bad := &RawFrame{Payload: []byte{1}}
	assert.Nil(t, bad.Bytes())
}
