package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/aerolithdb/pkg/aerolitherrors"
)

func TestRoundTripSmallPayloadStoredUncompressed(t *testing.T) {
	payload := []byte("tiny document")
	encoded := Encode(payload, HintDefault)
	assert.Equal(t, byte(AlgoNone), encoded[0])

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, decoded))
}

func TestRoundTripLargePayloadUsesFastAlgorithm(t *testing.T) {
	payload := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 50))
	encoded := Encode(payload, HintDefault)
	assert.Equal(t, byte(AlgoFast), encoded[0])

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, decoded))
}

func TestArchivalHintUsesHighRatioAlgorithm(t *testing.T) {
	payload := []byte(strings.Repeat("archival payload content ", 200))
	encoded := Encode(payload, HintArchival)
	assert.Equal(t, byte(AlgoArchival), encoded[0])

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, decoded))
}

func TestDecodeFailsClosedOnCorruption(t *testing.T) {
	payload := []byte(strings.Repeat("data", 100))
	encoded := Encode(payload, HintDefault)
	encoded[len(encoded)-1] ^= 0xFF // flip a checksum bit

	_, err := Decode(encoded)
	require.Error(t, err)
	assert.Equal(t, aerolitherrors.KindCorruption, aerolitherrors.KindOf(err))
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	_, err := Decode([]byte{0})
	require.Error(t, err)
	assert.Equal(t, aerolitherrors.KindCorruption, aerolitherrors.KindOf(err))
}

func TestVerifyChecksum(t *testing.T) {
	payload := []byte("some payload")
	sum := Checksum(payload)
	assert.NoError(t, VerifyChecksum(payload, sum))
	assert.Error(t, VerifyChecksum([]byte("tampered"), sum))
}
