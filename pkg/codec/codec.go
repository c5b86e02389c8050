// Package codec implements the compression and integrity layer every stored
// byte payload passes through: encode adds a self-describing algorithm
// header and a checksum trailer, decode verifies the checksum and fails
// closed on corruption.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"

	"github.com/cuemby/aerolithdb/pkg/aerolitherrors"
)

// Algorithm is the self-describing prefix byte stored with every encoded
// payload so decode() never needs out-of-band knowledge of how a record was
// compressed.
type Algorithm byte

const (
	// AlgoNone marks small payloads stored without compression.
	AlgoNone Algorithm = iota
	// AlgoFast is the default algorithm (S2, a faster variant of Snappy).
	AlgoFast
	// AlgoArchival is the higher-ratio algorithm used for archival payloads.
	AlgoArchival
)

// uncompressedThreshold: payloads smaller than this are stored as-is; the
// framing + checksum overhead would dominate for tiny values.
const uncompressedThreshold = 256

const checksumSize = 8 // xxhash64

var archivalEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
var archivalDecoder, _ = zstd.NewReader(nil)

// Hint tags a payload for the caller's intended access pattern so Encode can
// pick the compression algorithm accordingly.
type Hint int

const (
	// HintDefault uses the fast algorithm above the size threshold.
	HintDefault Hint = iota
	// HintArchival forces the high-ratio algorithm regardless of size,
	// used for payloads migrating into the Archive tier.
	HintArchival
)

// Encode compresses payload (selecting an algorithm per the adaptive policy
// in §4.1) and appends a checksum trailer. The returned bytes are
// self-describing: [1-byte algorithm][compressed-or-raw bytes][8-byte xxhash
// of the *original* payload].
func Encode(payload []byte, hint Hint) []byte {
	var algo Algorithm
	var body []byte

	switch {
	case len(payload) < uncompressedThreshold && hint != HintArchival:
		algo = AlgoNone
		body = payload
	case hint == HintArchival:
		algo = AlgoArchival
		body = archivalEncoder.EncodeAll(payload, nil)
	default:
		algo = AlgoFast
		body = s2.Encode(nil, payload)
	}

	sum := xxhash.Sum64(payload)

	out := make([]byte, 0, 1+len(body)+checksumSize)
	out = append(out, byte(algo))
	out = append(out, body...)
	var sumBytes [checksumSize]byte
	binary.BigEndian.PutUint64(sumBytes[:], sum)
	out = append(out, sumBytes[:]...)
	return out
}

// Decode reverses Encode, verifying the checksum before returning. It fails
// closed: any checksum mismatch or malformed frame returns a Corruption
// error rather than the (possibly garbage) decoded bytes.
func Decode(encoded []byte) ([]byte, error) {
	if len(encoded) < 1+checksumSize {
		return nil, aerolitherrors.Corruption("encoded payload too short: %d bytes", len(encoded))
	}

	algo := Algorithm(encoded[0])
	body := encoded[1 : len(encoded)-checksumSize]
	wantSum := binary.BigEndian.Uint64(encoded[len(encoded)-checksumSize:])

	var payload []byte
	var err error
	switch algo {
	case AlgoNone:
		payload = body
	case AlgoFast:
		payload, err = s2.Decode(nil, body)
	case AlgoArchival:
		payload, err = archivalDecoder.DecodeAll(body, nil)
	default:
		return nil, aerolitherrors.Corruption("unknown codec algorithm tag %d", algo)
	}
	if err != nil {
		return nil, aerolitherrors.Wrap(aerolitherrors.KindCorruption, "decompress payload", err)
	}

	gotSum := xxhash.Sum64(payload)
	if gotSum != wantSum {
		return nil, aerolitherrors.Corruption("checksum mismatch: want %x got %x", wantSum, gotSum)
	}

	return payload, nil
}

// Checksum returns the fixed-width integrity tag for payload, used by the
// storage tiers to record a content checksum independent of the chosen
// compression, so the same checksum is comparable across tiers.
func Checksum(payload []byte) uint64 {
	return xxhash.Sum64(payload)
}

// VerifyChecksum reports whether payload matches the previously recorded
// checksum, surfacing a structured Corruption error on mismatch the way the
// storage engine's tier-repair path expects (§4.2 Integrity).
func VerifyChecksum(payload []byte, want uint64) error {
	got := Checksum(payload)
	if got != want {
		return aerolitherrors.Corruption("content checksum mismatch: want %x got %x", want, got)
	}
	return nil
}

// ChecksumHex renders a checksum in the fixed-width hex form used in audit
// events and error messages.
func ChecksumHex(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}
