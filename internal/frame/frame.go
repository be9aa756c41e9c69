// Package frame implements the length-prefixed wire format shared by the
// client and the server.
//
// A frame is a 4-byte payload length in network byte order followed by exactly
// that many payload bytes. There is no version byte, checksum or type
// discriminator; the payload is opaque at this layer.
package frame

import (
	"encoding/binary"
	"io"
	"math"
	"slices"

	"github.com/pkg/errors"
)

const (
	// HeaderSize is the size of the length prefix.
	HeaderSize = 4
	// MaxPayload is the largest length the prefix can carry.
	MaxPayload = math.MaxUint32

	// readChunk bounds how far ReadBody allocates ahead of the bytes received.
	readChunk = 64 << 10
)

var (
	// ErrShortHeader is returned by DecodeHeader for headers under HeaderSize bytes.
	ErrShortHeader = errors.New("frame header too short")
	// ErrPayloadTooLarge is returned by CheckSize for payloads over MaxPayload.
	ErrPayloadTooLarge = errors.New("payload does not fit the length prefix")
)

// CheckSize reports whether a payload of n bytes can be framed.
func CheckSize(n uint64) error {
	if n > MaxPayload {
		return errors.Wrapf(ErrPayloadTooLarge, "%d bytes", n)
	}
	return nil
}

// Encode returns the wire frame for payload. The codec enforces no upper
// bound beyond what fits in the 32-bit prefix; Encode panics on a payload
// that CheckSize rejects.
func Encode(payload []byte) []byte {
	if err := CheckSize(uint64(len(payload))); err != nil {
		panic(err)
	}
	out := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(out[:HeaderSize], uint32(len(payload)))
	copy(out[HeaderSize:], payload)
	return out
}

// DecodeHeader returns the payload length carried by a frame header.
func DecodeHeader(header []byte) (uint32, error) {
	if len(header) < HeaderSize {
		return 0, errors.Wrapf(ErrShortHeader, "got %d bytes", len(header))
	}
	return binary.BigEndian.Uint32(header[:HeaderSize]), nil
}

// ReadHeader blocks until a full header has been read from r.
func ReadHeader(r io.Reader) (uint32, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, err
	}
	return DecodeHeader(header[:])
}

// ReadBody blocks until exactly length bytes have been read from r.
// A zero length returns an empty, non-nil payload without touching r.
// Large payloads are read in chunks, so memory grows with the bytes that
// actually arrive rather than with the length the header claims.
func ReadBody(r io.Reader, length uint32) ([]byte, error) {
	if length <= readChunk {
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}

	var payload []byte
	for remaining := length; remaining > 0; {
		n := int(min(remaining, readChunk))
		start := len(payload)
		payload = slices.Grow(payload, n)[:start+n]
		if _, err := io.ReadFull(r, payload[start:]); err != nil {
			if err == io.EOF && start > 0 {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		remaining -= uint32(n)
	}
	return payload, nil
}

// ReadFrame reads one complete frame from r and returns its payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	length, err := ReadHeader(r)
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	payload, err := ReadBody(r, length)
	if err != nil {
		return nil, errors.Wrap(err, "read content")
	}
	return payload, nil
}
