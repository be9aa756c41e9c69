package frame

import (
	"bytes"
	"io"
	"net"
	"runtime"
	"testing"

	"github.com/pkg/errors"
)

func TestEncodeLayout(t *testing.T) {
	got := Encode([]byte("PING"))
	want := []byte{0x00, 0x00, 0x00, 0x04, 'P', 'I', 'N', 'G'}
	if !bytes.Equal(got, want) {
		t.Errorf("expected % x, got % x", want, got)
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", []byte{}},
		{"single byte", []byte{0xff}},
		{"text", []byte("hello world")},
		{"binary with zeros", []byte{0, 0, 0, 0, 1, 2, 3}},
		{"large", bytes.Repeat([]byte("x"), 70000)},
		{"several chunks", bytes.Repeat([]byte{1, 2, 3, 4, 5}, 40000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Encode(tt.payload)

			length, err := DecodeHeader(encoded)
			if err != nil {
				t.Fatalf("DecodeHeader failed: %v", err)
			}
			if int(length) != len(tt.payload) {
				t.Fatalf("expected length %d, got %d", len(tt.payload), length)
			}

			body, err := ReadBody(bytes.NewReader(encoded[HeaderSize:]), length)
			if err != nil {
				t.Fatalf("ReadBody failed: %v", err)
			}
			if !bytes.Equal(body, tt.payload) {
				t.Errorf("payload mismatch for %s", tt.name)
			}
		})
	}
}

func TestDecodeHeaderShort(t *testing.T) {
	_, err := DecodeHeader([]byte{0, 1})
	if !errors.Is(err, ErrShortHeader) {
		t.Errorf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadFrameEmptyPayload(t *testing.T) {
	payload, err := ReadFrame(bytes.NewReader(Encode(nil)))
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if payload == nil || len(payload) != 0 {
		t.Errorf("expected empty non-nil payload, got %v", payload)
	}
}

func TestReadFrameTruncatedBody(t *testing.T) {
	encoded := Encode([]byte("truncated"))
	_, err := ReadFrame(bytes.NewReader(encoded[:6]))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestCheckSize(t *testing.T) {
	if err := CheckSize(MaxPayload); err != nil {
		t.Errorf("expected %d bytes to fit, got %v", uint64(MaxPayload), err)
	}
	if err := CheckSize(MaxPayload + 1); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestReadBodyHugeLengthAllocatesOnArrival(t *testing.T) {
	stream := []byte{0xff, 0xff, 0xff, 0xff, 'a', 'b', 'c'}

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := ReadFrame(bytes.NewReader(stream))
	runtime.ReadMemStats(&after)

	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
	if grown := after.TotalAlloc - before.TotalAlloc; grown > 1<<20 {
		t.Errorf("expected under 1 MiB allocated, got %d bytes", grown)
	}
}

func TestReadBodyTruncatedOnChunkBoundary(t *testing.T) {
	body := bytes.Repeat([]byte("z"), readChunk)
	_, err := ReadBody(bytes.NewReader(body), readChunk*2)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReadFrameOverStreamOneByteAtATime(t *testing.T) {
	writer, reader := net.Pipe()
	defer reader.Close()

	go func() {
		defer writer.Close()
		for _, b := range Encode([]byte("PING")) {
			if _, err := writer.Write([]byte{b}); err != nil {
				return
			}
		}
	}()

	payload, err := ReadFrame(reader)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if string(payload) != "PING" {
		t.Errorf("expected PING, got %q", payload)
	}
}

func BenchmarkEncode(b *testing.B) {
	payload := bytes.Repeat([]byte("p"), 256)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Encode(payload)
	}
}

func BenchmarkReadFrame(b *testing.B) {
	encoded := Encode(bytes.Repeat([]byte("p"), 256))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ReadFrame(bytes.NewReader(encoded))
	}
}
