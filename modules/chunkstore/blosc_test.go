package chunkstore

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/NebulousLabs/fastrand"
	"github.com/klauspost/compress/zstd"
)

// buildBloscFrame constructs a minimal blosc-zstd frame wrapping data,
// matching the layout decodeBloscZstd expects.
func buildBloscFrame(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	compressed := enc.EncodeAll(data, nil)
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}

	header := make([]byte, bloscHeaderSize)
	header[0] = 2
	header[1] = 2
	header[2] = 0 // no flags: not memcpy'd
	header[3] = 1 // typesize: uint8
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(data)))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(header)+len(compressed)))

	return append(header, compressed...)
}

func TestDecodeBloscZstdRoundTrip(t *testing.T) {
	data := fastrand.Bytes(256 * 256)
	frame := buildBloscFrame(t, data)

	decoded, err := decodeBloscZstd(frame)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, data) {
		t.Fatal("decoded bytes did not match original")
	}
}

func TestDecodeBloscZstdConstantChunk(t *testing.T) {
	data := bytes.Repeat([]byte{128}, 256*256)
	frame := buildBloscFrame(t, data)

	decoded, err := decodeBloscZstd(frame)
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range decoded {
		if b != 128 {
			t.Fatalf("byte %d: expected 128, got %d", i, b)
		}
	}
}

func TestDecodeBloscZstdRejectsShortFrame(t *testing.T) {
	if _, err := decodeBloscZstd([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a too-short frame")
	}
}
