package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func vendorPrefixNAL(marker byte) []byte {
	// 4-byte start code + marker byte + 17 bytes filler = 22 bytes total.
	nal := make([]byte, 22)
	nal[3] = 1
	nal[4] = marker
	return nal
}

func TestExtractNALSkipsVendorPrefix(t *testing.T) {
	real := append([]byte{0, 0, 0, 1, 0x67}, bytes.Repeat([]byte{0xAA}, 10)...)
	payload := append(vendorPrefixNAL(0xC6), real...)

	got, ok := ExtractNAL(payload)
	if !ok {
		t.Fatal("expected a qualifying start code")
	}
	if len(payload)-len(got) != 22 {
		t.Fatalf("output should begin at byte 22, began at byte %d", len(payload)-len(got))
	}
	if !bytes.Equal(got, real) {
		t.Fatalf("extracted NAL mismatch: got %x, want %x", got, real)
	}
}

func TestExtractNALHandlesEitherVendorMarker(t *testing.T) {
	for _, marker := range []byte{0xC6, 0xC7} {
		real := []byte{0, 0, 0, 1, 0x68, 0xCE, 0x3C}
		payload := append(vendorPrefixNAL(marker), real...)
		got, ok := ExtractNAL(payload)
		if !ok || !bytes.Equal(got, real) {
			t.Errorf("marker %#x: got ok=%v got=%x, want %x", marker, ok, got, real)
		}
	}
}

func TestExtractNALDropsWhenNoQualifyingStartCode(t *testing.T) {
	payload := vendorPrefixNAL(0xC6) // only the vendor prefix, nothing after
	_, ok := ExtractNAL(payload)
	if ok {
		t.Fatal("expected no qualifying start code")
	}
}

func buildMediaFrame(nal []byte) []byte {
	sub := make([]byte, MediaSubHeaderLen)
	binary.BigEndian.PutUint32(sub[4:8], H264CodecTag)
	payload := append(append([]byte{}, sub...), nal...)
	h := Header{Magic: MediaMagic, Version: Version, Field3: uint32(len(payload)), Field5: 3}
	hb := h.Marshal()
	return append(hb[:], payload...)
}

func TestMediaFrameReaderHappyPath(t *testing.T) {
	real := []byte{0, 0, 0, 1, 0x67, 0x01, 0x02, 0x03}
	payload := append(vendorPrefixNAL(0xC6), real...)

	var stream bytes.Buffer
	stream.Write(buildMediaFrame(payload))

	r := NewMediaFrameReader(&stream)
	nal, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !bytes.Equal(nal, real) {
		t.Fatalf("got %x, want %x", nal, real)
	}
}

func TestMediaFrameReaderResyncsAfterGarbage(t *testing.T) {
	real1 := []byte{0, 0, 0, 1, 0x67, 0xAA}
	real2 := []byte{0, 0, 0, 1, 0x68, 0xBB}
	frame1 := buildMediaFrame(append(vendorPrefixNAL(0xC6), real1...))
	frame2 := buildMediaFrame(append(vendorPrefixNAL(0xC7), real2...))

	garbage := bytes.Repeat([]byte{0x11, 0x22, 0x33, 0x44}, 64) // 256 bytes, no magic substring
	var stream bytes.Buffer
	stream.Write(garbage)
	stream.Write(frame1)
	stream.Write(frame2)

	r := NewMediaFrameReader(&stream)

	var nals [][]byte
	for i := 0; i < 4 && len(nals) < 2; i++ {
		nal, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if nal != nil {
			nals = append(nals, nal)
		}
	}
	if len(nals) != 2 {
		t.Fatalf("expected to recover 2 frames within a few reads, got %d", len(nals))
	}
	if !bytes.Equal(nals[0], real1) || !bytes.Equal(nals[1], real2) {
		t.Fatalf("recovered NALs mismatch: %x / %x", nals[0], nals[1])
	}
}

func TestMediaFrameReaderIgnoresNonH264CodecTag(t *testing.T) {
	sub := make([]byte, MediaSubHeaderLen)
	binary.BigEndian.PutUint32(sub[4:8], 99) // not H.264
	payload := append(sub, []byte{0, 0, 0, 1, 0x67}...)
	h := Header{Magic: MediaMagic, Version: Version, Field3: uint32(len(payload)), Field5: 3}
	hb := h.Marshal()
	var stream bytes.Buffer
	stream.Write(hb[:])
	stream.Write(payload)

	r := NewMediaFrameReader(&stream)
	nal, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if nal != nil {
		t.Fatalf("expected frame to be dropped for non-H264 codec tag, got %x", nal)
	}
}
