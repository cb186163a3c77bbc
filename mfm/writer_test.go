package mfm

import (
	"bytes"
	"testing"
)

func TestWriterReaderByteRoundTrip(t *testing.T) {
	cases := [][]byte{
		{0x42},
		{0x00, 0xFF, 0xAA, 0x55},
		{0x12, 0x34, 0x56},
		{0x00, 0x00, 0x00},
		{0xFF, 0xFF},
	}

	for _, input := range cases {
		w := NewWriter(200000)
		for _, b := range input {
			w.writeByte(b)
		}
		encoded := w.getData()

		// Each data byte costs 16 half-bits, two bytes of output.
		if len(encoded) != len(input)*2 {
			t.Errorf("%x: encoded length = %d, want %d", input, len(encoded), len(input)*2)
		}
		if w.bitPos != len(input)*16 {
			t.Errorf("%x: bitPos = %d, want %d", input, w.bitPos, len(input)*16)
		}

		r := NewReader(encoded)
		got := make([]byte, 0, len(input))
		for range input {
			b, err := r.readByte()
			if err != nil {
				t.Fatalf("%x: readByte: %v", input, err)
			}
			got = append(got, b)
		}
		if !bytes.Equal(got, input) {
			t.Errorf("round trip of %x yielded %x", input, got)
		}
	}
}

func TestWriterRespectsTrackLength(t *testing.T) {
	w := NewWriter(32) // room for two encoded bytes
	for i := 0; i < 10; i++ {
		w.writeByte(0x4E)
	}
	if got := len(w.getData()); got != 4 {
		t.Fatalf("encoded length = %d bytes, want 4 (track full)", got)
	}
}

func encodeTestTrackIBMPC(t *testing.T, cyl, head, sectorsPerTrack int, fill byte) ([][]byte, []byte) {
	t.Helper()
	sectors := make([][]byte, sectorsPerTrack)
	for s := range sectors {
		data := make([]byte, sectorSize)
		for i := range data {
			data[i] = fill + byte(s) + byte(i%31)
		}
		sectors[s] = data
	}
	w := NewWriter(200000)
	return sectors, w.EncodeTrackIBMPC(sectors, cyl, head, sectorsPerTrack)
}

func TestEncodeTrackIBMPCCountSectors(t *testing.T) {
	for _, spt := range []int{9, 15, 18} {
		_, track := encodeTestTrackIBMPC(t, 0, 0, spt, 0x0f)
		if len(track) == 0 {
			t.Fatalf("spt=%d: empty track", spt)
		}
		if got := NewReader(track).CountSectorsIBMPC(); got != spt {
			t.Errorf("spt=%d: CountSectorsIBMPC = %d", spt, got)
		}
	}
}

func TestEncodeTrackIBMPCSectorRoundTrip(t *testing.T) {
	const spt = 9
	sectors, track := encodeTestTrackIBMPC(t, 2, 1, spt, 0x21)

	r := NewReader(track)
	found := make(map[int][]byte)
	for len(found) < spt {
		num, data, err := r.ReadSectorIBMPC(2, 1)
		if err != nil {
			break
		}
		found[num] = data
	}

	if len(found) != spt {
		t.Fatalf("recovered %d sectors, want %d", len(found), spt)
	}
	for num, data := range found {
		if !bytes.Equal(data, sectors[num]) {
			t.Errorf("sector %d payload mismatch", num)
		}
	}
}

func TestReadSectorIBMPCWrongTrack(t *testing.T) {
	_, track := encodeTestTrackIBMPC(t, 2, 1, 9, 0x21)
	if _, _, err := NewReader(track).ReadSectorIBMPC(5, 0); err == nil {
		t.Fatalf("expected no sectors for mismatched track address")
	}
}
