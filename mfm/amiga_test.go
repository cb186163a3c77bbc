package mfm

import (
	"bytes"
	"testing"
)

func encodeTestTrackAmiga(t *testing.T, track, sectorsPerTrack int) ([][]byte, []byte) {
	t.Helper()
	sectors := make([][]byte, sectorsPerTrack)
	for s := range sectors {
		data := make([]byte, sectorSize)
		for i := range data {
			data[i] = byte(s*7 + i%53)
		}
		sectors[s] = data
	}
	w := NewWriter(200000)
	return sectors, w.EncodeTrackAmiga(sectors, track)
}

func TestUnshuffleInvertsShuffle(t *testing.T) {
	for _, word := range []uint32{0, 0xFFFFFFFF, 0xAA55AA55, 0x12345678, 0xDEADBEEF} {
		odd, even := shuffleAmiga(word)
		if got := unshuffle(odd, even); got != word {
			t.Errorf("unshuffle(shuffle(%#x)) = %#x", word, got)
		}
	}
}

func TestEncodeTrackAmigaSectorRoundTrip(t *testing.T) {
	const track = 5 // cylinder 2, head 1
	const spt = 11
	sectors, encoded := encodeTestTrackAmiga(t, track, spt)

	r := NewReader(encoded)
	found := make(map[int][]byte)
	for len(found) < spt {
		num, data, err := r.ReadSectorAmiga(track)
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

func TestCountSectorsAmiga(t *testing.T) {
	_, encoded := encodeTestTrackAmiga(t, 0, 11)
	if got := NewReader(encoded).CountSectorsAmiga(0); got != 11 {
		t.Fatalf("CountSectorsAmiga = %d, want 11", got)
	}
}

func TestReadSectorAmigaWrongTrack(t *testing.T) {
	_, encoded := encodeTestTrackAmiga(t, 3, 11)
	if _, _, err := NewReader(encoded).ReadSectorAmiga(4); err == nil {
		t.Fatalf("expected no sectors for mismatched track number")
	}
}
