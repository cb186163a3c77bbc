package hfe

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// testDisk builds a small disk whose track bytes avoid the 0x60-0x6F
// and 0xF0-0xFF ranges, which the v3 opcode escaping reserves.
func testDisk(cyls int, sides uint8, trackBytes int) *Disk {
	disk := &Disk{
		Header: Header{
			NumberOfTrack:       uint8(cyls),
			NumberOfSide:        sides,
			TrackEncoding:       ENC_ISOIBM_MFM,
			BitRate:             250,
			FloppyRPM:           300,
			FloppyInterfaceMode: IFM_IBMPC_DD,
			WriteProtected:      0xFF,
			WriteAllowed:        0xFF,
			SingleStep:          0xFF,
		},
		Tracks: make([]TrackData, cyls),
	}
	for c := 0; c < cyls; c++ {
		side0 := make([]byte, trackBytes)
		side1 := make([]byte, trackBytes)
		for i := range side0 {
			side0[i] = byte((c*3 + i) % 0x50)
			side1[i] = byte((c*7 + i) % 0x50)
		}
		disk.Tracks[c].Side0 = side0
		if sides > 1 {
			disk.Tracks[c].Side1 = side1
		}
	}
	return disk
}

func writeTemp(t *testing.T, disk *Disk, version HFEVersion) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.hfe")
	if err := Write(path, disk, version); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return path
}

func TestBitReverse(t *testing.T) {
	cases := []struct{ in, want byte }{
		{0x00, 0x00}, {0xFF, 0xFF}, {0x80, 0x01}, {0x01, 0x80},
		{0xA5, 0xA5}, {0x3C, 0x3C}, {0x12, 0x48},
	}
	for _, c := range cases {
		if got := bitReverse(c.in); got != c.want {
			t.Errorf("bitReverse(%#02x) = %#02x, want %#02x", c.in, got, c.want)
		}
		if byteBitsInverter[c.in] != c.want {
			t.Errorf("byteBitsInverter[%#02x] = %#02x, want %#02x", c.in, byteBitsInverter[c.in], c.want)
		}
	}
}

func TestBitReverseBlock(t *testing.T) {
	data := []byte{0x80, 0x01, 0xF0}
	bitReverseBlock(data)
	if !bytes.Equal(data, []byte{0x01, 0x80, 0x0F}) {
		t.Fatalf("bitReverseBlock = %x", data)
	}
}

func TestBitCopyOffsets(t *testing.T) {
	src := []byte{0b10110100, 0b01100000}
	dst := make([]byte, 2)
	// Copy 10 bits starting at source bit 2 to destination bit 3.
	end := bitCopy(dst, 3, src, 2, 10)
	if end != 13 {
		t.Fatalf("end offset = %d, want 13", end)
	}
	// Source bits 2..11: 110100 0110 -> placed at dst bits 3..12.
	want := []byte{0b00011010, 0b00110000}
	if !bytes.Equal(dst, want) {
		t.Fatalf("dst = %08b, want %08b", dst, want)
	}
}

func TestProcessOpcodesNOP(t *testing.T) {
	out, err := processOpcodes([]byte{0x11, NOP_OPCODE, 0x22})
	if err != nil {
		t.Fatalf("processOpcodes: %v", err)
	}
	if !bytes.Equal(out, []byte{0x11, 0x22}) {
		t.Fatalf("out = %x, want 1122", out)
	}
}

func TestProcessOpcodesSetIndexRotatesTrack(t *testing.T) {
	out, err := processOpcodes([]byte{0x11, 0x22, SETINDEX_OPCODE, 0x33, 0x44})
	if err != nil {
		t.Fatalf("processOpcodes: %v", err)
	}
	// The track is rotated so the byte after SETINDEX comes first.
	if !bytes.Equal(out, []byte{0x33, 0x44, 0x11, 0x22}) {
		t.Fatalf("out = %x, want 33441122", out)
	}
}

func TestProcessOpcodesSetBitrate(t *testing.T) {
	out, err := processOpcodes([]byte{SETBITRATE_OPCODE, 0x48, 0x55})
	if err != nil {
		t.Fatalf("processOpcodes: %v", err)
	}
	if !bytes.Equal(out, []byte{0x55}) {
		t.Fatalf("out = %x, want 55", out)
	}
}

func TestProcessOpcodesSkipBits(t *testing.T) {
	// Skip 4 bits of 0xAB (1010 1011): the low nibble 1011 remains,
	// so the output starts with those four bits.
	out, err := processOpcodes([]byte{SKIPBITS_OPCODE, 4, 0xAB, 0x55})
	if err != nil {
		t.Fatalf("processOpcodes: %v", err)
	}
	if len(out) == 0 || out[0]>>4 != 0xB {
		t.Fatalf("out = %x, want leading nibble B", out)
	}
}

func TestProcessOpcodesRandBecomesZeros(t *testing.T) {
	out, err := processOpcodes([]byte{0x11, RAND_OPCODE, 0x22})
	if err != nil {
		t.Fatalf("processOpcodes: %v", err)
	}
	if !bytes.Equal(out, []byte{0x11, 0x00, 0x22}) {
		t.Fatalf("out = %x, want 110022", out)
	}
}

func TestProcessOpcodesEscapedByte(t *testing.T) {
	// 0x65 unescapes to 0xF5 on read; the writer escapes 0xF5 to
	// 0x65 going the other way.
	out, err := processOpcodes([]byte{0x65})
	if err != nil {
		t.Fatalf("processOpcodes: %v", err)
	}
	if !bytes.Equal(out, []byte{0xF5}) {
		t.Fatalf("out = %x, want f5", out)
	}
	if got := encodeOpcodes([]byte{0xF5}, 250); !bytes.Equal(got, []byte{0x65}) {
		t.Fatalf("encodeOpcodes(f5) = %x, want 65", got)
	}
}

func TestProcessOpcodesErrors(t *testing.T) {
	if _, err := processOpcodes([]byte{SETBITRATE_OPCODE}); err == nil {
		t.Errorf("SETBITRATE without operand should fail")
	}
	if _, err := processOpcodes([]byte{SKIPBITS_OPCODE}); err == nil {
		t.Errorf("SKIPBITS without operand should fail")
	}
	if _, err := processOpcodes([]byte{SKIPBITS_OPCODE, 9, 0x00}); err == nil {
		t.Errorf("SKIPBITS with skip > 8 should fail")
	}
}

func TestWriteReadRoundTripV3(t *testing.T) {
	disk := testDisk(2, 2, 600)
	path := writeTemp(t, disk, HFEVersion3)

	got, err := ReadHFE(path)
	if err != nil {
		t.Fatalf("ReadHFE: %v", err)
	}
	if got.Header.NumberOfTrack != 2 || got.Header.NumberOfSide != 2 {
		t.Fatalf("geometry = %d/%d", got.Header.NumberOfTrack, got.Header.NumberOfSide)
	}
	if got.Header.BitRate != 250 || got.Header.FloppyRPM != 300 {
		t.Fatalf("rates = %d kbps / %d rpm", got.Header.BitRate, got.Header.FloppyRPM)
	}
	for c := range disk.Tracks {
		// v3 NOP padding is stripped on read, so the stored bytes
		// come back exactly.
		if !bytes.Equal(got.Tracks[c].Side0, disk.Tracks[c].Side0) {
			t.Errorf("cyl %d side 0 mismatch", c)
		}
		if !bytes.Equal(got.Tracks[c].Side1, disk.Tracks[c].Side1) {
			t.Errorf("cyl %d side 1 mismatch", c)
		}
	}
}

func TestWriteReadRoundTripV1(t *testing.T) {
	disk := testDisk(2, 2, 600)
	path := writeTemp(t, disk, HFEVersion1)

	got, err := ReadHFE(path)
	if err != nil {
		t.Fatalf("ReadHFE: %v", err)
	}
	for c := range disk.Tracks {
		// v1 has no opcode layer: padding survives as trailing 0xFF
		// bytes, so only the stored prefix is compared.
		side := got.Tracks[c].Side0
		if len(side) < 600 || !bytes.Equal(side[:600], disk.Tracks[c].Side0) {
			t.Errorf("cyl %d side 0 mismatch", c)
		}
	}
}

func TestWriteRejectsUnknownVersion(t *testing.T) {
	disk := testDisk(1, 1, 64)
	path := filepath.Join(t.TempDir(), "disk.hfe")
	if err := WriteHFE(path, disk, HFEVersion(2)); err == nil {
		t.Fatalf("WriteHFE with version 2 should fail")
	}
}

func corruptAt(t *testing.T, path string, offset int64, b byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteAt([]byte{b}, offset); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
}

func TestReadRejectsCorruptHeaders(t *testing.T) {
	cases := []struct {
		name   string
		offset int64
		value  byte
	}{
		{"signature", 0, 'X'},
		{"revision-v2", 8, 1},
		{"zero-tracks", 9, 0},
		{"zero-sides", 10, 0},
	}
	for _, c := range cases {
		disk := testDisk(1, 1, 64)
		path := writeTemp(t, disk, HFEVersion3)
		corruptAt(t, path, c.offset, c.value)
		if _, err := ReadHFE(path); err == nil {
			t.Errorf("%s: ReadHFE accepted a corrupt header", c.name)
		}
	}
}

func TestReadNonExistentFile(t *testing.T) {
	if _, err := Read("nonexistent_file.hfe"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestWritePadsWithFF(t *testing.T) {
	disk := testDisk(1, 1, 64)
	path := writeTemp(t, disk, HFEVersion3)

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	for i := 32; i < BlockSize; i++ {
		if raw[i] != 0xFF {
			t.Fatalf("header padding at %d = %#02x", i, raw[i])
		}
	}
	// One track uses one 4-byte track-list entry.
	for i := BlockSize + 4; i < 2*BlockSize; i++ {
		if raw[i] != 0xFF {
			t.Fatalf("track list padding at %d = %#02x", i, raw[i])
		}
	}
}

func TestReadComputesRPMWhenUnset(t *testing.T) {
	// 12500 bytes of track at 250 kbps is exactly one 300 RPM
	// revolution.
	disk := testDisk(1, 1, 12500)
	disk.Header.FloppyRPM = 0
	path := writeTemp(t, disk, HFEVersion3)

	got, err := ReadHFE(path)
	if err != nil {
		t.Fatalf("ReadHFE: %v", err)
	}
	if got.Header.FloppyRPM != 300 {
		t.Fatalf("FloppyRPM = %d, want 300", got.Header.FloppyRPM)
	}
}

func TestDetectImageFormat(t *testing.T) {
	cases := []struct {
		path string
		want ImageFormat
	}{
		{"a.hfe", ImageFormatHFE},
		{"A.HFE", ImageFormatHFE},
		{"b.adf", ImageFormatADF},
		{"c.img", ImageFormatIMG},
		{"c.IMA", ImageFormatIMG},
		{"d.txt", ImageFormatUnknown},
		{"noext", ImageFormatUnknown},
	}
	for _, c := range cases {
		if got := DetectImageFormat(c.path); got != c.want {
			t.Errorf("DetectImageFormat(%q) = %v, want %v", c.path, got, c.want)
		}
	}
}

func TestIMGRoundTrip(t *testing.T) {
	// 160K: 40 cylinders, 1 side, 8 sectors, the smallest geometry
	// DetectFormatFromSize knows.
	raw := make([]byte, 40*1*8*512)
	for i := range raw {
		raw[i] = byte(i % 251)
	}
	dir := t.TempDir()
	src := filepath.Join(dir, "src.img")
	if err := os.WriteFile(src, raw, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	disk, err := ReadIMG(src)
	if err != nil {
		t.Fatalf("ReadIMG: %v", err)
	}
	if disk.Header.NumberOfTrack != 40 || disk.Header.NumberOfSide != 1 {
		t.Fatalf("geometry = %d/%d", disk.Header.NumberOfTrack, disk.Header.NumberOfSide)
	}

	dst := filepath.Join(dir, "dst.img")
	if err := WriteIMG(dst, disk); err != nil {
		t.Fatalf("WriteIMG: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("sector contents changed across the MFM round trip")
	}
}

func TestReadIMGRejectsOddSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "odd.img")
	if err := os.WriteFile(path, make([]byte, 1000), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ReadIMG(path); err == nil {
		t.Fatalf("expected geometry error for a 1000-byte image")
	}
}

func TestWriteADFRejectsWrongGeometry(t *testing.T) {
	disk := testDisk(2, 2, 600)
	if err := WriteADF(filepath.Join(t.TempDir(), "out.adf"), disk); err == nil {
		t.Fatalf("expected geometry error for a 2-cylinder disk")
	}
}
