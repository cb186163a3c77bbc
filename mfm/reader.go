package mfm

import "fmt"

// sectorSize is the only sector payload size the IBM-PC and Amiga
// decoders handle.
const sectorSize = 512

// Reader walks an MFM bitstream, stored MSB-first with two half-bits
// (clock + data) per data bit, and recovers sector contents.
type Reader struct {
	data   []byte
	bitPos int // position in half-bits from the start of data
}

// NewReader wraps a raw MFM bitstream.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// readHalfBit pulls the next raw half-bit from the stream.
func (r *Reader) readHalfBit() (int, error) {
	if r.bitPos >= len(r.data)*8 {
		return -1, fmt.Errorf("end of bitstream")
	}
	b := r.data[r.bitPos/8] >> (7 - r.bitPos&7)
	r.bitPos++
	return int(b & 1), nil
}

// readBit skips the clock half-bit and returns the data half-bit.
func (r *Reader) readBit() (int, error) {
	if _, err := r.readHalfBit(); err != nil {
		return -1, err
	}
	return r.readHalfBit()
}

// readByte assembles eight data bits, MSB first.
func (r *Reader) readByte() (byte, error) {
	var out byte
	for i := 0; i < 8; i++ {
		bit, err := r.readBit()
		if err != nil {
			return 0, err
		}
		out = out<<1 | byte(bit)
	}
	return out, nil
}

// readWord16 assembles a big-endian 16-bit value.
func (r *Reader) readWord16() (uint16, error) {
	high, err := r.readByte()
	if err != nil {
		return 0, err
	}
	low, err := r.readByte()
	if err != nil {
		return 0, err
	}
	return uint16(high)<<8 | uint16(low), nil
}

// readWord32 assembles a big-endian 32-bit value.
func (r *Reader) readWord32() (uint32, error) {
	high, err := r.readWord16()
	if err != nil {
		return 0, err
	}
	low, err := r.readWord16()
	if err != nil {
		return 0, err
	}
	return uint32(high)<<16 | uint32(low), nil
}

// scanIBMPC hunts for the next 00-a1-a1-a1 or 00-c2-c2-c2 marker and
// returns the tag byte that follows it. A run of ones re-phases the
// reader by one half-bit, since a gap seen off-phase reads as all
// ones.
func (r *Reader) scanIBMPC() (int, error) {
	history := uint32(0x13713713)

	for {
		bit, err := r.readBit()
		if err != nil {
			return -1, err
		}
		history = history<<1 | uint32(bit)

		if history == 0xffffffff {
			if _, err := r.readHalfBit(); err != nil {
				return -1, err
			}
			history = 0
			continue
		}

		if history == 0x00a1a1a1 || history == 0x00c2c2c2 {
			tag, err := r.readByte()
			if err != nil {
				return -1, err
			}
			return int(tag), nil
		}
	}
}

// idFieldIBMPC is a decoded sector ID field with its CRC already
// checked.
type idFieldIBMPC struct {
	cyl    byte
	head   byte
	sector byte // 1-based, as recorded on disk
	size   byte
}

// readIDFieldIBMPC parses the six bytes after an 0xFE marker. ok is
// false on a short read or CRC mismatch; the caller rescans.
func (r *Reader) readIDFieldIBMPC() (id idFieldIBMPC, ok bool) {
	var fields [4]byte
	for i := range fields {
		b, err := r.readByte()
		if err != nil {
			return id, false
		}
		fields[i] = b
	}
	recorded, err := r.readWord16()
	if err != nil {
		return id, false
	}

	sum := uint16(0xb230)
	for _, b := range fields {
		sum = crc16CCITTByte(sum, b)
	}
	if sum != recorded {
		return id, false
	}
	return idFieldIBMPC{cyl: fields[0], head: fields[1], sector: fields[2], size: fields[3]}, true
}

// ReadSectorIBMPC reads the next sector addressed to the given
// cylinder and head. It returns the 0-based sector number and its
// 512-byte payload, or an error once the stream is exhausted.
func (r *Reader) ReadSectorIBMPC(cylinder, head int) (int, []byte, error) {
	data := make([]byte, sectorSize)

	for {
		tag, err := r.scanIBMPC()
		if err != nil {
			return -1, nil, err
		}
		if tag != 0xfe {
			continue
		}

		id, ok := r.readIDFieldIBMPC()
		if !ok {
			continue
		}
		if int(id.cyl)*2+int(id.head) != cylinder*2+head {
			continue
		}
		if id.size != 2 { // only 512-byte sectors
			continue
		}

		tag, err = r.scanIBMPC()
		if err != nil {
			return -1, nil, err
		}
		if tag == 0xfe {
			// Another ID field before any data field: the data
			// field is missing, start over from its header.
			continue
		}
		if tag != 0xfb {
			continue
		}

		for i := range data {
			b, err := r.readByte()
			if err != nil {
				return -1, nil, err
			}
			data[i] = b
		}
		recorded, err := r.readWord16()
		if err != nil {
			return -1, nil, err
		}

		sum := crc16CCITTByte(0xcdb4, 0xfb)
		sum = crc16CCITT(sum, data)
		if sum != recorded {
			fmt.Printf("Warning: bad checksum in sector %d of track %d.%d\n", id.sector, cylinder, head)
			continue
		}

		return int(id.sector) - 1, data, nil
	}
}

// CountSectorsIBMPC scans the remaining track and counts the distinct
// sector numbers that appear in CRC-valid ID fields.
func (r *Reader) CountSectorsIBMPC() int {
	seen := make(map[int]bool)

	for {
		tag, err := r.scanIBMPC()
		if err != nil {
			break
		}
		if tag != 0xfe {
			continue
		}
		id, ok := r.readIDFieldIBMPC()
		if !ok || id.size != 2 {
			continue
		}
		if n := int(id.sector) - 1; n >= 0 {
			seen[n] = true
		}
	}
	return len(seen)
}

// DetectFormatFromSize recovers a raw sector dump's geometry from its
// byte size alone.
func DetectFormatFromSize(fileSize int64) (cylinders, sides, sectorsPerTrack int, err error) {
	if fileSize%sectorSize != 0 {
		return 0, 0, 0, fmt.Errorf("file size %d is not divisible by sector size %d", fileSize, sectorSize)
	}
	totalSectors := int(fileSize / sectorSize)

	knownFormats := []struct {
		cylinders       int
		sides           int
		sectorsPerTrack int
	}{
		// 3½" HD
		{80, 2, 18}, // 1.44M
		{80, 2, 20}, // 1.6M
		// 3½" DD
		{80, 2, 9},  // 720K
		{80, 2, 10}, // 800K
		// 3½" DD single side
		{80, 1, 9}, // 360K
		// 3½" ED
		{80, 2, 36}, // 2.88M
		{80, 2, 39}, // 3.12M
		// 5¼" AT HD
		{80, 2, 15}, // 1.2M
		// 5¼" AT DD
		{40, 2, 9}, // 360K
		// 5¼" XT DD
		{40, 2, 8}, // 320K
		{40, 2, 9}, // 360K
		// 5¼" XT DD single side
		{40, 1, 8}, // 160K
		{40, 1, 9}, // 180K
	}
	for _, f := range knownFormats {
		if totalSectors == f.cylinders*f.sides*f.sectorsPerTrack {
			return f.cylinders, f.sides, f.sectorsPerTrack, nil
		}
	}

	// No exact match: factor the sector count over plausible
	// geometries instead.
	for sides := 2; sides > 0; sides-- {
		if totalSectors%sides != 0 {
			continue
		}
		perSide := totalSectors / sides
		for cyls := 80; cyls >= 40; cyls -= 40 {
			if perSide%cyls != 0 {
				continue
			}
			spt := perSide / cyls
			if spt >= 8 && spt <= 18 {
				return cyls, sides, spt, nil
			}
		}
	}

	return 0, 0, 0, fmt.Errorf("unknown floppy image format %d sectors", totalSectors)
}

// unshuffle reassembles a 32-bit word from the Amiga odd/even
// bit-plane encoding.
func unshuffle(odd, even uint16) uint32 {
	var word uint32
	for i := 0; i < 16; i++ {
		word <<= 2
		word |= uint32((even>>15)&1) | uint32((odd>>14)&2)
		odd <<= 1
		even <<= 1
	}
	return word
}

// scanAmiga hunts for the 00-a1-a1-fx Amiga sector marker and returns
// the fx tag byte, re-phasing on all-ones gap runs the same way
// scanIBMPC does.
func (r *Reader) scanAmiga() (int, error) {
	var history uint32

	for {
		bit, err := r.readBit()
		if err != nil {
			return -1, err
		}
		history = history<<1 | uint32(bit)

		if history == 0xffffffff {
			if _, err := r.readHalfBit(); err != nil {
				return -1, err
			}
			history = 0
			continue
		}

		if history&0xfffffff0 == 0x00a1a1f0 {
			return int(history & 0xff), nil
		}
	}
}

// readLong reads one shuffled 32-bit word and folds its raw halves
// into the running checksum.
func (r *Reader) readLong(sum *uint32) (uint32, error) {
	odd, err := r.readWord16()
	if err != nil {
		return 0, err
	}
	even, err := r.readWord16()
	if err != nil {
		return 0, err
	}
	*sum ^= uint32(odd) ^ uint32(even)
	return unshuffle(odd, even), nil
}

// readDataAmiga reads a sector payload: all 256 odd words first, then
// all 256 even words, unshuffled pairwise. It returns the checksum
// over the raw halves.
func (r *Reader) readDataAmiga(data []byte) (uint32, error) {
	if len(data) != sectorSize {
		return 0, fmt.Errorf("data buffer must be %d bytes", sectorSize)
	}

	var planes [2][sectorSize / 4]uint16
	for p := range planes {
		for i := range planes[p] {
			w, err := r.readWord16()
			if err != nil {
				return 0, err
			}
			planes[p][i] = w
		}
	}

	var sum uint32
	for i := 0; i < sectorSize/4; i++ {
		odd, even := planes[0][i], planes[1][i]
		word := unshuffle(odd, even)
		sum ^= uint32(odd) ^ uint32(even)
		data[4*i] = byte(word >> 24)
		data[4*i+1] = byte(word >> 16)
		data[4*i+2] = byte(word >> 8)
		data[4*i+3] = byte(word)
	}
	return sum, nil
}

// ReadSectorAmiga reads the next sector of an Amiga track (track is
// cylinder*2 + head, as the Amiga numbers them). It returns the
// 0-based sector number and its payload.
func (r *Reader) ReadSectorAmiga(track int) (int, []byte, error) {
	data := make([]byte, sectorSize)

	for {
		tag, err := r.scanAmiga()
		if err != nil {
			return -1, nil, err
		}

		// The tag byte is the high byte of the shuffled sector
		// identifier; the rest of the identifier follows.
		oddLow, err := r.readByte()
		if err != nil {
			continue
		}
		even, err := r.readWord16()
		if err != nil {
			continue
		}

		odd := uint16(tag)<<8 | uint16(oddLow)
		ident := unshuffle(odd, even) & 0xffffff
		identTrack := int(ident >> 16)
		sector := int(ident >> 8 & 0xff)
		headerSum := uint32(odd) ^ uint32(even)

		// The four label longs are unused but count toward the
		// header checksum.
		for i := 0; i < 4; i++ {
			if _, err := r.readLong(&headerSum); err != nil {
				break
			}
		}

		recordedHeaderSum, err := r.readWord32()
		if err != nil {
			continue
		}
		if headerSum != recordedHeaderSum {
			continue
		}
		if identTrack != track {
			continue
		}

		// The data checksum is recorded ahead of the data.
		recordedDataSum, err := r.readWord32()
		if err != nil {
			continue
		}
		// A payload checksum mismatch is tolerated: Amiga tools
		// routinely use such sectors anyway.
		if _, err := r.readDataAmiga(data); err != nil {
			continue
		}
		_ = recordedDataSum

		return sector, data, nil
	}
}

// CountSectorsAmiga counts the distinct sectors recoverable from the
// remaining track.
func (r *Reader) CountSectorsAmiga(track int) int {
	seen := make(map[int]bool)
	for {
		sector, _, err := r.ReadSectorAmiga(track)
		if err != nil {
			break
		}
		if sector >= 0 && sector < 11 {
			seen[sector] = true
		}
	}
	return len(seen)
}
