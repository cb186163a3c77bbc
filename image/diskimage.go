package image

import (
	"fmt"

	"github.com/fluxcore/floppycore/hfe"
	"github.com/fluxcore/floppycore/mfm"
	"github.com/fluxcore/floppycore/sysclock"
)

// mfmSyncword is the classic 0x4489 MFM address-mark sync pattern,
// doubled to a 32-bit word since the write engine commits words at
// 32-bit granularity.
const mfmSyncword = 0x44894489

// DiskImage is the shared Image implementation backing the HFE and
// raw-sector entry points: hfe.Disk normalizes every supported format
// (.hfe, .img/.ima, .adf) into one in-memory per-track MFM bitstream
// representation, so the flux-engine-facing logic needs exactly one
// implementation regardless of which file extension was mounted.
type DiskImage struct {
	disk *hfe.Disk
	slot Slot

	cyl, head int

	// Read-side state: flux-interval deltas (system ticks) covering
	// exactly one revolution of the current track, plus a circular
	// cursor and the running position used for TicksSinceIndex.
	fluxTicks  []uint32
	readCursor int
	posTicks   uint32
	revTicks   uint32

	// Write-side state: the MFM words committed so far this
	// revolution, and the rotational offset writing began at.
	writeWords  []uint32
	writeStart  uint32
	writeActive bool

	// ForceBusyOnce makes the next SeekTrack call report busy once,
	// so tests can exercise the caller's retry path.
	ForceBusyOnce bool
}

// newDiskImage wraps an already-loaded hfe.Disk.
func newDiskImage(disk *hfe.Disk, slot Slot) *DiskImage {
	disk.InitVerifyOptions()
	return &DiskImage{disk: disk, slot: slot}
}

// Open loads the image file, dispatching on extension via hfe.Read
// (HFE/IMG/IMA/ADF all share this path).
func (d *DiskImage) Open(slot Slot) error {
	disk, err := hfe.Read(slot.Path)
	if err != nil {
		return fmt.Errorf("open image %q: %w", slot.Path, err)
	}
	disk.InitVerifyOptions()
	d.disk = disk
	d.slot = slot
	return nil
}

func (d *DiskImage) Handler() Handler {
	return Handler{Syncword: mfmSyncword}
}

// WritesSupported reports true for every format this implementation
// loads: all three (HFE, IMG/IMA, ADF) round-trip through hfe.Write.
func (d *DiskImage) WritesSupported() bool {
	return d.disk != nil
}

func (d *DiskImage) sideBits(cyl, head int) []byte {
	if head == 0 {
		return d.disk.Tracks[cyl].Side0
	}
	return d.disk.Tracks[cyl].Side1
}

func (d *DiskImage) setSideBits(cyl, head int, bits []byte) {
	if head == 0 {
		d.disk.Tracks[cyl].Side0 = bits
	} else {
		d.disk.Tracks[cyl].Side1 = bits
	}
}

// SeekTrack sets the codec to the given side+cylinder and regenerates
// the read-side flux cache from the track's MFM bitstream.
func (d *DiskImage) SeekTrack(cyl, head int, position *uint32) (bool, error) {
	if d.ForceBusyOnce {
		d.ForceBusyOnce = false
		return true, nil
	}
	if d.disk == nil {
		return false, fmt.Errorf("no image mounted")
	}
	if cyl < 0 || cyl >= len(d.disk.Tracks) {
		return false, fmt.Errorf("cylinder %d out of range", cyl)
	}
	bits := d.sideBits(cyl, head)
	if len(bits) == 0 {
		return false, fmt.Errorf("track %d.%d has no data", cyl, head)
	}

	transitions, err := mfm.GenerateFluxTransitions(bits, d.disk.Header.BitRate)
	if err != nil {
		return false, fmt.Errorf("seek %d.%d: %w", cyl, head, err)
	}
	transitions = mfm.CoverFullRotation(transitions, d.disk.Header.BitRate, d.disk.Header.FloppyRPM)

	ticks := make([]uint32, len(transitions))
	var prev uint64
	for i, t := range transitions {
		ticks[i] = sysclock.TicksFromNanos(t - prev)
		prev = t
	}

	d.cyl, d.head = cyl, head
	d.fluxTicks = ticks
	d.readCursor = 0
	d.posTicks = 0
	d.revTicks = 0
	for _, t := range ticks {
		d.revTicks += t
	}

	if position != nil {
		*position = 0
	}
	return false, nil
}

// RDataFlux fills buf with up to len(buf) flux-interval samples,
// wrapping the cached per-revolution delta array.
func (d *DiskImage) RDataFlux(buf []uint16) (int, error) {
	if len(d.fluxTicks) == 0 {
		return 0, nil
	}
	n := 0
	for n < len(buf) {
		t := d.fluxTicks[d.readCursor]
		if t > 0xFFFF {
			t = 0xFFFF
		}
		buf[n] = uint16(t)
		d.posTicks += d.fluxTicks[d.readCursor]
		if d.posTicks >= d.revTicks {
			d.posTicks -= d.revTicks
		}
		d.readCursor++
		if d.readCursor >= len(d.fluxTicks) {
			d.readCursor = 0
		}
		n++
	}
	return n, nil
}

// ReadTrack is a no-op beyond reporting success: the whole image was
// decoded into memory at Open, so there is no incremental storage
// fetch to perform. A firmware streaming from a slow medium would do
// its buffering here.
func (d *DiskImage) ReadTrack() (bool, error) {
	return len(d.fluxTicks) > 0, nil
}

// TicksSinceIndex reports the current bit-level position within the
// revolution, in system ticks.
func (d *DiskImage) TicksSinceIndex() uint32 {
	return d.posTicks
}

// TicksPerRevolution reports the tick length of the currently seeked
// track's revolution.
func (d *DiskImage) TicksPerRevolution() uint32 {
	return d.revTicks
}

// SetWriteStart stashes the rotational offset a write began at.
func (d *DiskImage) SetWriteStart(ticks uint32) {
	d.writeStart = ticks
	d.writeWords = d.writeWords[:0]
	d.writeActive = true
}

// CommitWriteWord appends one big-endian 32-bit MFM word from the
// write engine.
func (d *DiskImage) CommitWriteWord(word uint32) {
	d.writeWords = append(d.writeWords, word)
}

// WriteTrack drains committed words toward the in-memory track. On
// flush it assembles the final bitstream, replaces the track's stored
// data, and, when the format carries recognizable sector structure,
// decodes what was written back out to verify it.
func (d *DiskImage) WriteTrack(flush bool) error {
	if !flush {
		return nil // words already captured by CommitWriteWord; nothing to drain yet
	}
	if !d.writeActive {
		return nil
	}
	if len(d.writeWords) == 0 {
		// Gate pulsed with no edges captured: nothing to place.
		d.writeActive = false
		return nil
	}
	bits := wordsToBytes(d.writeWords)
	bits = d.placeOnTrack(bits)
	d.setSideBits(d.cyl, d.head, bits)
	d.writeActive = false

	if d.disk.MustVerify() {
		if err := d.disk.VerifyTrack(d.cyl, d.head, bits); err != nil {
			return fmt.Errorf("verify track %d.%d: %w", d.cyl, d.head, err)
		}
	}
	return nil
}

// Sync persists the in-memory image to its backing file, in the
// format the file was mounted as.
func (d *DiskImage) Sync() error {
	if d.disk == nil {
		return fmt.Errorf("no image mounted")
	}
	var err error
	switch hfe.DetectImageFormat(d.slot.Path) {
	case hfe.ImageFormatIMG:
		err = hfe.WriteIMG(d.slot.Path, d.disk)
	case hfe.ImageFormatADF:
		err = hfe.WriteADF(d.slot.Path, d.disk)
	default:
		err = hfe.Write(d.slot.Path, d.disk, hfe.HFEVersion3)
	}
	if err != nil {
		return fmt.Errorf("sync image %q: %w", d.slot.Path, err)
	}
	return nil
}

// placeOnTrack lays the freshly written bitstream onto the track at
// the rotational offset the write began at. A stream as long as the
// track (or longer, or a write onto an empty track) replaces it
// outright; a shorter one overlays the existing bits, wrapping past
// the index.
func (d *DiskImage) placeOnTrack(bits []byte) []byte {
	old := d.sideBits(d.cyl, d.head)
	if len(old) == 0 || len(bits) >= len(old) {
		return bits
	}

	// Stored bits are MFM half-bitcells at twice the data rate.
	halfBitNs := uint64(1e9) / (uint64(d.disk.Header.BitRate) * 1000 * 2)
	startBit := int(sysclock.NanosFromTicks(d.writeStart)/halfBitNs) % (len(old) * 8)

	merged := make([]byte, len(old))
	copy(merged, old)
	total := len(merged) * 8
	for i := 0; i < len(bits)*8; i++ {
		pos := (startBit + i) % total
		bit := (bits[i/8] >> uint(7-i%8)) & 1
		mask := byte(1) << uint(7-pos%8)
		if bit != 0 {
			merged[pos/8] |= mask
		} else {
			merged[pos/8] &^= mask
		}
	}
	return merged
}

func wordsToBytes(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		out[i*4+0] = byte(w >> 24)
		out[i*4+1] = byte(w >> 16)
		out[i*4+2] = byte(w >> 8)
		out[i*4+3] = byte(w)
	}
	return out
}
