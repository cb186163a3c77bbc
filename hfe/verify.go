package hfe

import (
	"bytes"
	"fmt"

	"github.com/fluxcore/floppycore/mfm"
)

// InitVerifyOptions probes cylinder 0 side 0 for a recognizable
// sector format and records which decoder, if any, post-write
// verification should use.
func (disk *Disk) InitVerifyOptions() {
	disk.VerifyIBMPC = mfm.NewReader(disk.Tracks[0].Side0).CountSectorsIBMPC() > 0
	if disk.VerifyIBMPC {
		return
	}
	disk.VerifyAmiga = mfm.NewReader(disk.Tracks[0].Side0).CountSectorsAmiga(0) > 0
}

// MustVerify reports whether a written track can be checked against
// its intended contents.
func (disk *Disk) MustVerify() bool {
	return disk.VerifyIBMPC || disk.VerifyAmiga
}

// VerifyTrack decodes readBits and compares its sectors against the
// track currently stored for cyl/head, using whichever decoder
// InitVerifyOptions detected.
func (disk *Disk) VerifyTrack(cyl int, head int, readBits []byte) error {
	var writeBits []byte
	if head == 0 {
		writeBits = disk.Tracks[cyl].Side0
	} else {
		writeBits = disk.Tracks[cyl].Side1
	}

	if disk.VerifyIBMPC {
		if err := disk.VerifyTrackIBMPC(cyl, head, writeBits, readBits); err != nil {
			return err
		}
	}
	if disk.VerifyAmiga {
		if err := disk.VerifyTrackAmiga(cyl, head, writeBits, readBits); err != nil {
			return err
		}
	}
	return nil
}

// collectSectors pulls up to want sectors out of one decode pass.
func collectSectors(read func() (int, []byte, error), want int) map[int][]byte {
	sectors := make(map[int][]byte)
	for len(sectors) < want {
		num, data, err := read()
		if err != nil {
			break
		}
		if num < 0 || num >= want {
			continue
		}
		sectors[num] = data
	}
	return sectors
}

// verifySectors compares the sectors decodable from two bitstreams of
// the same track.
func verifySectors(countSectors func([]byte) int, sectorsOf func([]byte, int) map[int][]byte, writeBits, readBits []byte) error {
	numWritten := countSectors(writeBits)
	numRead := countSectors(readBits)
	if numWritten != numRead {
		return fmt.Errorf("written %d sectors, read %d sectors", numWritten, numRead)
	}

	written := sectorsOf(writeBits, numWritten)
	if len(written) != numWritten {
		return fmt.Errorf("bad write data")
	}

	read := sectorsOf(readBits, numWritten)
	if len(read) != numWritten {
		return fmt.Errorf("missing sectors")
	}
	for num, data := range read {
		if !bytes.Equal(written[num], data) {
			return fmt.Errorf("bad data in sector %d", num)
		}
	}
	return nil
}

// VerifyTrackIBMPC compares two IBM-PC MFM bitstreams sector by
// sector.
func (disk *Disk) VerifyTrackIBMPC(cyl, head int, writeBits, readBits []byte) error {
	return verifySectors(
		func(bits []byte) int {
			return mfm.NewReader(bits).CountSectorsIBMPC()
		},
		func(bits []byte, want int) map[int][]byte {
			r := mfm.NewReader(bits)
			return collectSectors(func() (int, []byte, error) {
				return r.ReadSectorIBMPC(cyl, head)
			}, want)
		},
		writeBits, readBits)
}

// VerifyTrackAmiga compares two Amiga MFM bitstreams sector by
// sector.
func (disk *Disk) VerifyTrackAmiga(cyl, head int, writeBits, readBits []byte) error {
	track := cyl*2 + head
	return verifySectors(
		func(bits []byte) int {
			return mfm.NewReader(bits).CountSectorsAmiga(track)
		},
		func(bits []byte, want int) map[int][]byte {
			r := mfm.NewReader(bits)
			return collectSectors(func() (int, []byte, error) {
				return r.ReadSectorAmiga(track)
			}, want)
		},
		writeBits, readBits)
}
