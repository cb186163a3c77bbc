package hfe

import (
	"fmt"
	"io"
	"os"

	"github.com/fluxcore/floppycore/mfm"
)

// ReadIMG reads a raw, sector-by-sector IBM-PC disk image (.img/.ima) and
// returns a Disk structure with each track MFM-encoded on the fly. Geometry
// is recovered from the file size via mfm.DetectFormatFromSize, so no
// header is required.
func ReadIMG(filename string) (*Disk, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	cylinders, sides, sectorsPerTrack, err := mfm.DetectFormatFromSize(fileInfo.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to detect geometry: %w", err)
	}

	disk := &Disk{
		Header: Header{
			NumberOfTrack:       uint8(cylinders),
			NumberOfSide:        uint8(sides),
			TrackEncoding:       ENC_ISOIBM_MFM,
			BitRate:             250,
			FloppyRPM:           300,
			FloppyInterfaceMode: IFM_IBMPC_DD,
			WriteProtected:      0xFF,
			WriteAllowed:        0xFF,
			SingleStep:          0xFF,
			Track0S0AltEncoding: 0xFF,
			Track0S0Encoding:    ENC_ISOIBM_MFM,
			Track0S1AltEncoding: 0xFF,
			Track0S1Encoding:    ENC_ISOIBM_MFM,
		},
		Tracks: make([]TrackData, cylinders),
	}

	// Max track length in MFM half-bits (250 kbps, 300 RPM).
	maxHalfBits := 250 * 1000 * 60 / 300 * 2

	for cyl := 0; cyl < cylinders; cyl++ {
		for head := 0; head < sides; head++ {
			sectors := make([][]byte, sectorsPerTrack)
			for s := 0; s < sectorsPerTrack; s++ {
				sectorData := make([]byte, sectorSizeIMG)
				if _, err := io.ReadFull(file, sectorData); err != nil {
					return nil, fmt.Errorf("failed to read cyl %d head %d sector %d: %w", cyl, head, s, err)
				}
				sectors[s] = sectorData
			}

			writer := mfm.NewWriter(maxHalfBits)
			mfmData := writer.EncodeTrackIBMPC(sectors, cyl, head, sectorsPerTrack)

			if head == 0 {
				disk.Tracks[cyl].Side0 = mfmData
			} else {
				disk.Tracks[cyl].Side1 = mfmData
			}
		}
	}

	return disk, nil
}

// WriteIMG decodes each MFM-encoded track of disk back to raw sectors and
// writes them out in cylinder/head/sector order, reversing ReadIMG.
func WriteIMG(filename string, disk *Disk) error {
	cylinders := int(disk.Header.NumberOfTrack)
	sides := int(disk.Header.NumberOfSide)
	if cylinders == 0 || sides == 0 {
		return fmt.Errorf("invalid geometry: %d cylinders, %d sides", cylinders, sides)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	for cyl := 0; cyl < cylinders; cyl++ {
		for head := 0; head < sides; head++ {
			var sideData []byte
			if head == 0 {
				sideData = disk.Tracks[cyl].Side0
			} else {
				sideData = disk.Tracks[cyl].Side1
			}
			if len(sideData) == 0 {
				return fmt.Errorf("empty track %d.%d", cyl, head)
			}

			reader := mfm.NewReader(sideData)
			numSectors := reader.CountSectorsIBMPC()
			if numSectors == 0 {
				return fmt.Errorf("no sectors found on track %d.%d", cyl, head)
			}

			reader = mfm.NewReader(sideData)
			sectors := make(map[int][]byte)
			for len(sectors) < numSectors {
				sectorNum, sectorData, err := reader.ReadSectorIBMPC(cyl, head)
				if err != nil {
					break
				}
				if sectorNum < 0 || sectorNum >= numSectors {
					continue
				}
				sectors[sectorNum] = sectorData
			}

			for s := 0; s < numSectors; s++ {
				sectorData, found := sectors[s]
				if !found {
					return fmt.Errorf("missing sector %d of track %d.%d", s, cyl, head)
				}
				if _, err := file.Write(sectorData); err != nil {
					return fmt.Errorf("failed to write sector %d of track %d.%d: %w", s, cyl, head, err)
				}
			}
		}
	}

	return nil
}

const sectorSizeIMG = 512
