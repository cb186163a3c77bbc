package image

import (
	"fmt"

	"github.com/fluxcore/floppycore/hfe"
	"github.com/fluxcore/floppycore/mfm"
)

// Open returns an Image for the given slot, dispatching on file
// extension via hfe.Read/hfe.DetectImageFormat — this is the general
// mount path used by config/cmd when the caller doesn't need to force
// a specific codec; Amiga .adf images flow through here since
// hfe.ReadADF already decodes them into the same per-track MFM
// bitstream representation DiskImage's flux cache understands.
func Open(slot Slot) (Image, error) {
	switch hfe.DetectImageFormat(slot.Path) {
	case hfe.ImageFormatHFE:
		img := NewHFEImage()
		if err := img.Open(slot); err != nil {
			return nil, err
		}
		return img, nil
	case hfe.ImageFormatIMG:
		img := NewRawImage()
		if err := img.Open(slot); err != nil {
			return nil, err
		}
		return img, nil
	case hfe.ImageFormatADF:
		disk, err := hfe.ReadADF(slot.Path)
		if err != nil {
			return nil, fmt.Errorf("open ADF image %q: %w", slot.Path, err)
		}
		return newDiskImage(disk, slot), nil
	default:
		return nil, fmt.Errorf("unknown or unsupported image format for file: %s", slot.Path)
	}
}

// DetectFormatFromSize recovers disk geometry from a raw image's
// file size alone; the raw formats carry no header to consult.
func DetectFormatFromSize(sizeBytes int64) (cylinders, sides, sectorsPerTrack int, err error) {
	return mfm.DetectFormatFromSize(sizeBytes)
}
