package image

import (
	"fmt"

	"github.com/fluxcore/floppycore/hfe"
)

// RawImage mounts a raw sector dump (.img/.ima). Geometry is
// recovered from file size alone, and each track is MFM-encoded on
// load via hfe.ReadIMG.
type RawImage struct {
	DiskImage
}

// NewRawImage returns an unopened RawImage.
func NewRawImage() *RawImage {
	return &RawImage{}
}

// Open loads a raw sector dump explicitly via hfe.ReadIMG.
func (r *RawImage) Open(slot Slot) error {
	disk, err := hfe.ReadIMG(slot.Path)
	if err != nil {
		return fmt.Errorf("open raw image %q: %w", slot.Path, err)
	}
	disk.InitVerifyOptions()
	r.disk = disk
	r.slot = slot
	return nil
}
