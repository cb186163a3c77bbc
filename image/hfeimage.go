package image

import (
	"fmt"

	"github.com/fluxcore/floppycore/hfe"
)

// HFEImage mounts an HxC Floppy Emulator image: per-track MFM
// bitstreams already at rest, served through the shared DiskImage
// engine.
type HFEImage struct {
	DiskImage
}

// NewHFEImage returns an unopened HFEImage.
func NewHFEImage() *HFEImage {
	return &HFEImage{}
}

// Open loads an HFE file explicitly via hfe.ReadHFE rather than the
// extension-dispatching hfe.Read, so that mounting an .hfe image
// never silently falls through to a different codec.
func (h *HFEImage) Open(slot Slot) error {
	disk, err := hfe.ReadHFE(slot.Path)
	if err != nil {
		return fmt.Errorf("open HFE image %q: %w", slot.Path, err)
	}
	disk.InitVerifyOptions()
	h.disk = disk
	h.slot = slot
	return nil
}
