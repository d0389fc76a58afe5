package volume

import (
	"fmt"
	"image"
	"image/color"
	"io"

	"golang.org/x/image/bmp"
)

// SliceImage renders the densities of the z-th XY plane as a grayscale image.
// Densities are clamped to [0, 1]; solid is white.
func (d *Descriptor) SliceImage(z uint32) (*image.Gray, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	n := d.ChunkSize
	if z >= n {
		return nil, fmt.Errorf("volume: slice %d out of range [0, %d)", z, n)
	}

	img := image.NewGray(image.Rect(0, 0, int(n), int(n)))
	for y := uint32(0); y < n; y++ {
		for x := uint32(0); x < n; x++ {
			v := d.At(x, y, z).Density
			if v < 0 {
				v = 0
			} else if v > 1 {
				v = 1
			}
			// Flip y so "up" in the volume is up in the image.
			img.SetGray(int(x), int(n-1-y), color.Gray{Y: uint8(v * 255)})
		}
	}
	return img, nil
}

// WriteSliceBMP writes SliceImage(z) as a BMP.
func (d *Descriptor) WriteSliceBMP(w io.Writer, z uint32) error {
	img, err := d.SliceImage(z)
	if err != nil {
		return err
	}
	return bmp.Encode(w, img)
}
