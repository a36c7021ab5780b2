package processor

import (
	"github.com/nci/vex/utils"
)

// AffineTransform holds GDAL geotransform coefficients:
// origin_x, pixel_w, 0, origin_y, 0, -pixel_h.
type AffineTransform [6]float64

// BuildTransform derives the north-up transform of a raster window
// from its geographic bounds and pixel dimensions. Pixel sizes are
// rounded to precision decimals.
func BuildTransform(bounds Bounds, width, height int, precision int) (AffineTransform, error) {
	if width <= 0 || height <= 0 {
		return AffineTransform{}, ErrEmptyWindow
	}

	pixelSizeX := utils.Round((bounds.MaxX()-bounds.MinX())/float64(width), precision)
	pixelSizeY := utils.Round((bounds.MaxY()-bounds.MinY())/float64(height), precision)

	return AffineTransform{bounds.MinX(), pixelSizeX, 0, bounds.MaxY(), 0, -pixelSizeY}, nil
}

// Apply maps a pixel column/row to geographic x/y.
func (t AffineTransform) Apply(col, row float64) (float64, float64) {
	return t[0] + col*t[1] + row*t[2], t[3] + col*t[4] + row*t[5]
}
