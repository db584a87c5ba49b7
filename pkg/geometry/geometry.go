// Package geometry converts bounding boxes between the vision model's fixed
// 0-1000 axis, pixel space, and the normalized center form used by YOLO
// label files. All functions are pure and do no rounding.
package geometry

import "github.com/menta2k/localflow/pkg/types"

// ModelScale is the length of the axis vision models report coordinates on,
// independent of the real image size.
const ModelScale = 1000.0

// FromCorners builds a corner+size box from x1, y1, x2, y2. Sizes are not
// clamped, so x2 < x1 yields a negative width.
func FromCorners(x1, y1, x2, y2 float64) types.BoundingBox {
	return types.BoundingBox{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// ScaleToPixels converts a model-scale box into pixels of a width x height image
func ScaleToPixels(b types.BoundingBox, width, height int) types.BoundingBox {
	fw, fh := float64(width), float64(height)
	return types.BoundingBox{
		X: b.X / ModelScale * fw,
		Y: b.Y / ModelScale * fh,
		W: b.W / ModelScale * fw,
		H: b.H / ModelScale * fh,
	}
}

// ScaleAnnotations applies ScaleToPixels to every annotation and returns a new slice
func ScaleAnnotations(anns []types.Annotation, width, height int) []types.Annotation {
	out := make([]types.Annotation, len(anns))
	for i, a := range anns {
		a.BBox = ScaleToPixels(a.BBox, width, height)
		out[i] = a
	}
	return out
}

// NormalizeForExport converts a pixel top-left box into a YOLO center box
// with coordinates relative to the image size. A zero or negative image
// dimension returns the zero box.
func NormalizeForExport(b types.BoundingBox, width, height int) types.BoundingBox {
	if width <= 0 || height <= 0 {
		return types.BoundingBox{}
	}
	fw, fh := float64(width), float64(height)
	return types.BoundingBox{
		X: (b.X + b.W/2) / fw,
		Y: (b.Y + b.H/2) / fh,
		W: b.W / fw,
		H: b.H / fh,
	}
}
