package geometry

import (
	"math"
	"testing"

	"github.com/menta2k/localflow/pkg/types"
)

const eps = 1e-9

func boxesEqual(a, b types.BoundingBox) bool {
	return math.Abs(a.X-b.X) < eps && math.Abs(a.Y-b.Y) < eps &&
		math.Abs(a.W-b.W) < eps && math.Abs(a.H-b.H) < eps
}

func TestFromCorners(t *testing.T) {
	got := FromCorners(100, 100, 300, 400)
	want := types.BoundingBox{X: 100, Y: 100, W: 200, H: 300}
	if got != want {
		t.Errorf("FromCorners = %+v, want %+v", got, want)
	}

	inverted := FromCorners(300, 100, 100, 50)
	if inverted.W != -200 || inverted.H != -50 {
		t.Errorf("inverted corners should pass through as negative size, got %+v", inverted)
	}
}

func TestScaleToPixels(t *testing.T) {
	tests := []struct {
		name          string
		in            types.BoundingBox
		width, height int
		want          types.BoundingBox
	}{
		{
			name:  "non-square image",
			in:    types.BoundingBox{X: 500, Y: 500, W: 100, H: 100},
			width: 1000, height: 2000,
			want: types.BoundingBox{X: 500, Y: 1000, W: 100, H: 200},
		},
		{
			name:  "full frame",
			in:    types.BoundingBox{X: 0, Y: 0, W: 1000, H: 1000},
			width: 640, height: 480,
			want: types.BoundingBox{X: 0, Y: 0, W: 640, H: 480},
		},
		{
			name:  "zero dimensions",
			in:    types.BoundingBox{X: 10, Y: 10, W: 10, H: 10},
			width: 0, height: 0,
			want: types.BoundingBox{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScaleToPixels(tt.in, tt.width, tt.height)
			if !boxesEqual(got, tt.want) {
				t.Errorf("ScaleToPixels = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestScaleAnnotationsLeavesInputUntouched(t *testing.T) {
	in := []types.Annotation{
		{Label: "person", Confidence: 0.9, BBox: types.BoundingBox{X: 125, Y: 500, W: 250, H: 100}},
	}

	out := ScaleAnnotations(in, 800, 600)

	if in[0].BBox.X != 125 {
		t.Error("input annotation was modified")
	}
	want := types.BoundingBox{X: 100, Y: 300, W: 200, H: 60}
	if !boxesEqual(out[0].BBox, want) {
		t.Errorf("scaled box = %+v, want %+v", out[0].BBox, want)
	}
	if out[0].Label != "person" || out[0].Confidence != 0.9 {
		t.Errorf("label/confidence not preserved: %+v", out[0])
	}
}

func TestNormalizeForExport(t *testing.T) {
	got := NormalizeForExport(types.BoundingBox{X: 10, Y: 20, W: 100, H: 50}, 200, 100)
	want := types.BoundingBox{X: 0.3, Y: 0.45, W: 0.5, H: 0.5}
	if !boxesEqual(got, want) {
		t.Errorf("NormalizeForExport = %+v, want %+v", got, want)
	}
}

func TestNormalizeForExportZeroDimensions(t *testing.T) {
	b := types.BoundingBox{X: 10, Y: 20, W: 100, H: 50}

	for _, dims := range [][2]int{{0, 100}, {200, 0}, {0, 0}, {-1, 100}} {
		got := NormalizeForExport(b, dims[0], dims[1])
		if got != (types.BoundingBox{}) {
			t.Errorf("NormalizeForExport with %dx%d = %+v, want zero box", dims[0], dims[1], got)
		}
	}
}

func TestRoundTripModelScaleToYOLO(t *testing.T) {
	// 800x600 image, model box that lands on {100,100,200,100} in pixels
	model := FromCorners(125, 1000.0/6, 375, 1000.0/3)
	pixels := ScaleToPixels(model, 800, 600)
	if !boxesEqual(pixels, types.BoundingBox{X: 100, Y: 100, W: 200, H: 100}) {
		t.Fatalf("pixel box = %+v", pixels)
	}

	yolo := NormalizeForExport(pixels, 800, 600)
	want := types.BoundingBox{X: 0.25, Y: 0.25, W: 0.25, H: 100.0 / 600}
	if !boxesEqual(yolo, want) {
		t.Errorf("yolo box = %+v, want %+v", yolo, want)
	}
}

func BenchmarkNormalizeForExport(b *testing.B) {
	box := types.BoundingBox{X: 10, Y: 20, W: 100, H: 50}
	for i := 0; i < b.N; i++ {
		NormalizeForExport(box, 1920, 1080)
	}
}
