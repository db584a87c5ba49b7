package processing

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/menta2k/localflow/pkg/types"
)

// createTestImage creates a simple gradient test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r := uint8((x * 255) / width)
			g := uint8((y * 255) / height)
			img.Set(x, y, color.RGBA{r, g, 128, 255})
		}
	}
	return img
}

func writePNG(t *testing.T, dir, name string, width, height int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, createTestImage(width, height)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return path
}

func TestInspect(t *testing.T) {
	p := NewProcessor()
	path := writePNG(t, t.TempDir(), "frame.png", 320, 200)

	info, err := p.Inspect(path)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if info.Width != 320 || info.Height != 200 {
		t.Errorf("expected 320x200, got %dx%d", info.Width, info.Height)
	}
	if info.Format != "png" {
		t.Errorf("expected png format, got %s", info.Format)
	}
	if info.MIME != "image/png" {
		t.Errorf("expected image/png, got %s", info.MIME)
	}
}

func TestInspectErrors(t *testing.T) {
	p := NewProcessor()
	dir := t.TempDir()

	if _, err := p.Inspect(filepath.Join(dir, "missing.png")); err == nil {
		t.Error("expected error for missing file")
	}

	junk := filepath.Join(dir, "junk.jpg")
	os.WriteFile(junk, []byte("definitely not an image"), 0o644)
	if _, err := p.Inspect(junk); err == nil {
		t.Error("expected error for non-image file")
	}
}

func TestPrepareImageFileOriginalBytes(t *testing.T) {
	p := NewProcessor()
	path := writePNG(t, t.TempDir(), "a.png", 64, 48)
	raw, _ := os.ReadFile(path)

	payload, err := p.PrepareImageFile(path)
	if err != nil {
		t.Fatalf("PrepareImageFile failed: %v", err)
	}
	if payload.Base64 != base64.StdEncoding.EncodeToString(raw) {
		t.Error("expected the original bytes to be sent unchanged")
	}
	if payload.Width != 64 || payload.Height != 48 || payload.MIME != "image/png" {
		t.Errorf("unexpected payload metadata %+v", payload)
	}
}

func TestPrepareImageFileDownsizes(t *testing.T) {
	p := NewProcessorWithConfig(Config{MaxSide: 100, Format: "jpg", Quality: 80})
	path := writePNG(t, t.TempDir(), "big.png", 400, 200)

	payload, err := p.PrepareImageFile(path)
	if err != nil {
		t.Fatalf("PrepareImageFile failed: %v", err)
	}

	// dimensions stay those of the file so model coordinates map back correctly
	if payload.Width != 400 || payload.Height != 200 {
		t.Errorf("expected original dimensions, got %dx%d", payload.Width, payload.Height)
	}
	if payload.MIME != "image/jpeg" {
		t.Errorf("expected image/jpeg payload, got %s", payload.MIME)
	}

	data, err := base64.StdEncoding.DecodeString(payload.Base64)
	if err != nil {
		t.Fatalf("payload is not base64: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("payload is not jpeg: %v", err)
	}
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 50 {
		t.Errorf("expected 100x50 payload, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestNewProcessorWithConfigDefaults(t *testing.T) {
	p := NewProcessorWithConfig(Config{MaxSide: 10, Quality: 500})
	if p.config.Quality != 90 || p.config.Format != "jpg" {
		t.Errorf("expected sane defaults, got %+v", p.config)
	}
}

func TestDrawAnnotations(t *testing.T) {
	p := NewProcessor()
	img := image.NewNRGBA(image.Rect(0, 0, 100, 100))

	out := p.DrawAnnotations(img, []types.Annotation{
		{Label: "person", BBox: types.BoundingBox{X: 10, Y: 10, W: 50, H: 40}},
	})

	want := labelColor("person")
	got := color.NRGBAModel.Convert(out.At(10, 30)).(color.NRGBA)
	if got != want {
		t.Errorf("left edge pixel = %v, want %v", got, want)
	}
	inside := color.NRGBAModel.Convert(out.At(35, 30)).(color.NRGBA)
	if inside == want {
		t.Error("box interior should not be filled")
	}
	if img.NRGBAAt(10, 30) == want {
		t.Error("source image must not be modified")
	}
}

func TestBoxToPixelsFlipsNegativeSize(t *testing.T) {
	x0, y0, x1, y1 := boxToPixels(types.BoundingBox{X: 50, Y: 50, W: -20, H: -10})
	if x0 != 30 || y0 != 40 || x1 != 50 || y1 != 50 {
		t.Errorf("unexpected corners %d,%d %d,%d", x0, y0, x1, y1)
	}
}

func TestSaveAndLoadImage(t *testing.T) {
	p := NewProcessor()
	path := filepath.Join(t.TempDir(), "overlay.png")

	if err := p.SaveImage(createTestImage(30, 20), path, "png", 90, false); err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}

	img, err := p.LoadImage(path)
	if err != nil {
		t.Fatalf("LoadImage failed: %v", err)
	}
	if img.Bounds().Dx() != 30 || img.Bounds().Dy() != 20 {
		t.Errorf("unexpected size %v", img.Bounds())
	}
}

func BenchmarkDrawAnnotations(b *testing.B) {
	p := NewProcessor()
	img := createTestImage(640, 480)
	anns := []types.Annotation{
		{Label: "a", BBox: types.BoundingBox{X: 10, Y: 10, W: 200, H: 100}},
		{Label: "b", BBox: types.BoundingBox{X: 300, Y: 200, W: 100, H: 200}},
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.DrawAnnotations(img, anns)
	}
}
