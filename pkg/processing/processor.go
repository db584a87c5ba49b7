package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/localflow/pkg/types"
)

// Config controls how images are prepared for the model
type Config struct {
	// MaxSide downsizes the payload so its long side is at most this many
	// pixels. 0 sends the original bytes.
	MaxSide int
	// Format of a downsized payload: jpg or png
	Format  string
	Quality int
}

// Processor handles image inspection, model payloads and overlays
type Processor struct {
	config Config
}

// ImageInfo is what ingestion needs to know about an image file
type ImageInfo struct {
	Width  int
	Height int
	Format string
	MIME   string
}

// Payload is an image ready to embed in a provider request. Width and Height
// are those of the original file even when the payload was downsized, since
// model coordinates are relative.
type Payload struct {
	Base64 string
	MIME   string
	Width  int
	Height int
}

// NewProcessor creates a processor that sends original bytes
func NewProcessor() *Processor {
	return &Processor{config: Config{Format: "jpg", Quality: 90}}
}

// NewProcessorWithConfig creates a processor with custom payload settings
func NewProcessorWithConfig(config Config) *Processor {
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = 90
	}
	if config.Format == "" {
		config.Format = "jpg"
	}
	return &Processor{config: config}
}

// Inspect reads an image file's dimensions and MIME type without decoding pixels
func (p *Processor) Inspect(path string) (ImageInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("failed to read image: %w", err)
	}
	return inspectBytes(data)
}

func inspectBytes(data []byte) (ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		// chai2010 handles extended WebP variants the x/image decoder rejects
		wcfg, werr := webp.DecodeConfig(bytes.NewReader(data))
		if werr != nil {
			return ImageInfo{}, fmt.Errorf("failed to decode image header: %w", err)
		}
		cfg, format = wcfg, "webp"
	}

	return ImageInfo{
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: format,
		MIME:   detectMIME(data),
	}, nil
}

func detectMIME(data []byte) string {
	mt := mimetype.Detect(data).String()
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = mt[:i]
	}
	if !strings.HasPrefix(mt, "image/") {
		return "image/jpeg"
	}
	return mt
}

// PrepareImageFile reads an image file and encodes it for a provider request
func (p *Processor) PrepareImageFile(path string) (Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to read image: %w", err)
	}

	info, err := inspectBytes(data)
	if err != nil {
		return Payload{}, err
	}

	payload := Payload{
		Base64: base64.StdEncoding.EncodeToString(data),
		MIME:   info.MIME,
		Width:  info.Width,
		Height: info.Height,
	}

	maxDim := p.config.MaxSide
	if maxDim <= 0 || (info.Width <= maxDim && info.Height <= maxDim) {
		return payload, nil
	}

	img, err := decodeImageFromBytes(data)
	if err != nil {
		return Payload{}, err
	}
	encoded, mime, err := p.encodeForModel(img, maxDim)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to encode resized image: %w", err)
	}
	payload.Base64 = encoded
	payload.MIME = mime
	return payload, nil
}

// encodeForModel shrinks img so its long side is maxDim and encodes it
func (p *Processor) encodeForModel(img image.Image, maxDim int) (string, string, error) {
	b := img.Bounds()
	if b.Dx() >= b.Dy() {
		img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
	} else {
		img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	switch strings.ToLower(p.config.Format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", "", err
		}
		return base64.StdEncoding.EncodeToString(buf.Bytes()), "image/png", nil
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.config.Quality}); err != nil {
			return "", "", err
		}
		return base64.StdEncoding.EncodeToString(buf.Bytes()), "image/jpeg", nil
	}
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeImageFromBytes(data)
}

// decodeImageFromBytes decodes an image from byte data with WebP support
func decodeImageFromBytes(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// DrawAnnotations returns a copy of img with every pixel-space annotation
// outlined. Each label gets a stable color.
func (p *Processor) DrawAnnotations(img image.Image, anns []types.Annotation) image.Image {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()
	stroke := int(math.Max(2, 0.004*float64(minInt(w, h)))) // ~0.4% of min side

	for _, a := range anns {
		drawBox(nrgba, a.BBox, labelColor(a.Label), stroke)
	}
	return nrgba
}

var palette = []color.NRGBA{
	{0, 255, 0, 255},
	{255, 204, 0, 255},
	{255, 0, 0, 255},
	{0, 170, 255, 255},
	{255, 0, 255, 255},
	{0, 255, 255, 255},
}

func labelColor(label string) color.NRGBA {
	h := fnv.New32a()
	h.Write([]byte(label))
	return palette[h.Sum32()%uint32(len(palette))]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// boxToPixels converts a pixel-space box to integer corners. Negative sizes
// are flipped so the outline still covers the reported corners.
func boxToPixels(box types.BoundingBox) (int, int, int, int) {
	x1, y1, x2, y2 := box.Corners()
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	x0 := int(x1 + 0.5)
	y0 := int(y1 + 0.5)
	xe := int(x2 + 0.5)
	ye := int(y2 + 0.5)
	if xe <= x0 {
		xe = x0 + 1
	}
	if ye <= y0 {
		ye = y0 + 1
	}
	return x0, y0, xe, ye
}

func drawBox(img *image.NRGBA, box types.BoundingBox, c color.NRGBA, stroke int) {
	x0, y0, x1, y1 := boxToPixels(box)
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
