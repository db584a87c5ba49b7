// Package export writes labeled images as a YOLO object-detection dataset
// and packs it into a zip archive.
package export

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/menta2k/localflow/internal/utils"
	"github.com/menta2k/localflow/pkg/geometry"
	"github.com/menta2k/localflow/pkg/types"
)

// Dataset layout, relative to the dataset root
const (
	DatasetDirName = "localflow_yolo_dataset"
	ManifestName   = "data.yaml"
	TrainImagesDir = "images/train"
	ValidImagesDir = "images/valid"
	TrainLabelsDir = "labels/train"
	ValidLabelsDir = "labels/valid"
)

// Defaults used by the CLI and the workspace
const (
	DefaultTrainRatio = 0.8
	DefaultSeed       = 42
)

// Options controls the train/valid split
type Options struct {
	TrainRatio float64
	Seed       int64
}

// Manifest is the data.yaml document. Field order is the key order on disk.
type Manifest struct {
	Path  string   `yaml:"path"`
	Train string   `yaml:"train"`
	Val   string   `yaml:"val"`
	NC    int      `yaml:"nc"`
	Names []string `yaml:"names"`
}

// Exporter builds dataset archives. Each export gets its own temporary root.
type Exporter struct {
	tempDir string
	logger  logrus.FieldLogger
}

// NewExporter creates an exporter whose temporary roots live under tempDir
// (the system temp directory when empty).
func NewExporter(tempDir string, logger logrus.FieldLogger) *Exporter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Exporter{tempDir: tempDir, logger: logger}
}

// DeriveClasses returns the sorted set of labels used by exportable images
func DeriveClasses(images []types.ImageRecord) []string {
	set := map[string]struct{}{}
	for _, img := range images {
		if !img.Status.Exportable() {
			continue
		}
		for _, a := range img.Annotations {
			set[a.Label] = struct{}{}
		}
	}

	classes := make([]string, 0, len(set))
	for label := range set {
		classes = append(classes, label)
	}
	sort.Strings(classes)
	return classes
}

// Split shuffles images with a generator seeded by seed and returns the train
// prefix and the valid remainder. The train part gets max(1, floor(n*ratio))
// images when n > 0. The input slice is not reordered.
func Split(images []types.ImageRecord, ratio float64, seed int64) ([]types.ImageRecord, []types.ImageRecord) {
	if len(images) == 0 {
		return nil, nil
	}

	shuffled := append([]types.ImageRecord(nil), images...)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	if math.IsNaN(ratio) {
		ratio = 0
	}
	splitAt := int(float64(len(shuffled)) * ratio)
	if splitAt < 1 {
		splitAt = 1
	}
	if splitAt > len(shuffled) {
		splitAt = len(shuffled)
	}
	return shuffled[:splitAt], shuffled[splitAt:]
}

// LabelLine formats one YOLO label line
func LabelLine(classID int, b types.BoundingBox) string {
	return fmt.Sprintf("%d %.6f %.6f %.6f %.6f", classID, b.X, b.Y, b.W, b.H)
}

// LabelLines returns the label lines for img. Annotations whose label is not
// in classes are dropped.
func LabelLines(img types.ImageRecord, classes []string) []string {
	ids := make(map[string]int, len(classes))
	for i, c := range classes {
		if _, dup := ids[c]; !dup {
			ids[c] = i
		}
	}

	lines := make([]string, 0, len(img.Annotations))
	for _, a := range img.Annotations {
		id, ok := ids[a.Label]
		if !ok {
			continue
		}
		lines = append(lines, LabelLine(id, geometry.NormalizeForExport(a.BBox, img.Width, img.Height)))
	}
	return lines
}

// Export writes the exportable images to a fresh dataset tree and returns the
// path of the zip archive. classes fixes the integer class ids. Either a
// complete archive is returned or an error; partial output is removed.
func (e *Exporter) Export(images []types.ImageRecord, classes []string, opts Options) (string, error) {
	if !(opts.TrainRatio > 0 && opts.TrainRatio < 1) {
		return "", fmt.Errorf("train ratio must be in (0,1), got %v", opts.TrainRatio)
	}

	exportable := make([]types.ImageRecord, 0, len(images))
	for _, img := range images {
		if img.Status.Exportable() {
			exportable = append(exportable, img)
		}
	}

	tempRoot, err := os.MkdirTemp(e.tempDir, "localflow_yolo_")
	if err != nil {
		return "", &ExportError{Op: "create", Path: e.tempDir, Err: err}
	}

	archive, err := e.build(tempRoot, exportable, classes, opts)
	if err != nil {
		os.RemoveAll(tempRoot)
		return "", err
	}
	return archive, nil
}

func (e *Exporter) build(tempRoot string, images []types.ImageRecord, classes []string, opts Options) (string, error) {
	root, err := filepath.Abs(filepath.Join(tempRoot, DatasetDirName))
	if err != nil {
		return "", &ExportError{Op: "resolve", Path: tempRoot, Err: err}
	}

	for _, dir := range []string{TrainImagesDir, ValidImagesDir, TrainLabelsDir, ValidLabelsDir} {
		p := filepath.Join(root, filepath.FromSlash(dir))
		if err := utils.EnsureDir(p); err != nil {
			return "", &ExportError{Op: "create", Path: p, Err: err}
		}
	}

	if err := writeManifest(root, classes); err != nil {
		return "", err
	}

	train, valid := Split(images, opts.TrainRatio, opts.Seed)
	subsets := []struct {
		images    []types.ImageRecord
		imageDir  string
		labelsDir string
	}{
		{train, TrainImagesDir, TrainLabelsDir},
		{valid, ValidImagesDir, ValidLabelsDir},
	}
	for _, s := range subsets {
		for _, img := range s.images {
			if err := writeImage(root, s.imageDir, s.labelsDir, img, classes); err != nil {
				return "", err
			}
		}
	}

	archive := root + ".zip"
	if err := zipDir(root, archive); err != nil {
		return "", &ExportError{Op: "archive", Path: archive, Err: err}
	}

	e.logger.WithFields(logrus.Fields{
		"train":   len(train),
		"valid":   len(valid),
		"classes": len(classes),
		"archive": archive,
	}).Info("dataset exported")
	return archive, nil
}

func writeManifest(root string, classes []string) error {
	names := classes
	if names == nil {
		names = []string{}
	}
	data, err := yaml.Marshal(Manifest{
		Path:  root,
		Train: TrainImagesDir,
		Val:   ValidImagesDir,
		NC:    len(classes),
		Names: names,
	})
	if err != nil {
		return &ExportError{Op: "encode", Path: ManifestName, Err: err}
	}

	p := filepath.Join(root, ManifestName)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return &ExportError{Op: "write", Path: p, Err: err}
	}
	return nil
}

// fileName is the name the image is stored under in the dataset
func fileName(img types.ImageRecord) string {
	if img.Name != "" {
		return filepath.Base(img.Name)
	}
	return filepath.Base(img.Path)
}

func writeImage(root, imageDir, labelsDir string, img types.ImageRecord, classes []string) error {
	name := fileName(img)

	dst := filepath.Join(root, filepath.FromSlash(imageDir), name)
	if err := utils.CopyFile(img.Path, dst); err != nil {
		return &ExportError{Op: "copy", Path: img.Path, Err: err}
	}

	labelPath := filepath.Join(root, filepath.FromSlash(labelsDir), utils.Stem(name)+".txt")
	content := strings.Join(LabelLines(img, classes), "\n")
	if err := os.WriteFile(labelPath, []byte(content), 0o644); err != nil {
		return &ExportError{Op: "write", Path: labelPath, Err: err}
	}
	return nil
}

// zipDir packs every file under root into dst with slash-separated names
// relative to root
func zipDir(root, dst string) (err error) {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(out)
	walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			header.Name += "/"
			_, err = zw.CreateHeader(header)
			return err
		}
		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})

	return errors.Join(walkErr, zw.Close())
}
