package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/localflow"
	"github.com/menta2k/localflow/internal/config"
	"github.com/menta2k/localflow/internal/utils"
	"github.com/menta2k/localflow/pkg/export"
	"github.com/menta2k/localflow/pkg/labeling"
	"github.com/menta2k/localflow/pkg/types"
)

const usage = `usage: localflow [-config path] <command> [flags]

commands:
  status   probe Ollama and LM Studio
  models   list the models of the selected provider
  label    label images and export a YOLO dataset
  config   write the default config file
`

func main() {
	configPath := flag.String("config", config.GetConfigPath(), "config file path")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	if cmd == "config" {
		if err := runConfig(*configPath, args); err != nil {
			logrus.Fatal(err)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatal(err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		logrus.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("invalid config: %v", err)
	}

	logger := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "status":
		err = runStatus(ctx, cfg, logger)
	case "models":
		err = runModels(ctx, cfg, logger, args)
	case "label":
		err = runLabel(ctx, cfg, logger, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal(err)
	}
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

func newFlow(cfg *config.Config, logger *logrus.Logger, provider string, policy labeling.FailurePolicy) (*localflow.LocalFlow, error) {
	if provider == "" {
		provider = cfg.Providers.Provider
	}
	return localflow.New(localflow.Options{
		OllamaURL:      cfg.Providers.OllamaURL,
		LMStudioURL:    cfg.Providers.LMStudioURL,
		Provider:       provider,
		ProbeTimeout:   cfg.Providers.ProbeTimeout.Std(),
		RequestTimeout: cfg.Inference.RequestTimeout.Std(),
		SystemPrompt:   cfg.Inference.SystemPrompt,
		MaxImageSide:   cfg.Inference.MaxImageSide,
		TempDir:        cfg.Export.TempDir,
		Policy:         policy,
		Logger:         logger,
	})
}

func runConfig(path string, args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	force := fs.Bool("force", false, "overwrite an existing file")
	fs.Parse(args)

	if utils.FileExists(path) && !*force {
		return fmt.Errorf("%s already exists (use -force to overwrite)", path)
	}
	if err := config.Default().SaveToFile(path); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

func runStatus(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	lf, err := newFlow(cfg, logger, "", labeling.ContinueOnError)
	if err != nil {
		return err
	}

	backend, status, selErr := lf.SelectBackend(ctx)
	line := func(b types.Backend, url string) {
		state := "down"
		if status.Reachable(b) {
			state = "ok"
		}
		fmt.Printf("%-10s %-28s %s\n", b.DisplayName(), url, state)
	}
	line(types.BackendOllama, cfg.Providers.OllamaURL)
	line(types.BackendLMStudio, cfg.Providers.LMStudioURL)

	if selErr != nil {
		return selErr
	}
	fmt.Printf("selected: %s\n", backend.DisplayName())
	return nil
}

func runModels(ctx context.Context, cfg *config.Config, logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("models", flag.ExitOnError)
	provider := fs.String("provider", "", "ollama|lmstudio|mock (default: selected provider)")
	fs.Parse(args)

	lf, err := newFlow(cfg, logger, *provider, labeling.ContinueOnError)
	if err != nil {
		return err
	}
	backend, _, err := lf.SelectBackend(ctx)
	if err != nil {
		return err
	}

	models, err := lf.ListModels(ctx, backend)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		logger.Warnf("%s has no models installed", backend.DisplayName())
	}
	for _, m := range models {
		fmt.Println(m)
	}
	return nil
}

func runLabel(ctx context.Context, cfg *config.Config, logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("label", flag.ExitOnError)
	provider := fs.String("provider", "", "ollama|lmstudio|mock (default: auto)")
	model := fs.String("model", cfg.Inference.Model, "model name (default: first model listed)")
	prompt := fs.String("prompt", cfg.Inference.Prompt, "detection prompt")
	outDir := fs.String("out", "out", "output directory")
	ratio := fs.Float64("ratio", cfg.Export.TrainRatio, "train split ratio (0,1)")
	seed := fs.Int64("seed", cfg.Export.Seed, "split seed")
	preview := fs.Bool("preview", false, "write annotated preview images")
	abort := fs.Bool("abort", !cfg.Inference.ContinueOnFail, "stop at the first failed image")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("usage: localflow label [flags] <image|dir>...")
	}

	files, err := utils.ListImageFiles(fs.Args()...)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no images found in %s", strings.Join(fs.Args(), ", "))
	}
	if err := utils.EnsureDir(*outDir); err != nil {
		return err
	}

	policy := labeling.ContinueOnError
	if *abort {
		policy = labeling.AbortOnError
	}
	lf, err := newFlow(cfg, logger, *provider, policy)
	if err != nil {
		return err
	}

	backend, _, err := lf.SelectBackend(ctx)
	if err != nil {
		return err
	}
	if *model == "" {
		models, err := lf.ListModels(ctx, backend)
		if err != nil {
			return err
		}
		if len(models) == 0 {
			return fmt.Errorf("%s has no models; pass -model", backend.DisplayName())
		}
		*model = models[0]
	}
	logger.WithFields(logrus.Fields{
		"provider": backend,
		"model":    *model,
		"images":   len(files),
	}).Info("labeling")

	ws := lf.Workspace()
	if _, err := ws.AddFiles(files...); err != nil {
		return err
	}

	report, err := ws.LabelBatch(ctx, labeling.Request{Backend: backend, Model: *model, Prompt: *prompt}, func(p labeling.Progress) {
		entry := logger.WithField("progress", fmt.Sprintf("%d/%d", p.Done, p.Total))
		if p.Err != nil {
			entry.WithError(p.Err).Warn("image failed")
			return
		}
		entry.Debug("image done")
	})
	if err != nil {
		return err
	}
	for _, f := range report.Failed {
		logger.WithField("image", f.ImageID).WithError(f.Err).Error("not labeled")
	}

	images := ws.Images()
	if *preview {
		for _, img := range images {
			if len(img.Annotations) == 0 {
				continue
			}
			out := utils.GenerateOutputFilename(img.Path, *outDir, "", cfg.Preview.Suffix, cfg.Preview.Format)
			if err := lf.SavePreview(img, out, cfg.Preview.Format, cfg.Preview.Quality); err != nil {
				logger.WithError(err).Warnf("preview %s failed", img.Name)
				continue
			}
			logger.Debugf("wrote %s", out)
		}
	}

	js, _ := json.MarshalIndent(images, "", "  ")
	if err := os.WriteFile(filepath.Join(*outDir, "annotations.json"), js, 0o644); err != nil {
		return err
	}

	archive, err := lf.Export(export.Options{TrainRatio: *ratio, Seed: *seed})
	if err != nil {
		return err
	}
	dst := filepath.Join(*outDir, filepath.Base(archive))
	if err := utils.CopyFile(archive, dst); err != nil {
		return err
	}
	os.RemoveAll(filepath.Dir(archive))

	size := int64(0)
	if info, err := os.Stat(dst); err == nil {
		size = info.Size()
	}
	fmt.Printf("labeled %d/%d images (%d empty, %d failed), classes %v\n",
		report.Labeled, report.Total, report.Empty, len(report.Failed), ws.Classes())
	fmt.Printf("wrote %s (%s)\n", dst, utils.FormatFileSize(size))
	return nil
}
