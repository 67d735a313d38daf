package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Brownie44l1/anime-style-api/internal/config"
	"github.com/Brownie44l1/anime-style-api/internal/imageio"
	"github.com/Brownie44l1/anime-style-api/internal/model"
	"github.com/Brownie44l1/anime-style-api/internal/pipeline"
)

func main() {
	var in, out, modelName, mode, configPath string
	var quality int

	flag.StringVar(&in, "in", "", "input image path (jpg/png/webp/bmp/tiff)")
	flag.StringVar(&out, "out", "", "output path; format from extension png|jpg|webp (default <in>_<model>.png)")
	flag.StringVar(&modelName, "model", "hayao", "style model: "+strings.Join(model.Names(), "|"))
	flag.StringVar(&mode, "mode", "stretch", "resize mode: stretch|x32|keep")
	flag.StringVar(&configPath, "config", "configs/config.yaml", "path to the YAML config file")
	flag.IntVar(&quality, "quality", 95, "JPEG/WebP output quality (1-100)")
	flag.Parse()

	if in == "" {
		log.Fatalf("usage: %s -in photo.jpg [-out out.png] [-model hayao] [-mode stretch|x32|keep]", filepath.Base(os.Args[0]))
	}
	if out == "" {
		out = strings.TrimSuffix(in, filepath.Ext(in)) + "_" + modelName + ".png"
	}

	if err := run(in, out, modelName, mode, configPath, quality); err != nil {
		log.Fatal(err)
	}
}

func run(in, out, modelName, mode, configPath string, quality int) error {
	resizeMode, err := pipeline.ParseResizeMode(mode)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := model.InitRuntime(cfg.Engine.SharedLibraryPath); err != nil {
		return err
	}
	defer model.DestroyRuntime()

	pipe, err := pipeline.New(pipeline.Options{Interpolation: cfg.Pipeline.Interpolation})
	if err != nil {
		return err
	}

	provisioner := model.NewProvisioner(cfg.Models.RemoteBaseURL, cfg.Models.CacheDir, cfg.Models.DownloadTimeout)
	loader := model.NewLoader(provisioner, model.OpenONNX(model.EngineOptions{
		Provider:       cfg.Engine.Provider,
		IntraOpThreads: cfg.Engine.IntraOpThreads,
	}), 0)

	img, err := imageio.LoadFile(in)
	if err != nil {
		return err
	}

	ctx := context.Background()
	eng, release, err := loader.Load(ctx, modelName)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	result, err := pipe.PredictMode(ctx, eng, img, resizeMode)
	if err != nil {
		return err
	}
	log.Printf("Stylized %s with %s (%s) in %s", in, modelName, resizeMode, time.Since(start).Round(time.Millisecond))

	if err := imageio.SaveFile(result, out, quality); err != nil {
		return err
	}
	log.Printf("wrote %s", out)
	return nil
}
