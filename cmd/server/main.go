package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/anime-style-api/internal/config"
	"github.com/Brownie44l1/anime-style-api/internal/handlers"
	"github.com/Brownie44l1/anime-style-api/internal/model"
	"github.com/Brownie44l1/anime-style-api/internal/pipeline"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := model.InitRuntime(cfg.Engine.SharedLibraryPath); err != nil {
		log.Fatalf("Failed to initialize inference runtime: %v", err)
	}
	defer model.DestroyRuntime()

	pipe, err := pipeline.New(pipeline.Options{Interpolation: cfg.Pipeline.Interpolation})
	if err != nil {
		log.Fatalf("Failed to configure pipeline: %v", err)
	}

	provisioner := model.NewProvisioner(cfg.Models.RemoteBaseURL, cfg.Models.CacheDir, cfg.Models.DownloadTimeout)
	loader := model.NewLoader(provisioner, model.OpenONNX(model.EngineOptions{
		Provider:       cfg.Engine.Provider,
		IntraOpThreads: cfg.Engine.IntraOpThreads,
	}), cfg.Engine.CacheSize)
	defer loader.Close()

	handler := handlers.NewHandler(pipe, loader)
	router := handlers.NewRouter(handler, handlers.RouterOptions{MaxUploadBytes: cfg.Server.MaxUploadBytes})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("Models: %v", model.Names())
	log.Printf("Model cache: %s (remote %s)", provisioner.Dir(), cfg.Models.RemoteBaseURL)
	log.Printf("Engine: provider=%s cache_size=%d", cfg.Engine.Provider, cfg.Engine.CacheSize)
	log.Println("Endpoints:")
	log.Println("  POST /predict/ - Stylize an uploaded image (fields: file, model_name)")
	log.Printf("Upload test: curl -X POST -F \"file=@photo.jpg\" -F \"model_name=hayao\" http://localhost:%d/predict/ -o out.png", cfg.Server.Port)

	go func() {
		log.Printf("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	stats := loader.Stats()
	log.Printf("Engine cache: hits=%d misses=%d loads=%d evictions=%d", stats.Hits, stats.Misses, stats.Loads, stats.Evictions)
	log.Println("Server stopped")
}
