// Package main is the entry point for the gridviewd server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridviewd/server/internal/api"
	"github.com/gridviewd/server/internal/cache"
	"github.com/gridviewd/server/internal/config"
	"github.com/gridviewd/server/internal/data/remote"
	"github.com/gridviewd/server/internal/data/tiledb"
	"github.com/gridviewd/server/internal/grid"
	"github.com/gridviewd/server/internal/render"
	"github.com/gridviewd/server/internal/service"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting gridviewd server on port %d", cfg.Server.Port)

	ctx := context.Background()

	// Initialize cache manager (shared across all datasets)
	cacheManager, err := cache.NewManager(cache.Config{
		WindowCacheSizeMB: cfg.Cache.WindowSizeMB,
		WindowTTL:         time.Duration(cfg.Cache.WindowTTLMinutes) * time.Minute,
		PreviewCacheSize:  cfg.Cache.PreviewCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	// Initialize preview renderer (shared across all datasets)
	heatmapRenderer := render.NewHeatmapRenderer(render.Config{
		PreviewSize:     cfg.Render.PreviewSize,
		DefaultColormap: cfg.Render.DefaultColormap,
	})

	// Remote client is shared; per-dataset sources differ only in identity.
	remoteClient, err := remote.NewClient(remote.Config{
		BaseURL: cfg.Remote.BaseURL,
		Timeout: time.Duration(cfg.Remote.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to initialize remote client: %v", err)
	}
	defer remoteClient.Close()

	// Initialize dataset registry
	datasetIDs := cfg.DatasetIDs()
	registry := api.NewDatasetRegistry(cfg.DefaultDataset, datasetIDs, cfg.Server.Title)

	log.Printf("Initializing %d dataset(s), default: %s", len(datasetIDs), cfg.DefaultDataset)

	// Initialize each dataset
	for _, datasetID := range datasetIDs {
		ds := cfg.Datasets[datasetID]

		var source grid.Source = remoteClient
		identity := grid.Identity{Path: ds.Path, URI: ds.URI}

		if ds.TileDBPath != "" {
			tdb, err := tiledb.NewSource(ds.TileDBPath)
			if err != nil {
				log.Fatalf("Failed to open TileDB array for dataset %q: %v", datasetID, err)
			}
			if !tdb.Supported() {
				log.Fatalf("Dataset %q needs tiledb_path support; rebuild with -tags tiledb", datasetID)
			}
			defer tdb.Close()
			source = tdb
			identity = grid.Identity{Path: ds.TileDBPath, URI: ds.URI}
			log.Printf("  [%s] TileDB array: %s", datasetID, ds.TileDBPath)
		} else {
			log.Printf("  [%s] Remote dataset: %s%s via %s", datasetID, ds.Path, ds.URI, cfg.Remote.BaseURL)
		}

		model, err := grid.New(grid.Config{
			Identity:          identity,
			Source:            source,
			BlockSize:         cfg.Grid.BlockSize,
			MaxResidentBlocks: cfg.Grid.MaxResidentBlocks,
		})
		if err != nil {
			log.Fatalf("Failed to create model for dataset %q: %v", datasetID, err)
		}
		defer model.Close()

		if err := model.Open(ctx); err != nil {
			log.Fatalf("Failed to open dataset %q: %v", datasetID, err)
		}
		meta := model.Meta()
		log.Printf("    Shape: %dx%d, dtype: %s", meta.Shape.Rows, meta.Shape.Cols, meta.Dtype)

		registry.Register(datasetID, service.NewGridService(service.GridServiceConfig{
			DatasetID: datasetID,
			Model:     model,
			Cache:     cacheManager,
			Renderer:  heatmapRenderer,
		}))
	}

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// Create HTTP server. WriteTimeout stays unset so event streams can
	// outlive a fixed deadline; ReadTimeout still bounds slow clients.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
