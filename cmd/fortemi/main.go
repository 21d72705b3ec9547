// Command fortemi is a knowledge base with hybrid search and graph maintenance.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Fortemi/fortemi-sub000/internal/adapters/driven/config/file"
	"github.com/Fortemi/fortemi-sub000/internal/adapters/driven/embedding/ollama"
	"github.com/Fortemi/fortemi-sub000/internal/adapters/driven/storage/memory"
	"github.com/Fortemi/fortemi-sub000/internal/adapters/driven/storage/sqlite"
	"github.com/Fortemi/fortemi-sub000/internal/adapters/driven/vector/hnsw"
	"github.com/Fortemi/fortemi-sub000/internal/adapters/driving/cli"
	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driven"
	"github.com/Fortemi/fortemi-sub000/internal/core/services"
	"github.com/Fortemi/fortemi-sub000/internal/logger"
	"github.com/Fortemi/fortemi-sub000/internal/postprocessors"
)

var version = "dev"

// Environment overrides.
const (
	envHome    = "FORTEMI_HOME"
	envStorage = "FORTEMI_STORAGE"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	home, err := homeDir()
	if err != nil {
		return err
	}

	configStore, err := file.NewConfigStore(home)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	settingsService := services.NewSettingsService(configStore)
	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		logger.Warn("Invalid settings, using defaults: %v", err)
		defaults := domain.DefaultAppSettings()
		settings = &defaults
	}

	stores, err := openStorage(filepath.Join(home, "data"))
	if err != nil {
		return err
	}
	defer stores.close()

	vectorIndex := hnsw.New(settings.VectorIndex.Dimensions,
		hnsw.WithParams(settings.VectorIndex.M, settings.VectorIndex.EfConstruction, settings.VectorIndex.EfSearch),
		hnsw.WithRecallTarget(settings.VectorIndex.RecallTarget),
		hnsw.WithExactThreshold(hnsw.DefaultExactThreshold),
	)
	defer vectorIndex.Close()
	if err := rebuildVectorIndex(ctx, stores.documents, vectorIndex); err != nil {
		return err
	}

	var embedder driven.EmbeddingService
	if settings.Embedding.IsConfigured() {
		ollamaEmbedder, err := ollama.NewEmbeddingService(ctx, ollama.Config{
			BaseURL:    settings.Embedding.BaseURL,
			Model:      settings.Embedding.Model,
			Dimensions: settings.VectorIndex.Dimensions,
		})
		if err != nil {
			logger.Warn("Embeddings disabled: %v", err)
		} else {
			defer ollamaEmbedder.Close()
			embedder = ollamaEmbedder
		}
	}

	processors, err := buildProcessors(settings.Chunking)
	if err != nil {
		return err
	}

	filterService := services.NewFilterService(stores.vocabulary)
	searchService := services.NewSearchService(
		stores.documents, stores.search, vectorIndex, embedder, filterService, *settings)
	linkService := services.NewLinkService(stores.documents, vectorIndex, stores.edges, settings.Linking)
	graphService := services.NewGraphService(
		stores.documents, stores.edges, stores.communities, stores.diagnostics, settings.Graph)
	pipelineService := services.NewPipelineService(
		stores.documents, stores.edges, stores.communities, stores.diagnostics, stores.runs, settings.Graph)
	defer pipelineService.Close()
	scheduler := services.NewMaintenanceScheduler(settings.Scheduler, stores.scheduler, pipelineService)
	documentService := services.NewDocumentService(
		stores.documents, stores.search, vectorIndex, embedder, stores.edges,
		processors, linkService, scheduler)

	cli.SetVersion(version)
	cli.SetServices(cli.Services{
		Search:      searchService,
		Documents:   documentService,
		Links:       linkService,
		Pipeline:    pipelineService,
		Graph:       graphService,
		Settings:    settingsService,
		Scheduler:   scheduler,
		WatchConfig: configStore.Watch,
		OnSettingsChange: func(s *domain.AppSettings) {
			searchService.UpdateSettings(*s)
			linkService.UpdateSettings(s.Linking)
			graphService.UpdateSettings(s.Graph)
			pipelineService.UpdateSettings(s.Graph)
		},
	})

	return cli.Execute(ctx)
}

func homeDir() (string, error) {
	if dir := os.Getenv(envHome); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".fortemi"), nil
}

// storage bundles the driven ports backed by one storage engine.
type storage struct {
	documents   driven.DocumentStore
	edges       driven.EdgeStore
	communities driven.CommunityStore
	diagnostics driven.DiagnosticsStore
	runs        driven.RunStore
	scheduler   driven.SchedulerStore
	search      driven.SearchEngine
	vocabulary  driven.Vocabulary
	close       func()
}

// openStorage opens SQLite under dataDir, or volatile in-memory stores
// when FORTEMI_STORAGE=memory.
func openStorage(dataDir string) (*storage, error) {
	if os.Getenv(envStorage) == "memory" {
		logger.Info("Using in-memory storage; nothing will be persisted")
		search := memory.NewSearchEngine()
		return &storage{
			documents:   memory.NewDocumentStore(),
			edges:       memory.NewEdgeStore(),
			communities: memory.NewCommunityStore(),
			diagnostics: memory.NewDiagnosticsStore(),
			runs:        memory.NewRunStore(),
			scheduler:   memory.NewSchedulerStore(),
			search:      search,
			vocabulary:  search,
			close:       func() {},
		}, nil
	}

	store, err := sqlite.NewStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.Debug("Opened database %s", store.Path())
	return &storage{
		documents:   store.DocumentStore(),
		edges:       store.EdgeStore(),
		communities: store.CommunityStore(),
		diagnostics: store.DiagnosticsStore(),
		runs:        store.RunStore(),
		scheduler:   store.SchedulerStore(),
		search:      store.SearchEngine(),
		vocabulary:  store.Vocabulary(),
		close: func() {
			if err := store.Close(); err != nil {
				logger.Warn("Closing database: %v", err)
			}
		},
	}, nil
}

// rebuildVectorIndex loads every stored embedding into the in-memory index.
func rebuildVectorIndex(ctx context.Context, docs driven.DocumentStore, index driven.VectorIndex) error {
	all, err := docs.ListDocuments(ctx, 0, 0)
	if err != nil {
		return fmt.Errorf("load documents for vector index: %w", err)
	}
	loaded := 0
	for i := range all {
		if !all[i].HasEmbedding() {
			continue
		}
		if err := index.Add(ctx, all[i].ID, all[i].Embedding, all[i].Tags); err != nil {
			logger.Warn("Skipping embedding of %s: %v", all[i].ID, err)
			continue
		}
		loaded++
	}
	logger.Debug("Vector index rebuilt with %d of %d documents", loaded, len(all))
	return nil
}

func buildProcessors(chunking domain.ChunkingSettings) (*postprocessors.Pipeline, error) {
	registry := postprocessors.NewRegistry()
	postprocessors.RegisterDefaults(registry)
	pipeline, err := registry.BuildPipeline(postprocessors.DefaultOrder, map[string]map[string]any{
		"chunker": {"chunk_size": chunking.Size, "overlap": chunking.Overlap},
	})
	if err != nil {
		return nil, fmt.Errorf("build processors: %w", err)
	}
	return pipeline, nil
}
