package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	lodelib "github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/taskmanager/adapter"
	"github.com/pithecene-io/taskmanager/adapter/redis"
	"github.com/pithecene-io/taskmanager/adapter/webhook"
	"github.com/pithecene-io/taskmanager/bulk"
	"github.com/pithecene-io/taskmanager/catalog"
	"github.com/pithecene-io/taskmanager/cli/config"
	"github.com/pithecene-io/taskmanager/cli/reader"
	"github.com/pithecene-io/taskmanager/fileservice"
	"github.com/pithecene-io/taskmanager/iox"
	"github.com/pithecene-io/taskmanager/lode"
	"github.com/pithecene-io/taskmanager/log"
	"github.com/pithecene-io/taskmanager/metrics"
	"github.com/pithecene-io/taskmanager/runtime"
	"github.com/pithecene-io/taskmanager/scheduler"
	"github.com/pithecene-io/taskmanager/store"
	"github.com/pithecene-io/taskmanager/task"
	"github.com/pithecene-io/taskmanager/tasks/copyfile"
	"github.com/pithecene-io/taskmanager/tasks/timestamp"
	"github.com/pithecene-io/taskmanager/types"
)

// Storage backends.
const (
	backendFS     = "fs"
	backendS3     = "s3"
	backendMemory = "memory"
)

// App holds every collaborator built from one configuration.
type App struct {
	Config    *config.Config
	Catalog   *catalog.Catalog
	Files     *fileservice.Registry
	Registry  *task.Registry
	Store     *store.Memory
	Journal   lode.Journal
	Collector *metrics.Collector
	Adapter   adapter.Adapter
	Engine    *runtime.Engine
	Scheduler *scheduler.Scheduler
	Bulk      *bulk.Service

	// dataset is the journal dataset for read-side queries.
	dataset   lodelib.Dataset
	closers   []io.Closer
	logOutput io.Writer
}

// AppOptions tune app construction.
type AppOptions struct {
	// LogOutput redirects component logs. If nil, logs go to stderr.
	LogOutput io.Writer
	// OnComplete receives every batch run finished by the scheduler.
	OnComplete func(*types.BatchRun)
}

// NewApp builds the catalog, file services, task types, definition store,
// journal, adapter, engine, scheduler and bulk service described by cfg.
// The caller must Close the app.
func NewApp(ctx context.Context, cfg *config.Config, opts AppOptions) (_ *App, err error) {
	app := &App{Config: cfg, logOutput: opts.LogOutput}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	if app.Catalog, err = buildCatalog(cfg.Catalog); err != nil {
		return nil, err
	}
	if app.Files, err = buildFileServices(ctx, cfg); err != nil {
		return nil, err
	}

	app.Registry = task.NewRegistry()
	tsOpts := []timestamp.Option{
		timestamp.WithDataProperty(cfg.TaskTypes.TimeStamp.DataProperty),
		timestamp.WithMetadataProperty(cfg.TaskTypes.TimeStamp.MetadataProperty),
	}
	if err = app.Registry.Register(timestamp.New(app.Catalog, tsOpts...)); err != nil {
		return nil, err
	}
	if err = app.Registry.Register(copyfile.New(app.Files)); err != nil {
		return nil, err
	}

	app.Store = store.NewMemory()
	if err = loadDefinitions(ctx, app.Store, cfg); err != nil {
		return nil, err
	}

	backend := cfg.Storage.Backend
	if backend == "" {
		backend = backendMemory
	}
	journal, err := buildJournal(ctx, backend, cfg.Storage)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, journal)
	app.dataset = journal.Dataset()

	app.Collector = metrics.NewCollector(backend, cfg.Adapter.Type)
	app.Journal = lode.NewInstrumentedJournal(journal, app.Collector)

	if app.Adapter, err = buildAdapter(cfg.Adapter); err != nil {
		return nil, err
	}
	if app.Adapter != nil {
		app.closers = append(app.closers, app.Adapter)
	}

	app.Engine, err = runtime.NewEngine(runtime.EngineConfig{
		Registry:  app.Registry,
		Store:     app.Store,
		Journal:   app.Journal,
		Collector: app.Collector,
		Adapter:   app.Adapter,
		LogOutput: opts.LogOutput,
	})
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}
	app.Scheduler = scheduler.New(app.Engine, app.Store, scheduler.Config{
		Workers:    cfg.Scheduler.Workers,
		Location:   loc,
		RunTimeout: cfg.Scheduler.RunTimeout.Duration,
		Collector:  app.Collector,
		LogOutput:  opts.LogOutput,
		OnComplete: opts.OnComplete,
	})

	bulkOpts := []bulk.Option{bulk.WithDispatcher(app.Scheduler)}
	if opts.LogOutput != nil {
		bulkOpts = append(bulkOpts, bulk.WithLogOutput(opts.LogOutput))
	}
	app.Bulk = bulk.New(app.Store, app.Registry, bulkOpts...)

	if path := cfg.Storage.Definitions; path != "" {
		if err = app.importDefinitions(ctx, path); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// Dataset returns the journal dataset for read-side queries.
func (a *App) Dataset() lodelib.Dataset { return a.dataset }

// Reader returns a read model over the app's journal and definitions.
func (a *App) Reader() *reader.Reader {
	return reader.New(a.Journal, a.Store, a.Registry, a.dataset)
}

func (a *App) logger(component string) *log.Logger {
	l := log.NewComponentLogger(component)
	if a.logOutput != nil {
		l = l.WithOutput(a.logOutput)
	}
	return l
}

// Close releases the journal and the adapter.
func (a *App) Close() error {
	return iox.CloseAll(a.closers...)
}

// importDefinitions loads the definitions archive at path, if it exists.
func (a *App) importDefinitions(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open definitions: %w", err)
	}
	defer iox.DiscardClose(f)
	if _, err := a.Bulk.Import(ctx, f); err != nil {
		return fmt.Errorf("load definitions %s: %w", path, err)
	}
	return nil
}

// SaveDefinitions writes every definition to the configured archive. The
// file is replaced atomically.
func (a *App) SaveDefinitions(ctx context.Context) (bulk.ArchiveResult, error) {
	path := a.Config.Storage.Definitions
	if path == "" {
		return bulk.ArchiveResult{}, errors.New("storage.definitions is not set; changes would be lost")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".definitions-*")
	if err != nil {
		return bulk.ArchiveResult{}, fmt.Errorf("create definitions: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	res, err := a.Bulk.Export(ctx, tmp)
	if err != nil {
		_ = tmp.Close()
		return res, err
	}
	if err := tmp.Close(); err != nil {
		return res, fmt.Errorf("write definitions: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return res, fmt.Errorf("replace definitions: %w", err)
	}
	return res, nil
}

func buildCatalog(cfg config.CatalogConfig) (*catalog.Catalog, error) {
	cat := catalog.New()
	names := make([]string, 0, len(cfg.Workspaces))
	for name := range cfg.Workspaces {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, ws := range names {
		def := cfg.Workspaces[ws]
		cat.AddWorkspace(ws, def.Properties)
		for layer, props := range def.Layers {
			if _, err := cat.AddLayer(ws, layer, props); err != nil {
				return nil, fmt.Errorf("catalog: %w", err)
			}
		}
	}
	return cat, nil
}

func buildFileServices(ctx context.Context, cfg *config.Config) (*fileservice.Registry, error) {
	reg := fileservice.NewRegistry()
	for _, name := range cfg.FileServiceNames() {
		def := cfg.FileServices[name]
		switch {
		case def.Bucket != "":
			factory, err := lode.NewS3StoreFactory(ctx, lode.S3Config{
				Bucket:       def.Bucket,
				Prefix:       def.Prefix,
				Region:       def.Region,
				Endpoint:     def.Endpoint,
				UsePathStyle: def.S3PathStyle,
			})
			if err != nil {
				return nil, fmt.Errorf("file service %s: %w", name, err)
			}
			svc, err := fileservice.NewFactoryService(name, def.Description, factory)
			if err != nil {
				return nil, fmt.Errorf("file service %s: %w", name, err)
			}
			reg.Add(svc)
		case def.Root != "":
			svc, err := fileservice.NewFSService(name, def.Description, def.Root)
			if err != nil {
				return nil, fmt.Errorf("file service %s: %w", name, err)
			}
			reg.Add(svc)
		default:
			return nil, fmt.Errorf("file service %s: root or bucket is required", name)
		}
	}
	return reg, nil
}

// loadDefinitions stores the configurations and batches declared in cfg.
func loadDefinitions(ctx context.Context, st store.Store, cfg *config.Config) error {
	for _, def := range cfg.Configurations {
		c, err := def.Configuration()
		if err != nil {
			return err
		}
		if err := st.CreateConfiguration(ctx, c); err != nil {
			return fmt.Errorf("configuration %s: %w", c.Name, err)
		}
	}
	for _, def := range cfg.Batches {
		b, err := def.Batch()
		if err != nil {
			return err
		}
		if err := st.SaveBatch(ctx, b); err != nil {
			return fmt.Errorf("batch %s: %w", b.Name, err)
		}
	}
	return nil
}

// buildJournal opens the Lode journal for backend. The memory backend keeps
// history for the lifetime of the process only.
func buildJournal(ctx context.Context, backend string, cfg config.StorageConfig) (*lode.LodeJournal, error) {
	jcfg := lode.Config{Dataset: cfg.Dataset}
	switch backend {
	case backendFS:
		if cfg.Path == "" {
			return nil, errors.New("storage.path is required for the fs backend")
		}
		return lode.NewLodeJournal(jcfg, cfg.Path)
	case backendS3:
		if cfg.Path == "" {
			return nil, errors.New("storage.path is required for the s3 backend (bucket/prefix)")
		}
		bucket, prefix := lode.ParseS3Path(cfg.Path)
		return lode.NewLodeS3Journal(ctx, jcfg, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.S3PathStyle,
		})
	case backendMemory:
		mem := lodelib.NewMemory()
		return lode.NewLodeJournalWithFactory(jcfg, func() (lodelib.Store, error) { return mem, nil })
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (must be fs, s3 or memory)", backend)
	}
}

func buildAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		retries := webhook.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
			Secret:  cfg.Secret,
		})
	case "redis":
		retries := redis.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return redis.New(redis.Config{
			URL:             cfg.URL,
			Channel:         cfg.Channel,
			LatestKeyPrefix: cfg.LatestKeyPrefix,
			InterventionKey: cfg.InterventionKey,
			Timeout:         cfg.Timeout.Duration,
			Retries:         retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type: %s (must be webhook or redis)", cfg.Type)
	}
}
