package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/claudia-memory/claudia/internal/config"
	"github.com/claudia-memory/claudia/internal/consolidate"
	"github.com/claudia-memory/claudia/internal/daemon"
	"github.com/claudia-memory/claudia/internal/debug"
	"github.com/claudia-memory/claudia/internal/embedding"
	"github.com/claudia-memory/claudia/internal/extractor"
	"github.com/claudia-memory/claudia/internal/health"
	"github.com/claudia-memory/claudia/internal/llm"
	"github.com/claudia-memory/claudia/internal/lockfile"
	"github.com/claudia-memory/claudia/internal/recall"
	"github.com/claudia-memory/claudia/internal/remember"
	"github.com/claudia-memory/claudia/internal/scheduler"
	"github.com/claudia-memory/claudia/internal/storage"
	"github.com/claudia-memory/claudia/internal/storage/sqlite"
	"github.com/claudia-memory/claudia/internal/toolsurface"
	"github.com/claudia-memory/claudia/internal/utils"
	"github.com/claudia-memory/claudia/internal/vault"
	"github.com/claudia-memory/claudia/internal/verifier"
)

// services bundles everything a run mode needs after startup wiring.
type services struct {
	store        storage.Store
	embed        *embedding.Client
	lm           *llm.Client
	remember     *remember.Service
	recall       *recall.Service
	consolidator *consolidate.Service
	verifier     *verifier.Service
}

// databasePath resolves the per-project database file under
// <data_dir>/memory/.
func databasePath(dataDir string) string {
	if p := config.GetString("db_path"); p != "" {
		return p
	}
	return filepath.Join(dataDir, "memory", utils.DatabaseFilename(flagProjectDir))
}

// openServices opens the store and constructs the service graph. The
// embedding client and language model are both optional: a nil LM no-ops
// every cognitive feature, and an unreachable embedding host degrades
// recall to FTS/keyword ranking.
func openServices(ctx context.Context, dataDir string) (*services, error) {
	store, err := sqlite.Open(ctx, storage.Config{
		Path:                databasePath(dataDir),
		EmbeddingModel:      config.GetString("embedding_model"),
		EmbeddingDimensions: config.GetInt("embedding_dimensions"),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	embed, err := embedding.New(
		config.GetString("ollama_host"),
		config.GetString("embedding_model"),
		config.GetInt("embedding_dimensions"),
		0,
	)
	if err != nil {
		debug.Logf("embedding client unavailable: %v", err)
		embed = nil
	}
	if embed != nil {
		if ok, err := store.CheckEmbeddingDimension(ctx, embed.Model(), embed.Dimensions()); err == nil && !ok {
			embed.SetMismatchFlag(true)
			debug.Logf("embedding dimension mismatch: run claudia --migrate-embeddings")
		}
	}

	lmClient, err := llm.New(config.GetString("language_model"))
	if err != nil {
		debug.Logf("language model unavailable: %v", err)
	}

	pipeline := extractor.NewPipeline()
	if model := config.GetString("language_model"); model != "" {
		if nlp, err := extractor.NewOllamaExtractor(model); err == nil && nlp.Available(ctx) {
			pipeline = pipeline.WithOllama(nlp)
		}
	}

	rem := remember.New(store, embed).WithPipeline(pipeline)
	rec := recall.New(store, embed, recall.OptionsFromConfig())
	cons := consolidate.New(store, embed, lmClient, consolidate.OptionsFromConfig())
	ver := verifier.New(store, lmClient, config.GetInt("verify_batch_size"))

	return &services{
		store:        store,
		embed:        embed,
		lm:           lmClient,
		remember:     rem,
		recall:       rec,
		consolidator: cons,
		verifier:     ver,
	}, nil
}

// runDaemon is the default run mode: acquire the single-instance lock,
// register in the daemon registry, start the scheduler, health endpoint, and
// vault watcher, then serve tool calls over stdio until EOF or a signal.
//
// Lock contention exits 0: a second daemon on the same database is a benign
// no-op so startup scripts can fire unconditionally.
func runDaemon(ctx context.Context, dataDir string) error {
	lockDir := filepath.Dir(databasePath(dataDir))
	if err := os.MkdirAll(lockDir, 0o750); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	lock := lockfile.NewDaemonLock(lockDir)
	acquired, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !acquired {
		debug.Logf("daemon already running for %s, exiting", lockDir)
		fmt.Println("claudia daemon already running")
		return nil
	}
	defer func() { _ = lock.Unlock() }()

	svc, err := openServices(ctx, dataDir)
	if err != nil {
		return err
	}
	defer svc.store.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.New()
	if err := registerJobs(sched, svc, dataDir); err != nil {
		return err
	}
	sched.Start(runCtx)
	defer sched.Stop()

	healthSrv := health.NewServer(svc.store, svc.embed, sched)
	healthPort := config.GetInt("health_port")
	if err := healthSrv.Start(healthPort); err != nil {
		debug.Logf("health endpoint: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = healthSrv.Stop(shutdownCtx)
	}()

	if registry, err := daemon.NewRegistry(); err == nil {
		entry := daemon.RegistryEntry{
			ProjectHash:  utils.ProjectHash(flagProjectDir),
			ProjectDir:   flagProjectDir,
			DatabasePath: svc.store.Path(),
			HealthPort:   healthPort,
			PID:          os.Getpid(),
			StartedAt:    time.Now(),
		}
		if err := registry.Register(entry); err != nil {
			debug.Logf("daemon registry: %v", err)
		}
		defer func() { _ = registry.Unregister(entry.ProjectHash, entry.PID) }()
	}

	if config.GetBool("vault_sync_enabled") {
		vaultDir := filepath.Join(config.GetString("vault_base_dir"), utils.ProjectHash(flagProjectDir))
		if err := os.MkdirAll(vaultDir, 0o750); err == nil {
			if watcher, err := vault.NewWatcher(vaultDir, func(path string) {
				debug.Logf("vault: operator edit detected at %s", path)
			}); err == nil {
				watcher.Start(runCtx)
				defer watcher.Close()
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if flagStandalone {
		debug.Logf("daemon running standalone (pid %d)", os.Getpid())
		select {
		case <-sigCh:
		case <-runCtx.Done():
		}
		return nil
	}

	server := toolsurface.NewServer(svc.store, svc.remember, svc.recall, svc.consolidator)
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(runCtx, os.Stdin, os.Stdout) }()

	select {
	case sig := <-sigCh:
		debug.Logf("received signal %v, shutting down", sig)
		cancel()
		return nil
	case err := <-serveErr:
		if err != nil && err != context.Canceled {
			return fmt.Errorf("tool surface: %w", err)
		}
		return nil
	}
}

// registerJobs wires the scheduler's job table per the maintenance schedule:
// decay at 02:00, daily backup at 02:30, weekly backup Sunday 02:45, full
// consolidation at 03:00, vault sync at 03:15, pattern detection and the
// verifier tick on their configured intervals.
func registerJobs(sched *scheduler.Scheduler, svc *services, dataDir string) error {
	sunday := time.Sunday
	vaultDir := filepath.Join(config.GetString("vault_base_dir"), utils.ProjectHash(flagProjectDir))
	projector := vault.New(svc.store, vaultDir)

	jobs := []*scheduler.Job{
		{
			ID: "daily-decay", Name: "daily decay", At: "02:00",
			Run: func(ctx context.Context) error {
				_, err := svc.consolidator.RunDecayOnly(ctx)
				return err
			},
		},
		{
			ID: "daily-backup", Name: "labeled daily backup", At: "02:30",
			Run: func(ctx context.Context) error {
				_, err := svc.store.Backup(ctx, "daily", 7)
				return err
			},
		},
		{
			ID: "weekly-backup", Name: "labeled weekly backup", At: "02:45", Weekday: &sunday,
			Run: func(ctx context.Context) error {
				_, err := svc.store.Backup(ctx, "weekly", 4)
				return err
			},
		},
		{
			ID: "full-consolidation", Name: "full consolidation", At: "03:00",
			Run: func(ctx context.Context) error {
				_, err := svc.consolidator.RunFull(ctx)
				return err
			},
		},
		{
			ID: "pattern-detection", Name: "pattern detection",
			Every: time.Duration(config.GetInt("pattern_detection_interval_hours")) * time.Hour,
			Run: func(ctx context.Context) error {
				_, err := svc.consolidator.RunPatternsOnly(ctx)
				return err
			},
		},
		{
			ID: "verifier-tick", Name: "verifier tick",
			Every: time.Duration(config.GetInt("verify_interval_seconds")) * time.Second,
			Run: func(ctx context.Context) error {
				_, err := svc.verifier.RunOnce(ctx)
				return err
			},
		},
	}
	if config.GetBool("vault_sync_enabled") {
		jobs = append(jobs, &scheduler.Job{
			ID: "vault-sync", Name: "vault sync", At: "03:15",
			Run: func(ctx context.Context) error {
				report, err := projector.SyncAll(ctx)
				if err != nil {
					return err
				}
				for _, c := range report.Conflicts {
					debug.Logf("vault: operator-edited note preserved: %s", c)
				}
				return nil
			},
		})
	}

	for _, j := range jobs {
		if err := sched.Register(j); err != nil {
			return err
		}
	}
	return nil
}

// runConsolidateOnce is the --consolidate run mode.
func runConsolidateOnce(ctx context.Context, dataDir string) error {
	svc, err := openServices(ctx, dataDir)
	if err != nil {
		return err
	}
	defer svc.store.Close()

	report, err := svc.consolidator.RunFull(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("consolidation complete: decayed=%d merged=%d patterns=%d predictions=%d summaries=%d\n",
		report.Decayed, report.MemoriesMerged, report.PatternsDetected,
		report.PredictionsCreated, report.SummariesRefreshed)
	for _, e := range report.PhaseErrors {
		fmt.Println("  phase error:", e)
	}
	return nil
}
