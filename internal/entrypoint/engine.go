package entrypoint

import (
	"context"
	"fmt"
	"log"

	"github.com/mrlokans/studysync/internal/config"
	"github.com/mrlokans/studysync/internal/connectivity"
	"github.com/mrlokans/studysync/internal/content"
	"github.com/mrlokans/studysync/internal/database"
	cache "github.com/mrlokans/studysync/internal/database/content"
	"github.com/mrlokans/studysync/internal/database/mutations"
	"github.com/mrlokans/studysync/internal/database/syncqueue"
	"github.com/mrlokans/studysync/internal/entities"
	"github.com/mrlokans/studysync/internal/freshness"
	http_controllers "github.com/mrlokans/studysync/internal/http"
	"github.com/mrlokans/studysync/internal/remote"
	"github.com/mrlokans/studysync/internal/scheduler"
	"github.com/mrlokans/studysync/internal/study"
	"github.com/mrlokans/studysync/internal/syncer"
	"github.com/mrlokans/studysync/internal/tasks"
)

// Engine holds every component of the sync engine. The local store is opened
// once and shared by reference.
type Engine struct {
	DB          *database.Database
	Queue       *syncqueue.Repository
	Mutations   *mutations.Repository
	Cache       *cache.Repository
	Remote      *remote.Client
	Coordinator *syncer.Coordinator
	Freshness   *freshness.Manager
	Trigger     *scheduler.SyncTrigger
	Prober      *connectivity.Prober
	Eviction    *scheduler.EvictionScheduler
	Study       *study.Service
	Content     *content.Service

	// Tasks is nil when the task queue is disabled.
	Tasks *tasks.Client

	cfg        *config.Config
	taskCancel context.CancelFunc
}

// NewEngine opens the local store and builds the engine. Nothing runs in the
// background until Start.
func NewEngine(cfg *config.Config, withTasks bool) (*Engine, error) {
	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	client, err := remote.NewClient(remote.Config{
		BaseURL: cfg.Remote.BaseURL,
		Token:   cfg.Remote.Token,
		Timeout: cfg.Remote.Timeout,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create remote client: %w", err)
	}

	e := &Engine{
		DB:        db,
		Queue:     syncqueue.NewRepository(db.DB),
		Mutations: mutations.NewRepository(db.DB),
		Cache:     cache.NewRepository(db.DB),
		Remote:    client,
		cfg:       cfg,
	}

	e.Coordinator = syncer.NewCoordinator(e.Queue, client, syncer.Config{
		BatchSize:   cfg.Sync.BatchSize,
		Concurrency: cfg.Sync.Concurrency,
		MaxRetries:  cfg.Sync.MaxRetries,
		BackoffBase: cfg.Sync.BackoffBase,
		BackoffCap:  cfg.Sync.BackoffCap,
		Jitter:      cfg.Sync.Jitter,
		RateLimit:   cfg.Sync.RateLimit,
		RateBurst:   cfg.Sync.RateBurst,
	})
	e.Freshness = freshness.NewManager(e.Cache, freshness.Policy{
		entities.ContentKindQuiz:      cfg.Cache.QuizMaxAge,
		entities.ContentKindFlashcard: cfg.Cache.FlashcardMaxAge,
	})
	e.Trigger = scheduler.NewSyncTrigger(e.Coordinator, e.Queue, cfg.Sync.Schedule)
	e.Prober = connectivity.NewProber(client, e.Trigger, cfg.Connectivity.ProbeInterval, cfg.Connectivity.ProbeTimeout)
	e.Study = study.NewService(e.Queue, e.Cache, e.Mutations, e.Trigger)
	e.Content = content.NewService(client, e.Cache, e.Trigger, e.Freshness)
	e.Content.SetRemoteReadTimeout(cfg.Cache.RemoteReadTimeout)

	if withTasks && cfg.Tasks.Enabled {
		e.Tasks, err = tasks.NewClient(cfg.Database.Path, tasks.Config{
			Workers:         cfg.Tasks.Workers,
			ReleaseAfter:    cfg.Tasks.ReleaseAfter,
			CleanupInterval: cfg.Tasks.CleanupInterval,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize task queue: %w", err)
		}
		e.Tasks.Register(
			tasks.NewEvictStaleContentQueue(e.Freshness),
			tasks.NewRunSyncCycleQueue(e.Coordinator),
		)
		e.Eviction = scheduler.NewEvictionScheduler(e.Freshness, e.Tasks, cfg.Cache.EvictionSchedule)
	} else {
		e.Eviction = scheduler.NewEvictionScheduler(e.Freshness, nil, cfg.Cache.EvictionSchedule)
	}

	return e, nil
}

// Start launches the background workers: task queue, eviction schedule,
// sync trigger and connectivity prober, in that order.
func (e *Engine) Start(ctx context.Context) error {
	if e.Tasks != nil {
		var taskCtx context.Context
		taskCtx, e.taskCancel = context.WithCancel(ctx)
		e.Tasks.Start(taskCtx)
	}
	if err := e.Eviction.Start(ctx); err != nil {
		return err
	}
	if err := e.Trigger.Start(ctx); err != nil {
		return err
	}
	e.Prober.Start(ctx)
	return nil
}

// Stop halts the background workers in reverse order.
func (e *Engine) Stop(ctx context.Context) {
	e.Prober.Stop()
	e.Trigger.Stop()
	e.Eviction.Stop()
	if e.Tasks != nil {
		e.Tasks.Stop(ctx)
		if e.taskCancel != nil {
			e.taskCancel()
		}
	}
}

// Close releases the task queue and the local store.
func (e *Engine) Close() {
	if e.Tasks != nil {
		if err := e.Tasks.Close(); err != nil {
			log.Printf("Error closing task client: %v", err)
		}
	}
	if err := e.DB.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}
}

// RouterConfig returns the operator API dependencies.
func (e *Engine) RouterConfig(version string) http_controllers.RouterConfig {
	cfg := http_controllers.RouterConfig{
		Database:    e.DB,
		Version:     version,
		Queue:       e.Queue,
		Coordinator: e.Coordinator,
		Trigger:     e.Trigger,
		Study:       e.Study,
		Content:     e.Content,
	}
	if e.Tasks != nil {
		cfg.TaskClient = e.Tasks
	}
	return cfg
}
