// Package interfaces documents the core abstractions used throughout the application.
//
// Consumers declare the narrow interfaces they need next to the code that uses
// them; this package only holds the compile-time checks that tie each interface
// to its concrete implementation (see checks.go).
//
// # Interface Categories
//
// ## Local Durable Store
//
//   - syncer.Queue: Ordered delivery queue (internal/syncer/coordinator.go)
//   - study.Queue, study.Cache, study.History: Recording user actions (internal/study/service.go)
//   - freshness.Store: Age-based cache deletion (internal/freshness/manager.go)
//   - content.Store: Cached content reads and writes (internal/content/service.go)
//   - http.QueueStore: Operator access to the queue (internal/http/stores.go)
//
// ## Remote Authority
//
//   - syncer.Sender: Delivers one queued request (internal/syncer/coordinator.go)
//   - connectivity.HealthChecker: Reachability probe (internal/connectivity/prober.go)
//   - content.Fetcher: Quiz and flashcard reads (internal/content/service.go)
//
// ## Sync Triggers
//
//   - connectivity.Listener: Receives online/offline signals (internal/connectivity/prober.go)
//   - scheduler.CycleRunner, tasks.CycleRunner: Drain the sync queue
//   - scheduler.DueSource: Earliest retry time for the wake-up timer
//   - study.Nudger: Wakes the trigger after an enqueue (internal/study/service.go)
//   - http.Trigger, http.CycleReporter: Status and manual triggers (internal/http/stores.go)
//
// ## Background Work
//
//   - scheduler.Evictor, tasks.ContentEvictor: Cache sweeps
//   - scheduler.TaskEnqueuer, http.TaskQueue: backlite task queue (internal/tasks/client.go)
//
// # Adding a New Action Kind
//
//  1. Add the payload type in internal/actions/ with Validate, NaturalKey and
//     route information, and register it in Decode and DefaultRoute.
//
//  2. Add a recording method to study.Service and a handler in internal/http/study.go.
//
//  3. Teach the authority to apply it in internal/authority/server.go.
//
// # Adding a New Content Kind
//
//  1. Add a cached model in internal/entities/content.go implementing
//     entities.ContentRecord and list it in entities.ContentKinds.
//
//  2. Add a fetch method to remote.Client and content.Fetcher.
//
//  3. Add a freshness policy entry in internal/entrypoint/engine.go.
package interfaces
