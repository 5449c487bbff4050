// Package database provides the local durable store (LDS) for studysync.
//
// # Architecture
//
// The store is a single SQLite file opened through gorm. It is organized into
// domain-specific sub-packages:
//
//	database/
//	├── database.go      # Connection setup, durability pragmas, migrations
//	├── errors.go        # StorageFull / StorageUnavailable classification
//	├── content/         # Cached quizzes and flashcards (put/get/query/delete/evict)
//	├── mutations/       # Local mutation records (user action history)
//	└── syncqueue/       # Durable sync queue with write-ahead enqueue
//
// # Using Sub-packages
//
//	db, err := database.NewDatabase("./studysync.db")
//
//	contentRepo := content.NewRepository(db.DB)
//	queueRepo := syncqueue.NewRepository(db.DB)
//
//	entry, err := queueRepo.Enqueue(ctx, syncqueue.EnqueueRequest{Action: review})
//
// # Durability
//
// Every write is committed with synchronous=FULL in WAL mode, so a successful
// return survives a process crash immediately afterwards. Writes that cannot
// be completed return an error matching ErrStorageFull or
// ErrStorageUnavailable; callers must fail the enclosing user action.
package database
