package database

import (
	"context"
	"log"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/studysync/internal/entities"
)

// dsnOptions makes every commit durable before it returns, lets readers run
// alongside the single writer, and takes the write lock at BEGIN so that
// read-then-write transactions never fail with a stale snapshot.
const dsnOptions = "?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"

// Database is the local durable store. It is opened once per process and
// shared by reference with every repository.
type Database struct {
	DB   *gorm.DB
	Path string
}

func NewDatabase(dbPath string) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(dbPath+dsnOptions), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, Wrap("open database", err)
	}

	err = db.AutoMigrate(
		&entities.CachedQuiz{},
		&entities.CachedFlashcard{},
		&entities.LocalMutation{},
		&entities.SyncQueueEntry{},
	)
	if err != nil {
		return nil, Wrap("migrate database", err)
	}

	log.Printf("Database initialized successfully at %s", dbPath)

	return &Database{DB: db, Path: dbPath}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping reports whether the store can currently serve requests.
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return Wrap("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return Wrap("ping", err)
	}
	return nil
}

// Counts returns the number of rows in each local table, keyed by table name.
func (d *Database) Counts(ctx context.Context) (map[string]int64, error) {
	tables := map[string]any{
		entities.CachedQuiz{}.TableName():      &entities.CachedQuiz{},
		entities.CachedFlashcard{}.TableName(): &entities.CachedFlashcard{},
		entities.LocalMutation{}.TableName():   &entities.LocalMutation{},
		entities.SyncQueueEntry{}.TableName():  &entities.SyncQueueEntry{},
	}
	counts := make(map[string]int64, len(tables))
	for table, model := range tables {
		var n int64
		if err := d.DB.WithContext(ctx).Model(model).Count(&n).Error; err != nil {
			return nil, Wrap("count "+table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
