package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

var (
	// ErrStorageFull means the device or the database quota has no room left.
	ErrStorageFull = errors.New("local storage is full")

	// ErrStorageUnavailable means the store cannot be opened, read or written.
	ErrStorageUnavailable = errors.New("local storage is unavailable")

	// ErrNotFound is returned by repositories when a keyed lookup misses.
	ErrNotFound = errors.New("record not found")
)

// StorageError is a failed local store operation. It matches ErrStorageFull
// or ErrStorageUnavailable with errors.Is and also unwraps to the driver error.
type StorageError struct {
	Op   string
	Kind error
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// IsStorageFailure reports whether err is a StorageFull or StorageUnavailable failure.
func IsStorageFailure(err error) bool {
	return errors.Is(err, ErrStorageFull) || errors.Is(err, ErrStorageUnavailable)
}

// Wrap classifies a driver error raised by op. Storage failures become a
// *StorageError, a missed lookup becomes ErrNotFound, and everything else
// (constraint violations, bad queries) is returned wrapped with op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsStorageFailure(err) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrFull:
			return &StorageError{Op: op, Kind: ErrStorageFull, Err: err}
		case sqlite3.ErrCantOpen, sqlite3.ErrReadonly, sqlite3.ErrIoErr, sqlite3.ErrBusy,
			sqlite3.ErrLocked, sqlite3.ErrNotADB, sqlite3.ErrCorrupt, sqlite3.ErrPerm,
			sqlite3.ErrNomem, sqlite3.ErrAuth:
			return &StorageError{Op: op, Kind: ErrStorageUnavailable, Err: err}
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	// database/sql does not export its closed-pool error.
	if strings.Contains(err.Error(), "database is closed") {
		return &StorageError{Op: op, Kind: ErrStorageUnavailable, Err: err}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// IsUniqueViolation reports whether err was caused by a unique index.
func IsUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
