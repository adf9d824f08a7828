// Package storage persists the change log. Records are append-only: the
// compiled command arrays never change after Append, and rollback reuses the
// stored inverse commands rather than recompiling.
package storage

import (
	"errors"

	"github.com/netforge-io/changerd/internal/model"
)

var (
	// ErrChangeNotFound is returned when a change ID has no record.
	ErrChangeNotFound = errors.New("change record not found")
	// ErrChangeExists is returned when Append sees a duplicate change ID.
	ErrChangeExists = errors.New("change record already exists")
)

// ChangeLog is the persistence interface for change records.
type ChangeLog interface {
	// Append stores a new record. The record's command arrays are frozen
	// from this point on.
	Append(rec *model.ChangeRecord) error

	// UpdateStatus moves a record through its lifecycle and attaches the
	// result detail. Applied and rolled-back timestamps are stamped by the
	// status transition; commands are never touched.
	UpdateStatus(changeID string, status model.Status, detail *model.ResultDetail) error

	// Get returns one record by change ID.
	Get(changeID string) (*model.ChangeRecord, error)

	// List returns records newest first, filtered by device, tenant and
	// limit.
	List(filter model.ChangeFilter) ([]*model.ChangeRecord, error)

	Close() error
}
