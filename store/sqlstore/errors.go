package sqlstore

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/visit-engine/admission"
)

type driverErrorKind int

const (
	errOther driverErrorKind = iota
	errUnique
	errConflict
)

// classify recognizes unique violations and lock/serialization failures
// from either driver.
func classify(err error) driverErrorKind {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return errUnique
		case sqliteErr.Code == sqlite3.ErrBusy, sqliteErr.Code == sqlite3.ErrLocked:
			return errConflict
		}
		return errOther
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return errUnique
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return errConflict
		}
	}
	return errOther
}

// mapDriverError turns lock contention into admission.ErrConcurrencyConflict.
func mapDriverError(err error) error {
	if err != nil && classify(err) == errConflict {
		return fmt.Errorf("%w: %v", admission.ErrConcurrencyConflict, err)
	}
	return err
}

// mapVisitWriteError additionally reports the live-visit index as a duplicate.
func mapVisitWriteError(err error, v admission.Visit) error {
	if err != nil && classify(err) == errUnique {
		return &admission.DuplicateVisitError{PersonID: v.PersonID, Date: v.Date}
	}
	return mapDriverError(err)
}

// mapPersonWriteError reports a duplicate person id as a conflict: two
// registrations raced to create the same person.
func mapPersonWriteError(err error) error {
	if err != nil && classify(err) == errUnique {
		return fmt.Errorf("%w: %v", admission.ErrConcurrencyConflict, err)
	}
	return mapDriverError(err)
}
