package model

import (
	"errors"
	"fmt"
)

// ValidationError marks a raw record that failed type-casting or was missing
// a mandatory field. The record is dead-lettered; the batch continues.
type ValidationError struct {
	EventID string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.EventID == "" {
		return fmt.Sprintf("validation: field %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation: event %s: field %s: %s", e.EventID, e.Field, e.Reason)
}

// ReferentialError marks a staging record whose mandatory dimension reference
// could not be resolved. The record is rejected; the batch continues.
type ReferentialError struct {
	EventID    string
	Dimension  string
	NaturalKey string
}

func (e *ReferentialError) Error() string {
	return fmt.Sprintf("referential: event %s: no %s dimension row for %q",
		e.EventID, e.Dimension, e.NaturalKey)
}

// VersioningConflict marks a concurrent attempt to version the same natural
// key. Callers retry after serialization; it is never silently dropped.
type VersioningConflict struct {
	UserID string
	Err    error
}

func (e *VersioningConflict) Error() string {
	return fmt.Sprintf("versioning conflict for user %s: %v", e.UserID, e.Err)
}

func (e *VersioningConflict) Unwrap() error {
	return e.Err
}

// ErrAggregationDrift signals that the daily rollup diverged from fact-level
// sums. This is a consistency bug, not a data error: it halts the refresher.
var ErrAggregationDrift = errors.New("daily activity aggregate diverged from fact table")

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsReferential reports whether err is (or wraps) a ReferentialError.
func IsReferential(err error) bool {
	var r *ReferentialError
	return errors.As(err, &r)
}

// IsVersioningConflict reports whether err is (or wraps) a VersioningConflict.
func IsVersioningConflict(err error) bool {
	var v *VersioningConflict
	return errors.As(err, &v)
}
