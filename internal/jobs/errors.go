package jobs

import "errors"

// ErrNotFound indicates the requested job id does not exist.
var ErrNotFound = errors.New("jobs: not found")

// ErrConflict indicates enqueue found an existing row on the natural key
// (tenant, booking_id, kind) and returned its id instead of inserting.
var ErrConflict = errors.New("jobs: conflict on natural key")

// ErrNotClaimed indicates commit was attempted on a row the caller does not
// currently hold a live claim on.
var ErrNotClaimed = errors.New("jobs: row not claimed by caller")
