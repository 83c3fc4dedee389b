// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package journal

import "fmt"

// StorageError wraps an I/O failure of the embedded store. It is fatal for the
// in-progress operation and always propagated to the caller; callers must not
// treat a failed append as a recorded event.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("journal storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IntegrityError reports hash-chain verification failures. The journal never
// auto-repairs: a broken chain means tampering, reordering, or deletion and
// must be surfaced to an operator.
type IntegrityError struct {
	LocalIDs []int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("journal integrity violated at %d event(s): %v", len(e.LocalIDs), e.LocalIDs)
}
