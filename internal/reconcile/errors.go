package reconcile

import (
	"errors"
	"fmt"
)

// BatchOp names the bulk store call that failed.
type BatchOp string

const (
	OpFetch  BatchOp = "fetch"
	OpDelete BatchOp = "delete"
	OpUpsert BatchOp = "upsert"
)

// BatchError reports a failed bulk store call during reconciliation. The
// failing type's batch is abandoned, later types are not processed, and
// the mutation log is left intact — the error carries enough context for
// a blind retry.
type BatchError struct {
	EntityType string
	Op         BatchOp
	Err        error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("reconcile %s: bulk %s failed: %v", e.EntityType, e.Op, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// AsBatchError extracts a BatchError from a wrapped error chain.
func AsBatchError(err error) (*BatchError, bool) {
	var be *BatchError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
