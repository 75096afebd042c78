// Package dirtyset tracks which polls have received votes since the
// last broadcast cycle. Marking is on the hot vote path and must never
// block on broadcast activity; draining atomically detaches the
// accumulated set so marks racing the drain land in the fresh set,
// never lost and never double-counted.
package dirtyset

import (
	"context"

	"github.com/google/uuid"
)

type Tracker interface {
	// MarkDirty adds the poll to the current working set. Idempotent.
	MarkDirty(ctx context.Context, pollID uuid.UUID) error

	// SnapshotAndClear atomically swaps the working set for an empty
	// one and returns everything that had accumulated. A failed swap is
	// a skipped cycle, not an error: future votes re-mark their polls.
	SnapshotAndClear(ctx context.Context) ([]uuid.UUID, error)
}
