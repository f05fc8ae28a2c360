package repository

import (
	"context"

	"docqueue/internal/domain/model"
)

// JobArchive receives terminal jobs right before the reaper evicts them
// from the hot store, so finished work stays queryable after its
// snapshots expire. Archiving is best-effort; a failed archive must not
// block eviction.
type JobArchive interface {
	ArchiveJob(ctx context.Context, tx Tx, job *model.Job, tasks []*model.Task) error
}
