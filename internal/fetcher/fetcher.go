package fetcher

import (
	"context"

	"github.com/yairfalse/permitwatch/pkg/types"
)

// Fetcher produces the current availability of one permit over a date
// window. Divided permits yield a Divided snapshot holding every configured
// segment; undivided permits yield an Undivided one.
type Fetcher interface {
	Fetch(ctx context.Context, entity types.Entity, dates types.DateRange) (types.Snapshot, error)
}

// FetchAll fetches every entity in order. The first failure aborts the
// whole set so a partial result is never compared or persisted.
func FetchAll(ctx context.Context, f Fetcher, entities []types.Entity, dates types.DateRange) (types.Store, error) {
	fresh := make(types.Store, len(entities))
	for _, entity := range entities {
		snap, err := f.Fetch(ctx, entity, dates)
		if err != nil {
			return nil, err
		}
		fresh[entity.ID] = snap
	}
	return fresh, nil
}
