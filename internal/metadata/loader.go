package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/dataflow/internal/domain"
)

// Loader batches and caches field-list lookups. Create one per recompute pass
// so a pass sees a consistent view and later passes observe upstream changes.
type Loader struct {
	loader *dataloader.Loader
}

// NewLoader wraps a lister.
func NewLoader(lister FieldLister, wait time.Duration) *Loader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))
		for i, key := range keys {
			fields, err := lister.FieldList(ctx, key.String())
			results[i] = &dataloader.Result{Data: fields, Error: err}
		}
		return results
	}
	if wait <= 0 {
		wait = time.Millisecond
	}
	return &Loader{loader: dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(wait))}
}

func (l *Loader) FieldList(ctx context.Context, referenceID string) ([]domain.Field, error) {
	data, err := l.loader.Load(ctx, dataloader.StringKey(referenceID))()
	if err != nil {
		return nil, err
	}
	fields, ok := data.([]domain.Field)
	if !ok && data != nil {
		return nil, fmt.Errorf("unexpected field list type %T", data)
	}
	return domain.CloneFields(fields), nil
}
