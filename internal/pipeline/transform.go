package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/locations/internal/domain"
)

// ChangeTransformer implements Transformer by parsing and validating host
// change messages.
type ChangeTransformer struct {
	logger *slog.Logger
}

// NewTransformer creates a ChangeTransformer.
func NewTransformer(logger *slog.Logger) *ChangeTransformer {
	return &ChangeTransformer{logger: logger}
}

func (t *ChangeTransformer) Transform(_ context.Context, raw domain.RawEvent) (domain.HostChange, error) {
	change, err := domain.ParseHostChange(raw)
	if err != nil {
		return domain.HostChange{}, fmt.Errorf("offset %d: %w", raw.Offset, err)
	}
	t.logger.Debug("host change parsed", "entity", change.Entity, "key", string(raw.Key))
	return change, nil
}

// Upserter writes host topics and categories. Upserts keep any location
// already stored when the incoming record carries none.
type Upserter interface {
	UpsertTopic(ctx context.Context, t domain.Topic) error
	UpsertCategory(ctx context.Context, c domain.Category) error
}

// StoreLoader implements BatchLoader over an Upserter.
type StoreLoader struct {
	store Upserter
}

// NewStoreLoader creates a StoreLoader.
func NewStoreLoader(store Upserter) *StoreLoader {
	return &StoreLoader{store: store}
}

// LoadBatch applies changes in order. It stops at the first failure so the
// batch is redelivered.
func (l *StoreLoader) LoadBatch(ctx context.Context, changes []domain.HostChange) error {
	for _, change := range changes {
		var err error
		switch {
		case change.Topic != nil:
			err = l.store.UpsertTopic(ctx, *change.Topic)
		case change.Category != nil:
			err = l.store.UpsertCategory(ctx, *change.Category)
		}
		if err != nil {
			return fmt.Errorf("apply %s change: %w", change.Entity, err)
		}
	}
	return nil
}
