package shortener

import (
	"context"
	"fmt"
	"time"

	"github.com/sundayezeilo/shortly/internal/errx"
	"github.com/sundayezeilo/shortly/internal/idgen"
)

// Recorder appends click events and maintains the denormalized visit
// counter on their link.
type Recorder struct {
	store Store
	ids   idgen.Generator
	now   func() time.Time
}

// NewRecorder returns a Recorder writing to store. A nil ids defaults to
// UUID v7.
func NewRecorder(store Store, ids idgen.Generator) *Recorder {
	if ids == nil {
		ids = idgen.NewV7()
	}
	return &Recorder{store: store, ids: ids, now: time.Now}
}

// RecordClick increments the visit count of code and appends a click event
// in one store transaction, so the counter and the event log commit or roll
// back together. The increment runs first: it is the source of truth for
// "visited" when a backend cannot make the pair atomic.
func (r *Recorder) RecordClick(ctx context.Context, code string, meta ClickMeta) (Click, error) {
	const op = "shortener.recorder.RecordClick"

	id, err := r.ids.Generate()
	if err != nil {
		return Click{}, errx.E(op, errx.Internal, fmt.Errorf("click id: %w", err))
	}

	var recorded Click
	err = r.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		if _, err := tx.IncrementVisit(ctx, code); err != nil {
			return err
		}

		click, err := tx.AppendClick(ctx, Click{
			ID:        id,
			LinkCode:  code,
			Referer:   meta.Referer,
			UserAgent: meta.UserAgent,
			CreatedAt: r.now().UTC(),
		})
		if err != nil {
			return err
		}
		recorded = click
		return nil
	})
	if err != nil {
		return Click{}, errx.E(op, errx.KindOf(err), err)
	}
	return recorded, nil
}
