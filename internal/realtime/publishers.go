package realtime

import (
	"context"
	"errors"

	"dabubble/internal/models"
)

// Publisher is the event sink the stores publish to
type Publisher interface {
	Publish(ctx context.Context, e models.Event) error
}

// Publishers sends every event to each publisher in turn and joins their errors
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, e models.Event) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
