package workers

import (
	"chat-core/contract"
	"chat-core/errors"
	"context"
	"fmt"
	"log/slog"
)

// WatchFunc blocks, handing every update to onUpdate, until ctx is done
// or the underlying stream breaks.
type WatchFunc[T any] func(ctx context.Context, onUpdate func(T)) error

// Feed keeps a live subscription open under supervision.
// When the stream breaks the failure is reported and returned, so the
// supervisor restarts the feed, which then starts over with a fresh
// full state. Cancelling the context is the only clean way out.
type Feed[T any] struct {
	Name     contract.WorkerName
	log      *slog.Logger
	watch    WatchFunc[T]
	onUpdate func(T)
	onError  func(error)
}

func NewFeed[T any](log *slog.Logger, watch WatchFunc[T], onUpdate func(T), onError func(error)) Feed[T] {
	return Feed[T]{log: log, watch: watch, onUpdate: onUpdate, onError: onError}
}

func (f Feed[T]) WithName(name string) contract.Worker {
	f.Name = contract.WorkerName(name)
	return f
}

func (f Feed[T]) GetName() contract.WorkerName { return f.Name }

func (f Feed[T]) Run(ctx context.Context) error {
	err := f.watch(ctx, f.onUpdate)
	if ctx.Err() != nil {
		f.log.Debug("Feed unsubscribed", "name", f.Name)
		return nil
	}
	if err == nil {
		err = fmt.Errorf("%w: %s ended", errors.ErrSubscriptionInterrupted, f.Name)
	}
	if f.onError != nil {
		f.onError(err)
	}
	return err
}
