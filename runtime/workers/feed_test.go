package workers

import (
	"chat-core/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFeed_Returns_Nil_When_Unsubscribed(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())

	var received []int
	feed := NewFeed[int](slog.Default(),
		func(ctx context.Context, onUpdate func(int)) error {
			onUpdate(1)
			onUpdate(2)
			<-ctx.Done()
			return ctx.Err()
		},
		func(v int) { received = append(received, v) },
		func(err error) { req.Fail("no error expected", err) },
	).WithName("numbers")

	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()
	cancel()

	req.NoError(<-done)
	req.Equal([]int{1, 2}, received)
}

func TestFeed_Reports_Broken_Stream(t *testing.T) {
	req := require.New(t)
	var reported []error
	feed := NewFeed[int](slog.Default(),
		func(ctx context.Context, onUpdate func(int)) error {
			return fmt.Errorf("connection reset")
		},
		func(int) {},
		func(err error) { reported = append(reported, err) },
	)

	err := feed.Run(context.Background())

	req.Error(err)
	req.Len(reported, 1)
	req.Equal(err, reported[0])
}

func TestFeed_Treats_Silent_End_As_Interruption(t *testing.T) {
	req := require.New(t)
	feed := NewFeed[int](slog.Default(),
		func(ctx context.Context, onUpdate func(int)) error { return nil },
		func(int) {},
		nil,
	).WithName("typing")

	err := feed.Run(context.Background())

	req.ErrorIs(err, errors.ErrSubscriptionInterrupted)
}

func TestFeed_Is_Restarted_By_Supervisor(t *testing.T) {
	req := require.New(t)
	var mu sync.Mutex
	attempts := 0
	resubscribed := make(chan struct{})

	feed := NewFeed[string](slog.Default(),
		func(ctx context.Context, onUpdate func(string)) error {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n == 1 {
				return fmt.Errorf("stream broken")
			}
			onUpdate("fresh snapshot")
			<-ctx.Done()
			return ctx.Err()
		},
		func(string) { close(resubscribed) },
		func(error) {},
	).WithName("messages")

	sup := NewSupervisor(slog.Default(), restartInterval)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Add(feed).Run(ctx)
		close(done)
	}()

	select {
	case <-resubscribed:
	case <-time.After(time.Second):
		req.Fail("feed should have been restarted")
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	req.Equal(2, attempts)
}
