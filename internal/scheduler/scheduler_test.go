package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vidurai/vidurai-core/internal/mlog"
	"github.com/vidurai/vidurai-core/internal/scheduler"
)

func TestSchedulerRunsJobOnInterval(t *testing.T) {
	var runs atomic.Int32

	job := scheduler.Job{
		Name:     "test-tick",
		Interval: 50 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}

	s := scheduler.New([]scheduler.Job{job}, mlog.NewGoLogger(mlog.ErrorLevel))

	ctx, cancel := context.WithTimeout(context.Background(), 220*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-ctx.Done()
	<-done

	assert.GreaterOrEqual(t, runs.Load(), int32(2))
}

func TestSchedulerSkipsOverlappingTicks(t *testing.T) {
	var (
		concurrent atomic.Int32
		maxSeen    atomic.Int32
	)

	job := scheduler.Job{
		Name:     "slow-tick",
		Interval: 20 * time.Millisecond,
		Run: func(context.Context) error {
			n := concurrent.Add(1)
			defer concurrent.Add(-1)

			for {
				seen := maxSeen.Load()
				if n <= seen || maxSeen.CompareAndSwap(seen, n) {
					break
				}
			}

			time.Sleep(80 * time.Millisecond)

			return nil
		},
	}

	s := scheduler.New([]scheduler.Job{job}, mlog.NewGoLogger(mlog.ErrorLevel))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-ctx.Done()
	<-done

	assert.Equal(t, int32(1), maxSeen.Load())
}
