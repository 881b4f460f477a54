// Package app provides the task supervisor the Engine uses to run its
// long-lived components (Writer, Readers, Scheduler, Ledger appender) as
// goroutines joined on shutdown. Generalized from the teacher's
// Launcher/App pattern.
package app

import (
	"context"
	"sync"

	"github.com/vidurai/vidurai-core/internal/mlog"
)

// Task is a long-lived component that runs until ctx is cancelled. Run must
// return promptly once ctx.Done() fires.
type Task interface {
	Run(ctx context.Context) error
}

// Launcher runs a fixed set of named Tasks concurrently and waits for all of
// them to finish. It never spins up more goroutines than the tasks
// registered with it — there is no unbounded pool.
type Launcher struct {
	Logger mlog.Logger

	mu    sync.Mutex
	tasks map[string]Task
	wg    sync.WaitGroup
}

// NewLauncher creates a Launcher bound to logger.
func NewLauncher(logger mlog.Logger) *Launcher {
	return &Launcher{
		Logger: logger,
		tasks:  make(map[string]Task),
	}
}

// Add registers a task under name. Add must be called before Run.
func (l *Launcher) Add(name string, t Task) *Launcher {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tasks[name] = t

	return l
}

// Run starts every registered task in its own goroutine and blocks until ctx
// is cancelled and every task has returned.
func (l *Launcher) Run(ctx context.Context) {
	l.mu.Lock()
	tasks := make(map[string]Task, len(l.tasks))
	for name, t := range l.tasks {
		tasks[name] = t
	}
	l.mu.Unlock()

	l.wg.Add(len(tasks))

	for name, t := range tasks {
		go func(name string, t Task) {
			defer l.wg.Done()

			l.Logger.Infof("launcher: task %q starting", name)

			if err := t.Run(ctx); err != nil && ctx.Err() == nil {
				l.Logger.Errorf("launcher: task %q exited with error: %v", name, err)
			}

			l.Logger.Infof("launcher: task %q finished", name)
		}(name, t)
	}

	<-ctx.Done()
	l.wg.Wait()
}
