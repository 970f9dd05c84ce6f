// Package task repeats a job on a fixed interval, for example a canvas probe in watch mode.
package task

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultInterval = time.Minute

	logEventRunSucceeded = "scheduled_run_succeeded"
	logEventRunFailed    = "scheduled_run_failed"
	logFieldRun          = "run"
	logFieldFailures     = "consecutive_failures"
	logFieldDuration     = "dur"
)

// RunnerFunc is one execution of the scheduled job.
type RunnerFunc func(context.Context) error

// Stats summarizes the runs completed so far.
type Stats struct {
	Runs                int
	Failures            int
	ConsecutiveFailures int
	LastErr             error
}

// Scheduler runs the job once on start and then after every interval until stopped. Trigger
// requests an extra run; pending triggers collapse into one.
type Scheduler struct {
	interval time.Duration
	runner   RunnerFunc
	logger   *zap.Logger
	trigger  chan struct{}

	controlMutex sync.Mutex
	cancel       context.CancelFunc
	done         chan struct{}

	statsMutex sync.Mutex
	stats      Stats
}

func NewScheduler(interval time.Duration, runner RunnerFunc, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		interval: interval,
		runner:   runner,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

func (scheduler *Scheduler) Start(ctx context.Context) {
	if scheduler == nil || scheduler.runner == nil {
		return
	}
	scheduler.controlMutex.Lock()
	if scheduler.cancel != nil {
		scheduler.controlMutex.Unlock()
		return
	}
	runtimeCtx, cancel := context.WithCancel(ctx)
	scheduler.cancel = cancel
	done := make(chan struct{})
	scheduler.done = done
	scheduler.controlMutex.Unlock()

	go scheduler.loop(runtimeCtx, done)
}

// Wait blocks until the loop exits, which happens when the start context ends or Stop is called.
func (scheduler *Scheduler) Wait() {
	if scheduler == nil {
		return
	}
	scheduler.controlMutex.Lock()
	done := scheduler.done
	scheduler.controlMutex.Unlock()
	if done != nil {
		<-done
	}
}

func (scheduler *Scheduler) Trigger() {
	if scheduler == nil {
		return
	}
	select {
	case scheduler.trigger <- struct{}{}:
	default:
	}
}

func (scheduler *Scheduler) Stop() {
	if scheduler == nil {
		return
	}
	scheduler.controlMutex.Lock()
	cancel := scheduler.cancel
	done := scheduler.done
	scheduler.cancel = nil
	scheduler.done = nil
	scheduler.controlMutex.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Stats returns a snapshot of the run counters.
func (scheduler *Scheduler) Stats() Stats {
	if scheduler == nil {
		return Stats{}
	}
	scheduler.statsMutex.Lock()
	defer scheduler.statsMutex.Unlock()
	return scheduler.stats
}

func (scheduler *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(scheduler.interval)
	defer timer.Stop()

	scheduler.run(ctx)
	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(scheduler.interval)

		select {
		case <-ctx.Done():
			return
		case <-scheduler.trigger:
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}
		scheduler.run(ctx)
	}
}

func (scheduler *Scheduler) run(ctx context.Context) {
	if scheduler.runner == nil {
		return
	}
	start := time.Now()
	runErr := scheduler.runner(ctx)

	scheduler.statsMutex.Lock()
	scheduler.stats.Runs++
	if runErr != nil {
		scheduler.stats.Failures++
		scheduler.stats.ConsecutiveFailures++
	} else {
		scheduler.stats.ConsecutiveFailures = 0
	}
	scheduler.stats.LastErr = runErr
	snapshot := scheduler.stats
	scheduler.statsMutex.Unlock()

	if runErr != nil {
		scheduler.logger.Warn(logEventRunFailed,
			zap.Int(logFieldRun, snapshot.Runs),
			zap.Int(logFieldFailures, snapshot.ConsecutiveFailures),
			zap.Duration(logFieldDuration, time.Since(start)),
			zap.Error(runErr),
		)
		return
	}
	scheduler.logger.Info(logEventRunSucceeded,
		zap.Int(logFieldRun, snapshot.Runs),
		zap.Duration(logFieldDuration, time.Since(start)),
	)
}
