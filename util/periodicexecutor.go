package bpsimutil

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Wait between the interval checks while the executor is disabled.
const InactiveInterval = 60 * time.Second

// Runs an action in the background at an interval, e.g. the lease
// sweeping or the metrics refresh. The interval is read again after every
// tick. A non-positive interval disables the action until the interval
// becomes positive.
type PeriodicExecutor struct {
	name        string
	action      func() error
	getInterval func() (time.Duration, error)

	mutex    sync.Mutex
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// Reads the initial interval and starts the executor.
func NewPeriodicExecutor(name string, action func() error, getInterval func() (time.Duration, error)) (*PeriodicExecutor, error) {
	interval, err := getInterval()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	executor := &PeriodicExecutor{
		name:        name,
		action:      action,
		getInterval: getInterval,
		interval:    interval,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go executor.loop(ctx)

	log.WithFields(log.Fields{
		"executor": name,
		"interval": interval,
	}).Info("Started periodic executor")
	return executor, nil
}

// Returns the time until the next tick.
func (executor *PeriodicExecutor) wait() time.Duration {
	if interval := executor.GetInterval(); interval > 0 {
		return interval
	}
	return InactiveInterval
}

func (executor *PeriodicExecutor) loop(ctx context.Context) {
	defer close(executor.done)

	timer := time.NewTimer(executor.wait())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if executor.GetInterval() > 0 {
			if err := executor.action(); err != nil {
				log.WithField("executor", executor.name).Errorf("Periodic action failed: %+v", err)
			}
		}

		// The previous interval stays in force when it cannot be read.
		if interval, err := executor.getInterval(); err != nil {
			log.WithField("executor", executor.name).Errorf("Cannot get the interval: %+v", err)
		} else {
			executor.mutex.Lock()
			executor.interval = interval
			executor.mutex.Unlock()
		}
		timer.Reset(executor.wait())
	}
}

// Stops the executor and waits for the running action to return.
func (executor *PeriodicExecutor) Shutdown() {
	executor.cancel()
	<-executor.done
	log.WithField("executor", executor.name).Info("Stopped periodic executor")
}

// Returns the last interval read.
func (executor *PeriodicExecutor) GetInterval() time.Duration {
	executor.mutex.Lock()
	defer executor.mutex.Unlock()
	return executor.interval
}

func (executor *PeriodicExecutor) GetName() string {
	return executor.name
}
