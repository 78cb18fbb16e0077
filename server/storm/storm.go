package storm

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"argela.com/bpsim/datamodel"
)

// Number of sessions between the progress notifications.
const progressInterval = 50

// Limits of the storm pace. The rate is converted to a whole number of
// milliseconds between the sessions.
const (
	MaxRate        = 1000
	MaxIntervalSec = 86400
)

// Ranges of the random GEM ports and C-tags of the synthesized sessions.
const (
	gemPortBase  = 1024
	gemPortRange = 2048
	cTagBase     = 100
	cTagRange    = 3994
)

// Starts the handshake of a session.
type DiscoveryStarter interface {
	StartDiscovery(target *datamodel.Session) (*datamodel.Session, error)
}

// Source of the pre-seeded idle sessions.
type SessionLister interface {
	ByState(state datamodel.State) []*datamodel.Session
}

// Receives the storm status notifications.
type Publisher interface {
	AddStormEvent(status *datamodel.StormStatus)
}

// State of a single storm run.
type run struct {
	id        string
	cancel    context.CancelFunc
	done      chan struct{}
	cancelled bool
}

// Drives bulk discovery of many sessions at the requested pace. At most
// one storm runs at a time.
type Controller struct {
	mutex     sync.Mutex
	starter   DiscoveryStarter
	sessions  SessionLister
	publisher Publisher
	topology  datamodel.Topology
	random    *rand.Rand
	current   *run
	status    datamodel.StormStatus
}

// Creates the storm controller. The publisher may be nil.
func NewController(starter DiscoveryStarter, sessions SessionLister, publisher Publisher, topology datamodel.Topology) *Controller {
	return &Controller{
		starter:   starter,
		sessions:  sessions,
		publisher: publisher,
		topology:  topology,
		random:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), //nolint:gosec
		status: datamodel.StormStatus{
			Type:    datamodel.StormStatusType,
			Status:  datamodel.StormStatusReady,
			Message: "No active DHCP storm",
		},
	}
}

// Validates the storm parameters and returns the delay between the
// sessions.
func delayOf(request datamodel.StormRequest) (time.Duration, error) {
	switch {
	case request.Rate < 0 || request.IntervalSec < 0:
		return 0, errors.WithStack(datamodel.NewValidationError("storm parameters", "rate and interval must not be negative"))
	case request.Rate > 0 && request.IntervalSec > 0:
		return 0, errors.WithStack(datamodel.NewValidationError("storm parameters", "specify either rate or interval, not both"))
	case request.Rate > MaxRate:
		return 0, errors.WithStack(datamodel.NewValidationError("rate", "%d exceeds the limit of %d sessions per second", request.Rate, MaxRate))
	case request.IntervalSec > MaxIntervalSec:
		return 0, errors.WithStack(datamodel.NewValidationError("interval", "%g exceeds the limit of %d seconds", request.IntervalSec, MaxIntervalSec))
	case request.Rate > 0:
		return time.Duration(1000/request.Rate) * time.Millisecond, nil
	case request.IntervalSec > 0:
		return time.Duration(request.IntervalSec * float64(time.Second)), nil
	default:
		return 0, errors.WithStack(datamodel.NewValidationError("storm parameters", "rate or interval must be positive"))
	}
}

// Returns the sessions driven by the storm: the idle sessions if any,
// otherwise one session per PON and ONU combination with a random GEM
// port and C-tag.
func (c *Controller) workingSet() []*datamodel.Session {
	if idle := c.sessions.ByState(datamodel.StateIdle); len(idle) > 0 {
		return idle
	}
	targets := make([]*datamodel.Session, 0, c.topology.OnuCount())
	for pon := uint32(0); pon < c.topology.PonPortCount; pon++ {
		for onu := uint32(0); onu < c.topology.OnuPortCount; onu++ {
			coordinates := datamodel.Coordinates{
				PonPort: c.topology.PonPortStart + pon,
				OnuID:   c.topology.OnuPortStart + onu,
				UniID:   0,
				GemPort: uint32(gemPortBase + c.random.IntN(gemPortRange)),
				VlanID:  cTagBase + c.random.IntN(cTagRange),
			}
			targets = append(targets, datamodel.NewSession(coordinates, datamodel.StateIdle))
		}
	}
	return targets
}

// Checks if the run is still executing. It must be called with the lock
// held.
func (c *Controller) runningLocked() bool {
	if c.current == nil {
		return false
	}
	select {
	case <-c.current.done:
		return false
	default:
		return true
	}
}

// Sends a copy of the status to the publisher.
func (c *Controller) publish(status datamodel.StormStatus) {
	if c.publisher != nil {
		c.publisher.AddStormEvent(&status)
	}
}

// Starts the storm in the background. Exactly one of the rate and the
// interval must be positive. It fails when another storm is running.
func (c *Controller) Start(request datamodel.StormRequest) (*datamodel.StormStatus, error) {
	delay, err := delayOf(request)
	if err != nil {
		return nil, err
	}

	c.mutex.Lock()
	if c.runningLocked() {
		c.mutex.Unlock()
		return nil, errors.WithStack(&datamodel.ConflictingOperationError{Operation: "DHCP storm"})
	}
	targets := c.workingSet()
	ctx, cancel := context.WithCancel(context.Background())
	current := &run{
		id:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.current = current
	c.status = datamodel.StormStatus{
		Type:    datamodel.StormStatusType,
		Status:  datamodel.StormStatusProgress,
		Params:  request,
		Message: "Storm started",
		RunID:   current.id,
		Total:   len(targets),
		Running: true,
	}
	status := c.status
	c.mutex.Unlock()

	log.WithFields(log.Fields{
		"run":      current.id,
		"rate":     request.Rate,
		"interval": request.IntervalSec,
		"delay":    delay,
		"sessions": len(targets),
	}).Info("DHCP storm started")
	c.publish(status)

	go c.run(ctx, current, targets, delay)
	return &status, nil
}

// Updates the counters of the run. It returns the status to publish or
// nil if the run was cancelled.
func (c *Controller) record(current *run, err error, index int) *datamodel.StormStatus {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if current.cancelled {
		return nil
	}
	if err != nil {
		c.status.Failed++
	} else {
		c.status.Sent++
	}
	if (index+1)%progressInterval != 0 {
		return nil
	}
	c.status.Message = fmt.Sprintf("Storm progress: %d/%d sessions sent, %d failed",
		c.status.Sent, c.status.Total, c.status.Failed)
	status := c.status
	return &status
}

// Sets the final status of the run unless it was cancelled.
func (c *Controller) finish(current *run, name datamodel.StormStatusName, message string) {
	c.mutex.Lock()
	if current.cancelled {
		c.mutex.Unlock()
		return
	}
	c.status.Status = name
	c.status.Message = message
	c.status.Running = false
	status := c.status
	c.mutex.Unlock()

	log.WithFields(log.Fields{
		"run":    current.id,
		"sent":   status.Sent,
		"failed": status.Failed,
		"total":  status.Total,
	}).Info(message)
	c.publish(status)
}

// Drives the discovery of the sessions. The n-th session is started n-1
// delays after the storm began regardless of how long the previous
// starts took. Failures of single sessions are counted. Exhausting the
// session registry aborts the storm.
func (c *Controller) run(ctx context.Context, current *run, targets []*datamodel.Session, delay time.Duration) {
	defer close(current.done)
	defer current.cancel()

	begin := time.Now()
	for i, target := range targets {
		if ctx.Err() != nil {
			return
		}
		_, err := c.starter.StartDiscovery(target)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"run":  current.id,
				"pon":  target.PonPort,
				"onu":  target.OnuID,
				"vlan": target.VlanID,
			}).Warn("Failed to start discovery during DHCP storm")
		}
		if status := c.record(current, err, i); status != nil {
			c.publish(*status)
		}
		var exhaustedErr *datamodel.ResourceExhaustedError
		if errors.As(err, &exhaustedErr) {
			c.finish(current, datamodel.StormStatusError, fmt.Sprintf("Storm error: %s", err))
			return
		}
		if i == len(targets)-1 {
			break
		}
		deadline := begin.Add(time.Duration(i+1) * delay)
		timer := time.NewTimer(time.Until(deadline))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	c.finish(current, datamodel.StormStatusReady, "Storm completed successfully")
}

// Cancels the running storm. It returns false if no storm was running.
// The storm stops before the next session.
func (c *Controller) Cancel() bool {
	c.mutex.Lock()
	if !c.runningLocked() || c.current.cancelled {
		c.mutex.Unlock()
		return false
	}
	c.current.cancelled = true
	c.current.cancel()
	c.status.Status = datamodel.StormStatusReady
	c.status.Message = "Storm cancelled"
	c.status.Running = false
	status := c.status
	c.mutex.Unlock()

	log.WithField("run", status.RunID).Info("DHCP storm cancelled")
	c.publish(status)
	return true
}

// Returns the status of the last storm.
func (c *Controller) Status() datamodel.StormStatus {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	status := c.status
	status.Running = c.runningLocked()
	return status
}

// Checks if a storm is running.
func (c *Controller) IsRunning() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.runningLocked()
}

// Returns the description of the storm configuration.
func (c *Controller) Info() string {
	return c.topology.StormInfo()
}

// Waits until the current storm stops.
func (c *Controller) Wait() {
	c.mutex.Lock()
	current := c.current
	c.mutex.Unlock()
	if current != nil {
		<-current.done
	}
}
