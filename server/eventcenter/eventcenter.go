package eventcenter

import (
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"

	"argela.com/bpsim/datamodel"
	"argela.com/bpsim/server/session"
)

// Size of the queue of the events waiting for the dispatch.
const eventQueueSize = 1024

// Destination of the events other than the SSE subscribers, e.g. a
// message broker.
type Sink interface {
	Publish(event *Event) error
	Close() error
}

// Provides the sessions sent to the new SSE subscribers.
type SessionLister interface {
	List(filter *session.Filter) []*datamodel.Session
}

// Provides the storm status sent to the new SSE subscribers.
type StormStatusProvider interface {
	Status() datamodel.StormStatus
}

// An interface to EventCenter.
type EventCenter interface {
	AddSessionEvent(session *datamodel.Session, removed bool)
	AddStormEvent(status *datamodel.StormStatus)
	AddClearedEvent()
	AddEvent(event *Event)
	RegisterSink(sink Sink)
	RegisterSnapshotSources(sessions SessionLister, storm StormStatusProvider)
	Shutdown()
	ServeHTTP(w http.ResponseWriter, req *http.Request)
}

// EventCenter. It has a channel for receiving events, the SSE broker
// dispatching them to subscribers and the list of sinks.
type eventCenter struct {
	done     chan struct{}
	stopOnce sync.Once
	wg       *sync.WaitGroup
	events   chan *Event

	sinksMutex sync.RWMutex
	sinks      []Sink

	sseBroker *SSEBroker
}

// Create new EventCenter object.
func NewEventCenter() EventCenter {
	ec := &eventCenter{
		done:      make(chan struct{}),
		wg:        &sync.WaitGroup{},
		events:    make(chan *Event, eventQueueSize),
		sseBroker: NewSSEBroker(),
	}
	ec.wg.Add(1)
	go ec.mainLoop()

	log.Info("Started EventCenter")
	return ec
}

// Adds the event describing a new, changed or removed session.
func (ec *eventCenter) AddSessionEvent(session *datamodel.Session, removed bool) {
	ec.AddEvent(NewSessionEvent(session, removed))
}

// Adds the event carrying the storm status.
func (ec *eventCenter) AddStormEvent(status *datamodel.StormStatus) {
	ec.AddEvent(NewStormEvent(status))
}

// Adds the event notifying that all sessions were removed.
func (ec *eventCenter) AddClearedEvent() {
	ec.AddEvent(&Event{Type: EventTypeCleared})
}

// Add event object to EventCenter. The event is dispatched to the
// subscribers and the sinks. It is dropped after shutdown.
func (ec *eventCenter) AddEvent(event *Event) {
	log.WithFields(log.Fields{
		"type": event.Type,
		"key":  event.Key(),
	}).Trace("Event added")
	select {
	case ec.events <- event:
	case <-ec.done:
	}
}

// Registers the sink receiving all events.
func (ec *eventCenter) RegisterSink(sink Sink) {
	ec.sinksMutex.Lock()
	defer ec.sinksMutex.Unlock()
	ec.sinks = append(ec.sinks, sink)
}

// Sets the sources of the snapshot sent to the new SSE subscribers.
func (ec *eventCenter) RegisterSnapshotSources(sessions SessionLister, storm StormStatusProvider) {
	ec.sseBroker.setSnapshotSources(sessions, storm)
}

// Terminate the EventCenter main loop, disconnect the SSE subscribers
// and close the sinks.
func (ec *eventCenter) Shutdown() {
	ec.stopOnce.Do(func() {
		log.Info("Stopping EventCenter")
		close(ec.done)
		ec.wg.Wait()
		ec.sseBroker.shutdown()

		ec.sinksMutex.Lock()
		defer ec.sinksMutex.Unlock()
		for _, sink := range ec.sinks {
			if err := sink.Close(); err != nil {
				log.WithError(err).Error("Problem closing event sink")
			}
		}
		ec.sinks = nil
		log.Info("Stopped EventCenter")
	})
}

// A main loop of EventCenter. It receives events via channel and
// dispatches them to the sinks and the subscribers.
func (ec *eventCenter) mainLoop() {
	defer ec.wg.Done()
	for {
		select {
		case <-ec.done:
			return
		case event := <-ec.events:
			ec.publishToSinks(event)
			ec.sseBroker.dispatchEvent(event)
		}
	}
}

func (ec *eventCenter) publishToSinks(event *Event) {
	ec.sinksMutex.RLock()
	defer ec.sinksMutex.RUnlock()
	for _, sink := range ec.sinks {
		if err := sink.Publish(event); err != nil {
			log.WithError(err).WithField("type", event.Type).Error("Problem publishing event to sink")
		}
	}
}

// Forward SSE requests to SSE Broker.
func (ec *eventCenter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ec.sseBroker.ServeHTTP(w, req)
}
