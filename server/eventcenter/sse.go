package eventcenter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"
)

// SSE Broker. It stores subscribers in a map which is protected by mutex.
type SSEBroker struct {
	subscribers      map[*Subscriber]struct{}
	subscribersMutex *sync.RWMutex

	sourcesMutex sync.RWMutex
	sessions     SessionLister
	storm        StormStatusProvider
}

// Create a new SSE Broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{
		subscribers:      map[*Subscriber]struct{}{},
		subscribersMutex: &sync.RWMutex{},
	}
}

func (sb *SSEBroker) setSnapshotSources(sessions SessionLister, storm StormStatusProvider) {
	sb.sourcesMutex.Lock()
	defer sb.sourcesMutex.Unlock()
	sb.sessions = sessions
	sb.storm = storm
}

// Returns the events describing the current state: all sessions matching
// the subscriber's filters and the storm status.
func (sb *SSEBroker) snapshot(s *Subscriber) (events []*Event) {
	sb.sourcesMutex.RLock()
	defer sb.sourcesMutex.RUnlock()
	if sb.sessions != nil {
		for _, session := range sb.sessions.List(s.sessionFilter()) {
			events = append(events, NewSessionEvent(session, false))
		}
	}
	if sb.storm != nil {
		status := sb.storm.Status()
		events = append(events, NewStormEvent(&status))
	}
	return events
}

// Writes the event in the SSE format.
func writeEvent(w http.ResponseWriter, event *Event) error {
	evJSON, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, evJSON)
	return err
}

// Server SSE request for new session.
func (sb *SSEBroker) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s := newSubscriber(req.URL, req.RemoteAddr)

	if err := s.applyFiltersFromQuery(); err != nil {
		log.WithError(err).Error("Failed to accept new SSE connection because query parameters are invalid")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	log.Infof("New SSE subscriber from %s", req.RemoteAddr)

	// prepare proper HTTP headers for SSE response
	h := w.Header()
	h.Set("Connection", "keep-alive")
	h.Set("Cache-Control", "no-cache")
	h.Set("Content-Type", "text/event-stream")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("X-Accel-Buffering", "no")

	// The subscriber is registered before the snapshot is taken so no
	// change is lost. A session may be sent twice.
	sb.subscribersMutex.Lock()
	sb.subscribers[s] = struct{}{}
	sb.subscribersMutex.Unlock()

	flush := func() {
		// Not all ResponseWriter instances implement http.Flusher interface.
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
	}

	for _, event := range sb.snapshot(s) {
		if s.accepts(event) {
			if err := writeEvent(w, event); err != nil {
				log.WithError(err).Error("Problem sending snapshot to the subscriber")
			}
		}
	}
	flush()

	for {
		select {
		case event := <-s.events:
			if err := writeEvent(w, event); err != nil {
				log.WithError(err).Error("Problem sending event to the subscriber")
				continue
			}
			flush()
		case <-s.done:
			// The server is shutting down.
			log.Infof("Shutting down connection from %s", s.subscriberAddress)
			return
		case <-req.Context().Done():
			// connection is closed so unsubscribe subscriber
			log.Infof("Connection with %s closed", s.subscriberAddress)
			sb.subscribersMutex.Lock()
			delete(sb.subscribers, s)
			sb.subscribersMutex.Unlock()
			return
		}
	}
}

// Dispatch event to subscribers using filtering.
func (sb *SSEBroker) dispatchEvent(event *Event) {
	sb.subscribersMutex.RLock()
	defer sb.subscribersMutex.RUnlock()

	for s := range sb.subscribers {
		if s.accepts(event) && !s.enqueue(event) {
			log.WithFields(log.Fields{
				"subscriber": s.subscriberAddress,
				"type":       event.Type,
			}).Warn("SSE subscriber is too slow; dropped event")
		}
	}
}

// Shuts down the all SSE broker connections from subscribers.
func (sb *SSEBroker) shutdown() {
	sb.subscribersMutex.Lock()
	defer sb.subscribersMutex.Unlock()
	for s := range sb.subscribers {
		close(s.done)
		delete(sb.subscribers, s)
	}
}

// Get count of subscribers.
func (sb *SSEBroker) getSubscribersCount() int {
	sb.subscribersMutex.RLock()
	defer sb.subscribersMutex.RUnlock()
	return len(sb.subscribers)
}
