package eventcenter

import (
	"net/url"
	"slices"
	"strconv"

	errors "github.com/pkg/errors"

	"argela.com/bpsim/server/session"
)

// Size of the queue of the events waiting to be written to a subscriber.
// Events are dropped for the subscribers not keeping up.
const subscriberQueueSize = 256

// Holds the filters specified by an SSE subscriber connecting to the
// server.
type subscriberFilters struct {
	vlanID  *int
	streams []EventType
}

// Structure describing SSE subscriber. Subscriber connects to the server
// via an URL which may optionally include the filtering parameters. The
// subscriber receives the events of all types when no stream is
// specified.
type Subscriber struct {
	serverURL         *url.URL
	subscriberAddress string
	filters           subscriberFilters
	events            chan *Event
	done              chan struct{}
}

// Attempts to retrieve a named parameter from the subscriber's query and
// convert it to a numeric value. It returns nil if the parameter does not
// exist in an URL.
func getQueryValueAsInt(name string, values url.Values) (*int, error) {
	value, ok := values[name]
	if !ok || len(value) == 0 {
		return nil, nil
	}
	numericValue, err := strconv.Atoi(value[0])
	if err != nil {
		err = errors.Errorf("sse query parameter %s=%s is not a valid numeric value", name, value[0])
		return nil, err
	}
	return &numericValue, nil
}

// Creates a new instance of the subscriber using URL. It doesn't populate filters.
func newSubscriber(serverURL *url.URL, subscriberAddress string) *Subscriber {
	return &Subscriber{
		serverURL:         serverURL,
		subscriberAddress: subscriberAddress,
		events:            make(chan *Event, subscriberQueueSize),
		done:              make(chan struct{}),
	}
}

// Populates filters from URL, e.g. stream=session&vlanId=100 subscribes
// to the session events of a single VLAN.
func (s *Subscriber) applyFiltersFromQuery() (err error) {
	queryValues := s.serverURL.Query()
	for _, stream := range queryValues["stream"] {
		if !slices.Contains(EventTypes(), EventType(stream)) {
			return errors.Errorf("unknown sse stream %s", stream)
		}
		s.filters.streams = append(s.filters.streams, EventType(stream))
	}
	if s.filters.vlanID, err = getQueryValueAsInt("vlanId", queryValues); err != nil {
		return err
	}
	return nil
}

// Checks if the event should be sent to the subscriber.
func (s *Subscriber) accepts(event *Event) bool {
	if len(s.filters.streams) > 0 && !slices.Contains(s.filters.streams, event.Type) {
		return false
	}
	if s.filters.vlanID != nil && event.Session != nil && event.Session.VlanID != *s.filters.vlanID {
		return false
	}
	return true
}

// Returns the filter selecting the sessions sent in the snapshot.
func (s *Subscriber) sessionFilter() *session.Filter {
	return &session.Filter{VlanID: s.filters.vlanID}
}

// Queues the event for the subscriber. It returns false when the queue is
// full.
func (s *Subscriber) enqueue(event *Event) bool {
	select {
	case s.events <- event:
		return true
	default:
		return false
	}
}
