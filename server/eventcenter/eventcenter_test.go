package eventcenter

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"argela.com/bpsim/datamodel"
	"argela.com/bpsim/server/session"
)

// Session lister returning the fixed sessions.
type listerMock struct {
	sessions []*datamodel.Session
}

func (l *listerMock) List(filter *session.Filter) []*datamodel.Session {
	var sessions []*datamodel.Session
	for _, s := range l.sessions {
		if filter.VlanID == nil || *filter.VlanID == s.VlanID {
			sessions = append(sessions, s)
		}
	}
	return sessions
}

// Storm status provider returning the fixed status.
type stormMock struct {
	status datamodel.StormStatus
}

func (s *stormMock) Status() datamodel.StormStatus {
	return s.status
}

// Sink recording the published events.
type sinkMock struct {
	mutex  sync.Mutex
	events []*Event
	err    error
	closed bool
}

func (s *sinkMock) Publish(event *Event) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *sinkMock) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closed = true
	return nil
}

func (s *sinkMock) isClosed() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.closed
}

func (s *sinkMock) count() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.events)
}

// Event read from the SSE stream.
type sseEvent struct {
	name string
	data string
}

// Connects to the SSE endpoint.
func connect(t *testing.T, ec EventCenter, query string) *bufio.Reader {
	server := httptest.NewServer(ec)
	t.Cleanup(server.Close)
	client := &http.Client{Timeout: 5 * time.Second}
	response, err := client.Get(server.URL + "/sse" + query)
	require.NoError(t, err)
	t.Cleanup(func() { response.Body.Close() })
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.Equal(t, "text/event-stream", response.Header.Get("Content-Type"))
	return bufio.NewReader(response.Body)
}

// Reads the next event from the SSE stream.
func readEvent(t *testing.T, reader *bufio.Reader) sseEvent {
	var event sseEvent
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSuffix(line, "\n")
		switch {
		case line == "":
			return event
		case strings.HasPrefix(line, "event: "):
			event.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			event.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func waitForSubscribers(t *testing.T, ec EventCenter, count int) {
	require.Eventually(t, func() bool {
		return ec.(*eventCenter).sseBroker.getSubscribersCount() == count
	}, 5*time.Second, 10*time.Millisecond)
}

func testSessions() []*datamodel.Session {
	return []*datamodel.Session{
		{ID: 0, ClientMAC: "02:00:00:00:00:01", State: datamodel.StateAcknowledged, VlanID: 100, XID: 1},
		{ID: 1, ClientMAC: "02:00:00:00:00:02", State: datamodel.StateIdle, VlanID: 200, XID: 2},
	}
}

// Test that the new subscriber receives the snapshot of the sessions and
// the storm status followed by the new events.
func TestSSESnapshotAndEvents(t *testing.T) {
	// Arrange
	ec := NewEventCenter()
	defer ec.Shutdown()
	ec.RegisterSnapshotSources(&listerMock{sessions: testSessions()}, &stormMock{
		status: datamodel.StormStatus{Type: datamodel.StormStatusType, Status: datamodel.StormStatusReady},
	})

	// Act
	reader := connect(t, ec, "")
	waitForSubscribers(t, ec, 1)
	ec.AddSessionEvent(&datamodel.Session{ID: 2, ClientMAC: "02:00:00:00:00:03", State: datamodel.StateDiscovering}, false)
	ec.AddSessionEvent(&datamodel.Session{ID: 0, ClientMAC: "02:00:00:00:00:01"}, true)
	ec.AddClearedEvent()

	// Assert
	first := readEvent(t, reader)
	require.Equal(t, "session", first.name)
	var snapshotSession datamodel.Session
	require.NoError(t, json.Unmarshal([]byte(first.data), &snapshotSession))
	require.Equal(t, "02:00:00:00:00:01", snapshotSession.ClientMAC)
	require.Equal(t, datamodel.StateAcknowledged, snapshotSession.State)

	require.Equal(t, "session", readEvent(t, reader).name)

	storm := readEvent(t, reader)
	require.Equal(t, "storm_status", storm.name)
	require.Contains(t, storm.data, `"status":"ready"`)

	added := readEvent(t, reader)
	require.Equal(t, "session", added.name)
	require.Contains(t, added.data, `"state":"DISCOVERING"`)

	removed := readEvent(t, reader)
	require.Equal(t, "session_removed", removed.name)
	require.Contains(t, removed.data, `"clientMac":"02:00:00:00:00:01"`)

	cleared := readEvent(t, reader)
	require.Equal(t, "cleared", cleared.name)
	require.JSONEq(t, `{"type":"cleared"}`, cleared.data)
}

// Test that the subscriber receives only the events of the selected
// streams and VLAN.
func TestSSEFilters(t *testing.T) {
	ec := NewEventCenter()
	defer ec.Shutdown()
	ec.RegisterSnapshotSources(&listerMock{sessions: testSessions()}, &stormMock{})

	reader := connect(t, ec, "?stream=session&vlanId=200")
	waitForSubscribers(t, ec, 1)
	ec.AddStormEvent(&datamodel.StormStatus{Status: datamodel.StormStatusProgress})
	ec.AddSessionEvent(&datamodel.Session{ClientMAC: "02:00:00:00:00:04", VlanID: 100}, false)
	ec.AddSessionEvent(&datamodel.Session{ClientMAC: "02:00:00:00:00:05", VlanID: 200}, false)

	snapshot := readEvent(t, reader)
	require.Contains(t, snapshot.data, "02:00:00:00:00:02")
	next := readEvent(t, reader)
	require.Equal(t, "session", next.name)
	require.Contains(t, next.data, "02:00:00:00:00:05")
}

// Test that the invalid query parameters are rejected.
func TestSSEInvalidQuery(t *testing.T) {
	ec := NewEventCenter()
	defer ec.Shutdown()

	for _, query := range []string{"?stream=foo", "?vlanId=abc"} {
		t.Run(query, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://localhost/sse"+query, nil)
			w := httptest.NewRecorder()
			ec.ServeHTTP(w, req)
			require.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
		})
	}
}

// Test that the disconnected subscriber is removed.
func TestSSEUnsubscribe(t *testing.T) {
	ec := NewEventCenter()
	defer ec.Shutdown()

	server := httptest.NewServer(ec)
	defer server.Close()
	response, err := http.Get(server.URL + "/sse")
	require.NoError(t, err)
	waitForSubscribers(t, ec, 1)

	response.Body.Close()

	waitForSubscribers(t, ec, 0)
}

// Test that the shutdown disconnects the subscribers and closes the sinks.
func TestShutdown(t *testing.T) {
	ec := NewEventCenter()
	sink := &sinkMock{}
	ec.RegisterSink(sink)

	req := httptest.NewRequest("GET", "http://localhost/sse", nil)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		ec.ServeHTTP(w, req)
	}()
	waitForSubscribers(t, ec, 1)

	ec.Shutdown()

	<-done
	waitForSubscribers(t, ec, 0)
	require.True(t, sink.isClosed())

	// Events added after shutdown are dropped.
	ec.AddClearedEvent()
	ec.Shutdown()
	require.Zero(t, sink.count())
}

// Test that the events are published to the sinks and a failing sink
// does not stop the dispatch.
func TestSinks(t *testing.T) {
	ec := NewEventCenter()
	defer ec.Shutdown()
	failing := &sinkMock{err: errors.New("broker down")}
	sink := &sinkMock{}
	ec.RegisterSink(failing)
	ec.RegisterSink(sink)

	ec.AddSessionEvent(&datamodel.Session{ClientMAC: "02:00:00:00:00:01"}, false)
	ec.AddStormEvent(&datamodel.StormStatus{RunID: "run"})

	require.Eventually(t, func() bool {
		return sink.count() == 2
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 2, failing.count())
	sink.mutex.Lock()
	defer sink.mutex.Unlock()
	require.Equal(t, "02:00:00:00:00:01", sink.events[0].Key())
	require.Equal(t, "run", sink.events[1].Key())
}

// Test the event constructors.
func TestEventTypes(t *testing.T) {
	session := &datamodel.Session{ClientMAC: "02:00:00:00:00:01"}
	require.Equal(t, EventTypeSession, NewSessionEvent(session, false).Type)
	require.Equal(t, EventTypeSessionRemoved, NewSessionEvent(session, true).Type)
	require.Equal(t, EventTypeStormStatus, NewStormEvent(&datamodel.StormStatus{}).Type)
	require.Equal(t, "cleared", (&Event{Type: EventTypeCleared}).Key())
}
