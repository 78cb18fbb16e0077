package restservice

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"argela.com/bpsim/datamodel"
)

// Storm controller returning the configured results.
type stormMock struct {
	startErr  error
	requests  []datamodel.StormRequest
	cancelled bool
	status    datamodel.StormStatus
	calls     []string
	// Invoked when waiting for the storm to stop.
	onWait func()
}

func (s *stormMock) Start(request datamodel.StormRequest) (*datamodel.StormStatus, error) {
	s.requests = append(s.requests, request)
	if s.startErr != nil {
		return nil, s.startErr
	}
	s.status = datamodel.StormStatus{
		Type:    datamodel.StormStatusType,
		Status:  datamodel.StormStatusProgress,
		Params:  request,
		Running: true,
	}
	return &s.status, nil
}

func (s *stormMock) Cancel() bool {
	wasRunning := s.status.Running
	s.cancelled = true
	s.calls = append(s.calls, "cancel")
	s.status.Running = false
	s.status.Status = datamodel.StormStatusReady
	return wasRunning
}

func (s *stormMock) Wait() {
	s.calls = append(s.calls, "wait")
	if s.onWait != nil {
		s.onWait()
	}
}

func (s *stormMock) Status() datamodel.StormStatus {
	return s.status
}

func (s *stormMock) IsRunning() bool {
	return s.status.Running
}

func (s *stormMock) Info() string {
	return "storm"
}

// Test starting, querying and cancelling the storm.
func TestStormLifecycle(t *testing.T) {
	// Arrange
	api, _ := newTestRestAPI(t, 0)
	mock := &stormMock{}
	api.Storm = mock

	// Act
	started := serve(t, api, http.MethodPost, "/api/dhcp/storm", datamodel.StormRequest{Rate: 100})
	status := serve(t, api, http.MethodGet, "/api/dhcp/storm", nil)
	cancelled := serve(t, api, http.MethodDelete, "/api/dhcp/storm", nil)
	cancelledAgain := serve(t, api, http.MethodDelete, "/api/dhcp/storm", nil)

	// Assert
	require.Equal(t, http.StatusAccepted, started.Code)
	require.Equal(t, datamodel.StormStatusProgress, decode[datamodel.StormStatus](t, started).Status)
	require.Equal(t, []datamodel.StormRequest{{Rate: 100}}, mock.requests)

	require.Equal(t, http.StatusOK, status.Code)
	require.True(t, decode[datamodel.StormStatus](t, status).Running)

	require.Equal(t, http.StatusOK, cancelled.Code)
	result := decode[datamodel.StormCancelResult](t, cancelled)
	require.True(t, result.Cancelled)
	require.Equal(t, datamodel.StormStatusReady, result.Status.Status)

	require.False(t, decode[datamodel.StormCancelResult](t, cancelledAgain).Cancelled)
}

// Test the status codes of the failed storm start.
func TestStartStormErrors(t *testing.T) {
	api, _ := newTestRestAPI(t, 0)
	mock := &stormMock{}
	api.Storm = mock

	mock.startErr = errors.WithStack(&datamodel.ConflictingOperationError{Operation: "DHCP storm"})
	recorder := serve(t, api, http.MethodPost, "/api/dhcp/storm", datamodel.StormRequest{Rate: 10})
	require.Equal(t, http.StatusConflict, recorder.Code)
	require.Equal(t, "DHCP storm is already in progress", decode[datamodel.ErrorResponse](t, recorder).Error)

	mock.startErr = errors.New("boom")
	recorder = serve(t, api, http.MethodPost, "/api/dhcp/storm", datamodel.StormRequest{Rate: 10})
	require.Equal(t, http.StatusInternalServerError, recorder.Code)

	recorder = serve(t, api, http.MethodPost, "/api/dhcp/storm", "[]")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

// Test that the real controller rejects the invalid parameters.
func TestStartStormValidation(t *testing.T) {
	api, _ := newTestRestAPI(t, 0)

	recorder := serve(t, api, http.MethodPost, "/api/dhcp/storm", datamodel.StormRequest{Rate: 10, IntervalSec: 1})

	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

// Test that clearing cancels the storm and waits for it to stop before
// removing the sessions.
func TestClearCancelsStorm(t *testing.T) {
	// Arrange
	api, _ := newTestRestAPI(t, 0)
	mock := &stormMock{status: datamodel.StormStatus{Running: true}}
	mock.onWait = func() {
		// The last session started by the stopping storm.
		started := datamodel.NewSession(datamodel.Coordinates{GemPort: 1024, VlanID: 100}, datamodel.StateDiscovering)
		require.NoError(t, api.Engine.Registry().Add(started))
	}
	api.Storm = mock

	// Act
	recorder := serve(t, api, http.MethodPost, "/api/dhcp/clear", nil)

	// Assert
	require.Equal(t, http.StatusOK, recorder.Code)
	require.True(t, mock.cancelled)
	require.Equal(t, []string{"cancel", "wait"}, mock.calls)
	require.Zero(t, api.Engine.Registry().Count())
}
