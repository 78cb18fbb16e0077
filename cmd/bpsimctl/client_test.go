package main

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
	"gopkg.in/h2non/gock.v1"

	"argela.com/bpsim/datamodel"
)

// Routes the requests of the created clients through gock.
func interceptClients(t *testing.T) {
	original := newRestyClient
	newRestyClient = func() *resty.Client {
		client := original()
		gock.InterceptClient(client.GetClient())
		return client
	}
	t.Cleanup(func() {
		newRestyClient = original
		gock.Off()
	})
}

// Test that the server URL is validated.
func TestNewAPIClient(t *testing.T) {
	client, err := newAPIClient("http://localhost:8080/")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080/api/dhcp", client.makeURL("/api/dhcp"))

	for _, invalid := range []string{"", "localhost:8080", "http://", "://foo"} {
		_, err = newAPIClient(invalid)
		require.Error(t, err, invalid)
	}
}

// Test that the simulate request is sent as JSON and the session is
// returned.
func TestSimulate(t *testing.T) {
	// Arrange
	interceptClients(t)
	gock.New("http://localhost:8080").
		Post("/api/dhcp").
		MatchType("json").
		JSON(map[string]any{
			"packetType": "discovery",
			"ponPort":    1,
			"onuId":      2,
			"uniId":      0,
			"gemPort":    1024,
			"cTag":       100,
		}).
		Reply(http.StatusOK).
		JSON(map[string]any{
			"id":        1,
			"clientMac": "02:00:00:00:00:01",
			"state":     "DISCOVERING",
			"xid":       1234,
		})
	client, _ := newAPIClient(defaultServerURL)

	// Act
	session, err := client.simulate(&datamodel.SimulateRequest{
		PacketType: "discovery",
		Coordinates: datamodel.Coordinates{
			PonPort: 1,
			OnuID:   2,
			GemPort: 1024,
			VlanID:  100,
		},
	})

	// Assert
	require.NoError(t, err)
	require.Equal(t, datamodel.StateDiscovering, session.State)
	require.EqualValues(t, 1234, session.XID)
	require.True(t, gock.IsDone())
}

// Test that the list filters are sent as the query parameters.
func TestListSessions(t *testing.T) {
	// Arrange
	interceptClients(t)
	gock.New("http://localhost:8080").
		Get("/api/dhcp/list").
		MatchParam("vlanId", "100").
		MatchParam("state", "ACKNOWLEDGED").
		Reply(http.StatusOK).
		JSON(map[string]any{
			"devices": []map[string]any{{"id": 1, "state": "ACKNOWLEDGED", "vlanId": 100}},
			"total":   1,
		})
	client, _ := newAPIClient(defaultServerURL)

	// Act
	list, err := client.listSessions(url.Values{
		"vlanId": []string{"100"},
		"state":  []string{"ACKNOWLEDGED"},
	})

	// Assert
	require.NoError(t, err)
	require.Equal(t, 1, list.Total)
	require.Len(t, list.Sessions, 1)
	require.Equal(t, 100, list.Sessions[0].VlanID)
}

// Test that the error body is converted to the error.
func TestErrorResponse(t *testing.T) {
	// Arrange
	interceptClients(t)
	gock.New("http://localhost:8080").
		Post("/api/dhcp/storm").
		Reply(http.StatusConflict).
		JSON(map[string]any{"error": "DHCP storm is already in progress"})
	gock.New("http://localhost:8080").
		Post("/api/dhcp").
		Reply(http.StatusBadRequest).
		JSON(map[string]any{"error": "invalid VLAN: 5000", "field": "VLAN"})
	client, _ := newAPIClient(defaultServerURL)

	// Act
	_, stormErr := client.startStorm(&datamodel.StormRequest{Rate: 10})
	_, simulateErr := client.simulate(&datamodel.SimulateRequest{PacketType: "discovery"})

	// Assert
	require.EqualError(t, stormErr, "HTTP 409: DHCP storm is already in progress")
	require.EqualError(t, simulateErr, "HTTP 400: invalid VLAN: 5000 (field: VLAN)")
}

// Test that the non-JSON error body is returned as text.
func TestErrorResponsePlainText(t *testing.T) {
	interceptClients(t)
	gock.New("http://localhost:8080").
		Get("/api/version").
		Reply(http.StatusBadGateway).
		BodyString("upstream unavailable\n")
	client, _ := newAPIClient(defaultServerURL)

	_, err := client.version()

	var failure *apiError
	require.ErrorAs(t, err, &failure)
	require.Equal(t, http.StatusBadGateway, failure.status)
	require.Equal(t, "upstream unavailable", failure.message)
}

// Test the storm cancellation result.
func TestCancelStorm(t *testing.T) {
	interceptClients(t)
	gock.New("http://localhost:8080").
		Delete("/api/dhcp/storm").
		Reply(http.StatusOK).
		JSON(map[string]any{
			"cancelled": true,
			"status":    map[string]any{"status": "ready", "sent": 10, "total": 20},
		})
	client, _ := newAPIClient(defaultServerURL)

	result, err := client.cancelStorm()

	require.NoError(t, err)
	require.True(t, result.Cancelled)
	require.Equal(t, datamodel.StormStatusReady, result.Status.Status)
	require.Equal(t, 10, result.Status.Sent)
}
