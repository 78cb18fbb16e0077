package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"argela.com/bpsim/datamodel"
	"argela.com/bpsim/server/session"
)

// Default address of the simulator REST API.
const defaultServerURL = "http://localhost:8080"

// Timeout of a single request.
const requestTimeout = 30 * time.Second

// Returned when the server responds with an error status.
type apiError struct {
	status  int
	message string
	field   string
}

// Returns the error message.
func (e *apiError) Error() string {
	if e.field != "" {
		return fmt.Sprintf("HTTP %d: %s (field: %s)", e.status, e.message, e.field)
	}
	return fmt.Sprintf("HTTP %d: %s", e.status, e.message)
}

// Creates the HTTP client. It is replaced in the tests.
var newRestyClient = func() *resty.Client {
	return resty.New().SetTimeout(requestTimeout)
}

// REST client of the simulator.
type apiClient struct {
	innerClient *resty.Client
	baseURL     string
}

// Creates the client for the server at the URL.
func newAPIClient(serverURL string) (*apiClient, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.Errorf("invalid server URL %q", serverURL)
	}
	return &apiClient{
		innerClient: newRestyClient(),
		baseURL:     strings.TrimRight(serverURL, "/"),
	}, nil
}

// Appends the path to the base URL.
func (c *apiClient) makeURL(path string) string {
	return c.baseURL + path
}

// Converts the error response to the error.
func checkResponse(response *resty.Response, err error) error {
	if err != nil {
		return errors.WithStack(err)
	}
	if !response.IsError() {
		return nil
	}
	failure := &apiError{status: response.StatusCode()}
	if body, ok := response.Error().(*datamodel.ErrorResponse); ok && body.Error != "" {
		failure.message = body.Error
		failure.field = body.Field
	} else {
		failure.message = strings.TrimSpace(response.String())
	}
	return failure
}

// Sends the request and decodes the result.
func (c *apiClient) do(method, path string, body, result any, query url.Values) error {
	request := c.innerClient.R().
		SetHeader("Accept", "application/json").
		SetError(&datamodel.ErrorResponse{})
	if body != nil {
		request.SetBody(body)
	}
	if result != nil {
		request.SetResult(result)
	}
	if len(query) > 0 {
		request.SetQueryParamsFromValues(query)
	}
	response, err := request.Execute(method, c.makeURL(path))
	return checkResponse(response, err)
}

// Runs a handshake step of a session.
func (c *apiClient) simulate(request *datamodel.SimulateRequest) (*datamodel.Session, error) {
	var simulated datamodel.Session
	if err := c.do(resty.MethodPost, "/api/dhcp", request, &simulated, nil); err != nil {
		return nil, err
	}
	return &simulated, nil
}

// Returns the sessions matching the query.
func (c *apiClient) listSessions(query url.Values) (*datamodel.SessionList, error) {
	var list datamodel.SessionList
	if err := c.do(resty.MethodGet, "/api/dhcp/list", nil, &list, query); err != nil {
		return nil, err
	}
	return &list, nil
}

// Returns the registry statistics.
func (c *apiClient) statistics() (*session.Statistics, error) {
	var statistics session.Statistics
	if err := c.do(resty.MethodGet, "/api/dhcp/stats", nil, &statistics, nil); err != nil {
		return nil, err
	}
	return &statistics, nil
}

// Starts the storm.
func (c *apiClient) startStorm(request *datamodel.StormRequest) (*datamodel.StormStatus, error) {
	var status datamodel.StormStatus
	if err := c.do(resty.MethodPost, "/api/dhcp/storm", request, &status, nil); err != nil {
		return nil, err
	}
	return &status, nil
}

// Returns the storm status.
func (c *apiClient) stormStatus() (*datamodel.StormStatus, error) {
	var status datamodel.StormStatus
	if err := c.do(resty.MethodGet, "/api/dhcp/storm", nil, &status, nil); err != nil {
		return nil, err
	}
	return &status, nil
}

// Cancels the running storm.
func (c *apiClient) cancelStorm() (*datamodel.StormCancelResult, error) {
	var result datamodel.StormCancelResult
	if err := c.do(resty.MethodDelete, "/api/dhcp/storm", nil, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// Removes all sessions.
func (c *apiClient) clear() (*datamodel.MessageResponse, error) {
	var result datamodel.MessageResponse
	if err := c.do(resty.MethodPost, "/api/dhcp/clear", nil, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// Registers the idle sessions.
func (c *apiClient) seed(specs []datamodel.IdleSessionSpec) (*datamodel.SessionList, error) {
	var list datamodel.SessionList
	if err := c.do(resty.MethodPost, "/api/dhcp/seed", specs, &list, nil); err != nil {
		return nil, err
	}
	return &list, nil
}

// Returns the system information.
func (c *apiClient) systemInfo() (*datamodel.SystemInfo, error) {
	var info datamodel.SystemInfo
	if err := c.do(resty.MethodGet, "/api/dhcp/info", nil, &info, nil); err != nil {
		return nil, err
	}
	return &info, nil
}

// Returns the server version.
func (c *apiClient) version() (string, error) {
	var version datamodel.VersionResponse
	if err := c.do(resty.MethodGet, "/api/version", nil, &version, nil); err != nil {
		return "", err
	}
	return version.Version, nil
}
