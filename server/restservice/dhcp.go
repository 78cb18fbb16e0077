package restservice

import (
	"net/http"
	"strconv"

	"github.com/asaskevich/govalidator"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"argela.com/bpsim/datamodel"
	"argela.com/bpsim/server/session"
)

// Drives one handshake step for a new or a matching idle session.
func (r *RestAPI) simulate(c *gin.Context) {
	var request datamodel.SimulateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		abortWithBadRequest(c, "request", err)
		return
	}
	simulated, err := r.Engine.Simulate(&request)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, simulated)
}

// Parses the optional unsigned integer query parameter.
func parseUint32Query(c *gin.Context, name string) (*uint32, error) {
	value, ok := c.GetQuery(name)
	if !ok || value == "" {
		return nil, nil
	}
	if !govalidator.IsInt(value) {
		return nil, errors.WithStack(datamodel.NewValidationError(name, "%q is not a number", value))
	}
	parsed, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return nil, errors.WithStack(datamodel.NewValidationError(name, "%q is out of range", value))
	}
	result := uint32(parsed)
	return &result, nil
}

// Creates the session filter from the query parameters.
func parseSessionFilter(c *gin.Context) (*session.Filter, error) {
	filter := &session.Filter{Text: c.Query("filter")}
	vlanID, err := parseUint32Query(c, "vlanId")
	if err != nil {
		return nil, err
	}
	if vlanID != nil {
		vlan := int(*vlanID)
		filter.VlanID = &vlan
	}
	for name, target := range map[string]**uint32{
		"ponPort": &filter.PonPort,
		"onuId":   &filter.OnuID,
		"uniId":   &filter.UniID,
		"gemPort": &filter.GemPort,
	} {
		if *target, err = parseUint32Query(c, name); err != nil {
			return nil, err
		}
	}
	if value := c.Query("state"); value != "" {
		state, ok := datamodel.ParseState(value)
		if !ok {
			return nil, errors.WithStack(datamodel.NewValidationError("state", "%q is not one of %v", value, datamodel.States()))
		}
		filter.State = &state
	}
	return filter, nil
}

// Returns the sessions matching the query filters.
func (r *RestAPI) listSessions(c *gin.Context) {
	filter, err := parseSessionFilter(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	sessions := r.Engine.Registry().List(filter)
	c.JSON(http.StatusOK, datamodel.SessionList{
		Sessions: sessions,
		Total:    len(sessions),
	})
}

// Returns the session and address pool statistics.
func (r *RestAPI) getStatistics(c *gin.Context) {
	c.JSON(http.StatusOK, r.Engine.Registry().Statistics())
}

// Registers the idle sessions used by the storm.
func (r *RestAPI) seedIdleSessions(c *gin.Context) {
	var specs []datamodel.IdleSessionSpec
	if err := c.ShouldBindJSON(&specs); err != nil {
		abortWithBadRequest(c, "request", err)
		return
	}
	added, err := r.Engine.SeedIdleSessions(specs)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, datamodel.SessionList{
		Sessions: added,
		Total:    len(added),
	})
}

// Cancels the storm and removes all sessions. The storm is stopped
// before the sessions are removed so it adds none afterwards.
func (r *RestAPI) clearAll(c *gin.Context) {
	r.Storm.Cancel()
	r.Storm.Wait()
	r.Engine.ClearAll()
	if r.EventCenter != nil {
		r.EventCenter.AddClearedEvent()
	}
	c.JSON(http.StatusOK, datamodel.MessageResponse{Message: "All sessions cleared"})
}
