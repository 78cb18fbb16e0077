package restservice

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"argela.com/bpsim/datamodel"
)

// Starts the storm.
func (r *RestAPI) startStorm(c *gin.Context) {
	var request datamodel.StormRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		abortWithBadRequest(c, "request", err)
		return
	}
	status, err := r.Storm.Start(request)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, status)
}

func (r *RestAPI) getStormStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.Storm.Status())
}

// Cancels the running storm. Cancelling when no storm runs is not an
// error.
func (r *RestAPI) cancelStorm(c *gin.Context) {
	cancelled := r.Storm.Cancel()
	c.JSON(http.StatusOK, datamodel.StormCancelResult{
		Cancelled: cancelled,
		Status:    r.Storm.Status(),
	})
}
