package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cobolgraph/extractor/pkg/pipelineerr"
)

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// abortWithError maps err to an HTTP status using pipelineerr's Kind
// taxonomy (§7), mirroring tarsy's mapServiceError in shape but switching on
// Kind instead of the service-layer sentinel errors this pipeline doesn't have.
func abortWithError(c *gin.Context, err error) {
	var stageFatal *pipelineerr.StageFatal
	if errors.As(err, &stageFatal) {
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: stageFatal.Error()})
		return
	}

	switch pipelineerr.KindOf(err) {
	case pipelineerr.KindInputMalformed:
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case pipelineerr.KindWriterConflict:
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case pipelineerr.KindUpstreamUnavailable, pipelineerr.KindUpstreamRateLimited:
		c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
	default:
		slog.Error("unexpected api error", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func abortBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: message})
}

func abortNotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, errorResponse{Error: message})
}
