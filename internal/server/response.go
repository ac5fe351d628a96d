package server

import (
	"github.com/gin-gonic/gin"

	"classtab/internal/apperr"
)

// envelope is the common response contract.
type envelope struct {
	Data  interface{}   `json:"data,omitempty"`
	Error *apperr.Error `json:"error,omitempty"`
}

func respond(c *gin.Context, status int, data interface{}) {
	c.Header("Cache-Control", "no-store")
	c.JSON(status, envelope{Data: data})
}

func respondError(c *gin.Context, err error) {
	appErr := apperr.FromError(err)
	c.Header("Cache-Control", "no-store")
	c.JSON(appErr.Status, envelope{Error: appErr})
}
