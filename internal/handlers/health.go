package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// BindingCounter reports how many users have a bound realtime connection.
type BindingCounter interface {
	Count() int
}

// SocketCounter reports how many upgraded sockets are still running.
type SocketCounter interface {
	Open() int
}

// Healthz reports liveness plus realtime connection counts. Sockets that
// never authenticated show up in ws_open but not in ws_bound.
func Healthz(bound BindingCounter, sockets SocketCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"ws_bound": bound.Count(),
			"ws_open":  sockets.Open(),
		})
	}
}
