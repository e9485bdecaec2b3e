// README: Health endpoint; reports when the geo index was last rebuilt.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type IndexSyncStatus interface {
	LastSync(ctx context.Context) (time.Time, bool, error)
}

type HealthHandler struct {
	sync IndexSyncStatus
}

func NewHealthHandler(sync IndexSyncStatus) *HealthHandler {
	return &HealthHandler{sync: sync}
}

type healthBody struct {
	Status        string     `json:"status"`
	LastIndexSync *time.Time `json:"lastIndexSync"`
}

// Check never fails on a Redis error; the API can serve without the index.
func (h *HealthHandler) Check(c *gin.Context) {
	body := healthBody{Status: "ok"}
	if h.sync != nil {
		at, ok, err := h.sync.LastSync(c.Request.Context())
		switch {
		case err != nil:
			body.Status = "degraded"
		case ok:
			body.LastIndexSync = &at
		}
	}
	writeData(c, http.StatusOK, body)
}
