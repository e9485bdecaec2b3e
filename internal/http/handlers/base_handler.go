// README: Base handler utilities (response envelope, error mapping, caller checks).
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"roadside/internal/http/middleware"
	"roadside/internal/modules/chat"
	"roadside/internal/modules/dispatch"
	"roadside/internal/modules/mechanic"
	"roadside/internal/modules/request"
	"roadside/internal/types"
)

// envelope is the response shape every client of the API expects.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Count   *int   `json:"count,omitempty"`
}

func writeData(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func writeList[T any](c *gin.Context, items []T) {
	if items == nil {
		items = []T{}
	}
	n := len(items)
	c.JSON(http.StatusOK, envelope{Success: true, Data: items, Count: &n})
}

func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, envelope{Success: false, Error: msg})
}

// writeServiceError maps module errors to status codes. Unknown errors are
// logged through gin and reported without detail.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, request.ErrInvalidInput),
		errors.Is(err, request.ErrRequestUnavailable),
		errors.Is(err, request.ErrCapacityExceeded),
		errors.Is(err, request.ErrAlreadyReviewed),
		errors.Is(err, request.ErrInvalidTransition),
		errors.Is(err, mechanic.ErrInvalidInput),
		errors.Is(err, dispatch.ErrInvalidQuery),
		errors.Is(err, chat.ErrInvalidInput):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, request.ErrUnauthorized), errors.Is(err, chat.ErrUnauthorized):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, request.ErrNotFound), errors.Is(err, mechanic.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, request.ErrConflict), errors.Is(err, mechanic.ErrDuplicateEmail):
		writeError(c, http.StatusConflict, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "Server Error")
	}
}

// actingAs resolves the actor id for a mutation. An empty body id defaults to
// the caller; a different one is rejected. With auth off the body id is trusted.
func actingAs(c *gin.Context, role string, bodyID string) (types.ID, bool) {
	if !middleware.Authenticated(c) {
		if bodyID == "" {
			writeError(c, http.StatusBadRequest, "actor id is required")
			return "", false
		}
		return types.ID(bodyID), true
	}
	if role != "" && middleware.CallerRole(c) != role {
		writeError(c, http.StatusForbidden, "forbidden: "+role+" role required")
		return "", false
	}
	uid := middleware.CallerUID(c)
	if bodyID != "" && bodyID != uid {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return "", false
	}
	return types.ID(uid), true
}

// bindOptional decodes a body that may be left out entirely. A body that is
// present but does not decode is rejected with 400.
func bindOptional(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// sameCaller guards per-user listings such as /requests/driver/:id.
func sameCaller(c *gin.Context, id string) bool {
	if !middleware.Authenticated(c) || middleware.CallerUID(c) == id {
		return true
	}
	writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
	return false
}

// queryFloat reads an optional float; absent yields def.
func queryFloat(c *gin.Context, key string, def float64) (float64, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid "+key)
		return 0, false
	}
	return v, true
}

// queryPoint reads latitude/longitude; both are required.
func queryPoint(c *gin.Context) (types.Point, bool) {
	if c.Query("latitude") == "" || c.Query("longitude") == "" {
		writeError(c, http.StatusBadRequest, "latitude and longitude are required")
		return types.Point{}, false
	}
	lat, ok := queryFloat(c, "latitude", 0)
	if !ok {
		return types.Point{}, false
	}
	lng, ok := queryFloat(c, "longitude", 0)
	if !ok {
		return types.Point{}, false
	}
	return types.Point{Lat: lat, Lng: lng}, true
}
