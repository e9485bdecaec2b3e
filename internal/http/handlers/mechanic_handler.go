// README: Mechanic profile handlers: registration, location, availability and nearby lookups.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"roadside/internal/http/middleware"
	"roadside/internal/infra"
	"roadside/internal/modules/mechanic"
	"roadside/internal/types"
)

type MechanicService interface {
	Register(ctx context.Context, cmd mechanic.RegisterCommand) (*mechanic.Mechanic, error)
	Get(ctx context.Context, id types.ID) (*mechanic.Mechanic, error)
	List(ctx context.Context) ([]*mechanic.Mechanic, error)
	UpdateLocation(ctx context.Context, id types.ID, p *types.Point, photoURL *string) (*mechanic.Mechanic, error)
	SetAvailability(ctx context.Context, id types.ID, available bool) (*mechanic.Mechanic, error)
	Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]mechanic.Nearby, error)
}

type MechanicHandler struct {
	mechanics MechanicService
	views     RequestViews
	// radiusKm is used when a nearby query names no distance.
	radiusKm float64
}

func NewMechanicHandler(mechanics MechanicService, views RequestViews, radiusKm float64) *MechanicHandler {
	return &MechanicHandler{mechanics: mechanics, views: views, radiusKm: radiusKm}
}

type registerMechanicReq struct {
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Phone       string   `json:"phone"`
	ServiceType string   `json:"serviceType"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

func optionalPoint(lat, lng *float64) (*types.Point, bool) {
	switch {
	case lat == nil && lng == nil:
		return nil, true
	case lat == nil || lng == nil:
		return nil, false
	}
	return &types.Point{Lat: *lat, Lng: *lng}, true
}

func (h *MechanicHandler) Register(c *gin.Context) {
	var req registerMechanicReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	loc, ok := optionalPoint(req.Latitude, req.Longitude)
	if !ok {
		writeError(c, http.StatusBadRequest, "latitude and longitude go together")
		return
	}

	cmd := mechanic.RegisterCommand{
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		ServiceType: req.ServiceType,
		Location:    loc,
	}
	// An authenticated mechanic's profile shares the account id.
	if middleware.Authenticated(c) {
		if middleware.CallerRole(c) != infra.RoleMechanic {
			writeError(c, http.StatusForbidden, "forbidden: mechanic role required")
			return
		}
		cmd.ID = types.ID(middleware.CallerUID(c))
	}

	m, err := h.mechanics.Register(c.Request.Context(), cmd)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusCreated, m)
}

func (h *MechanicHandler) List(c *gin.Context) {
	list, err := h.mechanics.List(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeList(c, list)
}

func (h *MechanicHandler) Get(c *gin.Context) {
	m, err := h.mechanics.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, m)
}

func (h *MechanicHandler) Nearby(c *gin.Context) {
	p, ok := queryPoint(c)
	if !ok {
		return
	}
	radius, ok := queryFloat(c, "distanceInKm", h.radiusKm)
	if !ok {
		return
	}
	list, err := h.mechanics.Nearby(c.Request.Context(), p, radius)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeList(c, list)
}

func (h *MechanicHandler) NearbyRequests(c *gin.Context) {
	id := c.Param("id")
	if !sameCaller(c, id) {
		return
	}
	radius, ok := queryFloat(c, "distanceInKm", 0)
	if !ok {
		return
	}
	list, err := h.views.FindNearbyForMechanic(c.Request.Context(), types.ID(id), radius)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeList(c, list)
}

type locationReq struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	PhotoURL  *string  `json:"photoUrl"`
}

func (h *MechanicHandler) UpdateLocation(c *gin.Context) {
	id := c.Param("id")
	if !sameCaller(c, id) {
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	loc, ok := optionalPoint(req.Latitude, req.Longitude)
	if !ok {
		writeError(c, http.StatusBadRequest, "latitude and longitude go together")
		return
	}
	m, err := h.mechanics.UpdateLocation(c.Request.Context(), types.ID(id), loc, req.PhotoURL)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, m)
}

type availabilityReq struct {
	IsAvailable *bool `json:"isAvailable"`
}

func (h *MechanicHandler) SetAvailability(c *gin.Context) {
	id := c.Param("id")
	if !sameCaller(c, id) {
		return
	}
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil || req.IsAvailable == nil {
		writeError(c, http.StatusBadRequest, "isAvailable is required")
		return
	}
	m, err := h.mechanics.SetAvailability(c.Request.Context(), types.ID(id), *req.IsAvailable)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, m)
}
